// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"

	"github.com/wneessen/livetrack/internal/config"
	"github.com/wneessen/livetrack/internal/i18n"
	"github.com/wneessen/livetrack/internal/session"
	"github.com/wneessen/livetrack/internal/track"
)

const OutputClass = "livetrack"

var ErrNoLocalizer = errors.New("no localizer provided")

// Output is a single status line as consumed by waybar and similar status bars.
type Output struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

// Data is the context the text and tooltip templates are executed with.
type Data struct {
	Icon          string
	IconWithSpace string
	State         string
	SubjectID     string
	Watcher       string

	Position    *track.Sample
	LastFix     time.Time
	TrailMeters float64
	Points      int

	// LastError is the code of the most recent sensor error, e.g. "timeout".
	LastError    string
	Accepted     uint64
	Rejected     uint64
	RemoteMerged uint64
}

type Presenter struct {
	text      *template.Template
	tooltip   *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	if loc == nil {
		return nil, ErrNoLocalizer
	}
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}

	p := &Presenter{
		localizer: loc,
		humanizer: collection.CreateHumanizer(i18n.Tag(conf.Locale)),
	}
	if p.text, err = template.New("text").Funcs(p.templateFuncMap()).Parse(conf.Templates.Text); err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	if p.tooltip, err = template.New("tooltip").Funcs(p.templateFuncMap()).Parse(conf.Templates.Tooltip); err != nil {
		return nil, fmt.Errorf("failed to parse tooltip template: %w", err)
	}
	return p, nil
}

// BuildData combines the session status and a snapshot of its track into a template context.
func (p *Presenter) BuildData(status session.Status, snap track.State) Data {
	state := status.Sampler.State.String()
	switch {
	case !status.Running:
		state = StateIdle
	case status.Observer:
		state = StateObserving
	}

	data := Data{
		Icon:         StateIcons[state],
		State:        state,
		SubjectID:    status.SubjectID,
		Watcher:      status.Sampler.Watcher,
		TrailMeters:  snap.TrailMeters,
		Points:       len(snap.History),
		Accepted:     status.Sampler.Accepted,
		Rejected:     status.Sampler.Rejected,
		RemoteMerged: status.RemoteMerged,
	}
	data.IconWithSpace = iconWithSpace(data.Icon)
	if snap.LastAccepted != nil {
		pos := *snap.LastAccepted
		data.Position = &pos
		data.LastFix = pos.Time()
	}
	if status.Sampler.LastError != nil {
		data.LastError = status.Sampler.LastError.Code.String()
	}
	return data
}

// Render executes the text and tooltip templates.
func (p *Presenter) Render(data Data) (Output, error) {
	text := bytes.NewBuffer(nil)
	if err := p.text.Execute(text, data); err != nil {
		return Output{}, fmt.Errorf("failed to render text template: %w", err)
	}
	tooltip := bytes.NewBuffer(nil)
	if err := p.tooltip.Execute(tooltip, data); err != nil {
		return Output{}, fmt.Errorf("failed to render tooltip template: %w", err)
	}
	return Output{
		Text:    text.String(),
		Tooltip: tooltip.String(),
		Class:   OutputClass + "-" + data.State,
	}, nil
}
