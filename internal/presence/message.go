// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wneessen/livetrack/internal/track"
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	ErrNegativeAccuracy = errors.New("accuracy must not be negative")
)

// Message is the envelope exchanged over a presence channel. The sample fields are inlined, so a
// message carries the same JSON shape as a track snapshot entry. Origin identifies the publishing
// session so a session can recognize its own messages.
type Message struct {
	SubjectID string `json:"subjectId" validate:"required,max=128"`
	Origin    string `json:"origin,omitempty" validate:"max=128"`
	track.Sample
}

// NewMessage wraps a sample of subjectID into a Message.
func NewMessage(subjectID, origin string, s track.Sample) Message {
	return Message{SubjectID: subjectID, Origin: origin, Sample: s}
}

// Validate checks the structural integrity of the message. Coordinates and timestamp are left to the
// receiving store.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid presence message: %w", err)
	}
	if m.AccuracyMeters < 0 {
		return fmt.Errorf("invalid presence message: %w", ErrNegativeAccuracy)
	}
	return nil
}

// Decode parses and validates a JSON encoded message. Unknown sources are dropped, so that the store
// derives one from the accuracy.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode presence message: %w", err)
	}
	if !msg.Source.Known() {
		msg.Source = ""
	}
	return msg, msg.Validate()
}
