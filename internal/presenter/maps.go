// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import "github.com/vorlif/spreak/localize"

const (
	StateObserving = "observing"
	StateIdle      = "idle"
)

// StateIcons maps tracking states to their emoji representation.
var StateIcons = map[string]string{
	"idle":      "⏸️",
	"acquiring": "📡",
	"tracking":  "📍",
	"error":     "⚠️",
	"observing": "👀",
}

var i18nVars = map[string]localize.MsgID{
	"subject":              "Subject",
	"position":             "Position",
	"accuracy":             "Accuracy",
	"lastfix":              "Last fix",
	"trail":                "Trail",
	"points":               "points",
	"lasterror":            "Last error",
	"never":                "never",
	"idle":                 "Idle",
	"acquiring":            "Acquiring position",
	"tracking":             "Tracking",
	"error":                "Sensor error",
	"observing":            "Observing",
	"permission denied":    "Permission denied",
	"position unavailable": "Position unavailable",
	"timeout":              "Timed out",
}
