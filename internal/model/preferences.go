// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// Preference validation errors.
var (
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")
	ErrInvalidMaxTokens   = errors.New("max tokens must be at least 1")
)

// Comparison view layouts offered by the client.
const (
	ViewSideBySide = "side-by-side"
	ViewStacked    = "stacked"
)

// Preferences are the user-tunable settings that persist across
// sessions. Temperature and max tokens seed each dispatch unless the
// request overrides them.
type Preferences struct {
	Theme              string  `json:"theme"`
	DefaultTemperature float64 `json:"defaultTemperature"`
	DefaultMaxTokens   int     `json:"defaultMaxTokens"`
	AutoSave           bool    `json:"autoSave"`
	ShowModelInfo      bool    `json:"showModelInfo"`
	ComparisonView     string  `json:"comparisonView"`
}

// DefaultPreferences returns the out-of-the-box settings.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:              "light",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1000,
		AutoSave:           true,
		ShowModelInfo:      true,
		ComparisonView:     ViewSideBySide,
	}
}

// Validate reports whether the preferences are within accepted ranges.
func (p Preferences) Validate() error {
	if p.DefaultTemperature < 0 || p.DefaultTemperature > 2 {
		return ErrInvalidTemperature
	}
	if p.DefaultMaxTokens < 1 {
		return ErrInvalidMaxTokens
	}
	return nil
}
