// Package domain defines the core model for the Chime reminder daemon.
package domain

import (
	"github.com/chimeapp/chime-server/internal/errors"
)

// Compiled-in defaults for a fresh settings record.
const (
	DefaultIntervalMinutes   = 3
	DefaultDurationMs        = 9000
	DefaultMaxSnoozeMinutes  = 60
	DefaultSnoozeLowMinutes  = 5
	DefaultSnoozeHighMinutes = 15
)

// DefaultPromptTemplate is the built-in generation prompt. The placeholders are
// substituted with the foreground page title, its URL, and the formatted time.
const DefaultPromptTemplate = "You are a playful timekeeper. The user is currently on the page \"{title}\" ({url}). " +
	"Tell them it is now {time} in one short, friendly sentence that nods to what they are reading."

// Settings is the single durable settings record.
//
// JSON field names match the command surface the popup speaks, so the record
// round-trips through getSettings unchanged.
type Settings struct {
	IsActive             bool    `json:"isActive"`
	SoundEnabled         bool    `json:"soundEnabled"`
	NotificationInterval int     `json:"notificationInterval"` // minutes between reminders
	NextNotificationTime *int64  `json:"nextNotificationTime"` // unix ms, nil when not scheduled
	NotificationDuration int     `json:"notificationDuration"` // auto-dismiss delay in ms
	MaxSnoozeMinutes     int     `json:"maxSnoozeMinutes"`
	DefaultSnoozeOptions [2]int  `json:"defaultSnoozeOptions"` // quick-snooze minutes, min first
	APIKey               *string `json:"apiKey"`
	DefaultPrompt        string  `json:"defaultPrompt"`
	CustomPrompt         string  `json:"customPrompt"`
	GeminiInitialized    bool    `json:"geminiInitialized"`
}

// NewSettings creates a settings record with compiled-in defaults.
func NewSettings() *Settings {
	return &Settings{
		IsActive:             true,
		SoundEnabled:         true,
		NotificationInterval: DefaultIntervalMinutes,
		NextNotificationTime: nil,
		NotificationDuration: DefaultDurationMs,
		MaxSnoozeMinutes:     DefaultMaxSnoozeMinutes,
		DefaultSnoozeOptions: [2]int{DefaultSnoozeLowMinutes, DefaultSnoozeHighMinutes},
		DefaultPrompt:        DefaultPromptTemplate,
	}
}

// Validate checks the record's invariants. It never coerces: an invalid record
// is reported, not repaired, so a bad partial update cannot half-apply.
func (s *Settings) Validate() error {
	if s.MaxSnoozeMinutes <= 0 {
		return errors.Validationf("maxSnoozeMinutes must be positive, got %d", s.MaxSnoozeMinutes)
	}
	if s.NotificationInterval <= 0 || s.NotificationInterval > s.MaxSnoozeMinutes {
		return errors.Validationf("notificationInterval must be in (0, %d], got %d", s.MaxSnoozeMinutes, s.NotificationInterval)
	}
	if s.NotificationDuration <= 0 {
		return errors.Validationf("notificationDuration must be positive, got %d", s.NotificationDuration)
	}
	for _, m := range s.DefaultSnoozeOptions {
		if m <= 0 || m > s.MaxSnoozeMinutes {
			return errors.Validationf("snooze option must be in (0, %d], got %d", s.MaxSnoozeMinutes, m)
		}
	}
	if s.DefaultSnoozeOptions[0] > s.DefaultSnoozeOptions[1] {
		return errors.Validationf("defaultSnoozeOptions must be sorted ascending, got %v", s.DefaultSnoozeOptions)
	}
	if s.NextNotificationTime != nil && *s.NextNotificationTime < 0 {
		return errors.Validationf("nextNotificationTime must not be negative, got %d", *s.NextNotificationTime)
	}
	if s.APIKey != nil && *s.APIKey == "" {
		return errors.Validation("apiKey must be null or non-empty")
	}
	return nil
}

// Clone returns a deep copy of the record.
func (s *Settings) Clone() *Settings {
	c := *s
	if s.NextNotificationTime != nil {
		v := *s.NextNotificationTime
		c.NextNotificationTime = &v
	}
	if s.APIKey != nil {
		k := *s.APIKey
		c.APIKey = &k
	}
	return &c
}

// PromptTemplate returns the custom prompt when set, the default otherwise.
func (s *Settings) PromptTemplate() string {
	if s.CustomPrompt != "" {
		return s.CustomPrompt
	}
	return s.DefaultPrompt
}

// SettingsUpdate contains fields that can be updated. Nil fields are left unchanged.
type SettingsUpdate struct {
	IsActive             *bool
	SoundEnabled         *bool
	NotificationInterval *int
	NotificationDuration *int
	MaxSnoozeMinutes     *int
	DefaultSnoozeOptions *[2]int
	APIKey               *string
	CustomPrompt         *string
	GeminiInitialized    *bool

	// NextNotificationTime is applied only when SetNextNotificationTime is true,
	// so callers can distinguish "leave unchanged" from "set to null".
	NextNotificationTime    *int64
	SetNextNotificationTime bool
}

// Apply merges the update into a copy of s and returns it. The receiver is not mutated.
func (u *SettingsUpdate) Apply(s *Settings) *Settings {
	merged := s.Clone()
	if u.IsActive != nil {
		merged.IsActive = *u.IsActive
	}
	if u.SoundEnabled != nil {
		merged.SoundEnabled = *u.SoundEnabled
	}
	if u.NotificationInterval != nil {
		merged.NotificationInterval = *u.NotificationInterval
	}
	if u.NotificationDuration != nil {
		merged.NotificationDuration = *u.NotificationDuration
	}
	if u.MaxSnoozeMinutes != nil {
		merged.MaxSnoozeMinutes = *u.MaxSnoozeMinutes
	}
	if u.DefaultSnoozeOptions != nil {
		merged.DefaultSnoozeOptions = *u.DefaultSnoozeOptions
	}
	if u.APIKey != nil {
		k := *u.APIKey
		merged.APIKey = &k
	}
	if u.CustomPrompt != nil {
		merged.CustomPrompt = *u.CustomPrompt
	}
	if u.GeminiInitialized != nil {
		merged.GeminiInitialized = *u.GeminiInitialized
	}
	if u.SetNextNotificationTime {
		if u.NextNotificationTime != nil {
			v := *u.NextNotificationTime
			merged.NextNotificationTime = &v
		} else {
			merged.NextNotificationTime = nil
		}
	}
	return merged
}

// RotateSnoozeOptions recomputes the quick-snooze pair after a snooze of `used`
// minutes: the previous upper bound anchors one slot, the used value takes the
// other, sorted ascending. The previous lower bound is intentionally dropped.
// That is the shipped behavior, kept pending product review.
func RotateSnoozeOptions(opts [2]int, used int) [2]int {
	prevUpper := opts[1]
	if used < prevUpper {
		return [2]int{used, prevUpper}
	}
	return [2]int{prevUpper, used}
}
