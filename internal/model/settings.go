package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Accuracy is the requested position-fix accuracy mode.
type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyLow      Accuracy = "low"
)

// Setting keys, shared with the companion key space.
const (
	SettingUseYards         = "useYards"
	SettingGPSAccuracy      = "gpsAccuracy"
	SettingVibrationEnabled = "vibrationEnabled"
	SettingAutoAdvanceHole  = "autoAdvanceHole"
)

// Settings holds user preferences. Every field always carries a value.
type Settings struct {
	UseYards         bool     `json:"useYards"`
	GPSAccuracy      Accuracy `json:"gpsAccuracy"`
	VibrationEnabled bool     `json:"vibrationEnabled"`
	AutoAdvanceHole  bool     `json:"autoAdvanceHole"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() Settings {
	return Settings{
		UseYards:         false,
		GPSAccuracy:      AccuracyHigh,
		VibrationEnabled: true,
		AutoAdvanceHole:  false,
	}
}

// SettingKeys returns the known setting keys in sorted order.
func SettingKeys() []string {
	keys := []string{SettingUseYards, SettingGPSAccuracy, SettingVibrationEnabled, SettingAutoAdvanceHole}
	sort.Strings(keys)
	return keys
}

// IsSettingKey reports whether key names a Settings field.
func IsSettingKey(key string) bool {
	switch key {
	case SettingUseYards, SettingGPSAccuracy, SettingVibrationEnabled, SettingAutoAdvanceHole:
		return true
	}
	return false
}

// Validate checks that every field holds an allowed value.
func (s Settings) Validate() error {
	switch s.GPSAccuracy {
	case AccuracyHigh, AccuracyBalanced, AccuracyLow:
		return nil
	default:
		return fmt.Errorf("%w: gpsAccuracy must be high, balanced or low (got %q)", ErrInvalid, s.GPSAccuracy)
	}
}

// Value returns the current value of a setting key.
func (s Settings) Value(key string) (any, bool) {
	switch key {
	case SettingUseYards:
		return s.UseYards, true
	case SettingGPSAccuracy:
		return s.GPSAccuracy, true
	case SettingVibrationEnabled:
		return s.VibrationEnabled, true
	case SettingAutoAdvanceHole:
		return s.AutoAdvanceHole, true
	}
	return nil, false
}

// Apply sets one key from its JSON value. Booleans are also accepted in
// their string form ("true"), which is how toggles arrive from the companion.
func (s *Settings) Apply(key string, raw json.RawMessage) error {
	next := *s
	switch key {
	case SettingUseYards:
		v, err := parseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		next.UseYards = v
	case SettingVibrationEnabled:
		v, err := parseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		next.VibrationEnabled = v
	case SettingAutoAdvanceHole:
		v, err := parseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		next.AutoAdvanceHole = v
	case SettingGPSAccuracy:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: %s must be a string", ErrInvalid, key)
		}
		next.GPSAccuracy = Accuracy(v)
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

func parseBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.ParseBool(str); err == nil {
			return v, nil
		}
	}
	return false, fmt.Errorf("expected a boolean, got %s", string(raw))
}

// RoundState is the resume cursor of a round. CourseID may dangle.
type RoundState struct {
	CourseID    string    `json:"courseId"`
	CurrentHole int       `json:"currentHole"`
	Timestamp   Timestamp `json:"timestamp"`
}

// NewRoundState creates a round cursor at the given hole.
func NewRoundState(courseID string, hole int, at time.Time) RoundState {
	return RoundState{
		CourseID:    courseID,
		CurrentHole: hole,
		Timestamp:   At(at),
	}
}

// Validate checks the round cursor invariants.
func (r RoundState) Validate() error {
	if r.CourseID == "" {
		return fmt.Errorf("%w: round course id is required", ErrInvalid)
	}
	if r.CurrentHole < 1 || r.CurrentHole > HoleCount {
		return fmt.Errorf("%w: current hole must be between 1 and %d (got %d)", ErrInvalid, HoleCount, r.CurrentHole)
	}
	return nil
}
