package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]any{
		"useYards":         false,
		"gpsAccuracy":      "high",
		"vibrationEnabled": true,
		"autoAdvanceHole":  false,
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d: %v", len(want), len(fields), fields)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %v, want %v", k, fields[k], v)
		}
	}
}

func TestSettings_Apply(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		raw     string
		check   func(Settings) bool
		wantErr bool
	}{
		{"bool", SettingUseYards, `true`, func(s Settings) bool { return s.UseYards }, false},
		{"string bool", SettingVibrationEnabled, `"false"`, func(s Settings) bool { return !s.VibrationEnabled }, false},
		{"auto advance", SettingAutoAdvanceHole, `true`, func(s Settings) bool { return s.AutoAdvanceHole }, false},
		{"accuracy", SettingGPSAccuracy, `"low"`, func(s Settings) bool { return s.GPSAccuracy == AccuracyLow }, false},
		{"bad accuracy", SettingGPSAccuracy, `"ultra"`, nil, true},
		{"bad bool", SettingUseYards, `42`, nil, true},
		{"unknown key", "theme", `"dark"`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			err := s.Apply(tt.key, json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				if s != DefaultSettings() {
					t.Errorf("failed Apply must leave settings unchanged, got %+v", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !tt.check(s) {
				t.Errorf("setting not applied: %+v", s)
			}
		})
	}
}

func TestRoundState_Validate(t *testing.T) {
	if err := (RoundState{CourseID: "x", CurrentHole: 18}).Validate(); err != nil {
		t.Errorf("valid round rejected: %v", err)
	}
	if err := (RoundState{CourseID: "x", CurrentHole: 19}).Validate(); err == nil {
		t.Error("hole 19 should be rejected")
	}
	if err := (RoundState{CurrentHole: 1}).Validate(); err == nil {
		t.Error("missing course id should be rejected")
	}
}

func TestKindOf(t *testing.T) {
	writeErr := &StorageError{Op: OpWrite, Key: "courses", Err: errors.New("disk full")}

	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{writeErr, KindStorageWrite},
		{&StorageError{Op: OpRead, Key: "courses", Err: errors.New("io")}, KindStorageRead},
		{ErrChannelNotReady, KindChannelNotReady},
		{ErrDecode, KindDecode},
		{ErrNoFix, KindNoFix},
		{errors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if KindOf(writeErr).UserMessage() != "save failed" {
		t.Errorf("unexpected message %q", KindOf(writeErr).UserMessage())
	}
	if KindOf(ErrNoFix).UserMessage() != "no signal" {
		t.Errorf("unexpected message %q", KindOf(ErrNoFix).UserMessage())
	}
	if !IsRetryable(writeErr) {
		t.Error("write failures should be retryable")
	}
	if IsRetryable(ErrDecode) {
		t.Error("decode failures should not be retryable")
	}
}
