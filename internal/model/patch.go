package model

import (
	"fmt"
	"strings"
)

// HolePatch is a partial hole update. Nil fields are left untouched.
// The hole number is not patchable.
type HolePatch struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Tee    *Target `json:"tee,omitempty"`
	Front  *Target `json:"front,omitempty"`
	Middle *Target `json:"middle,omitempty"`
	Back   *Target `json:"back,omitempty"`

	// Hazards replaces the whole hazard list when non-nil.
	Hazards []Target `json:"hazards,omitempty"`

	Par *int `json:"par,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p HolePatch) IsEmpty() bool {
	return p.Latitude == nil && p.Longitude == nil &&
		p.Tee == nil && p.Front == nil && p.Middle == nil && p.Back == nil &&
		p.Hazards == nil && p.Par == nil
}

// Apply overlays the patch onto h field by field and returns the result.
// h itself is not modified.
func (p HolePatch) Apply(h Hole) Hole {
	if p.Latitude != nil {
		h.Latitude = float64Ptr(*p.Latitude)
	}
	if p.Longitude != nil {
		h.Longitude = float64Ptr(*p.Longitude)
	}
	if p.Tee != nil {
		h.Tee = targetPtr(*p.Tee)
	}
	if p.Front != nil {
		h.Front = targetPtr(*p.Front)
	}
	if p.Middle != nil {
		h.Middle = targetPtr(*p.Middle)
	}
	if p.Back != nil {
		h.Back = targetPtr(*p.Back)
	}
	if p.Hazards != nil {
		h.Hazards = append([]Target(nil), p.Hazards...)
	}
	if p.Par != nil {
		h.Par = *p.Par
	}
	return h
}

// ParPatch returns a patch that only sets par.
func ParPatch(par int) HolePatch {
	return HolePatch{Par: &par}
}

// PinPatch returns a patch that sets the single-layout coordinates.
func PinPatch(lat, lon float64) HolePatch {
	return HolePatch{Latitude: &lat, Longitude: &lon}
}

// TargetKind names which target of a hole a fix marks.
type TargetKind string

const (
	TargetPin    TargetKind = "pin"
	TargetTee    TargetKind = "tee"
	TargetFront  TargetKind = "front"
	TargetMiddle TargetKind = "middle"
	TargetBack   TargetKind = "back"
	TargetHazard TargetKind = "hazard"
)

// ParseTargetKind converts user input to a TargetKind.
func ParseTargetKind(s string) (TargetKind, error) {
	switch k := TargetKind(strings.ToLower(strings.TrimSpace(s))); k {
	case TargetPin, TargetTee, TargetFront, TargetMiddle, TargetBack, TargetHazard:
		return k, nil
	case "", "center", "centre":
		return TargetPin, nil
	default:
		return "", fmt.Errorf("%w: unknown target %q", ErrInvalid, s)
	}
}

// Layout returns the hole layout the target belongs to.
func (k TargetKind) Layout() Layout {
	if k == TargetPin {
		return LayoutSingle
	}
	return LayoutMulti
}

// MarkPatch builds the patch that records fix as target kind on hole h.
// Hazards are appended to the existing list.
func MarkPatch(h Hole, kind TargetKind, fix Fix) (HolePatch, error) {
	if fix.IsZero() {
		return HolePatch{}, ErrNoFix
	}
	t := Target{Lat: fix.Latitude, Lon: fix.Longitude}
	if err := t.Validate(); err != nil {
		return HolePatch{}, err
	}

	switch kind {
	case TargetPin:
		return PinPatch(t.Lat, t.Lon), nil
	case TargetTee:
		return HolePatch{Tee: &t}, nil
	case TargetFront:
		return HolePatch{Front: &t}, nil
	case TargetMiddle:
		return HolePatch{Middle: &t}, nil
	case TargetBack:
		return HolePatch{Back: &t}, nil
	case TargetHazard:
		hazards := append(append([]Target{}, h.Hazards...), t)
		return HolePatch{Hazards: hazards}, nil
	default:
		return HolePatch{}, fmt.Errorf("%w: unknown target %q", ErrInvalid, kind)
	}
}

func float64Ptr(v float64) *float64 { return &v }

func targetPtr(t Target) *Target { return &t }
