package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// HoleCount is the number of holes every course carries.
	HoleCount = 18

	// DefaultPar is assigned to holes whose par is unset.
	DefaultPar = 4

	MinPar = 1
	MaxPar = 9

	// MaxNameLength bounds course names accepted from peers and imports.
	MaxNameLength = 100
)

// Timestamp is a point in time serialized as epoch milliseconds.
type Timestamp struct {
	time.Time
}

// At truncates t to millisecond precision, the resolution of the wire format.
func At(t time.Time) Timestamp {
	return Timestamp{Time: time.UnixMilli(t.UnixMilli())}
}

// Equal reports whether both timestamps denote the same instant.
func (t Timestamp) Equal(u Timestamp) bool {
	return t.Time.Equal(u.Time)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// Accepts epoch milliseconds (integer or float), RFC 3339 strings and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", str, err)
		}
		*t = At(parsed)
		return nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	t.Time = time.UnixMilli(int64(f))
	return nil
}

// Target is a single marked coordinate.
type Target struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks coordinate ranges.
func (t Target) Validate() error {
	return validateCoordinate(t.Lat, t.Lon)
}

// Layout is the hole shape used by a product variant.
type Layout string

const (
	// LayoutSingle holes carry one latitude/longitude pair.
	LayoutSingle Layout = "single"
	// LayoutMulti holes carry tee/front/middle/back targets and hazards.
	LayoutMulti Layout = "multi"
)

// ParseLayout converts a configuration value to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case LayoutSingle, "":
		return LayoutSingle, nil
	case LayoutMulti:
		return LayoutMulti, nil
	default:
		return "", fmt.Errorf("%w: unknown layout %q (want single or multi)", ErrInvalid, s)
	}
}

// Hole is one playable unit of a course.
type Hole struct {
	Number int `json:"number"`

	// Single-target shape.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Multi-target shape.
	Tee     *Target  `json:"tee,omitempty"`
	Front   *Target  `json:"front,omitempty"`
	Middle  *Target  `json:"middle,omitempty"`
	Back    *Target  `json:"back,omitempty"`
	Hazards []Target `json:"hazards,omitempty"`

	Par int `json:"par"`
}

// NewHole creates an unmarked hole with the default par.
func NewHole(number int) Hole {
	return Hole{
		Number: number,
		Par:    DefaultPar,
	}
}

func (h Hole) hasSingle() bool {
	return h.Latitude != nil || h.Longitude != nil
}

func (h Hole) hasMulti() bool {
	return h.Tee != nil || h.Front != nil || h.Middle != nil || h.Back != nil || len(h.Hazards) > 0
}

// Layout returns the shape of the hole. ok is false for an unmarked hole.
func (h Hole) Layout() (layout Layout, ok bool) {
	switch {
	case h.hasSingle():
		return LayoutSingle, true
	case h.hasMulti():
		return LayoutMulti, true
	default:
		return "", false
	}
}

// Marked reports whether the hole has at least one target.
func (h Hole) Marked() bool {
	return h.hasSingle() || h.hasMulti()
}

// Pin returns the single-layout target if both coordinates are present.
func (h Hole) Pin() (Target, bool) {
	if h.Latitude == nil || h.Longitude == nil {
		return Target{}, false
	}
	return Target{Lat: *h.Latitude, Lon: *h.Longitude}, true
}

// Validate checks the invariants of a single hole.
func (h Hole) Validate() error {
	if h.Number < 1 || h.Number > HoleCount {
		return fmt.Errorf("%w: hole number must be between 1 and %d (got %d)", ErrInvalid, HoleCount, h.Number)
	}
	if h.Par < MinPar || h.Par > MaxPar {
		return fmt.Errorf("%w: hole %d: par must be between %d and %d (got %d)", ErrInvalid, h.Number, MinPar, MaxPar, h.Par)
	}
	if (h.Latitude == nil) != (h.Longitude == nil) {
		return fmt.Errorf("%w: hole %d: latitude and longitude must be set together", ErrInvalid, h.Number)
	}
	if h.hasSingle() && h.hasMulti() {
		return fmt.Errorf("%w: hole %d mixes single and multi target fields", ErrInvalid, h.Number)
	}
	if pin, ok := h.Pin(); ok {
		if err := pin.Validate(); err != nil {
			return fmt.Errorf("hole %d: %w", h.Number, err)
		}
	}
	for name, t := range map[string]*Target{"tee": h.Tee, "front": h.Front, "middle": h.Middle, "back": h.Back} {
		if t == nil {
			continue
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("hole %d %s: %w", h.Number, name, err)
		}
	}
	for i, hz := range h.Hazards {
		if err := hz.Validate(); err != nil {
			return fmt.Errorf("hole %d hazard %d: %w", h.Number, i, err)
		}
	}
	return nil
}

// Course is a named sequence of 18 holes.
type Course struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Holes      []Hole     `json:"holes"`
	CreatedAt  Timestamp  `json:"createdAt"`
	LastPlayed *Timestamp `json:"lastPlayed"`
}

// NewCourse creates a course with HoleCount unmarked holes.
func NewCourse(id, name string, createdAt time.Time) Course {
	holes := make([]Hole, 0, HoleCount)
	for i := 1; i <= HoleCount; i++ {
		holes = append(holes, NewHole(i))
	}
	return Course{
		ID:        id,
		Name:      name,
		Holes:     holes,
		CreatedAt: At(createdAt),
	}
}

// Hole returns the hole with the given number.
func (c *Course) Hole(number int) (*Hole, bool) {
	for i := range c.Holes {
		if c.Holes[i].Number == number {
			return &c.Holes[i], true
		}
	}
	return nil, false
}

// Layout returns the layout used by the marked holes of the course.
// ok is false when no hole is marked yet.
func (c *Course) Layout() (Layout, bool) {
	for _, h := range c.Holes {
		if l, ok := h.Layout(); ok {
			return l, true
		}
	}
	return "", false
}

// MarkedCount returns the number of holes with at least one target.
func (c *Course) MarkedCount() int {
	n := 0
	for _, h := range c.Holes {
		if h.Marked() {
			n++
		}
	}
	return n
}

// Normalize fills defaults and restores hole ordering.
func (c *Course) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	for i := range c.Holes {
		if c.Holes[i].Par == 0 {
			c.Holes[i].Par = DefaultPar
		}
		if len(c.Holes[i].Hazards) == 0 {
			c.Holes[i].Hazards = nil
		}
	}
	sort.SliceStable(c.Holes, func(i, j int) bool {
		return c.Holes[i].Number < c.Holes[j].Number
	})
	if c.LastPlayed != nil && c.LastPlayed.IsZero() {
		c.LastPlayed = nil
	}
}

// Validate checks every course invariant including the id.
func (c *Course) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: course id is required", ErrInvalid)
	}
	return c.ValidateContent()
}

// ValidateContent checks every invariant except the id, which imports replace.
func (c *Course) ValidateContent() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: course name is required", ErrInvalid)
	}
	if len(c.Name) > MaxNameLength {
		return fmt.Errorf("%w: course name must be %d characters or less (got %d)", ErrInvalid, MaxNameLength, len(c.Name))
	}
	if len(c.Holes) != HoleCount {
		return fmt.Errorf("%w: course must have %d holes (got %d)", ErrInvalid, HoleCount, len(c.Holes))
	}

	var layout Layout
	for i, h := range c.Holes {
		if h.Number != i+1 {
			return fmt.Errorf("%w: hole at position %d has number %d", ErrInvalid, i+1, h.Number)
		}
		if err := h.Validate(); err != nil {
			return err
		}
		if l, ok := h.Layout(); ok {
			if layout == "" {
				layout = l
			} else if l != layout {
				return fmt.Errorf("%w: course mixes %s and %s holes", ErrInvalid, layout, l)
			}
		}
	}
	return nil
}

func validateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: coordinate must be a finite number (got %v, %v)", ErrInvalid, lat, lon)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude out of range (got %v)", ErrInvalid, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude out of range (got %v)", ErrInvalid, lon)
	}
	return nil
}
