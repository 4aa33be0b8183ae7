package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flogapp/flog/internal/model"
)

// courseView is the YAML shape of a course.
type courseView struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	CreatedAt  time.Time  `yaml:"created_at"`
	LastPlayed *time.Time `yaml:"last_played,omitempty"`
	Holes      []holeView `yaml:"holes"`
}

type holeView struct {
	Number    int            `yaml:"number"`
	Par       int            `yaml:"par"`
	Latitude  *float64       `yaml:"latitude,omitempty"`
	Longitude *float64       `yaml:"longitude,omitempty"`
	Tee       *model.Target  `yaml:"tee,omitempty"`
	Front     *model.Target  `yaml:"front,omitempty"`
	Middle    *model.Target  `yaml:"middle,omitempty"`
	Back      *model.Target  `yaml:"back,omitempty"`
	Hazards   []model.Target `yaml:"hazards,omitempty"`
}

func newCourseView(c model.Course) courseView {
	out := courseView{
		ID:        c.ID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt.Time.UTC(),
	}
	if c.LastPlayed != nil && !c.LastPlayed.IsZero() {
		t := c.LastPlayed.Time.UTC()
		out.LastPlayed = &t
	}
	for _, h := range c.Holes {
		out.Holes = append(out.Holes, holeView{
			Number:    h.Number,
			Par:       h.Par,
			Latitude:  h.Latitude,
			Longitude: h.Longitude,
			Tee:       h.Tee,
			Front:     h.Front,
			Middle:    h.Middle,
			Back:      h.Back,
			Hazards:   h.Hazards,
		})
	}
	return out
}

// formatCourse renders c as json or yaml.
func formatCourse(c model.Course, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode course: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(newCourseView(c))
		if err != nil {
			return "", fmt.Errorf("failed to encode course: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want text, json or yaml)", model.ErrInvalid, format)
	}
}

// courseRow is one line of `flog course list`.
func courseRow(c model.Course) []string {
	par := 0
	for _, h := range c.Holes {
		par += h.Par
	}
	played := "never"
	if c.LastPlayed != nil && !c.LastPlayed.IsZero() {
		played = c.LastPlayed.Local().Format("2006-01-02 15:04")
	}
	return []string{
		c.ID,
		c.Name,
		fmt.Sprintf("%d/%d", c.MarkedCount(), model.HoleCount),
		strconv.Itoa(par),
		played,
	}
}

// holeRows are the lines of `flog course show`.
func holeRows(c model.Course) [][]string {
	rows := make([][]string, 0, len(c.Holes))
	for _, h := range c.Holes {
		rows = append(rows, []string{strconv.Itoa(h.Number), strconv.Itoa(h.Par), describeHole(h)})
	}
	return rows
}

func describeHole(h model.Hole) string {
	layout, ok := h.Layout()
	if !ok {
		return "-"
	}
	if layout == model.LayoutSingle {
		if pin, ok := h.Pin(); ok {
			return formatTarget(pin)
		}
		return "-"
	}

	s := ""
	add := func(label string, t *model.Target) {
		if t == nil {
			return
		}
		if s != "" {
			s += " "
		}
		s += label + "=" + formatTarget(*t)
	}
	add("tee", h.Tee)
	add("front", h.Front)
	add("middle", h.Middle)
	add("back", h.Back)
	if len(h.Hazards) > 0 {
		s += fmt.Sprintf(" hazards=%d", len(h.Hazards))
	}
	return s
}

func formatTarget(t model.Target) string {
	return fmt.Sprintf("%.6f,%.6f", t.Lat, t.Lon)
}
