// Package repo is the sole writer of the course list, settings and round
// cursor on the primary side.
//
// Every mutation reads the whole document, applies the change in memory,
// validates the result and writes the whole document back. Public reads
// never fail: a missing or corrupt document resolves to its default (empty
// course list, default settings, no round). Mutations are stricter: an I/O
// failure while loading aborts the mutation instead of writing defaults
// over data that could not be read.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/store"
)

// Document keys.
const (
	KeyCourses  = "courses"
	KeySettings = "settings"
	KeyRound    = "current_round"
)

// corruptSuffix is appended to a key to preserve an undecodable body.
const corruptSuffix = ".corrupt"

// Repository manages the persisted course list, settings and round cursor.
type Repository struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates a Repository on top of s.
//
// If logger is nil, a default logger writing to stderr is used.
func New(s store.Store, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.New(os.Stderr, "[repo] ", log.LstdFlags)
	}
	return &Repository{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for ids and timestamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// CreateHole returns a fresh hole with default par and no targets.
func CreateHole(number int) model.Hole {
	return model.NewHole(number)
}

// LoadCourses returns the full course list. It never fails: a missing,
// corrupt or unreadable document yields an empty list.
func (r *Repository) LoadCourses(ctx context.Context) []model.Course {
	list, err := r.courses(ctx)
	if err != nil {
		r.logger.Printf("Failed to load courses, using empty list: %v", err)
		return []model.Course{}
	}
	return list
}

// LoadCourse returns the course with the given id, or nil.
func (r *Repository) LoadCourse(ctx context.Context, id string) *model.Course {
	list := r.LoadCourses(ctx)
	if i := indexOf(list, id); i >= 0 {
		c := list[i]
		return &c
	}
	return nil
}

// SaveCourses replaces the whole course list. Last writer wins.
func (r *Repository) SaveCourses(ctx context.Context, list []model.Course) error {
	seen := make(map[string]bool, len(list))
	for i := range list {
		list[i].Normalize()
		if err := list[i].Validate(); err != nil {
			return fmt.Errorf("course %q: %w", list[i].ID, err)
		}
		if seen[list[i].ID] {
			return fmt.Errorf("%w: duplicate course id %q", model.ErrInvalid, list[i].ID)
		}
		seen[list[i].ID] = true
	}
	return r.writeCourses(ctx, list)
}

// CreateCourse appends a new course with 18 unmarked holes.
//
// The id is the creation time in epoch milliseconds; if another course
// already has that id a "-N" suffix is added. An empty name is replaced
// with "New Round HH:MM".
func (r *Repository) CreateCourse(ctx context.Context, name string) (model.Course, error) {
	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return model.Course{}, err
	}

	now := r.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("New Round %d:%02d", now.Hour(), now.Minute())
	}

	course := model.NewCourse(nextID(list, now), name, now)
	if err := course.Validate(); err != nil {
		return model.Course{}, err
	}

	list = append(list, course)
	if err := r.writeCourses(ctx, list); err != nil {
		return model.Course{}, err
	}

	r.logger.Printf("Created course: %s (%s)", course.ID, course.Name)
	return course, nil
}

// ImportCourse appends an externally supplied course under a fresh local
// id. The incoming id is ignored.
func (r *Repository) ImportCourse(ctx context.Context, c model.Course) (model.Course, error) {
	c.Normalize()
	if err := c.ValidateContent(); err != nil {
		return model.Course{}, err
	}

	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return model.Course{}, err
	}

	now := r.now()
	c.ID = nextID(list, now)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = model.At(now)
	}

	list = append(list, c)
	if err := r.writeCourses(ctx, list); err != nil {
		return model.Course{}, err
	}

	r.logger.Printf("Imported course: %s (%s)", c.ID, c.Name)
	return c, nil
}

// UpdateHole overlays patch onto hole number of course courseID.
//
// A missing course or hole is a no-op: nothing is written and (nil, nil) is
// returned. A patch whose result breaks a hole or course invariant is
// rejected with model.ErrInvalid before anything is written.
func (r *Repository) UpdateHole(ctx context.Context, courseID string, number int, patch model.HolePatch) (*model.Course, error) {
	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return nil, err
	}

	i := indexOf(list, courseID)
	if i < 0 {
		r.logger.Printf("UpdateHole: course %s not found (ignored)", courseID)
		return nil, nil
	}
	c := &list[i]
	h, ok := c.Hole(number)
	if !ok {
		r.logger.Printf("UpdateHole: course %s has no hole %d (ignored)", courseID, number)
		return nil, nil
	}
	if patch.IsEmpty() {
		out := *c
		return &out, nil
	}

	*h = patch.Apply(*h)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if err := r.writeCourses(ctx, list); err != nil {
		return nil, err
	}

	out := *c
	return &out, nil
}

// RenameCourse changes a course name. Returns nil for an unknown id.
func (r *Repository) RenameCourse(ctx context.Context, id, name string) (*model.Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: course name is required", model.ErrInvalid)
	}
	if len(name) > model.MaxNameLength {
		return nil, fmt.Errorf("%w: course name must be %d characters or less (got %d)", model.ErrInvalid, model.MaxNameLength, len(name))
	}

	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return nil, err
	}

	i := indexOf(list, id)
	if i < 0 {
		r.logger.Printf("RenameCourse: course %s not found (ignored)", id)
		return nil, nil
	}
	if list[i].Name == name {
		out := list[i]
		return &out, nil
	}

	list[i].Name = name
	if err := r.writeCourses(ctx, list); err != nil {
		return nil, err
	}

	r.logger.Printf("Renamed course: %s -> %s", id, name)
	out := list[i]
	return &out, nil
}

// DeleteCourse removes a course. It reports whether the course existed.
// The round cursor is not touched; resume detects a dangling reference.
func (r *Repository) DeleteCourse(ctx context.Context, id string) (bool, error) {
	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return false, err
	}

	i := indexOf(list, id)
	if i < 0 {
		r.logger.Printf("DeleteCourse: course %s not found (ignored)", id)
		return false, nil
	}

	list = append(list[:i], list[i+1:]...)
	if err := r.writeCourses(ctx, list); err != nil {
		return false, err
	}

	r.logger.Printf("Deleted course: %s", id)
	return true, nil
}

// TouchLastPlayed records that a round started on the course.
// Returns nil for an unknown id.
func (r *Repository) TouchLastPlayed(ctx context.Context, id string, at time.Time) (*model.Course, error) {
	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return nil, err
	}

	i := indexOf(list, id)
	if i < 0 {
		return nil, nil
	}

	ts := model.At(at)
	list[i].LastPlayed = &ts
	if err := r.writeCourses(ctx, list); err != nil {
		return nil, err
	}

	out := list[i]
	return &out, nil
}

// Cleanup drops courses with duplicate ids (the first one wins) and
// courses that fail validation after normalization. It writes only when
// something changed and returns the number of courses removed.
func (r *Repository) Cleanup(ctx context.Context) (int, error) {
	list, err := r.coursesForWrite(ctx)
	if err != nil {
		return 0, err
	}

	before, err := json.Marshal(list)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal courses: %w", err)
	}

	seen := make(map[string]bool, len(list))
	kept := make([]model.Course, 0, len(list))
	for _, c := range list {
		c.Normalize()
		if seen[c.ID] {
			r.logger.Printf("Cleanup: dropping duplicate course %s (%s)", c.ID, c.Name)
			continue
		}
		if err := c.Validate(); err != nil {
			r.logger.Printf("Cleanup: dropping invalid course %s: %v", c.ID, err)
			continue
		}
		seen[c.ID] = true
		kept = append(kept, c)
	}

	after, err := json.Marshal(kept)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal courses: %w", err)
	}
	if string(before) == string(after) {
		return 0, nil
	}

	if err := r.writeCourses(ctx, kept); err != nil {
		return 0, err
	}
	return len(list) - len(kept), nil
}

// LoadSettings returns the settings, completed from defaults. It never
// returns a partial record.
func (r *Repository) LoadSettings(ctx context.Context) model.Settings {
	s, err := r.settings(ctx)
	if err != nil {
		r.logger.Printf("Failed to load settings, using defaults: %v", err)
		return model.DefaultSettings()
	}
	return s
}

// SaveSettings replaces the settings document.
func (r *Repository) SaveSettings(ctx context.Context, s model.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return store.PutJSON(ctx, r.store, KeySettings, CurrentVersion, s)
}

// ApplySetting sets one key from its JSON value and persists the result.
func (r *Repository) ApplySetting(ctx context.Context, key string, raw json.RawMessage) (model.Settings, error) {
	s, err := r.settings(ctx)
	if err != nil {
		return model.Settings{}, writeBlocked(KeySettings, err)
	}
	if err := s.Apply(key, raw); err != nil {
		return model.Settings{}, err
	}
	if err := r.SaveSettings(ctx, s); err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

// LoadRound returns the round cursor, or nil when none is stored or the
// stored one is unusable. The course it names may no longer exist.
func (r *Repository) LoadRound(ctx context.Context) *model.RoundState {
	var round model.RoundState
	found, err := r.load(ctx, KeyRound, &round)
	if err != nil {
		r.logger.Printf("Failed to load round: %v", err)
		return nil
	}
	if !found {
		return nil
	}
	if err := round.Validate(); err != nil {
		r.logger.Printf("Ignoring invalid round: %v", err)
		return nil
	}
	return &round
}

// SaveRound replaces the round cursor.
func (r *Repository) SaveRound(ctx context.Context, round model.RoundState) error {
	if err := round.Validate(); err != nil {
		return err
	}
	return store.PutJSON(ctx, r.store, KeyRound, CurrentVersion, round)
}

// ClearRound removes the round cursor.
func (r *Repository) ClearRound(ctx context.Context) error {
	return r.store.Delete(ctx, KeyRound)
}

// courses loads the list. Missing or corrupt documents yield an empty list.
func (r *Repository) courses(ctx context.Context) ([]model.Course, error) {
	var list []model.Course
	found, err := r.load(ctx, KeyCourses, &list)
	if err != nil {
		return nil, err
	}
	if !found || list == nil {
		return []model.Course{}, nil
	}
	return list, nil
}

// coursesForWrite loads the list for a mutation.
func (r *Repository) coursesForWrite(ctx context.Context) ([]model.Course, error) {
	list, err := r.courses(ctx)
	if err != nil {
		return nil, writeBlocked(KeyCourses, err)
	}
	return list, nil
}

func (r *Repository) writeCourses(ctx context.Context, list []model.Course) error {
	if list == nil {
		list = []model.Course{}
	}
	return store.PutJSON(ctx, r.store, KeyCourses, CurrentVersion, list)
}

func (r *Repository) settings(ctx context.Context) (model.Settings, error) {
	s := model.DefaultSettings()
	found, err := r.load(ctx, KeySettings, &s)
	if err != nil {
		return model.Settings{}, err
	}
	if !found {
		return model.DefaultSettings(), nil
	}
	if err := s.Validate(); err != nil {
		r.logger.Printf("Stored settings invalid, resetting gpsAccuracy: %v", err)
		s.GPSAccuracy = model.DefaultSettings().GPSAccuracy
	}
	return s, nil
}

// load decodes the document under key into v, migrating it first.
//
// found is false for a missing document and for a corrupt one; a corrupt
// body is preserved under key+".corrupt" before it can be overwritten.
// Read failures and documents from a newer schema are returned as errors.
func (r *Repository) load(ctx context.Context, key string, v any) (found bool, err error) {
	doc, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	body, err := upgrade(doc)
	if errors.Is(err, ErrUnsupportedVersion) {
		return false, err
	}
	if err == nil {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		r.quarantine(ctx, doc, err)
		return false, nil
	}
	return true, nil
}

func (r *Repository) quarantine(ctx context.Context, doc *store.Document, cause error) {
	r.logger.Printf("Document %s is corrupt, using default: %v", doc.Key, cause)

	backup := &store.Document{
		Key:     doc.Key + corruptSuffix,
		Version: doc.Version,
		Body:    doc.Body,
	}
	if err := r.store.Put(ctx, backup); err != nil {
		r.logger.Printf("Failed to preserve corrupt %s: %v", doc.Key, err)
	}
}

// writeBlocked turns a load failure into the error a mutation returns.
func writeBlocked(key string, err error) error {
	if errors.Is(err, ErrUnsupportedVersion) {
		return &model.StorageError{Op: model.OpWrite, Key: key, Err: err}
	}
	return fmt.Errorf("failed to load %s: %w", key, err)
}

func indexOf(list []model.Course, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// nextID returns the epoch-millisecond id for now, suffixed "-N" when it
// is already taken.
func nextID(list []model.Course, now time.Time) string {
	taken := make(map[string]bool, len(list))
	for _, c := range list {
		taken[c.ID] = true
	}

	base := strconv.FormatInt(now.UnixMilli(), 10)
	if !taken[base] {
		return base
	}
	for n := 1; ; n++ {
		id := fmt.Sprintf("%s-%d", base, n)
		if !taken[id] {
			return id
		}
	}
}
