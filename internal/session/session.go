// Package session holds the primary side's cursor: the active course, the
// active hole and the loaded settings.
//
// A Session is not safe for concurrent use. The daemon only touches it from
// its event loop.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/repo"
)

// Session is the explicit replacement for process-wide current-course state.
type Session struct {
	repo   *repo.Repository
	logger *log.Logger
	now    func() time.Time

	course   *model.Course
	hole     int
	settings model.Settings
}

// New creates a session with no active course and default settings.
// Call Load to read the persisted settings.
//
// If logger is nil, a default logger writing to stderr is used.
func New(r *repo.Repository, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Session{
		repo:     r,
		logger:   logger,
		now:      time.Now,
		settings: model.DefaultSettings(),
	}
}

// WithClock replaces the clock used for round timestamps.
func (s *Session) WithClock(now func() time.Time) *Session {
	s.now = now
	return s
}

// Load reads the persisted settings.
func (s *Session) Load(ctx context.Context) {
	s.settings = s.repo.LoadSettings(ctx)
}

// Settings returns the current settings.
func (s *Session) Settings() model.Settings {
	return s.settings
}

// SetSettings replaces the in-memory settings after they were persisted.
func (s *Session) SetSettings(settings model.Settings) {
	s.settings = settings
}

// Active returns a copy of the active course, or nil.
func (s *Session) Active() *model.Course {
	if s.course == nil {
		return nil
	}
	c := *s.course
	return &c
}

// ActiveID returns the id of the active course, or "".
func (s *Session) ActiveID() string {
	if s.course == nil {
		return ""
	}
	return s.course.ID
}

// Hole returns the active hole number, or 0 without an active course.
func (s *Session) Hole() int {
	if s.course == nil {
		return 0
	}
	return s.hole
}

// Activate makes c the active course at hole 1 and records the round cursor.
func (s *Session) Activate(ctx context.Context, c model.Course) error {
	s.course = &c
	s.hole = 1
	return s.saveRound(ctx)
}

// Refresh replaces the active course if it has the same id as c.
func (s *Session) Refresh(c model.Course) bool {
	if s.course == nil || s.course.ID != c.ID {
		return false
	}
	s.course = &c
	return true
}

// Forget drops the active course if its id is id. The stored round cursor
// is left alone; Resume discards it once the course is gone.
func (s *Session) Forget(id string) bool {
	if s.course == nil || s.course.ID != id {
		return false
	}
	s.logger.Printf("Active course %s was deleted", id)
	s.course = nil
	s.hole = 0
	return true
}

// Resume restores the active course and hole from the stored round cursor.
//
// It reports false when there is nothing to resume. A cursor naming a
// course that no longer exists is treated as no round: the session stays
// without an active course and the stale cursor is cleared.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	round := s.repo.LoadRound(ctx)
	if round == nil {
		return false, nil
	}

	c := s.repo.LoadCourse(ctx, round.CourseID)
	if c == nil {
		s.logger.Printf("Round references missing course %s, not resuming", round.CourseID)
		s.course = nil
		s.hole = 0
		if err := s.repo.ClearRound(ctx); err != nil {
			s.logger.Printf("Failed to clear stale round: %v", err)
		}
		return false, nil
	}

	s.course = c
	s.hole = round.CurrentHole
	s.logger.Printf("Resumed %s at hole %d", c.Name, s.hole)
	return true, nil
}

// StartRound activates a course at hole 1 and records when it was played.
func (s *Session) StartRound(ctx context.Context, courseID string) (model.Course, error) {
	c, err := s.repo.TouchLastPlayed(ctx, courseID, s.now())
	if err != nil {
		return model.Course{}, err
	}
	if c == nil {
		return model.Course{}, fmt.Errorf("%w: course %s", model.ErrReferentialMiss, courseID)
	}
	if err := s.Activate(ctx, *c); err != nil {
		return *c, err
	}
	return *c, nil
}

// EndRound clears the active course and the stored round cursor.
func (s *Session) EndRound(ctx context.Context) error {
	s.course = nil
	s.hole = 0
	return s.repo.ClearRound(ctx)
}

// SetHole moves to hole n of the active course.
func (s *Session) SetHole(ctx context.Context, n int) error {
	if s.course == nil {
		return model.ErrNoActiveCourse
	}
	if n < 1 || n > model.HoleCount {
		return fmt.Errorf("%w: hole must be between 1 and %d (got %d)", model.ErrInvalid, model.HoleCount, n)
	}
	s.hole = n
	return s.saveRound(ctx)
}

// Next moves to the next hole. It stays on the last hole.
func (s *Session) Next(ctx context.Context) (int, error) {
	if s.course == nil {
		return 0, model.ErrNoActiveCourse
	}
	if s.hole >= model.HoleCount {
		return s.hole, nil
	}
	n := s.hole + 1
	return n, s.SetHole(ctx, n)
}

// Prev moves to the previous hole. It stays on the first hole.
func (s *Session) Prev(ctx context.Context) (int, error) {
	if s.course == nil {
		return 0, model.ErrNoActiveCourse
	}
	if s.hole <= 1 {
		return s.hole, nil
	}
	n := s.hole - 1
	return n, s.SetHole(ctx, n)
}

func (s *Session) saveRound(ctx context.Context) error {
	round := model.NewRoundState(s.course.ID, s.hole, s.now())
	if err := s.repo.SaveRound(ctx, round); err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	return nil
}
