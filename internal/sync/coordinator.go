package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/flogapp/flog/internal/codec"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
	"github.com/flogapp/flog/internal/repo"
	"github.com/flogapp/flog/internal/session"
)

// Coordinator applies local and inbound changes and emits the messages
// that keep the companion's mirror current.
type Coordinator struct {
	repo    *repo.Repository
	session *session.Session
	channel peer.Channel
	logger  *log.Logger
}

// New creates a Coordinator.
//
// channel may be nil, in which case every outbound message is dropped.
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	r := repo.New(db, nil)
//	s := session.New(r, nil)
//	link := peer.NewLink(nil)
//	c := sync.New(r, s, link, nil)
func New(r *repo.Repository, s *session.Session, channel peer.Channel, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Coordinator{
		repo:    r,
		session: s,
		channel: channel,
		logger:  logger,
	}
}

// CreateCourse creates a course, makes it active and announces it.
func (c *Coordinator) CreateCourse(ctx context.Context, name string) (model.Course, error) {
	course, err := c.repo.CreateCourse(ctx, name)
	if err != nil {
		return model.Course{}, err
	}
	if err := c.session.Activate(ctx, course); err != nil {
		c.logger.Printf("Failed to record round for new course: %v", err)
	}

	c.emit(ctx, protocol.ExportCourse(course))
	c.emitList(ctx)
	return course, nil
}

// UpdateHole applies patch to a hole and announces the updated course.
// A missing course or hole returns (nil, nil) and emits nothing.
func (c *Coordinator) UpdateHole(ctx context.Context, courseID string, number int, patch model.HolePatch) (*model.Course, error) {
	updated, err := c.repo.UpdateHole(ctx, courseID, number, patch)
	if err != nil || updated == nil {
		return nil, err
	}
	c.session.Refresh(*updated)
	c.emit(ctx, protocol.ExportCourse(*updated))
	return updated, nil
}

// SetPar sets the par of one hole.
func (c *Coordinator) SetPar(ctx context.Context, courseID string, number, par int) (*model.Course, error) {
	return c.UpdateHole(ctx, courseID, number, model.ParPatch(par))
}

// MarkHole records fix as target kind of a hole.
//
// A zero fix is rejected with model.ErrNoFix. When autoAdvanceHole is on
// and the marked hole is the session's current hole, the session moves to
// the next hole.
func (c *Coordinator) MarkHole(ctx context.Context, courseID string, number int, kind model.TargetKind, fix model.Fix) (*model.Course, error) {
	if fix.IsZero() {
		return nil, model.ErrNoFix
	}

	course := c.repo.LoadCourse(ctx, courseID)
	if course == nil {
		c.logger.Printf("MarkHole: course %s not found (ignored)", courseID)
		return nil, nil
	}
	hole, ok := course.Hole(number)
	if !ok {
		c.logger.Printf("MarkHole: course %s has no hole %d (ignored)", courseID, number)
		return nil, nil
	}

	patch, err := model.MarkPatch(*hole, kind, fix)
	if err != nil {
		return nil, err
	}

	updated, err := c.UpdateHole(ctx, courseID, number, patch)
	if err != nil || updated == nil {
		return updated, err
	}

	if c.session.Settings().AutoAdvanceHole && c.session.ActiveID() == courseID && c.session.Hole() == number {
		if _, err := c.session.Next(ctx); err != nil {
			c.logger.Printf("Failed to advance hole: %v", err)
		}
	}
	return updated, nil
}

// MarkActive marks the session's current hole.
func (c *Coordinator) MarkActive(ctx context.Context, kind model.TargetKind, fix model.Fix) (*model.Course, error) {
	id := c.session.ActiveID()
	if id == "" {
		return nil, model.ErrNoActiveCourse
	}
	return c.MarkHole(ctx, id, c.session.Hole(), kind, fix)
}

// StartRound activates a course at hole 1 and exports it to the companion.
func (c *Coordinator) StartRound(ctx context.Context, courseID string) (model.Course, error) {
	course, err := c.session.StartRound(ctx, courseID)
	if err != nil {
		return course, err
	}
	c.emit(ctx, protocol.ExportCourse(course))
	return course, nil
}

// RenameCourse renames a course and announces it.
// An unknown id returns (nil, nil).
func (c *Coordinator) RenameCourse(ctx context.Context, id, name string) (*model.Course, error) {
	return c.rename(ctx, id, name)
}

// DeleteCourse deletes a course and announces the new list.
func (c *Coordinator) DeleteCourse(ctx context.Context, id string) (bool, error) {
	found, err := c.repo.DeleteCourse(ctx, id)
	if err != nil || !found {
		return found, err
	}
	c.session.Forget(id)
	c.emitList(ctx)
	return true, nil
}

// ApplySetting persists one setting and forwards its value.
func (c *Coordinator) ApplySetting(ctx context.Context, key string, raw json.RawMessage) (model.Settings, error) {
	settings, err := c.repo.ApplySetting(ctx, key, raw)
	if err != nil {
		return model.Settings{}, err
	}
	c.session.SetSettings(settings)

	msg, err := settingMessage(settings, key)
	if err != nil {
		c.logger.Printf("Not forwarding %s: %v", key, err)
		return settings, nil
	}
	c.emit(ctx, msg)
	return settings, nil
}

// settingMessage builds the outbound message carrying the value of key.
func settingMessage(settings model.Settings, key string) (protocol.Message, error) {
	value, ok := settings.Value(key)
	if !ok {
		return protocol.Message{}, fmt.Errorf("%w: no value for setting %q", model.ErrInvalid, key)
	}
	return protocol.SettingValue(key, value)
}

// Cleanup removes duplicate and invalid courses and announces the new list
// when something was removed.
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	removed, err := c.repo.Cleanup(ctx)
	if err != nil || removed == 0 {
		return removed, err
	}

	if id := c.session.ActiveID(); id != "" && c.repo.LoadCourse(ctx, id) == nil {
		c.session.Forget(id)
	}
	c.emitList(ctx)
	return removed, nil
}

// ImportToken decodes a course code and imports it like an inbound
// import-course message.
func (c *Coordinator) ImportToken(ctx context.Context, token string) (model.Course, error) {
	course, err := codec.Decode(token)
	if err != nil {
		return model.Course{}, err
	}
	return c.importCourse(ctx, course)
}

// Reconcile pushes the full list and the active course. Call it when the
// channel opens.
func (c *Coordinator) Reconcile(ctx context.Context) {
	c.logger.Printf("Reconciling with companion")
	c.emitList(ctx)
	if active := c.session.Active(); active != nil {
		c.emit(ctx, protocol.ExportCourse(*active))
	}
}

// Handle applies one inbound message. Errors are logged and returned; the
// message is not retried.
func (c *Coordinator) Handle(ctx context.Context, msg protocol.Message) error {
	var err error

	switch msg.Kind {
	case protocol.KindRename:
		_, err = c.rename(ctx, msg.CourseID, msg.Name)
	case protocol.KindDelete:
		_, err = c.DeleteCourse(ctx, msg.CourseID)
	case protocol.KindSetting:
		if !model.IsSettingKey(msg.Key) {
			c.logger.Printf("Ignoring unknown setting %q", msg.Key)
			return nil
		}
		_, err = c.ApplySetting(ctx, msg.Key, msg.Value)
	case protocol.KindImportCourse:
		if msg.Course == nil {
			err = fmt.Errorf("%w: import-course without a course", model.ErrDecode)
			break
		}
		_, err = c.importCourse(ctx, *msg.Course)
	case protocol.KindExportCourse, protocol.KindSyncCourses:
		c.logger.Printf("Ignoring %s from companion", msg.Kind)
		return nil
	default:
		c.logger.Printf("Ignoring message of kind %s", msg.Kind)
		return nil
	}

	if err != nil {
		c.logger.Printf("Failed to apply %s: %v", msg.Kind, err)
		return err
	}
	return nil
}

func (c *Coordinator) rename(ctx context.Context, id, name string) (*model.Course, error) {
	updated, err := c.repo.RenameCourse(ctx, id, name)
	if err != nil || updated == nil {
		return nil, err
	}

	c.emitList(ctx)
	if c.session.Refresh(*updated) {
		c.emit(ctx, protocol.ExportCourse(*updated))
	}
	return updated, nil
}

func (c *Coordinator) importCourse(ctx context.Context, course model.Course) (model.Course, error) {
	imported, err := c.repo.ImportCourse(ctx, course)
	if err != nil {
		return model.Course{}, err
	}
	if err := c.session.Activate(ctx, imported); err != nil {
		c.logger.Printf("Failed to record round for imported course: %v", err)
	}

	c.emit(ctx, protocol.ExportCourse(imported))
	c.emitList(ctx)
	return imported, nil
}

func (c *Coordinator) emitList(ctx context.Context) {
	c.emit(ctx, protocol.SyncCourses(c.repo.LoadCourses(ctx)))
}

// emit sends msg if the channel is open and drops it otherwise.
func (c *Coordinator) emit(ctx context.Context, msg protocol.Message) {
	if c.channel == nil || c.channel.State() != peer.StateOpen {
		c.logger.Printf("Channel not open, dropped %s", msg.Kind)
		return
	}
	if err := c.channel.Send(ctx, msg); err != nil {
		c.logger.Printf("Failed to send %s (dropped): %v", msg.Kind, err)
	}
}
