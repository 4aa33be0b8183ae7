// Package relay is the companion side of course synchronization.
//
// The relay mirrors what the primary sends into the companion's key space
// and turns user edits of that key space into messages for the primary.
// The key space is a display mirror; the primary's store stays
// authoritative.
//
// Keys:
//
//	courseExportCode   read-only, code of the primary's active course
//	courseList         read-only, JSON list of the primary's courses
//	courseImportCode   one-shot, a code to import on the primary
//	renameCourse       one-shot, {"id": ..., "name": ...}
//	deleteCourse       one-shot, a course id
//	<setting>          mirrored 1:1 with the primary's settings
//
// Rename and delete keys are cleared after one send attempt whether or not
// the channel took the message. An import code stays set while the channel
// is down and Flush forwards it when the channel opens again.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/flogapp/flog/internal/codec"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
)

// Key space names.
const (
	KeyExportCode = "courseExportCode"
	KeyCourseList = "courseList"
	KeyImportCode = "courseImportCode"
	KeyRename     = "renameCourse"
	KeyDelete     = "deleteCourse"
)

// ErrReadOnly is returned when a read-only key is edited.
var ErrReadOnly = errors.New("key is read-only")

// IsReadOnly reports whether key is only written by the relay itself.
func IsReadOnly(key string) bool {
	return key == KeyExportCode || key == KeyCourseList
}

// IsOneShot reports whether key is cleared after it is forwarded.
func IsOneShot(key string) bool {
	switch key {
	case KeyImportCode, KeyRename, KeyDelete:
		return true
	}
	return false
}

// Relay connects the key space to the peer channel.
type Relay struct {
	keys    *KeyStore
	channel peer.Channel
	logger  *log.Logger
}

// New creates a Relay.
//
// If logger is nil, a default logger writing to stderr is used.
func New(keys *KeyStore, channel peer.Channel, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.New(os.Stderr, "[relay] ", log.LstdFlags)
	}
	return &Relay{
		keys:    keys,
		channel: channel,
		logger:  logger,
	}
}

// Keys returns the underlying key space.
func (r *Relay) Keys() *KeyStore {
	return r.keys
}

// HandlePeer stores a message from the primary into the key space.
func (r *Relay) HandlePeer(ctx context.Context, msg protocol.Message) error {
	switch msg.Kind {
	case protocol.KindExportCourse:
		if msg.Course == nil {
			return fmt.Errorf("%w: export-course without a course", model.ErrDecode)
		}
		token, err := codec.Encode(*msg.Course)
		if err != nil {
			return err
		}
		r.logger.Printf("Generating export code for: %s", msg.Course.Name)
		return r.keys.SetString(ctx, KeyExportCode, token)

	case protocol.KindSyncCourses:
		data, err := json.Marshal(msg.Courses)
		if err != nil {
			return fmt.Errorf("failed to marshal course list: %w", err)
		}
		r.logger.Printf("Syncing %d courses from primary", len(msg.Courses))
		return r.keys.Set(ctx, KeyCourseList, data)

	case protocol.KindRename:
		return r.patchList(ctx, func(list []model.Course) []model.Course {
			for i := range list {
				if list[i].ID == msg.CourseID {
					list[i].Name = msg.Name
				}
			}
			return list
		})

	case protocol.KindDelete:
		return r.patchList(ctx, func(list []model.Course) []model.Course {
			kept := list[:0]
			for _, c := range list {
				if c.ID != msg.CourseID {
					kept = append(kept, c)
				}
			}
			return kept
		})

	case protocol.KindSetting:
		if IsReadOnly(msg.Key) || IsOneShot(msg.Key) {
			r.logger.Printf("Ignoring reserved key %s from primary", msg.Key)
			return nil
		}
		return r.keys.Set(ctx, msg.Key, msg.Value)

	default:
		r.logger.Printf("Ignoring %s from primary", msg.Kind)
		return nil
	}
}

// Set stores a user edit of key and forwards it to the primary.
//
// Read-only keys are rejected with ErrReadOnly. A malformed import code or
// rename request is logged and left in place for the user to correct; the
// returned error matches model.ErrDecode.
func (r *Relay) Set(ctx context.Context, key string, value json.RawMessage) error {
	if IsReadOnly(key) {
		return fmt.Errorf("%w: %s", ErrReadOnly, key)
	}
	if err := r.keys.Set(ctx, key, value); err != nil {
		return err
	}
	return r.OnChange(ctx, key, value)
}

// OnChange classifies a changed key and forwards it.
func (r *Relay) OnChange(ctx context.Context, key string, value json.RawMessage) error {
	switch key {
	case KeyExportCode, KeyCourseList:
		return nil
	case KeyImportCode:
		return r.forwardImport(ctx, value)
	case KeyRename:
		return r.forwardRename(ctx, value)
	case KeyDelete:
		return r.forwardDelete(ctx, value)
	default:
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		r.send(ctx, protocol.Setting(key, value))
		return nil
	}
}

// Flush forwards an import code left pending while the channel was down.
func (r *Relay) Flush(ctx context.Context) {
	value, ok, err := r.keys.Get(ctx, KeyImportCode)
	if err != nil {
		r.logger.Printf("Failed to read pending %s: %v", KeyImportCode, err)
		return
	}
	if !ok {
		return
	}
	if err := r.OnChange(ctx, KeyImportCode, value); err != nil {
		r.logger.Printf("Pending %s not forwarded: %v", KeyImportCode, err)
	}
}

// Courses returns the mirrored course list.
func (r *Relay) Courses(ctx context.Context) ([]model.Course, error) {
	raw, ok, err := r.keys.Get(ctx, KeyCourseList)
	if err != nil || !ok {
		return []model.Course{}, err
	}
	var list []model.Course
	if err := json.Unmarshal(raw, &list); err != nil {
		r.logger.Printf("Mirrored course list is corrupt: %v", err)
		return []model.Course{}, nil
	}
	return list, nil
}

// ExportCode returns the code of the primary's active course, or "".
func (r *Relay) ExportCode(ctx context.Context) (string, error) {
	raw, ok, err := r.keys.Get(ctx, KeyExportCode)
	if err != nil || !ok {
		return "", err
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", nil
	}
	return code, nil
}

func (r *Relay) forwardImport(ctx context.Context, value json.RawMessage) error {
	token := textValue(value)
	if token == "" {
		return nil
	}
	if !codec.Plausible(token) {
		r.logger.Printf("Import code too short, waiting for more input")
		return nil
	}

	course, err := codec.Decode(token)
	if err != nil {
		r.logger.Printf("Invalid course code format: %v", err)
		return err
	}

	r.logger.Printf("Importing course from code: %s", course.Name)
	return r.forwardOneShot(ctx, KeyImportCode, protocol.ImportCourse(course))
}

func (r *Relay) forwardRename(ctx context.Context, value json.RawMessage) error {
	if isEmpty(value) {
		return nil
	}

	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(value, &req); err != nil {
		// Text inputs wrap their content in a JSON string.
		if text := textValue(value); text != "" {
			err = json.Unmarshal([]byte(text), &req)
		}
		if err != nil {
			r.logger.Printf("Invalid rename data: %v", err)
			return fmt.Errorf("%w: rename request: %v", model.ErrDecode, err)
		}
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		r.logger.Printf("Invalid rename data: id and name are required")
		return fmt.Errorf("%w: rename request needs id and name", model.ErrDecode)
	}

	return r.forwardOneShot(ctx, KeyRename, protocol.Rename(req.ID, req.Name))
}

func (r *Relay) forwardDelete(ctx context.Context, value json.RawMessage) error {
	id := textValue(value)
	if id == "" {
		return nil
	}
	return r.forwardOneShot(ctx, KeyDelete, protocol.Delete(id))
}

// forwardOneShot sends msg and clears key. Only an import code outlives a
// failed send.
func (r *Relay) forwardOneShot(ctx context.Context, key string, msg protocol.Message) error {
	if !r.send(ctx, msg) && key == KeyImportCode {
		r.logger.Printf("Keeping %s until the primary connects", key)
		return nil
	}
	if err := r.keys.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}

// send reports whether msg was handed to an open channel.
func (r *Relay) send(ctx context.Context, msg protocol.Message) bool {
	if r.channel == nil || r.channel.State() != peer.StateOpen {
		r.logger.Printf("Channel not open, dropped %s", msg.Kind)
		return false
	}
	if err := r.channel.Send(ctx, msg); err != nil {
		r.logger.Printf("Failed to send %s (dropped): %v", msg.Kind, err)
		return false
	}
	return true
}

func (r *Relay) patchList(ctx context.Context, patch func([]model.Course) []model.Course) error {
	list, err := r.Courses(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(patch(list))
	if err != nil {
		return fmt.Errorf("failed to marshal course list: %w", err)
	}
	return r.keys.Set(ctx, KeyCourseList, data)
}

// textValue extracts text from a key value: a JSON string, a text-input
// object {"name": "..."}, or bare text.
func textValue(value json.RawMessage) string {
	if isEmpty(value) {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(value, &input); err == nil && input.Name != "" {
		return strings.TrimSpace(input.Name)
	}
	if json.Valid(value) {
		trimmed := strings.TrimSpace(string(value))
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return ""
		}
		return trimmed
	}
	return strings.TrimSpace(string(value))
}

func isEmpty(value json.RawMessage) bool {
	v := strings.TrimSpace(string(value))
	return v == "" || v == "null" || v == `""`
}
