// Package protocol defines the messages exchanged between the primary and
// the companion.
//
// On the wire a message is a JSON object discriminated by exactly one of
// two fields: "type" (course payloads) or "key" (edits and settings).
//
//	{"type":"export-course","data":{...course...}}
//	{"type":"sync-courses","data":[...courses...]}
//	{"type":"import-course","data":{...course...}}
//	{"key":"courseName","courseId":"...","newValue":"New name"}
//	{"key":"deleteCourse","courseId":"..."}
//	{"key":"useYards","newValue":true}
//
// Frames are decoded once, at the boundary, into a Message whose Kind says
// which fields are meaningful.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flogapp/flog/internal/model"
)

// Kind identifies a message variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindExportCourse
	KindSyncCourses
	KindImportCourse
	KindRename
	KindDelete
	KindSetting
)

// Wire discriminants.
const (
	TypeExportCourse = "export-course"
	TypeSyncCourses  = "sync-courses"
	TypeImportCourse = "import-course"
	KeyCourseName    = "courseName"
	KeyDeleteCourse  = "deleteCourse"
)

func (k Kind) String() string {
	switch k {
	case KindExportCourse:
		return TypeExportCourse
	case KindSyncCourses:
		return TypeSyncCourses
	case KindImportCourse:
		return TypeImportCourse
	case KindRename:
		return KeyCourseName
	case KindDelete:
		return KeyDeleteCourse
	case KindSetting:
		return "setting"
	default:
		return "unknown"
	}
}

// Message is one decoded peer message.
type Message struct {
	Kind Kind

	// Course is set for KindExportCourse and KindImportCourse.
	Course *model.Course

	// Courses is set for KindSyncCourses.
	Courses []model.Course

	// CourseID is set for KindRename and KindDelete.
	CourseID string

	// Name is the new name for KindRename.
	Name string

	// Key and Value are set for KindSetting.
	Key   string
	Value json.RawMessage
}

// ExportCourse returns a message carrying the full current course.
func ExportCourse(c model.Course) Message {
	return Message{Kind: KindExportCourse, Course: &c}
}

// SyncCourses returns a message carrying the full course list.
func SyncCourses(list []model.Course) Message {
	if list == nil {
		list = []model.Course{}
	}
	return Message{Kind: KindSyncCourses, Courses: list}
}

// ImportCourse returns a message asking the primary to import c.
func ImportCourse(c model.Course) Message {
	return Message{Kind: KindImportCourse, Course: &c}
}

// Rename returns a message asking the primary to rename a course.
func Rename(courseID, name string) Message {
	return Message{Kind: KindRename, CourseID: courseID, Name: name}
}

// Delete returns a message asking the primary to delete a course.
func Delete(courseID string) Message {
	return Message{Kind: KindDelete, CourseID: courseID}
}

// Setting returns a message carrying one setting value.
func Setting(key string, value json.RawMessage) Message {
	return Message{Kind: KindSetting, Key: key, Value: value}
}

// SettingValue is Setting with v encoded as JSON.
func SettingValue(key string, v any) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return Setting(key, raw), nil
}

// frame is the wire shape shared by all variants.
type frame struct {
	Type     string          `json:"type,omitempty"`
	Key      string          `json:"key,omitempty"`
	CourseID string          `json:"courseId,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	var f frame
	var err error

	switch m.Kind {
	case KindExportCourse, KindImportCourse:
		if m.Course == nil {
			return nil, fmt.Errorf("%s message without a course", m.Kind)
		}
		f.Type = m.Kind.String()
		f.Data, err = json.Marshal(m.Course)
	case KindSyncCourses:
		list := m.Courses
		if list == nil {
			list = []model.Course{}
		}
		f.Type = TypeSyncCourses
		f.Data, err = json.Marshal(list)
	case KindRename:
		f.Key = KeyCourseName
		f.CourseID = m.CourseID
		f.NewValue, err = json.Marshal(m.Name)
	case KindDelete:
		f.Key = KeyDeleteCourse
		f.CourseID = m.CourseID
	case KindSetting:
		if m.Key == "" || m.Key == KeyCourseName || m.Key == KeyDeleteCourse {
			return nil, fmt.Errorf("invalid setting key %q", m.Key)
		}
		f.Key = m.Key
		f.NewValue = m.Value
		if len(f.NewValue) == 0 {
			f.NewValue = json.RawMessage("null")
		}
	default:
		return nil, fmt.Errorf("cannot marshal %s message", m.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", m.Kind, err)
	}

	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler. Errors match model.ErrDecode.
func (m *Message) UnmarshalJSON(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	switch {
	case f.Type != "" && f.Key != "":
		return fmt.Errorf("%w: message has both type %q and key %q", model.ErrDecode, f.Type, f.Key)
	case f.Type == "" && f.Key == "":
		return fmt.Errorf("%w: message has neither type nor key", model.ErrDecode)
	case f.Type != "":
		return m.decodeTyped(f)
	default:
		return m.decodeKeyed(f)
	}
}

func (m *Message) decodeTyped(f frame) error {
	if isNull(f.Data) {
		return fmt.Errorf("%w: %s without data", model.ErrDecode, f.Type)
	}

	switch f.Type {
	case TypeExportCourse, TypeImportCourse:
		var c model.Course
		if err := json.Unmarshal(f.Data, &c); err != nil {
			return fmt.Errorf("%w: %s data: %v", model.ErrDecode, f.Type, err)
		}
		kind := KindExportCourse
		if f.Type == TypeImportCourse {
			kind = KindImportCourse
		}
		*m = Message{Kind: kind, Course: &c}
	case TypeSyncCourses:
		var list []model.Course
		if err := json.Unmarshal(f.Data, &list); err != nil {
			return fmt.Errorf("%w: %s data: %v", model.ErrDecode, f.Type, err)
		}
		if list == nil {
			list = []model.Course{}
		}
		*m = Message{Kind: KindSyncCourses, Courses: list}
	default:
		return fmt.Errorf("%w: unknown message type %q", model.ErrDecode, f.Type)
	}
	return nil
}

func (m *Message) decodeKeyed(f frame) error {
	switch f.Key {
	case KeyCourseName:
		if f.CourseID == "" {
			return fmt.Errorf("%w: %s without courseId", model.ErrDecode, f.Key)
		}
		var name string
		if err := json.Unmarshal(f.NewValue, &name); err != nil {
			return fmt.Errorf("%w: %s newValue must be a string", model.ErrDecode, f.Key)
		}
		*m = Message{Kind: KindRename, CourseID: f.CourseID, Name: name}
	case KeyDeleteCourse:
		id := f.CourseID
		if id == "" && !isNull(f.NewValue) {
			// Older companions put the id in newValue.
			if err := json.Unmarshal(f.NewValue, &id); err != nil {
				return fmt.Errorf("%w: %s newValue must be a string", model.ErrDecode, f.Key)
			}
		}
		if id == "" {
			return fmt.Errorf("%w: %s without courseId", model.ErrDecode, f.Key)
		}
		*m = Message{Kind: KindDelete, CourseID: id}
	default:
		value := f.NewValue
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		*m = Message{Kind: KindSetting, Key: f.Key, Value: append(json.RawMessage(nil), value...)}
	}
	return nil
}

// Decode parses one frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		if errors.Is(err, model.ErrDecode) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
