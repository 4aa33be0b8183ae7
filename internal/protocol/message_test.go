package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flogapp/flog/internal/model"
)

func TestMessage_WireFormat(t *testing.T) {
	c := model.NewCourse("42", "Muni", time.UnixMilli(1767225600000))

	tests := []struct {
		name string
		msg  Message
		want map[string]any
	}{
		{
			name: "rename",
			msg:  Rename("42", "Muni North"),
			want: map[string]any{"key": "courseName", "courseId": "42", "newValue": "Muni North"},
		},
		{
			name: "delete",
			msg:  Delete("42"),
			want: map[string]any{"key": "deleteCourse", "courseId": "42"},
		},
		{
			name: "setting",
			msg:  Setting("useYards", json.RawMessage(`true`)),
			want: map[string]any{"key": "useYards", "newValue": true},
		},
		{
			name: "empty sync",
			msg:  SyncCourses(nil),
			want: map[string]any{"type": "sync-courses", "data": []any{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("wire mismatch (-want +got):\n%s", diff)
			}
		})
	}

	data, err := json.Marshal(ExportCourse(c))
	if err != nil {
		t.Fatalf("Marshal export failed: %v", err)
	}
	var f struct {
		Type string      `json:"type"`
		Data model.Course `json:"data"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Unmarshal export failed: %v", err)
	}
	if f.Type != TypeExportCourse || f.Data.ID != "42" || len(f.Data.Holes) != model.HoleCount {
		t.Errorf("unexpected export frame: %s", data)
	}
}

func TestDecode_Variants(t *testing.T) {
	c := model.NewCourse("7", "Links", time.UnixMilli(1767225600000))
	course, _ := json.Marshal(c)

	tests := []struct {
		name  string
		frame string
		want  Message
	}{
		{
			name:  "export",
			frame: `{"type":"export-course","data":` + string(course) + `}`,
			want:  ExportCourse(c),
		},
		{
			name:  "import",
			frame: `{"type":"import-course","data":` + string(course) + `}`,
			want:  ImportCourse(c),
		},
		{
			name:  "sync",
			frame: `{"type":"sync-courses","data":[` + string(course) + `]}`,
			want:  SyncCourses([]model.Course{c}),
		},
		{
			name:  "rename",
			frame: `{"key":"courseName","courseId":"7","newValue":"Links East"}`,
			want:  Rename("7", "Links East"),
		},
		{
			name:  "delete",
			frame: `{"key":"deleteCourse","courseId":"7"}`,
			want:  Delete("7"),
		},
		{
			name:  "delete with id in newValue",
			frame: `{"key":"deleteCourse","newValue":"7"}`,
			want:  Delete("7"),
		},
		{
			name:  "setting",
			frame: `{"key":"gpsAccuracy","newValue":"low"}`,
			want:  Setting("gpsAccuracy", json.RawMessage(`"low"`)),
		},
		{
			name:  "setting without value",
			frame: `{"key":"useYards"}`,
			want:  Setting("useYards", json.RawMessage(`null`)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"type":`},
		{"both discriminants", `{"type":"sync-courses","key":"useYards","data":[]}`},
		{"neither discriminant", `{"courseId":"7"}`},
		{"unknown type", `{"type":"wipe-everything","data":{}}`},
		{"missing data", `{"type":"export-course"}`},
		{"bad data", `{"type":"sync-courses","data":{"id":"x"}}`},
		{"rename without id", `{"key":"courseName","newValue":"x"}`},
		{"rename with number", `{"key":"courseName","courseId":"7","newValue":5}`},
		{"delete without id", `{"key":"deleteCourse"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, model.ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	msgs := []Message{
		Rename("1", "A"),
		Delete("1"),
		Setting("vibrationEnabled", json.RawMessage(`false`)),
		SyncCourses([]model.Course{model.NewCourse("1", "A", time.UnixMilli(0))}),
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Marshal %s failed: %v", m.Kind, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode %s failed: %v", m.Kind, err)
		}
		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", m.Kind, diff)
		}
	}
}

func TestMarshal_RejectsReservedSettingKey(t *testing.T) {
	if _, err := json.Marshal(Setting(KeyDeleteCourse, json.RawMessage(`"1"`))); err == nil {
		t.Error("expected an error for a reserved key")
	}
	if _, err := json.Marshal(Message{Kind: KindExportCourse}); err == nil {
		t.Error("expected an error for an export without a course")
	}
}
