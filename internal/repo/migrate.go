package repo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/store"
)

// CurrentVersion is the schema version written for every document.
const CurrentVersion = 1

// ErrUnsupportedVersion is returned when a stored document was written by a
// newer schema than this build understands. Such a document is never
// overwritten.
var ErrUnsupportedVersion = errors.New("document version is newer than supported")

// migration rewrites a document body from version N to N+1.
type migration func(body []byte) ([]byte, error)

// migrations maps document key -> from-version -> migration.
//
// Version 0 is the unversioned layout: a bare JSON array of courses, a bare
// settings object and a bare round object, with nulls for absent
// coordinates and possibly missing par values.
var migrations = map[string]map[int]migration{
	KeyCourses: {
		0: migrateCoursesV0,
	},
	KeySettings: {
		0: migrateSettingsV0,
	},
	KeyRound: {
		0: migrateRoundV0,
	},
}

// upgrade returns the body of doc migrated to CurrentVersion.
func upgrade(doc *store.Document) ([]byte, error) {
	if doc.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %s is version %d, newest supported is %d",
			ErrUnsupportedVersion, doc.Key, doc.Version, CurrentVersion)
	}

	body := doc.Body
	for v := doc.Version; v < CurrentVersion; v++ {
		m, ok := migrations[doc.Key][v]
		if !ok {
			return nil, fmt.Errorf("no migration for %s from version %d", doc.Key, v)
		}
		next, err := m(body)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate %s from version %d: %w", doc.Key, v, err)
		}
		body = next
	}
	return body, nil
}

func migrateCoursesV0(body []byte) ([]byte, error) {
	var courses []model.Course
	if err := json.Unmarshal(body, &courses); err != nil {
		return nil, err
	}
	for i := range courses {
		courses[i].Normalize()
	}
	if courses == nil {
		courses = []model.Course{}
	}
	return json.Marshal(courses)
}

func migrateSettingsV0(body []byte) ([]byte, error) {
	settings := model.DefaultSettings()
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, err
	}
	return json.Marshal(settings)
}

func migrateRoundV0(body []byte) ([]byte, error) {
	var round model.RoundState
	if err := json.Unmarshal(body, &round); err != nil {
		return nil, err
	}
	return json.Marshal(round)
}
