package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/store"
)

var testNow = time.Date(2026, 6, 14, 8, 5, 0, 0, time.UTC)

// setupTestRepo creates a repository on a temporary database with a
// frozen clock.
func setupTestRepo(t *testing.T) (*Repository, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "flog.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := New(db, log.New(io.Discard, "", 0)).WithClock(func() time.Time { return testNow })
	return r, db
}

// failingStore injects read or write failures in front of a real store.
type failingStore struct {
	store.Store
	failGet bool
	failPut bool
	puts    int
}

func (f *failingStore) Get(ctx context.Context, key string) (*store.Document, error) {
	if f.failGet {
		return nil, &model.StorageError{Op: model.OpRead, Key: key, Err: errors.New("i/o error")}
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Put(ctx context.Context, doc *store.Document) error {
	f.puts++
	if f.failPut {
		return &model.StorageError{Op: model.OpWrite, Key: doc.Key, Err: errors.New("disk full")}
	}
	return f.Store.Put(ctx, doc)
}

func TestCreateCourse(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "  Old Links ")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if c.Name != "Old Links" {
		t.Errorf("expected trimmed name, got %q", c.Name)
	}
	if len(c.Holes) != model.HoleCount {
		t.Errorf("expected %d holes, got %d", model.HoleCount, len(c.Holes))
	}

	got := r.LoadCourse(ctx, c.ID)
	if got == nil {
		t.Fatal("created course not found")
	}
	if diff := cmp.Diff(c, *got); diff != "" {
		t.Errorf("stored course differs (-want +got):\n%s", diff)
	}
}

func TestCreateCourse_DefaultName(t *testing.T) {
	r, _ := setupTestRepo(t)

	c, err := r.CreateCourse(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if c.Name != "New Round 8:05" {
		t.Errorf("unexpected default name %q", c.Name)
	}
}

func TestCreateCourse_SameTickDistinctIDs(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		c, err := r.CreateCourse(ctx, "Course")
		if err != nil {
			t.Fatalf("CreateCourse %d failed: %v", i, err)
		}
		if seen[c.ID] {
			t.Fatalf("duplicate id %s", c.ID)
		}
		seen[c.ID] = true
	}

	base := "1781424300000"
	for _, id := range []string{base, base + "-1", base + "-2"} {
		if !seen[id] {
			t.Errorf("expected id %s, got %v", id, seen)
		}
	}
	if n := len(r.LoadCourses(ctx)); n != 3 {
		t.Errorf("expected 3 courses, got %d", n)
	}
}

func TestUpdateHole_MissIsNoop(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	before, err := db.Get(ctx, KeyCourses)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	tests := []struct {
		name     string
		courseID string
		number   int
	}{
		{"unknown course", "no-such-course", 1},
		{"hole out of range", c.ID, 19},
		{"hole zero", c.ID, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.UpdateHole(ctx, tt.courseID, tt.number, model.PinPatch(1, 2))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != nil {
				t.Errorf("expected nil course, got %+v", got)
			}
		})
	}

	after, err := db.Get(ctx, KeyCourses)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(before.Body, after.Body) {
		t.Error("stored document changed after a no-op update")
	}
	if !before.UpdatedAt.Equal(after.UpdatedAt) {
		t.Error("a no-op update must not write")
	}
}

func TestUpdateHole_MergesFields(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if _, err := r.UpdateHole(ctx, c.ID, 3, model.ParPatch(5)); err != nil {
		t.Fatalf("par update failed: %v", err)
	}

	updated, err := r.UpdateHole(ctx, c.ID, 3, model.PinPatch(10, 20))
	if err != nil {
		t.Fatalf("pin update failed: %v", err)
	}

	lat, lon := 10.0, 20.0
	want := model.Hole{Number: 3, Latitude: &lat, Longitude: &lon, Par: 5}
	got, _ := updated.Hole(3)
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("hole mismatch (-want +got):\n%s", diff)
	}

	stored := r.LoadCourse(ctx, c.ID)
	storedHole, _ := stored.Hole(3)
	if diff := cmp.Diff(want, *storedHole); diff != "" {
		t.Errorf("stored hole mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateHole_RejectsInvalidPatch(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if _, err := r.UpdateHole(ctx, c.ID, 1, model.PinPatch(1, 2)); err != nil {
		t.Fatalf("pin update failed: %v", err)
	}
	before, _ := db.Get(ctx, KeyCourses)

	lat := 51.0
	tests := []struct {
		name  string
		hole  int
		patch model.HolePatch
	}{
		{"lone latitude", 2, model.HolePatch{Latitude: &lat}},
		{"mixed layout", 2, model.HolePatch{Tee: &model.Target{Lat: 1, Lon: 2}}},
		{"par out of range", 2, model.ParPatch(0)},
		{"nan pin", 2, model.PinPatch(math.NaN(), math.NaN())},
		{"infinite pin", 2, model.PinPatch(math.Inf(1), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.UpdateHole(ctx, c.ID, tt.hole, tt.patch)
			if !errors.Is(err, model.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}

	after, _ := db.Get(ctx, KeyCourses)
	if !bytes.Equal(before.Body, after.Body) {
		t.Error("rejected patch must not be written")
	}
}

func TestWriteFailureIsSurfaced(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}

	fs := &failingStore{Store: db, failPut: true}
	failing := New(fs, log.New(io.Discard, "", 0))

	if _, err := failing.CreateCourse(ctx, "Other"); !errors.Is(err, model.ErrStorageWrite) {
		t.Errorf("CreateCourse: expected ErrStorageWrite, got %v", err)
	}
	if _, err := failing.UpdateHole(ctx, c.ID, 1, model.PinPatch(1, 2)); !errors.Is(err, model.ErrStorageWrite) {
		t.Errorf("UpdateHole: expected ErrStorageWrite, got %v", err)
	}
	if _, err := failing.DeleteCourse(ctx, c.ID); !errors.Is(err, model.ErrStorageWrite) {
		t.Errorf("DeleteCourse: expected ErrStorageWrite, got %v", err)
	}
	if err := failing.SaveSettings(ctx, model.DefaultSettings()); !errors.Is(err, model.ErrStorageWrite) {
		t.Errorf("SaveSettings: expected ErrStorageWrite, got %v", err)
	}

	if n := len(r.LoadCourses(ctx)); n != 1 {
		t.Errorf("expected the first course only, got %d courses", n)
	}
}

func TestReadFailureBlocksWrite(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	if _, err := r.CreateCourse(ctx, "Muni"); err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}

	fs := &failingStore{Store: db, failGet: true}
	failing := New(fs, log.New(io.Discard, "", 0))

	if got := failing.LoadCourses(ctx); len(got) != 0 {
		t.Errorf("unreadable list should load as empty, got %d", len(got))
	}
	if _, err := failing.CreateCourse(ctx, "Other"); !errors.Is(err, model.ErrStorageRead) {
		t.Errorf("expected ErrStorageRead, got %v", err)
	}
	if fs.puts != 0 {
		t.Errorf("nothing may be written after a failed read, got %d puts", fs.puts)
	}
	if n := len(r.LoadCourses(ctx)); n != 1 {
		t.Errorf("stored list was clobbered: %d courses", n)
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	if got := r.LoadSettings(ctx); got != model.DefaultSettings() {
		t.Errorf("expected defaults, got %+v", got)
	}

	if err := db.Put(ctx, &store.Document{Key: KeySettings, Version: CurrentVersion, Body: []byte(`{"useYards":true}`)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got := r.LoadSettings(ctx)
	want := model.DefaultSettings()
	want.UseYards = true
	if got != want {
		t.Errorf("partial document not completed from defaults: got %+v, want %+v", got, want)
	}

	if err := db.Put(ctx, &store.Document{Key: KeySettings, Version: CurrentVersion, Body: []byte(`garbage`)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := r.LoadSettings(ctx); got != model.DefaultSettings() {
		t.Errorf("corrupt settings should load as defaults, got %+v", got)
	}
}

func TestApplySetting(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	s, err := r.ApplySetting(ctx, model.SettingGPSAccuracy, json.RawMessage(`"balanced"`))
	if err != nil {
		t.Fatalf("ApplySetting failed: %v", err)
	}
	if s.GPSAccuracy != model.AccuracyBalanced {
		t.Errorf("got %s", s.GPSAccuracy)
	}
	if got := r.LoadSettings(ctx); got.GPSAccuracy != model.AccuracyBalanced {
		t.Errorf("setting not persisted: %+v", got)
	}

	if _, err := r.ApplySetting(ctx, "theme", json.RawMessage(`"dark"`)); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("expected ErrInvalid for unknown key, got %v", err)
	}
}

func TestMigrateV0Documents(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	c := model.NewCourse("1767225600000", "Legacy", testNow)
	raw, err := json.Marshal([]model.Course{c})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// v0 documents carry null coordinates and may omit par.
	raw = bytes.Replace(raw, []byte(`"par":4`), []byte(`"latitude":null,"longitude":null`), 1)

	if err := db.Put(ctx, &store.Document{Key: KeyCourses, Version: 0, Body: raw}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	list := r.LoadCourses(ctx)
	if len(list) != 1 {
		t.Fatalf("expected 1 course, got %d", len(list))
	}
	if list[0].Holes[0].Par != model.DefaultPar {
		t.Errorf("missing par should migrate to %d, got %d", model.DefaultPar, list[0].Holes[0].Par)
	}

	if _, err := r.RenameCourse(ctx, c.ID, "Legacy Links"); err != nil {
		t.Fatalf("RenameCourse failed: %v", err)
	}
	doc, _ := db.Get(ctx, KeyCourses)
	if doc.Version != CurrentVersion {
		t.Errorf("expected version %d after write, got %d", CurrentVersion, doc.Version)
	}
}

func TestNewerVersionBlocksWrites(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	future := []byte(`{"format":"from the future"}`)
	if err := db.Put(ctx, &store.Document{Key: KeyCourses, Version: CurrentVersion + 1, Body: future}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if got := r.LoadCourses(ctx); len(got) != 0 {
		t.Errorf("newer document should read as empty, got %d courses", len(got))
	}

	_, err := r.CreateCourse(ctx, "Muni")
	if !errors.Is(err, model.ErrStorageWrite) || !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected unsupported version write error, got %v", err)
	}

	doc, _ := db.Get(ctx, KeyCourses)
	if !bytes.Equal(doc.Body, future) {
		t.Error("newer document was overwritten")
	}
}

func TestCorruptCoursesArePreserved(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	if err := db.Put(ctx, &store.Document{Key: KeyCourses, Version: CurrentVersion, Body: []byte(`[{broken`)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if got := r.LoadCourses(ctx); len(got) != 0 {
		t.Errorf("corrupt list should load as empty, got %d", len(got))
	}

	backup, err := db.Get(ctx, KeyCourses+corruptSuffix)
	if err != nil {
		t.Fatalf("expected a preserved copy: %v", err)
	}
	if string(backup.Body) != `[{broken` {
		t.Errorf("unexpected backup body %s", backup.Body)
	}

	if _, err := r.CreateCourse(ctx, "Fresh"); err != nil {
		t.Fatalf("CreateCourse after corruption failed: %v", err)
	}
	if n := len(r.LoadCourses(ctx)); n != 1 {
		t.Errorf("expected 1 course, got %d", n)
	}
}

func TestCleanup(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	good := model.NewCourse("a", "Alpha", testNow)
	dup := model.NewCourse("a", "Alpha copy", testNow)
	short := model.NewCourse("b", "Short", testNow)
	short.Holes = short.Holes[:9]
	unsorted := model.NewCourse("c", "Gamma", testNow)
	unsorted.Holes[0], unsorted.Holes[1] = unsorted.Holes[1], unsorted.Holes[0]

	if err := store.PutJSON(ctx, db, KeyCourses, CurrentVersion, []model.Course{good, dup, short, unsorted}); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	removed, err := r.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	list := r.LoadCourses(ctx)
	if len(list) != 2 || list[0].Name != "Alpha" || list[1].ID != "c" {
		t.Fatalf("unexpected list after cleanup: %+v", list)
	}
	if list[1].Holes[0].Number != 1 {
		t.Error("hole order not restored")
	}

	before, _ := db.Get(ctx, KeyCourses)
	removed, err = r.Cleanup(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("second Cleanup: removed=%d err=%v", removed, err)
	}
	after, _ := db.Get(ctx, KeyCourses)
	if !before.UpdatedAt.Equal(after.UpdatedAt) {
		t.Error("clean list must not be rewritten")
	}
}

func TestDeleteCourse_LeavesRound(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}
	if err := r.SaveRound(ctx, model.NewRoundState(c.ID, 7, testNow)); err != nil {
		t.Fatalf("SaveRound failed: %v", err)
	}

	found, err := r.DeleteCourse(ctx, c.ID)
	if err != nil || !found {
		t.Fatalf("DeleteCourse: found=%v err=%v", found, err)
	}

	round := r.LoadRound(ctx)
	if round == nil || round.CourseID != c.ID {
		t.Fatalf("round cursor should be left dangling, got %+v", round)
	}

	found, err = r.DeleteCourse(ctx, c.ID)
	if err != nil || found {
		t.Errorf("second delete: found=%v err=%v", found, err)
	}
}

func TestRoundLifecycle(t *testing.T) {
	r, db := setupTestRepo(t)
	ctx := context.Background()

	if r.LoadRound(ctx) != nil {
		t.Fatal("expected no round")
	}

	if err := r.SaveRound(ctx, model.RoundState{CourseID: "x", CurrentHole: 0}); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	if err := r.SaveRound(ctx, model.NewRoundState("x", 4, testNow)); err != nil {
		t.Fatalf("SaveRound failed: %v", err)
	}
	round := r.LoadRound(ctx)
	if round == nil || round.CurrentHole != 4 || !round.Timestamp.Equal(model.At(testNow)) {
		t.Fatalf("unexpected round %+v", round)
	}

	if err := r.ClearRound(ctx); err != nil {
		t.Fatalf("ClearRound failed: %v", err)
	}
	if r.LoadRound(ctx) != nil {
		t.Error("round should be cleared")
	}

	if err := db.Put(ctx, &store.Document{Key: KeyRound, Version: CurrentVersion, Body: []byte(`{"courseId":"x","currentHole":40}`)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if r.LoadRound(ctx) != nil {
		t.Error("invalid stored round should be ignored")
	}
}

func TestImportCourse_FreshID(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	existing, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}

	incoming := model.NewCourse(existing.ID, "Shared", testNow.Add(-time.Hour))
	incoming.Holes[4].Par = 0

	got, err := r.ImportCourse(ctx, incoming)
	if err != nil {
		t.Fatalf("ImportCourse failed: %v", err)
	}
	if got.ID == existing.ID {
		t.Error("imported course must get a fresh id")
	}
	if got.Holes[4].Par != model.DefaultPar {
		t.Errorf("par default not filled, got %d", got.Holes[4].Par)
	}
	if n := len(r.LoadCourses(ctx)); n != 2 {
		t.Errorf("expected 2 courses, got %d", n)
	}

	bad := model.NewCourse("x", "", testNow)
	if _, err := r.ImportCourse(ctx, bad); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestImportCourse_EmptyHazardsRoundTrip(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	incoming := model.NewCourse("x", "Heath", testNow)
	incoming.Holes[2].Tee = &model.Target{Lat: 1, Lon: 2}
	incoming.Holes[2].Hazards = []model.Target{}

	got, err := r.ImportCourse(ctx, incoming)
	if err != nil {
		t.Fatalf("ImportCourse failed: %v", err)
	}
	stored := r.LoadCourse(ctx, got.ID)
	if stored == nil {
		t.Fatal("imported course not found")
	}
	if diff := cmp.Diff(got.Holes, stored.Holes); diff != "" {
		t.Errorf("holes changed on reload (-returned +stored):\n%s", diff)
	}
}

func TestRenameCourse(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}

	got, err := r.RenameCourse(ctx, c.ID, "  Back Nine  ")
	if err != nil {
		t.Fatalf("RenameCourse failed: %v", err)
	}
	if got == nil || got.Name != "Back Nine" {
		t.Fatalf("expected trimmed name, got %+v", got)
	}
	if stored := r.LoadCourse(ctx, c.ID); stored == nil || stored.Name != "Back Nine" {
		t.Errorf("rename not persisted: %+v", stored)
	}

	if got, err := r.RenameCourse(ctx, "missing", "X"); got != nil || err != nil {
		t.Errorf("unknown id should be a no-op, got %v, %v", got, err)
	}
	if _, err := r.RenameCourse(ctx, c.ID, "   "); !errors.Is(err, model.ErrInvalid) {
		t.Errorf("expected ErrInvalid for blank name, got %v", err)
	}
}

func TestCreateHole(t *testing.T) {
	h := CreateHole(7)
	if h.Number != 7 || h.Par != model.DefaultPar || h.Marked() {
		t.Errorf("unexpected fresh hole %+v", h)
	}
}

func TestTouchLastPlayed(t *testing.T) {
	r, _ := setupTestRepo(t)
	ctx := context.Background()

	c, err := r.CreateCourse(ctx, "Muni")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}

	at := testNow.Add(2 * time.Hour)
	got, err := r.TouchLastPlayed(ctx, c.ID, at)
	if err != nil {
		t.Fatalf("TouchLastPlayed failed: %v", err)
	}
	if got == nil || got.LastPlayed == nil || !got.LastPlayed.Time.Equal(at) {
		t.Errorf("lastPlayed not set: %+v", got)
	}

	if got, err := r.TouchLastPlayed(ctx, "missing", at); got != nil || err != nil {
		t.Errorf("unknown id should return nil, got %v, %v", got, err)
	}
}
