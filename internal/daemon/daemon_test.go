package daemon

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flogapp/flog/internal/codec"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
	"github.com/flogapp/flog/internal/repo"
	"github.com/flogapp/flog/internal/store"
)

var quiet = log.New(io.Discard, "", 0)

func setupTestRepo(t *testing.T) *repo.Repository {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "flog.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return repo.New(db, quiet)
}

func testConfig() *Config {
	config := DefaultConfig()
	config.ReconnectInterval = 20 * time.Millisecond
	config.DebounceInterval = 20 * time.Millisecond
	config.Logger = quiet
	return config
}

func writeCode(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func validCode(t *testing.T, name string) string {
	t.Helper()
	token, err := codec.Encode(model.NewCourse("1", name, time.Now()))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return token
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// runDaemon starts d and returns a function that stops it and waits for
// Start to return.
func runDaemon(t *testing.T, d *Daemon) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}
	t.Cleanup(func() {
		select {
		case <-ctx.Done():
		default:
			stop()
		}
	})
	return stop
}

func TestImportFile(t *testing.T) {
	r := setupTestRepo(t)
	d, err := New(r, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	path := writeCode(t, dir, "club.flog", validCode(t, "Club Course")+"\n")

	if err := d.ImportFile(context.Background(), path); err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}

	courses := r.LoadCourses(context.Background())
	if len(courses) != 1 || courses[0].Name != "Club Course" {
		t.Fatalf("unexpected courses: %+v", courses)
	}
	if courses[0].ID == "1" {
		t.Error("imported course should get a fresh id")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("imported file should be removed")
	}
	if d.Session().ActiveID() != courses[0].ID {
		t.Error("imported course should become active")
	}
}

func TestImportFile_Malformed(t *testing.T) {
	r := setupTestRepo(t)
	d, err := New(r, testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	path := writeCode(t, dir, "bad.flog", "definitely not a course code")

	if err := d.ImportFile(context.Background(), path); err == nil {
		t.Fatal("expected error for malformed code")
	}
	if _, err := os.Stat(filepath.Join(dir, "bad"+RejectedExt)); err != nil {
		t.Errorf("malformed file should be set aside: %v", err)
	}
	if len(r.LoadCourses(context.Background())) != 0 {
		t.Error("nothing should be imported")
	}
}

func TestImportFile_Missing(t *testing.T) {
	d, err := New(setupTestRepo(t), testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.ImportFile(context.Background(), filepath.Join(t.TempDir(), "gone.flog")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
}

func TestInbox_DeliversCodeFiles(t *testing.T) {
	dir := t.TempDir()
	in, err := NewInbox(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewInbox failed: %v", err)
	}
	if err := in.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer in.Stop()

	writeCode(t, dir, "notes.txt", "ignored")
	want := writeCode(t, dir, "course.flog", "code")

	select {
	case got := <-in.Files():
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbox file")
	}
}

func TestInbox_Scan(t *testing.T) {
	dir := t.TempDir()
	writeCode(t, dir, "b.flog", "x")
	writeCode(t, dir, "a.flog", "x")
	writeCode(t, dir, "c.rejected", "x")

	in, err := NewInbox(dir, 0)
	if err != nil {
		t.Fatalf("NewInbox failed: %v", err)
	}
	defer in.Stop()

	paths, err := in.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "a.flog" || filepath.Base(paths[1]) != "b.flog" {
		t.Errorf("unexpected scan result: %v", paths)
	}
}

func TestDaemon_InboxImport(t *testing.T) {
	r := setupTestRepo(t)
	inboxDir := filepath.Join(t.TempDir(), "inbox")

	// A file already waiting when the daemon starts.
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeCode(t, inboxDir, "early.flog", validCode(t, "Early"))

	config := testConfig()
	config.InboxDir = inboxDir
	d, err := New(r, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	stop := runDaemon(t, d)

	countCourses := func() int {
		n := 0
		_ = d.Do(context.Background(), func(ctx context.Context) error {
			n = len(r.LoadCourses(ctx))
			return nil
		})
		return n
	}

	waitFor(t, "existing inbox file", func() bool { return countCourses() == 1 })

	writeCode(t, inboxDir, "late.flog", validCode(t, "Late"))
	waitFor(t, "new inbox file", func() bool { return countCourses() == 2 })

	stop()
}

func TestDaemon_ReconcilesAndHandlesCompanion(t *testing.T) {
	r := setupTestRepo(t)
	ctx := context.Background()
	course, err := r.CreateCourse(ctx, "Home Links")
	if err != nil {
		t.Fatalf("CreateCourse failed: %v", err)
	}

	received := make(chan protocol.Message, 16)
	companion := peer.NewLink(&peer.LinkConfig{
		Name:      "primary",
		OnMessage: func(_ context.Context, msg protocol.Message) { received <- msg },
		Logger:    quiet,
	})
	secret := []byte("test-secret")
	srv := httptest.NewServer(companion.AcceptHandler(secret))
	t.Cleanup(func() {
		_ = companion.Close()
		srv.Close()
	})

	config := testConfig()
	config.CompanionURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	config.Secret = secret
	d, err := New(r, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	stop := runDaemon(t, d)

	nextSync := func() protocol.Message {
		t.Helper()
		for {
			select {
			case msg := <-received:
				if msg.Kind == protocol.KindSyncCourses {
					return msg
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for sync-courses")
				return protocol.Message{}
			}
		}
	}

	first := nextSync()
	if len(first.Courses) != 1 || first.Courses[0].ID != course.ID {
		t.Fatalf("unexpected reconcile list: %+v", first.Courses)
	}

	if err := companion.Send(ctx, protocol.Rename(course.ID, "Away Links")); err != nil {
		t.Fatalf("companion Send failed: %v", err)
	}
	renamed := nextSync()
	if len(renamed.Courses) != 1 || renamed.Courses[0].Name != "Away Links" {
		t.Fatalf("rename not applied: %+v", renamed.Courses)
	}

	stop()
	if got := r.LoadCourse(ctx, course.ID); got == nil || got.Name != "Away Links" {
		t.Errorf("rename not persisted: %+v", got)
	}
}
