package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/flogapp/flog/internal/codec"
	"github.com/flogapp/flog/internal/confirm"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/protocol"
	"github.com/flogapp/flog/internal/relay"
	"github.com/flogapp/flog/internal/repo"
	"github.com/flogapp/flog/internal/session"
	"github.com/flogapp/flog/internal/store"
	coord "github.com/flogapp/flog/internal/sync"
)

var quiet = log.New(io.Discard, "", 0)

type fixture struct {
	server   *Server
	sched    *confirm.ManualScheduler
	base     string
	primary  *peer.Link
	received chan protocol.Message
}

// setupServer starts a companion on a random port with a connected primary
// link.
func setupServer(t *testing.T) *fixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "companion.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sched := &confirm.ManualScheduler{}
	secret := []byte("pairing-secret")
	srv := NewServer(relay.NewKeyStore(db), &Config{
		Addr:      "127.0.0.1:0",
		Secret:    secret,
		Scheduler: sched,
		AccessLog: io.Discard,
		Logger:    quiet,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	received := make(chan protocol.Message, 16)
	primary := peer.NewLink(&peer.LinkConfig{
		Name:      "companion",
		OnMessage: func(_ context.Context, msg protocol.Message) { received <- msg },
		Logger:    quiet,
	})
	t.Cleanup(func() { _ = primary.Close() })

	dialer := peer.NewDialer(peer.DialerConfig{
		URL:    "ws://" + srv.GetAddr() + "/peer",
		Secret: secret,
		Logger: quiet,
	}, primary)
	if err := dialer.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "companion to see the primary", func() bool { return srv.Link().State() == peer.StateOpen })

	return &fixture{
		server:   srv,
		sched:    sched,
		base:     "http://" + srv.GetAddr(),
		primary:  primary,
		received: received,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) request(t *testing.T, method, path string, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.base+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (f *fixture) receive(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a message at the primary")
		return protocol.Message{}
	}
}

func TestHealth(t *testing.T) {
	f := setupServer(t)

	status, body := f.request(t, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var got struct {
		Status  string `json:"status"`
		Channel string `json:"channel"`
		Peers   int    `json:"peers"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("bad health body %s: %v", body, err)
	}
	if got.Status != "ok" || got.Channel != "open" || got.Peers != 1 {
		t.Errorf("unexpected health: %+v", got)
	}
}

func TestPeer_RejectsBadToken(t *testing.T) {
	f := setupServer(t)

	intruder := peer.NewLink(&peer.LinkConfig{Logger: quiet})
	defer intruder.Close()
	err := peer.NewDialer(peer.DialerConfig{
		URL:    "ws://" + f.server.GetAddr() + "/peer",
		Secret: []byte("wrong-secret"),
		Logger: quiet,
	}, intruder).Dial(context.Background())
	if err == nil {
		t.Fatal("expected dial with the wrong secret to fail")
	}
}

func TestMirror_CoursesAndExport(t *testing.T) {
	f := setupServer(t)
	ctx := context.Background()

	course := model.NewCourse("10", "Harbour", time.Now())
	if err := f.primary.Send(ctx, protocol.SyncCourses([]model.Course{course})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := f.primary.Send(ctx, protocol.ExportCourse(course)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitFor(t, "export code", func() bool {
		status, _ := f.request(t, http.MethodGet, "/api/export", "")
		return status == http.StatusOK
	})

	status, body := f.request(t, http.MethodGet, "/api/courses", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var list []model.Course
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("bad course list %s: %v", body, err)
	}
	if len(list) != 1 || list[0].Name != "Harbour" {
		t.Errorf("unexpected list: %+v", list)
	}

	_, body = f.request(t, http.MethodGet, "/api/export", "")
	var export struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(body, &export)
	decoded, err := codec.Decode(export.Code)
	if err != nil || decoded.Name != "Harbour" {
		t.Errorf("export code does not decode to the course: %v", err)
	}
}

func TestSettings_ReadOnlyAndPassThrough(t *testing.T) {
	f := setupServer(t)

	status, _ := f.request(t, http.MethodPut, "/api/settings/courseList", `[]`)
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for read-only key, got %d", status)
	}
	status, _ = f.request(t, http.MethodDelete, "/api/settings/courseExportCode", "")
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for read-only key, got %d", status)
	}

	status, _ = f.request(t, http.MethodPut, "/api/settings/useYards", `not json`)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", status)
	}

	status, _ = f.request(t, http.MethodPut, "/api/settings/useYards", `true`)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	msg := f.receive(t)
	if msg.Kind != protocol.KindSetting || msg.Key != "useYards" || string(msg.Value) != "true" {
		t.Errorf("unexpected forwarded message: %+v", msg)
	}

	status, body := f.request(t, http.MethodGet, "/api/settings/useYards", "")
	if status != http.StatusOK || string(body) != "true" {
		t.Errorf("expected stored value true, got %d %s", status, body)
	}
	status, _ = f.request(t, http.MethodGet, "/api/settings/missing", "")
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unset key, got %d", status)
	}
}

func TestDelete_TwoStep(t *testing.T) {
	f := setupServer(t)

	status, body := f.request(t, http.MethodPost, "/api/courses/42/delete", "")
	if status != http.StatusAccepted {
		t.Fatalf("first call should arm, got %d %s", status, body)
	}
	var armed deleteResponse
	_ = json.Unmarshal(body, &armed)
	if armed.State != "armed" || armed.WindowMS != 3000 {
		t.Errorf("unexpected arm response: %+v", armed)
	}

	status, _ = f.request(t, http.MethodPost, "/api/courses/42/delete", "")
	if status != http.StatusOK {
		t.Fatalf("second call should confirm, got %d", status)
	}
	msg := f.receive(t)
	if msg.Kind != protocol.KindDelete || msg.CourseID != "42" {
		t.Errorf("unexpected forwarded message: %+v", msg)
	}
}

func TestDelete_WindowExpires(t *testing.T) {
	f := setupServer(t)

	f.request(t, http.MethodPost, "/api/courses/7/delete", "")
	f.sched.Advance(confirm.DefaultWindow)

	status, _ := f.request(t, http.MethodPost, "/api/courses/7/delete", "")
	if status != http.StatusAccepted {
		t.Fatalf("call after the window should arm again, got %d", status)
	}
	select {
	case msg := <-f.received:
		t.Errorf("nothing should be forwarded, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRename(t *testing.T) {
	f := setupServer(t)

	status, _ := f.request(t, http.MethodPost, "/api/courses/5/rename", `{"name":"Front Nine"}`)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	msg := f.receive(t)
	if msg.Kind != protocol.KindRename || msg.CourseID != "5" || msg.Name != "Front Nine" {
		t.Errorf("unexpected forwarded message: %+v", msg)
	}

	status, _ = f.request(t, http.MethodPost, "/api/courses/5/rename", `{"name":"  "}`)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for empty name, got %d", status)
	}
}

func TestImport(t *testing.T) {
	f := setupServer(t)

	token, err := codec.Encode(model.NewCourse("3", "Shared", time.Now()))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	status, _ := f.request(t, http.MethodPost, "/api/import", token)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	msg := f.receive(t)
	if msg.Kind != protocol.KindImportCourse || msg.Course == nil || msg.Course.Name != "Shared" {
		t.Errorf("unexpected forwarded message: %+v", msg)
	}

	status, body := f.request(t, http.MethodPost, "/api/import", `{"code":"flog1.####not-a-real-course-code####"}`)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for malformed code, got %d %s", status, body)
	}
	var errBody errorResponse
	_ = json.Unmarshal(body, &errBody)
	if errBody.Message != "invalid code" {
		t.Errorf("expected user message %q, got %q", "invalid code", errBody.Message)
	}
}

func TestPeer_NewerPrimaryReplacesOlder(t *testing.T) {
	f := setupServer(t)

	db, err := store.Open(filepath.Join(t.TempDir(), "primary.db"))
	if err != nil {
		t.Fatalf("failed to open primary database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	r := repo.New(db, quiet)
	primary := coord.New(r, session.New(r, quiet), nil, quiet)
	ctx := context.Background()
	before := len(r.LoadCourses(ctx))

	second := make(chan protocol.Message, 16)
	link := peer.NewLink(&peer.LinkConfig{
		Name:      "companion",
		OnMessage: func(_ context.Context, msg protocol.Message) { second <- msg },
		Logger:    quiet,
	})
	t.Cleanup(func() { _ = link.Close() })
	dialer := peer.NewDialer(peer.DialerConfig{
		URL:    "ws://" + f.server.GetAddr() + "/peer",
		Secret: []byte("pairing-secret"),
		Logger: quiet,
	}, link)
	if err := dialer.Dial(ctx); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	waitFor(t, "older primary to be dropped", func() bool { return f.primary.State() == peer.StateConnecting })
	if n := f.server.Link().Peers(); n != 1 {
		t.Fatalf("expected 1 attached primary, got %d", n)
	}

	token, err := codec.Encode(model.NewCourse("3", "Shared", time.Now()))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if status, _ := f.request(t, http.MethodPost, "/api/import", token); status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}

	// Both primaries write to the same store; each import-course they get
	// would become its own record.
	imports := 0
	for done := false; !done; {
		select {
		case msg := <-f.received:
			if msg.Kind == protocol.KindImportCourse {
				imports++
				if err := primary.Handle(ctx, msg); err != nil {
					t.Fatalf("Handle failed: %v", err)
				}
			}
		case msg := <-second:
			if msg.Kind == protocol.KindImportCourse {
				imports++
				if err := primary.Handle(ctx, msg); err != nil {
					t.Fatalf("Handle failed: %v", err)
				}
			}
		case <-time.After(300 * time.Millisecond):
			done = true
		}
	}

	if imports != 1 {
		t.Errorf("expected one import delivery, got %d", imports)
	}
	if got := len(r.LoadCourses(ctx)) - before; got != 1 {
		t.Errorf("expected exactly one imported course, got %d", got)
	}
}
