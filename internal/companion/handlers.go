package companion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/relay"
)

// maxBodySize bounds request bodies. An import code for a fully marked
// course is a few kilobytes.
const maxBodySize = 256 << 10

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := model.KindOf(err)
	switch {
	case errors.Is(err, relay.ErrReadOnly):
		status = http.StatusForbidden
	case kind == model.KindDecode:
		status = http.StatusUnprocessableEntity
	case kind == model.KindInvalid:
		status = http.StatusBadRequest
	case kind == model.KindReferentialMiss:
		status = http.StatusNotFound
	case kind == model.KindChannelNotReady:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Message: kind.UserMessage()})
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// do runs fn on the server's loop and writes its error, if any. It reports
// whether fn succeeded.
func (s *Server) do(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) bool {
	if err := s.loop.Do(r.Context(), fn); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"channel": s.link.State().String(),
		"peers":   s.link.Peers(),
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	var all map[string]json.RawMessage
	ok := s.do(w, r, func(ctx context.Context) error {
		var err error
		all, err = s.keys.All(ctx)
		return err
	})
	if ok {
		writeJSON(w, http.StatusOK, all)
	}
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var (
		value json.RawMessage
		found bool
	)
	ok := s.do(w, r, func(ctx context.Context) error {
		var err error
		value, found, err = s.keys.Get(ctx, key)
		return err
	})
	if !ok {
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "key not set: " + key})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(value)
}

// handlePutSetting stores a user edit. The body is the new JSON value.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be a JSON value"})
		return
	}

	if s.do(w, r, func(ctx context.Context) error {
		return s.relay.Set(ctx, key, body)
	}) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if relay.IsReadOnly(key) {
		writeError(w, relay.ErrReadOnly)
		return
	}

	if s.do(w, r, func(ctx context.Context) error {
		return s.keys.Remove(ctx, key)
	}) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	var list []model.Course
	ok := s.do(w, r, func(ctx context.Context) error {
		var err error
		list, err = s.relay.Courses(ctx)
		return err
	})
	if ok {
		writeJSON(w, http.StatusOK, list)
	}
}

// handleRename writes the renameCourse key for the course in the path.
// The body is {"name": "..."}.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"name": "..."}`})
		return
	}

	value, err := json.Marshal(map[string]string{"id": id, "name": req.Name})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.do(w, r, func(ctx context.Context) error {
		return s.relay.Set(ctx, relay.KeyRename, value)
	}) {
		w.WriteHeader(http.StatusAccepted)
	}
}

// deleteResponse reports the confirmation state of a delete request.
type deleteResponse struct {
	State    string `json:"state"`
	WindowMS int64  `json:"window_ms,omitempty"`
}

// handleDelete arms the row on the first call. A second call within the
// window writes the deleteCourse key.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var confirmed bool
	ok := s.do(w, r, func(ctx context.Context) error {
		confirmed = s.confirm.Activate(id)
		if !confirmed {
			return nil
		}
		value, err := json.Marshal(id)
		if err != nil {
			return err
		}
		return s.relay.Set(ctx, relay.KeyDelete, value)
	})
	if !ok {
		return
	}

	if !confirmed {
		writeJSON(w, http.StatusAccepted, deleteResponse{
			State:    "armed",
			WindowMS: s.confirm.Window().Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{State: "deleted"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var code string
	ok := s.do(w, r, func(ctx context.Context) error {
		var err error
		code, err = s.relay.ExportCode(ctx)
		return err
	})
	if !ok {
		return
	}
	if code == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active course on the primary"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// handleImport writes the courseImportCode key. The body is either
// {"code": "..."} or the bare code.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	code := strings.TrimSpace(string(body))
	var req struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(body, &req) == nil && req.Code != "" {
		code = strings.TrimSpace(req.Code)
	}
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code is required"})
		return
	}

	value, err := json.Marshal(code)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.do(w, r, func(ctx context.Context) error {
		return s.relay.Set(ctx, relay.KeyImportCode, value)
	}) {
		w.WriteHeader(http.StatusAccepted)
	}
}
