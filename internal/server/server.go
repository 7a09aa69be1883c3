// Package server exposes the session over a small polling HTTP API.
// The dashboard polls GET endpoints with integer cursors and drives
// the run through POST endpoints; there is no push channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/braindock/braindock/internal/checkpoint"
	"github.com/braindock/braindock/internal/session"
)

// Server wraps a session in an http.Handler.
type Server struct {
	sess *session.Session
	mux  *http.ServeMux
}

// New builds the API handler around a session.
func New(sess *session.Session) *Server {
	s := &Server{sess: sess, mux: http.NewServeMux()}
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/activities", s.handleActivities)
	s.mux.HandleFunc("/api/logs", s.handleLogs)
	s.mux.HandleFunc("/api/start", s.handleStart)
	s.mux.HandleFunc("/api/resume", s.handleResume)
	s.mux.HandleFunc("/api/answers", s.handleAnswers)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	return s
}

// ServeHTTP applies the common headers (open CORS, no caching) before
// dispatching. Local dashboards are served from file:// or another
// port, so cross-origin access stays open.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Cache-Control", "no-store")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleState returns the latest snapshot with the session's live
// fields folded in under underscore-prefixed keys.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	st := s.sess.Status()

	out := map[string]interface{}{}
	if st.State != nil {
		raw, err := json.Marshal(st.State)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode state")
			return
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode state")
			return
		}
	}
	out["_running"] = st.Running
	out["_error"] = st.Error
	out["_pendingQuestions"] = st.PendingQuestions
	out["_pendingDecisions"] = st.PendingDecisions
	out["_pendingUnderstanding"] = st.PendingUnderstanding

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	runs, err := s.sess.Runs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []checkpoint.RunInfo{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	entries, cursor := s.sess.Activities(sinceParam(r))
	writeJSON(w, http.StatusOK, logPage{Entries: entries, Cursor: cursor})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	entries, cursor := s.sess.LlmCalls(sinceParam(r))
	writeJSON(w, http.StatusOK, logPage{Entries: entries, Cursor: cursor})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Title   string `json:"title"`
		Problem string `json:"problem"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" || req.Problem == "" {
		writeError(w, http.StatusBadRequest, "title and problem are required")
		return
	}

	if err := s.sess.Start(context.Background(), req.Title, req.Problem); err != nil {
		if errors.Is(err, session.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "title": req.Title})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Title string `json:"title"`
		Slug  string `json:"slug"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	slug := req.Slug
	if slug == "" {
		slug = checkpoint.Slugify(req.Title)
	}
	if req.Title == "" && req.Slug == "" {
		writeError(w, http.StatusBadRequest, "title or slug is required")
		return
	}

	if err := s.sess.Resume(context.Background(), slug); err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusNotFound, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "title": req.Title})
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Answers map[string]string `json:"answers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if !s.sess.SubmitAnswers(req.Answers) {
		writeError(w, http.StatusBadRequest, "no questions are pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// handleChat serves both directions: GET polls the chat log, POST
// appends an operator message.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, cursor := s.sess.ChatLog(sinceParam(r))
		writeJSON(w, http.StatusOK, logPage{Entries: entries, Cursor: cursor})
	case http.MethodPost:
		var req struct {
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Message == "" {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		s.sess.SendMessage(req.Message)
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type logPage struct {
	Entries interface{} `json:"entries"`
	Cursor  int         `json:"cursor"`
}

func sinceParam(r *http.Request) int {
	since, err := strconv.Atoi(r.URL.Query().Get("since"))
	if err != nil {
		return 0
	}
	return since
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
