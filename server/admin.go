package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"goa.design/clue/log"

	"github.com/geminigate/geminigate/keypool"
)

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.pool.Detailed()})
}

func (s *Server) handleAdminAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key_to_add"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Key) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "body must carry key_to_add")
		return
	}
	key := strings.TrimSpace(body.Key)
	if err := s.pool.Add(key); err != nil {
		writeError(w, http.StatusConflict, "invalid_request_error", "key already exists")
		return
	}
	log.Info(r.Context(), log.KV{K: "msg", V: "key added"}, log.KV{K: "key", V: keypool.Redact(key)})
	writeJSON(w, http.StatusCreated, map[string]any{"message": "key added", "key": keypool.Redact(key)})
}

func (s *Server) handleAdminRemove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key_to_remove"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Key) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "body must carry key_to_remove")
		return
	}
	key := strings.TrimSpace(body.Key)
	if err := s.pool.Remove(key); err != nil {
		writeError(w, http.StatusNotFound, "invalid_request_error", "key not found")
		return
	}
	log.Info(r.Context(), log.KV{K: "msg", V: "key removed"}, log.KV{K: "key", V: keypool.Redact(key)})
	writeJSON(w, http.StatusOK, map[string]any{"message": "key removed", "key": keypool.Redact(key)})
}

func (s *Server) handleAdminSetStatus(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")

	status := r.URL.Query().Get("status")
	if status == "" {
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			status = body.Status
		}
	}
	if status == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "target status is required")
		return
	}

	redacted, err := s.pool.SetStatus(prefix, keypool.Status(strings.ToUpper(status)))
	switch {
	case errors.Is(err, keypool.ErrNotFound):
		writeError(w, http.StatusNotFound, "invalid_request_error", "no key matches the prefix")
		return
	case errors.Is(err, keypool.ErrAmbiguous):
		writeError(w, http.StatusConflict, "invalid_request_error", "prefix matches multiple keys")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	log.Info(r.Context(), log.KV{K: "msg", V: "key status changed"},
		log.KV{K: "key", V: redacted}, log.KV{K: "status", V: status})
	writeJSON(w, http.StatusOK, map[string]any{"message": "status updated", "key": redacted})
}
