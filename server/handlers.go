package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"goa.design/clue/log"

	"github.com/geminigate/geminigate/dispatch"
	"github.com/geminigate/geminigate/openaiapi"
)

// Version is the service version reported on the root endpoint.
const Version = "1.3.0"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, openaiapi.ErrorResponse{Error: openaiapi.ErrorDetail{Type: typ, Message: msg}})
}

// writeDispatchError maps dispatcher and validation failures to the public
// error envelope.
func writeDispatchError(w http.ResponseWriter, err error) {
	var ge *dispatch.GatewayError
	if errors.As(err, &ge) {
		writeError(w, ge.Status, ge.Type, ge.Message)
		return
	}
	var ve *openaiapi.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "invalid_request_error", ve.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "api_error", "internal server error")
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openaiapi.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errors.Record(ctx, err, "chat")
		writeDispatchError(w, err)
		return
	}

	if req.Stream {
		s.serveChatStream(w, r, &req)
		return
	}

	start := time.Now()
	if cached, ok := s.cache.Get(ctx, &req); ok {
		log.Debugf(ctx, "cache hit for model %s", req.Model)
		s.perf.Record("chat", time.Since(start), true)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	resp, err := s.dispatcher.Complete(ctx, &req)
	s.perf.Record("chat", time.Since(start), err == nil)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	s.cache.Set(ctx, &req, resp)
	writeJSON(w, http.StatusOK, resp)
}

// serveChatStream writes the completion as server-sent events. Every stream,
// successful or not, ends with exactly one [DONE] sentinel; errors before the
// first chunk fall back to a plain JSON error response.
func (s *Server) serveChatStream(w http.ResponseWriter, r *http.Request, req *openaiapi.ChatRequest) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "api_error", "streaming unsupported by server")
		return
	}

	start := time.Now()
	headersSent := false
	sendHeaders := func() {
		if headersSent {
			return
		}
		headersSent = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}
	send := func(chunk openaiapi.ChunkResponse) error {
		sendHeaders()
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := s.dispatcher.Stream(ctx, req, send)
	s.perf.Record("chat_stream", time.Since(start), err == nil)
	if err != nil {
		if !headersSent {
			writeDispatchError(w, err)
			return
		}
		// Mid-stream write failure or client disconnect; nothing more to say
		// on this connection, but the sentinel still closes the stream.
		log.Debugf(ctx, "stream aborted: %s", err)
	}
	// A chunkless upstream stream still ends with the sentinel.
	sendHeaders()
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	created := time.Now().Unix()
	list := openaiapi.ModelList{Object: "list"}
	for _, name := range s.translator.PublicModels() {
		list.Data = append(list.Data, openaiapi.Model{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "geminigate",
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.pool.Summary()
	status := http.StatusOK
	state := "healthy"
	if summary.Active == 0 {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"keys":   summary,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":        s.pool.Summary(),
		"performance": s.perf.Stats(),
		"errors":      s.errors.Stats(),
		"cache":       s.cache.Stats(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "geminigate",
		"version": Version,
		"endpoints": map[string]string{
			"chat":   "/v1/chat/completions",
			"models": "/v1/models",
			"health": "/health",
			"stats":  "/stats",
		},
	})
}
