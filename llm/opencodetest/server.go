// Package opencodetest runs a fake OpenCode API for tests.
package opencodetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const ValidKey = "sk-valid"

// Server mimics the /models and /chat/completions endpoints.
// Requests must carry "Bearer sk-valid".
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	key      string
	models   []string
	reply    string
	status   int
	rawBody  string
	requests []Request
}

// Request records one chat completion call.
type Request struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func NewServer(models ...string) *Server {
	s := &Server{key: ValidKey, models: models, reply: "ok"}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	s.Server = httptest.NewServer(mux)
	return s
}

// BaseURL is the value to use as the client base URL.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

func (s *Server) SetModels(models ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = models
}

// SetReply sets the assistant content returned by chat completions.
func (s *Server) SetReply(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = reply
}

// FailWith makes every authorised call answer with status. Zero restores.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetModelsBody makes /models answer 200 with body verbatim. Empty restores.
func (s *Server) SetModelsBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawBody = body
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) authorised(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	key, status := s.key, s.status
	s.mu.Unlock()

	if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != key {
		writeError(w, http.StatusUnauthorized, "invalid_api_key", "Incorrect API key provided")
		return false
	}
	if status != 0 {
		writeError(w, status, "server_error", http.StatusText(status))
		return false
	}
	return true
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if !s.authorised(w, r) {
		return
	}

	s.mu.Lock()
	if raw := s.rawBody; raw != "" {
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(raw))
		return
	}
	data := make([]map[string]any, 0, len(s.models))
	for _, id := range s.models {
		data = append(data, map[string]any{"id": id, "object": "model", "owned_by": "opencode"})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorised(w, r) {
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	reply := s.reply
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": reply},
		}},
	})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "type": code, "code": code},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
