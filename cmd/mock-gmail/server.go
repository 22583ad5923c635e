package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"outreach/internal/config"
)

type server struct {
	cfg   config.MockGmailConfig
	idx   uint64
	ids   uint64
	rng   *rand.Rand
	rngMu sync.Mutex

	mu   sync.Mutex
	sent []string
}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Errors  []errorReason `json:"errors,omitempty"`
}

type errorReason struct {
	Reason string `json:"reason"`
}

func newServer(cfg config.MockGmailConfig) *server {
	if len(cfg.Outcomes) == 0 {
		cfg.Outcomes = []string{"ok"}
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	return &server{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *server) register(r *mux.Router) {
	r.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/gmail/v1/users/me/messages/send", s.handleSend).Methods(http.MethodPost)
}

// handleToken accepts any refresh token except ones starting with "revoked".
func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	rt := r.PostForm.Get("refresh_token")
	if r.PostForm.Get("grant_type") != "refresh_token" || rt == "" || strings.HasPrefix(rt, "revoked") {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "mock-" + rt,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeAPIError(w, http.StatusUnauthorized, "Invalid Credentials", "")
		return
	}
	var in struct {
		Raw string `json:"raw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Raw == "" {
		writeAPIError(w, http.StatusBadRequest, "'raw' RFC822 payload message string or uploading message via /upload/* URL required", "")
		return
	}
	raw, err := base64.URLEncoding.DecodeString(in.Raw)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "Invalid raw message", "")
		return
	}

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	switch s.nextOutcome() {
	case "rate_limit":
		writeAPIError(w, http.StatusForbidden, "User-rate limit exceeded", "userRateLimitExceeded")
	case "server_error":
		writeAPIError(w, http.StatusServiceUnavailable, "Backend Error", "backendError")
	case "bad_request":
		writeAPIError(w, http.StatusBadRequest, "Invalid To header", "invalidArgument")
	case "auth":
		writeAPIError(w, http.StatusUnauthorized, "Invalid Credentials", "authError")
	case "timeout":
		select {
		case <-r.Context().Done():
		case <-time.After(s.cfg.TimeoutDelay):
			writeAPIError(w, http.StatusGatewayTimeout, "Request timed out", "")
		}
	default:
		id := fmt.Sprintf("mock%012x", atomic.AddUint64(&s.ids, 1))
		s.mu.Lock()
		s.sent = append(s.sent, string(raw))
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "threadId": id, "labelIds": []string{"SENT"}})
	}
}

func (s *server) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx%uint64(len(s.cfg.Outcomes)))]
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

func writeAPIError(w http.ResponseWriter, status int, msg, reason string) {
	body := apiError{Error: apiErrorBody{Code: status, Message: msg}}
	if reason != "" {
		body.Error.Errors = []errorReason{{Reason: reason}}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
