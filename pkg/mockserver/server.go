// Package mockserver is a scripted stand-in for the inference service. It
// speaks the same wire format as the real endpoint: JSON requests, an
// X-Request-ID on every response, event-stream replies terminated by
// "data: [DONE]", and {"detail": ...} error bodies.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

const (
	ChatPath        = "/api/v1/chat"
	HealthPath      = "/health"
	RequestIDHeader = "X-Request-ID"
	APIKeyHeader    = "X-API-Key"
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ChatRequest is the body the server received, as recorded for tests.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream"`

	RequestID string `json:"-"`
}

// Reply scripts one response. A zero Status means 200.
type Reply struct {
	Status int
	// Detail is returned as {"detail": Detail} on error statuses.
	Detail string
	// RawBody is written verbatim on error statuses and wins over Detail.
	RawBody string
	// RequestID forces the X-Request-ID header instead of the generated one.
	RequestID string

	Chunks  []string
	Sources []chat.Citation
	// OmitDone ends the body without the sentinel record.
	OmitDone bool
	// FailAfter aborts the connection once that many chunks were flushed.
	// Zero disables the abort.
	FailAfter int
	// EmptyBody answers 200 with Content-Length: 0.
	EmptyBody  bool
	ChunkDelay time.Duration
}

// Server records requests and answers them from a script, falling back to an
// echo reply when the script is exhausted.
type Server struct {
	mu        sync.Mutex
	script    []Reply
	requests  []ChatRequest
	served    int
	apiKey    string
	failEvery int
	delay     time.Duration
	logger    zerolog.Logger
	newID     func() string
}

type Option func(*Server)

// WithAPIKey requires every chat request to carry the key in X-API-Key.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithFailEvery makes every n-th unscripted request fail with a 500.
func WithFailEvery(n int) Option {
	return func(s *Server) { s.failEvery = n }
}

// WithChunkDelay slows unscripted echo replies down so streaming is visible.
func WithChunkDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithIDGenerator(f func() string) Option {
	return func(s *Server) { s.newID = f }
}

func New(options ...Option) *Server {
	s := &Server{
		logger: log.With().Str("component", "mockserver").Logger(),
		newID:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Enqueue appends scripted replies, consumed one per chat request.
func (s *Server) Enqueue(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, replies...)
}

// Requests returns a copy of every chat request received so far.
func (s *Server) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc(ChatPath, s.handleChat)
	return s.withRequestID(mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if !requestIDPattern.MatchString(id) {
			id = s.newID()
		}
		w.Header().Set(RequestIDHeader, id)
		r.Header.Set(RequestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("request_id", w.Header().Get(RequestIDHeader)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("api request")
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	if s.apiKey != "" && r.Header.Get(APIKeyHeader) != s.apiKey {
		writeDetail(w, http.StatusUnauthorized, "Invalid or missing API key")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.RequestID = r.Header.Get(RequestIDHeader)

	reply := s.next(req)
	if reply.RequestID != "" {
		w.Header().Set(RequestIDHeader, reply.RequestID)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status >= 300 {
		if reply.RawBody != "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(reply.RawBody))
			return
		}
		writeDetail(w, status, reply.Detail)
		return
	}

	if reply.EmptyBody {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(status)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response":   strings.Join(reply.Chunks, ""),
			"sources":    nonNilSources(reply.Sources),
			"session_id": sessionID,
		})
		return
	}

	s.stream(w, r, reply)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, reply Reply) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for i, chunk := range reply.Chunks {
		if reply.FailAfter > 0 && i == reply.FailAfter {
			abort()
		}
		if reply.ChunkDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(reply.ChunkDelay):
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if reply.FailAfter > 0 && reply.FailAfter >= len(reply.Chunks) {
		abort()
	}
	if !reply.OmitDone {
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// abort drops the connection mid-body; the client sees an unexpected EOF.
func abort() {
	panic(http.ErrAbortHandler)
}

func (s *Server) next(req ChatRequest) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.served++
	if len(s.script) > 0 {
		r := s.script[0]
		s.script = s.script[1:]
		return r
	}
	if s.failEvery > 0 && s.served%s.failEvery == 0 {
		return Reply{Status: http.StatusInternalServerError, Detail: "Chat processing failed: simulated outage"}
	}
	return EchoReply(req.Message, s.delay)
}

// EchoReply streams the message back word by word.
func EchoReply(message string, delay time.Duration) Reply {
	words := strings.Fields(message)
	chunks := make([]string, 0, len(words)+1)
	chunks = append(chunks, "You said:")
	for _, w := range words {
		chunks = append(chunks, " "+w)
	}
	return Reply{Chunks: chunks, ChunkDelay: delay}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	if detail == "" {
		detail = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func nonNilSources(s []chat.Citation) []chat.Citation {
	if s == nil {
		return []chat.Citation{}
	}
	return s
}
