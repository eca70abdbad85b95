package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Request is the envelope the extension sends.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	ViewID  string          `json:"view_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers one Request, matched by id.
type Response struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "response"
	OK    bool   `json:"ok"`
	Error *Error `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Error is the wire form of a request failure.
type Error struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Event is an unsolicited push to the extension.
type Event struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "event"
	Kind   string `json:"kind"`
	ViewID string `json:"view_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// HandlerFunc serves one request type. The returned value becomes
// Response.Data; an error becomes Response.Error.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// RequestError lets handlers control the error category on the wire.
type RequestError struct {
	Category string
	Message  string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Server owns the stdio stream: it reads requests in a loop, dispatches to
// registered handlers, and serializes all writes (responses and event pushes
// race otherwise).
type Server struct {
	log *slog.Logger
	in  io.Reader
	out io.Writer

	handlers map[string]HandlerFunc

	writeMu sync.Mutex
}

func NewServer(log *slog.Logger, in io.Reader, out io.Writer) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log,
		in:       in,
		out:      out,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler for a request type. Must be called before
// Serve.
func (s *Server) Handle(reqType string, fn HandlerFunc) {
	reqType = strings.TrimSpace(reqType)
	if reqType == "" || fn == nil {
		return
	}
	s.handlers[reqType] = fn
}

// Serve reads and dispatches until the stream ends or ctx is canceled.
// A clean port close (EOF) returns nil.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := ReadMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.log.Warn("bridge: invalid request json", "error", err)
			continue
		}
		s.dispatch(ctx, req)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) {
	fn, ok := s.handlers[strings.TrimSpace(req.Type)]
	if !ok {
		s.respondError(req, &RequestError{Category: "unknown_request", Message: fmt.Sprintf("unknown request type %q", req.Type)})
		return
	}

	data, err := fn(ctx, req)
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Category: "unknown", Message: err.Error()}
		}
		s.respondError(req, reqErr)
		return
	}
	// Fire-and-forget requests skip the response entirely.
	if req.ID == "" {
		return
	}
	s.write(Response{ID: req.ID, Type: "response", OK: true, Data: data})
}

func (s *Server) respondError(req Request, reqErr *RequestError) {
	s.log.Warn("bridge: request failed",
		"request_type", req.Type,
		"category", reqErr.Category,
		"message", reqErr.Message,
	)
	if req.ID == "" {
		return
	}
	s.write(Response{
		ID:    req.ID,
		Type:  "response",
		OK:    false,
		Error: &Error{Category: reqErr.Category, Message: reqErr.Message},
	})
}

// PushEvent sends an unsolicited record to the extension. Safe from any
// goroutine; failures are logged and dropped.
func (s *Server) PushEvent(kind string, viewID string, data any) {
	s.write(Event{
		ID:     uuid.NewString(),
		Type:   "event",
		Kind:   kind,
		ViewID: viewID,
		Data:   data,
	})
}

func (s *Server) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("bridge: marshal failed", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := WriteMessage(s.out, b); err != nil {
		s.log.Warn("bridge: write failed", "error", err)
	}
}
