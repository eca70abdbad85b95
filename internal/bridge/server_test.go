package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, b); err != nil {
		t.Fatalf("frame: %v", err)
	}
	return buf.Bytes()
}

func readAllMessages(t *testing.T, r io.Reader) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		b, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		out = append(out, b)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	msg := []byte(`{"type":"generate"}`)
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip = %q, want %q", got, msg)
	}
	if _, err := ReadMessage(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read past end = %v, want EOF", err)
	}
}

func TestCodecRejectsOversizeWrite(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteMessage(&buf, bytes.Repeat([]byte("x"), maxOutboundBytes+1)); !errors.Is(err, errMessageTooLarge) {
		t.Fatalf("oversize write = %v, want errMessageTooLarge", err)
	}
}

func TestCodecTruncatedBody(t *testing.T) {
	t.Parallel()

	// Header claims 10 bytes, body has 3.
	var buf bytes.Buffer
	buf.Write([]byte{10, 0, 0, 0})
	buf.WriteString("abc")
	if _, err := ReadMessage(&buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated read = %v, want ErrUnexpectedEOF", err)
	}
}

func TestServerDispatchAndResponse(t *testing.T) {
	t.Parallel()

	var in bytes.Buffer
	in.Write(frame(t, Request{ID: "r1", Type: "echo", ViewID: "view-1", Payload: json.RawMessage(`{"text":"hi"}`)}))
	in.Write(frame(t, Request{ID: "r2", Type: "nope"}))

	var out bytes.Buffer
	s := NewServer(testLogger(), &in, &out)
	s.Handle("echo", func(ctx context.Context, req Request) (any, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return map[string]string{"echo": p.Text, "view_id": req.ViewID}, nil
	})

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	msgs := readAllMessages(t, &out)
	if len(msgs) != 2 {
		t.Fatalf("responses = %d, want 2", len(msgs))
	}

	var resp Response
	if err := json.Unmarshal(msgs[0], &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != "r1" || !resp.OK || resp.Type != "response" {
		t.Fatalf("response = %+v", resp)
	}

	var failed Response
	if err := json.Unmarshal(msgs[1], &failed); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if failed.ID != "r2" || failed.OK || failed.Error == nil || failed.Error.Category != "unknown_request" {
		t.Fatalf("error response = %+v", failed)
	}
}

func TestServerHandlerErrorCategory(t *testing.T) {
	t.Parallel()

	var in bytes.Buffer
	in.Write(frame(t, Request{ID: "r1", Type: "gen"}))

	var out bytes.Buffer
	s := NewServer(testLogger(), &in, &out)
	s.Handle("gen", func(ctx context.Context, req Request) (any, error) {
		return nil, &RequestError{Category: "rate_limited", Message: "rate limited"}
	})

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	msgs := readAllMessages(t, &out)
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	var resp Response
	if err := json.Unmarshal(msgs[0], &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.OK || resp.Error == nil || resp.Error.Category != "rate_limited" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestServerFireAndForgetSkipsResponse(t *testing.T) {
	t.Parallel()

	var in bytes.Buffer
	// No id: the extension does not expect an answer.
	in.Write(frame(t, Request{Type: "inbound_message"}))

	var out bytes.Buffer
	s := NewServer(testLogger(), &in, &out)
	called := false
	s.Handle("inbound_message", func(ctx context.Context, req Request) (any, error) {
		called = true
		return nil, nil
	})

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !called {
		t.Fatalf("handler not called")
	}
	if out.Len() != 0 {
		t.Fatalf("fire-and-forget produced output: %q", out.Bytes())
	}
}

func TestServerSkipsMalformedJSON(t *testing.T) {
	t.Parallel()

	var in bytes.Buffer
	if err := WriteMessage(&in, []byte("{oops")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	in.Write(frame(t, Request{ID: "r1", Type: "ok"}))

	var out bytes.Buffer
	s := NewServer(testLogger(), &in, &out)
	s.Handle("ok", func(ctx context.Context, req Request) (any, error) { return "fine", nil })

	if err := s.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	msgs := readAllMessages(t, &out)
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1 (malformed frame skipped)", len(msgs))
	}
}

func TestPushEvent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewServer(testLogger(), strings.NewReader(""), &out)
	s.PushEvent("generation_result", "view-1", map[string]any{"status": "success"})

	msgs := readAllMessages(t, &out)
	if len(msgs) != 1 {
		t.Fatalf("events = %d, want 1", len(msgs))
	}
	var ev Event
	if err := json.Unmarshal(msgs[0], &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "event" || ev.Kind != "generation_result" || ev.ViewID != "view-1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.ID == "" {
		t.Fatalf("event id missing")
	}
}
