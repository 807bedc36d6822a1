package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWriteStreamFormatsDataFrames(t *testing.T) {
	d := NewDispatcher(0)
	d.Send(Frame{Type: "token", Data: map[string]any{"token": "hi"}})
	d.Close()

	rec := httptest.NewRecorder()
	if err := WriteStream(context.Background(), rec, d, nil); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("unexpected SSE framing: %q", body)
	}
	if !strings.Contains(body, `"type":"token"`) {
		t.Errorf("body missing type field: %q", body)
	}
	if !strings.Contains(body, `"token":"hi"`) {
		t.Errorf("body missing merged token field: %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestWriteStreamInvokesOnDisconnectOnCancel(t *testing.T) {
	d := NewDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())

	var disconnected bool
	done := make(chan struct{})
	go func() {
		_ = WriteStream(ctx, httptest.NewRecorder(), d, func() { disconnected = true })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WriteStream did not return after context cancellation")
	}
	if !disconnected {
		t.Error("expected onDisconnect to be invoked")
	}
	d.Close()
}
