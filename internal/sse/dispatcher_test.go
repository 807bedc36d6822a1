package sse

import (
	"testing"
	"time"
)

func TestDispatcherFIFOOrdering(t *testing.T) {
	d := NewDispatcher(0)
	d.Send(Frame{Type: "token", Data: "a"})
	d.Send(Frame{Type: "token", Data: "b"})
	d.Close()

	f1, ok := d.Recv()
	if !ok || f1.Data != "a" {
		t.Fatalf("first = %+v, ok=%v", f1, ok)
	}
	f2, ok := d.Recv()
	if !ok || f2.Data != "b" {
		t.Fatalf("second = %+v, ok=%v", f2, ok)
	}
	if _, ok := d.Recv(); ok {
		t.Error("expected ok=false after drain")
	}
}

func TestDispatcherDropsLogsUnderPressure(t *testing.T) {
	d := NewDispatcher(2)
	d.Send(Frame{Type: "token", Data: "1"})
	d.Send(Frame{Type: "token", Data: "2"})
	// queue now at capacity; log frames are droppable and must be shed.
	d.Send(Frame{Type: "log", Data: "noisy"})
	d.Close()

	var got []Frame
	for {
		f, ok := d.Recv()
		if !ok {
			break
		}
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v, want exactly the 2 tokens (log dropped)", got)
	}
	for _, f := range got {
		if f.Type == "log" {
			t.Error("log frame should have been dropped under pressure")
		}
	}
}

func TestDispatcherCoalescesProgressUnderPressure(t *testing.T) {
	d := NewDispatcher(2)
	d.Send(Frame{Type: "token", Data: "1"})
	d.Send(Frame{Type: "progress", Data: 10})
	// queue at capacity; a newer progress frame replaces the stale one
	// rather than growing the queue.
	d.Send(Frame{Type: "progress", Data: 50})
	d.Close()

	var got []Frame
	for {
		f, ok := d.Recv()
		if !ok {
			break
		}
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v, want 2 frames (progress coalesced, not appended)", got)
	}
	if got[1].Type != "progress" || got[1].Data != 50 {
		t.Errorf("expected coalesced progress with latest value 50, got %+v", got[1])
	}
}

func TestDispatcherNeverDropsMustKeepTypes(t *testing.T) {
	d := NewDispatcher(1)
	d.Send(Frame{Type: "token", Data: "1"})
	d.Send(Frame{Type: "error", Data: "boom"})
	d.Send(Frame{Type: "done", Data: nil})
	d.Close()

	var types []string
	for {
		f, ok := d.Recv()
		if !ok {
			break
		}
		types = append(types, f.Type)
	}
	if len(types) != 3 {
		t.Fatalf("types = %v, want all 3 must-keep frames preserved", types)
	}
}

func TestDispatcherChanClosesAfterClose(t *testing.T) {
	d := NewDispatcher(0)
	ch := d.Chan()
	d.Send(Frame{Type: "token", Data: "x"})
	d.Close()

	select {
	case f, ok := <-ch:
		if !ok || f.Data != "x" {
			t.Fatalf("first recv = %+v ok=%v", f, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after queue drains")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
