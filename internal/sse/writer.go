package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteStream sets the SSE response headers and writes each frame from d
// as it arrives (spec §4.6: "data: <json>\n\n" with Cache-Control:
// no-cache, Connection: keep-alive). It returns once d's channel closes or
// the request context is cancelled; on cancellation, onDisconnect is
// invoked so the caller can signal the producer (spec §4.6 disconnect
// handling: chat -> stop_flag, download -> ignore).
func WriteStream(ctx context.Context, w http.ResponseWriter, d *Dispatcher, onDisconnect func()) error {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	frames := d.Chan()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := writeFrame(w, frame); err != nil {
				if onDisconnect != nil {
					onDisconnect()
				}
				drain(frames)
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}

		case <-ctx.Done():
			if onDisconnect != nil {
				onDisconnect()
			}
			drain(frames)
			return ctx.Err()
		}
	}
}

func writeFrame(w http.ResponseWriter, frame Frame) error {
	payload := map[string]any{"type": frame.Type}
	if frame.Data != nil {
		data, err := json.Marshal(frame.Data)
		if err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err == nil {
			for k, v := range fields {
				payload[k] = v
			}
		} else {
			payload["data"] = frame.Data
		}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", encoded)
	return err
}

// drain discards remaining frames so the producer goroutine feeding the
// channel is never left blocked on a send after the reader has given up
// (spec §4.6: "the handler drains and discards remaining events to
// unblock the producer").
func drain(frames <-chan Frame) {
	go func() {
		for range frames {
		}
	}()
}
