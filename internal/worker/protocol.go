// Package worker implements the inference-worker supervisor and the
// process-isolated pipeline it drives (spec §4.4), grounded on
// llm_service.py (supervisor) and llm_process.py (worker loop).
package worker

import (
	"bufio"
	"encoding/json"
	"io"
)

// Command is one message sent supervisor -> worker over the command pipe.
// The wire format is one JSON object per line, the Go equivalent of the
// original's two multiprocessing.Queue objects (spec §9: "pipes framed
// with length-prefixed JSON" -- this repo uses newline-delimited JSON,
// simpler to frame over a pipe and sufficient since frames never contain
// embedded newlines).
type Command struct {
	Type string `json:"type"` // "load" | "generate" | "stop" | "shutdown"

	// load
	Source                 string `json:"source,omitempty"`
	ModelID                string `json:"model_id,omitempty"`
	Path                   string `json:"path,omitempty"`
	Device                 string `json:"device,omitempty"`
	MaxPromptLen           int    `json:"max_prompt_len,omitempty"`
	ImageMaxSequenceLength int    `json:"image_max_sequence_length,omitempty"`
	CacheBust              bool   `json:"cache_bust,omitempty"`

	// generate
	Messages []ChatMessage  `json:"messages,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// ChatMessage is one role/content turn plus any attachments, as handed to
// the worker for rendering through the chat template.
type ChatMessage struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Attachments []EventAttachment `json:"attachments,omitempty"`
}

// Event is one message sent worker -> supervisor (spec §4.4 "Events
// emitted by the worker").
type Event struct {
	Type string `json:"type"` // "load_stage"|"loaded"|"error"|"token"|"image"|"finished"

	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`

	ModelID string `json:"model_id,omitempty"`
	Device  string `json:"device,omitempty"`
	Kind    string `json:"kind,omitempty"`

	Msg string `json:"msg,omitempty"`

	Token string `json:"token,omitempty"`

	Attachments []EventAttachment `json:"attachments,omitempty"`

	Stats *Stats `json:"stats,omitempty"`
}

// EventAttachment is an image (or, in principle, other media) the worker
// streams back inline with a generation event.
type EventAttachment struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Mime    string `json:"mime,omitempty"`
	Content string `json:"content"`
}

// Stats accompanies a "finished" event (spec §4.4 step 7).
type Stats struct {
	Tokens int     `json:"tokens"`
	Time   float64 `json:"time"`
	Speed  float64 `json:"speed"`
	Images int     `json:"images,omitempty"`
}

// Load stage names (spec §3 Runtime state, §4.4 load algorithm).
const (
	StageStart     = "start"
	StageTokenizer = "tokenizer"
	StagePipeline  = "pipeline"
	StageFallback  = "fallback"
	StageReady     = "ready"
	StageError     = "error"
)

// frameWriter serializes one JSON value per line, flushing immediately so
// the reader on the other end of the pipe observes it promptly.
type frameWriter struct {
	w io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter { return &frameWriter{w: w} }

func (f *frameWriter) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.w.Write(data)
	return err
}

// frameReader reads newline-delimited JSON frames.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &frameReader{scanner: scanner}
}

// Read decodes the next frame into v. It returns io.EOF when the stream is
// exhausted.
func (f *frameReader) Read(v any) error {
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	return json.Unmarshal(f.scanner.Bytes(), v)
}
