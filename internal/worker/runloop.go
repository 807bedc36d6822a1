package worker

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/FangAiden/Idle-NPU-Waker/internal/modelscan"
)

// appOnlyKeys are generation config keys the API layer consumes but that
// must never reach the native pipeline (spec §4.4 step 2).
var appOnlyKeys = map[string]bool{
	"system_prompt": true, "max_history_turns": true, "skip_special_tokens": true,
	"add_generation_prompt": true, "enable_thinking": true,
}

// RunLoop is the worker-process main loop: it reads Command frames from
// in, dispatches load/generate against pipeline, and writes Event frames to
// out. It returns when in is exhausted (supervisor closed the pipe) or a
// shutdown command is received. This function is the shared core behind
// both cmd/workerproc's real entry point and in-process tests that wire it
// to io.Pipe instead of an OS pipe -- the isolation boundary is which of
// those two the caller chooses, not this function's logic.
func RunLoop(ctx context.Context, in io.Reader, out io.Writer) {
	reader := newFrameReader(in)
	writer := newFrameWriter(out)
	stopFlag := &atomic.Bool{}

	var pipeline Pipeline

	emit := func(e Event) { _ = writer.Write(e) }

	for {
		var cmd Command
		if err := reader.Read(&cmd); err != nil {
			return
		}

		switch cmd.Type {
		case "stop":
			stopFlag.Store(true)

		case "shutdown":
			if pipeline != nil {
				_ = pipeline.Close()
			}
			return

		case "load":
			stopFlag.Store(false)
			pipeline = handleLoad(ctx, cmd, pipeline, emit)

		case "generate":
			if pipeline == nil {
				emit(Event{Type: "error", Msg: "no model loaded"})
				emit(Event{Type: "finished", Stats: &Stats{}})
				continue
			}
			stopFlag.Store(false)
			handleGenerate(ctx, cmd, pipeline, stopFlag, emit)
		}
	}
}

func handleLoad(ctx context.Context, cmd Command, previous Pipeline, emit func(Event)) Pipeline {
	emit(Event{Type: "load_stage", Stage: StageStart})

	if cmd.Source != "" && cmd.Source != "local" {
		emit(Event{Type: "error", Msg: "only local model sources are supported"})
		return previous
	}

	kind := modelscan.DetectKind(cmd.Path)

	if kind != modelscan.KindImage {
		emit(Event{Type: "load_stage", Stage: StageTokenizer})
	}

	device := resolveDevice(cmd.Device)

	emit(Event{Type: "load_stage", Stage: StagePipeline})

	opts := BuildOptions{
		Kind:                   kind,
		Path:                   cmd.Path,
		Device:                 device,
		MaxPromptLen:           cmd.MaxPromptLen,
		ImageMaxSequenceLength: cmd.ImageMaxSequenceLength,
		CacheBust:              cmd.CacheBust,
	}

	if previous != nil {
		_ = previous.Close()
	}

	pipeline := NewStubPipeline()
	if err := pipeline.Build(ctx, opts); err != nil {
		if device != "CPU" {
			emit(Event{Type: "load_stage", Stage: StageFallback, Message: err.Error()})
			opts.Device = "CPU"
			if err2 := pipeline.Build(ctx, opts); err2 == nil {
				emit(Event{Type: "loaded", ModelID: cmd.ModelID, Device: opts.Device, Kind: string(kind)})
				return pipeline
			}
		}
		emit(Event{Type: "error", Msg: err.Error()})
		return nil
	}

	emit(Event{Type: "loaded", ModelID: cmd.ModelID, Device: opts.Device, Kind: string(kind)})
	return pipeline
}

// resolveDevice returns requested verbatim, defaulting unspecified to AUTO
// (spec §4.4 step 5). Validating a requested device against what the
// native runtime actually exposes is the native pipeline's job, not this
// supervisor's (spec §1 contract boundary).
func resolveDevice(requested string) string {
	if requested == "" {
		return "AUTO"
	}
	return requested
}

func handleGenerate(ctx context.Context, cmd Command, pipeline Pipeline, stopFlag *atomic.Bool, emit func(Event)) {
	start := time.Now()

	onToken := func(tok string) { emit(Event{Type: "token", Token: tok}) }
	onImage := func(atts []EventAttachment) { emit(Event{Type: "image", Attachments: atts}) }

	stats, err := pipeline.Generate(ctx, cmd.Messages, stripAppKeys(cmd.Config), stopFlag, onToken, onImage)
	if err != nil {
		emit(Event{Type: "error", Msg: err.Error()})
	}

	elapsed := time.Since(start).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(stats.Tokens) / elapsed
	}
	emit(Event{Type: "finished", Stats: &Stats{
		Tokens: stats.Tokens,
		Time:   elapsed,
		Speed:  speed,
		Images: stats.Images,
	}})
}

// stripAppKeys removes UI-only keys the native pipeline must never see
// (spec §4.4 step 2).
func stripAppKeys(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		if appOnlyKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}
