package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/FangAiden/Idle-NPU-Waker/internal/modelscan"
)

// BuildOptions carries everything the load algorithm (spec §4.4 steps 3-10)
// needs to construct a pipeline variant.
type BuildOptions struct {
	Kind                   modelscan.Kind
	Path                   string
	Device                 string
	MaxPromptLen           int
	ImageMaxSequenceLength int
	CacheBust              bool
}

// Pipeline is the contract boundary with the native OpenVINO GenAI library
// (spec §1: "only their contracts with the core are specified"). Real
// construction of a tokenizer, LLMPipeline/VLMPipeline/diffusion
// pipeline/whisper pipeline happens behind this interface via cgo bindings
// this repo does not implement; StubPipeline below exercises the full
// command/event protocol deterministically in its place, the way a test
// double stands in for any native dependency a Go codebase can't build in
// CI.
type Pipeline interface {
	// Build constructs (or reconstructs) the pipeline for opts. A
	// non-nil error on a non-CPU device triggers the worker loop's CPU
	// fallback retry in handleLoad (spec §4.4 step 9).
	Build(ctx context.Context, opts BuildOptions) error

	// Generate streams a response for messages/config. onToken is called
	// for each decoded sub-token (text kinds); onImage is called once per
	// produced image (image kind). stopFlag is polled between units of
	// work exactly as the native streamer callback polls stop_flag (spec
	// §4.4 step 5, §9 "cooperative cancellation").
	Generate(ctx context.Context, messages []ChatMessage, config map[string]any, stopFlag *atomic.Bool, onToken func(string), onImage func([]EventAttachment)) (Stats, error)

	Close() error
}

// StubPipeline is a deterministic in-memory Pipeline used by tests and by
// any deployment without the native OpenVINO GenAI library installed. It
// never touches a GPU/NPU; Build always succeeds regardless of the
// requested device, unless Device equals FailDevice, which simulates a
// construction failure so supervisor fallback/error paths can be exercised
// without real hardware.
type StubPipeline struct {
	opts BuildOptions
}

// FailDevice is a sentinel device name that StubPipeline.Build always
// rejects, used to drive the supervisor's CPU-fallback path in tests.
const FailDevice = "FAIL"

func NewStubPipeline() *StubPipeline { return &StubPipeline{} }

func (p *StubPipeline) Build(ctx context.Context, opts BuildOptions) error {
	if opts.Device == FailDevice {
		return fmt.Errorf("stub pipeline: simulated construction failure on device %q", opts.Device)
	}
	p.opts = opts
	return nil
}

func (p *StubPipeline) Generate(ctx context.Context, messages []ChatMessage, config map[string]any, stopFlag *atomic.Bool, onToken func(string), onImage func([]EventAttachment)) (Stats, error) {
	switch p.opts.Kind {
	case modelscan.KindImage:
		if stopFlag.Load() {
			return Stats{Images: 0}, nil
		}
		onImage([]EventAttachment{{
			Name:    "generated.png",
			Kind:    "image",
			Mime:    "image/png",
			Content: "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII=",
		}})
		return Stats{Images: 1}, nil
	default:
		addGenerationPrompt, _ := config["add_generation_prompt"].(bool)
		rendered := RenderFallbackTemplate(messages, addGenerationPrompt)
		words := lastUserWords(messages)
		if addGenerationPrompt {
			words = append(words, fmt.Sprintf("[%d chars rendered]", len(rendered)))
		}
		count := 0
		for _, w := range words {
			if stopFlag.Load() {
				break
			}
			onToken(w + " ")
			count++
		}
		return Stats{Tokens: count}, nil
	}
}

func (p *StubPipeline) Close() error { return nil }

func lastUserWords(messages []ChatMessage) []string {
	prompt := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			prompt = messages[i].Content
			break
		}
	}
	if prompt == "" {
		prompt = "hello"
	}
	return []string{"Echo", "(stub", "model):", prompt}
}
