package download

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// RunChild is the download child's main loop (spec §4.5 steps 2-8),
// grounded on download_script.py's run_download_task. It reads exactly
// one "start" Command, performs the download through hub, and streams
// WireEvents to out; it returns once "done" has been emitted or a "stop"
// command is observed on in.
func RunChild(ctx context.Context, in io.Reader, out io.Writer, hub HubClient) {
	reader := newFrameReader(in)
	writer := newFrameWriter(out)
	emit := func(e WireEvent) { _ = writer.Write(e) }

	var cmd Command
	if err := reader.Read(&cmd); err != nil || cmd.Type != "start" {
		emit(WireEvent{Type: "error", Message: "expected a start command"})
		emit(WireEvent{Type: "done"})
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchForStop(reader, cancel)

	runDownload(ctx, cmd, hub, emit)
	emit(WireEvent{Type: "done"})
}

func watchForStop(reader *frameReader, cancel context.CancelFunc) {
	for {
		var cmd Command
		if err := reader.Read(&cmd); err != nil {
			return
		}
		if cmd.Type == "stop" {
			cancel()
			return
		}
	}
}

func runDownload(ctx context.Context, cmd Command, hub HubClient, emit func(WireEvent)) {
	emit(WireEvent{Type: "log", Message: "starting download..."})
	emit(WireEvent{Type: "log", Message: "target model: " + cmd.RepoID})

	files, err := hub.ListFiles(ctx, cmd.RepoID)
	var totalBytes int64
	if err != nil {
		emit(WireEvent{Type: "log", Message: "manifest query failed, falling back to per-file progress only"})
	} else {
		for _, f := range files {
			totalBytes += f.Size
		}
	}

	agg := NewProgressAggregator(func(e ProgressEvent) {
		emit(WireEvent{Type: e.Type, File: e.File, Percent: e.Percent, Message: e.Message, Path: e.Path})
	}, totalBytes, len(files))

	tempDir, err := os.MkdirTemp(cmd.CacheDir, "download-*")
	if err != nil {
		emit(WireEvent{Type: "error", Message: err.Error()})
		return
	}
	defer os.RemoveAll(tempDir)

	for _, f := range files {
		agg.RegisterFile(f.Path, f.Size)
		if ctx.Err() != nil {
			emit(WireEvent{Type: "cancelled"})
			return
		}
		if err := hub.DownloadFile(ctx, cmd.RepoID, f, tempDir, func(delta int64) {
			agg.Update(f.Path, delta)
		}); err != nil {
			if ctx.Err() != nil {
				emit(WireEvent{Type: "cancelled"})
			} else {
				emit(WireEvent{Type: "error", Message: err.Error()})
			}
			return
		}
		agg.End(f.Path)
	}

	finalPath := filepath.Join(cmd.TargetDir, filepath.Base(cmd.RepoID))
	if err := os.MkdirAll(cmd.TargetDir, 0o755); err != nil {
		emit(WireEvent{Type: "error", Message: err.Error()})
		return
	}
	if _, err := os.Stat(finalPath); err == nil {
		emit(WireEvent{Type: "log", Message: "overwriting existing model: " + filepath.Base(finalPath)})
		if err := os.RemoveAll(finalPath); err != nil {
			emit(WireEvent{Type: "error", Message: err.Error()})
			return
		}
	}
	if err := os.Rename(tempDir, finalPath); err != nil {
		emit(WireEvent{Type: "error", Message: err.Error()})
		return
	}
	emit(WireEvent{Type: "log", Message: "download complete, finalizing files..."})
	emit(WireEvent{Type: "finished", Path: finalPath})
}
