// Package download implements the download supervisor (spec §4.5): a
// per-download progress aggregator, a pluggable hub client, and the
// process-isolated child that performs the actual fetch, grounded on
// download_script.py's ProgressAggregator/StreamAdapter.
package download

import "sync"

// ProgressEvent is one aggregator-emitted event, forwarded to the SSE
// dispatcher by the download supervisor.
type ProgressEvent struct {
	Type    string // "progress" | "log" | "finished" | "error" | "cancelled" | "done"
	File    string
	Percent int
	Message string
	Path    string
}

// ProgressAggregator turns per-file byte deltas into a single monotonic
// 0-100 percent stream (spec §4.5 step 5-6), ported formula-for-formula
// from download_script.py's ProgressAggregator so the clamp and dedup
// behavior matches exactly (spec scenario 5, property P3).
type ProgressAggregator struct {
	emit func(ProgressEvent)

	mu            sync.Mutex
	totalBytes    int64
	totalFiles    int
	downloaded    int64
	fileSizes     map[string]int64
	fileProgress  map[string]int64
	finishedFiles map[string]bool
	lastPercent   int
}

// NewProgressAggregator constructs an aggregator that reports through
// emit. totalBytes/totalFiles come from the preflight manifest query (spec
// §4.5 step 3) and may both be zero if that query failed.
func NewProgressAggregator(emit func(ProgressEvent), totalBytes int64, totalFiles int) *ProgressAggregator {
	if totalBytes < 0 {
		totalBytes = 0
	}
	if totalFiles < 0 {
		totalFiles = 0
	}
	return &ProgressAggregator{
		emit:          emit,
		totalBytes:    totalBytes,
		totalFiles:    totalFiles,
		fileSizes:     make(map[string]int64),
		fileProgress:  make(map[string]int64),
		finishedFiles: make(map[string]bool),
		lastPercent:   -1,
	}
}

// RegisterFile records a file's known size ahead of any byte updates. If
// the manifest query failed (totalFiles == 0), registered sizes accumulate
// into totalBytes so a percent can still be computed; when the manifest
// listed files, totalBytes is left as given so a zero byte total keeps the
// file-count formula.
func (p *ProgressAggregator) RegisterFile(filename string, size int64) {
	if filename == "" {
		return
	}
	if size < 0 {
		size = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fileSizes[filename]; !ok {
		p.fileSizes[filename] = size
		if p.totalFiles == 0 && size > 0 {
			p.totalBytes += size
		}
	}
}

// Update reports size additional bytes downloaded for filename.
func (p *ProgressAggregator) Update(filename string, size int64) {
	if filename == "" || size <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.fileProgress[filename]
	fileSize := p.fileSizes[filename]
	newValue := current + size
	if fileSize > 0 && newValue > fileSize {
		newValue = fileSize
	}
	applied := newValue - current
	if applied <= 0 {
		return
	}
	p.fileProgress[filename] = newValue
	p.downloaded += applied
	p.emitProgressLocked(filename)
}

// End marks filename complete, crediting any remaining bytes of its
// declared size toward the total.
func (p *ProgressAggregator) End(filename string) {
	if filename == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finishedFiles[filename] = true
	fileSize := p.fileSizes[filename]
	current := p.fileProgress[filename]
	if fileSize > 0 && current < fileSize {
		p.downloaded += fileSize - current
		p.fileProgress[filename] = fileSize
	}
	p.emitProgressLocked(filename)
}

func (p *ProgressAggregator) emitProgressLocked(filename string) {
	percent := p.computePercentLocked(filename)
	if percent == p.lastPercent {
		return
	}
	p.lastPercent = percent
	if p.emit != nil {
		p.emit(ProgressEvent{Type: "progress", File: filename, Percent: percent})
	}
}

func (p *ProgressAggregator) computePercentLocked(filename string) int {
	var percent int
	switch {
	case p.totalBytes > 0:
		percent = int(p.downloaded * 100 / p.totalBytes)
	case p.totalFiles > 0:
		completed := len(p.finishedFiles)
		fileProgress := 0.0
		if size := p.fileSizes[filename]; size > 0 {
			fileProgress = float64(p.fileProgress[filename]) / float64(size)
		}
		percent = int((float64(completed) + fileProgress) * 100 / float64(p.totalFiles))
	default:
		if size := p.fileSizes[filename]; size > 0 {
			percent = int(p.fileProgress[filename] * 100 / size)
		}
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < p.lastPercent {
		percent = p.lastPercent
	}
	return percent
}
