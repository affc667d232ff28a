package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRecorderRunning is returned by Start on a recorder already capturing.
var ErrRecorderRunning = errors.New("recorder already running")

// RecorderEvents are the recorder notifications. Either field may be nil.
type RecorderEvents struct {
	// OnData is called for every non-empty chunk, on the capture goroutine.
	OnData func(n int)
	// OnStop is called with the finalized clip, on the goroutine calling Stop.
	OnStop func(clip *Clip)
}

// ChunkRecorder collects the chunks a Stream produces and finalizes them
// into an immutable Clip.
type ChunkRecorder struct {
	stream Stream
	events RecorderEvents

	mu      sync.Mutex
	chunks  [][]byte
	size    int
	running bool
}

// NewRecorder wraps stream. The recorder never stops the stream itself; the
// owner of the stream releases it.
func NewRecorder(stream Stream, events RecorderEvents) *ChunkRecorder {
	return &ChunkRecorder{stream: stream, events: events}
}

// Start clears previously captured chunks and begins capturing.
func (r *ChunkRecorder) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRecorderRunning
	}
	r.chunks = nil
	r.size = 0
	r.running = true
	r.mu.Unlock()

	r.stream.SetCallback(r.onData)
	if err := r.stream.Start(); err != nil {
		r.stream.ClearCallback()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	return nil
}

func (r *ChunkRecorder) onData(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.chunks = append(r.chunks, data)
	r.size += len(data)
	r.mu.Unlock()

	if r.events.OnData != nil {
		r.events.OnData(len(data))
	}
}

// Stop detaches from the stream and assembles the captured chunks. Calling
// Stop on a recorder that is not running returns nil.
func (r *ChunkRecorder) Stop(now time.Time) *Clip {
	r.stream.ClearCallback()

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	format := r.stream.Format()
	pcm := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		pcm = append(pcm, c...)
	}
	r.chunks = nil
	r.size = 0
	r.mu.Unlock()

	// A backend may deliver a partial frame; drop it so the clip stays aligned.
	if fs := format.FrameSize(); fs > 0 {
		pcm = pcm[:len(pcm)-len(pcm)%fs]
	}

	clip := NewClip(pcm, format, now)
	slog.Debug("Recorder finalized clip", "bytes", clip.Size(), "duration", clip.Duration())

	if r.events.OnStop != nil {
		r.events.OnStop(clip)
	}
	return clip
}

// Size returns the number of bytes captured so far.
func (r *ChunkRecorder) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
