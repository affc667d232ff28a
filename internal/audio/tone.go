package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Permission is the answer the tone provider gives to stream requests.
type Permission string

const (
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionUnavailable Permission = "unavailable"
)

const toneChunk = 20 * time.Millisecond

// ToneProvider synthesises a sine wave instead of opening a microphone. It
// backs headless demos and lets the permission prompt be scripted.
type ToneProvider struct {
	format     Format
	frequency  float64
	permission atomic.Value // Permission
	delay      time.Duration
	open       atomic.Int32
}

// NewToneProvider returns a provider producing frequency Hz at format.
// delay simulates the time a user takes to answer the permission prompt.
func NewToneProvider(format Format, frequency float64, permission Permission, delay time.Duration) *ToneProvider {
	if frequency <= 0 {
		frequency = 440
	}
	p := &ToneProvider{format: format, frequency: frequency, delay: delay}
	p.permission.Store(permission)
	return p
}

// SetPermission changes the answer given to later requests.
func (p *ToneProvider) SetPermission(perm Permission) {
	p.permission.Store(perm)
}

// Open returns the number of streams handed out and not yet stopped.
func (p *ToneProvider) Open() int {
	return int(p.open.Load())
}

func (p *ToneProvider) Sources() ([]SourceInfo, error) {
	return []SourceInfo{{
		ID:   "tone",
		Name: fmt.Sprintf("Synthetic %.0f Hz tone", p.frequency),
	}}, nil
}

func (p *ToneProvider) RequestStream(ctx context.Context) (Stream, error) {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch p.permission.Load().(Permission) {
	case PermissionDenied:
		return nil, ErrPermissionDenied
	case PermissionUnavailable:
		return nil, ErrDeviceUnavailable
	}

	p.open.Add(1)
	return &toneStream{provider: p, format: p.format, frequency: p.frequency}, nil
}

func (p *ToneProvider) Close() {}

type toneStream struct {
	provider  *ToneProvider
	format    Format
	frequency float64
	callback  atomic.Pointer[DataCallback]

	mu       sync.Mutex
	started  bool
	released bool
	phase    float64
	stop     chan struct{}
	done     chan struct{}
}

func (s *toneStream) Format() Format { return s.format }

func (s *toneStream) SetCallback(cb DataCallback) { s.callback.Store(&cb) }

func (s *toneStream) ClearCallback() { s.callback.Store(nil) }

func (s *toneStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("stream already released")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(toneChunk)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if cb := s.callback.Load(); cb != nil {
					(*cb)(s.nextChunk())
				}
			}
		}
	}()
	return nil
}

// nextChunk is only called from the feed goroutine.
func (s *toneStream) nextChunk() []byte {
	frames := s.format.SampleRate * int(toneChunk) / int(time.Second)
	samples := make([]int16, frames*s.format.Channels)
	step := 2 * math.Pi * s.frequency / float64(s.format.SampleRate)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(s.phase) * 0.3 * math.MaxInt16)
		for ch := 0; ch < s.format.Channels; ch++ {
			samples[i*s.format.Channels+ch] = v
		}
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)
	return int16ToPCM(samples)
}

func (s *toneStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.started {
		close(s.stop)
		<-s.done
	}
	s.provider.open.Add(-1)
}
