package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/audiobridge/internal/clock"
)

// PlaybackEvents are the playback notifications. They are delivered without
// any player lock held.
type PlaybackEvents struct {
	OnProgress func(seconds int)
	OnEnded    func()
}

// PlaybackEngine plays one clip at a time.
type PlaybackEngine interface {
	// Play starts clip at offset from, replacing whatever was playing.
	Play(clip *Clip, from time.Duration, events PlaybackEvents) error
	// Pause halts playback and returns the position reached.
	Pause() time.Duration
	// Stop halts playback and forgets the position.
	Stop()
	// Close stops playback and releases the output. Play fails afterwards.
	Close()
}

// DefaultProgressInterval is how often players report progress.
const DefaultProgressInterval = 250 * time.Millisecond

// cursor is a read position over clip PCM shared between a player and the
// output callback of an audio device.
type cursor struct {
	pcm    []byte
	format Format
	pos    atomic.Int64
}

func newCursor(clip *Clip, from time.Duration) *cursor {
	c := &cursor{pcm: clip.PCM(), format: clip.Format()}
	off := min(clip.Format().Offset(from), len(c.pcm))
	c.pos.Store(int64(off))
	return c
}

// read copies the next bytes into dst and returns the count copied.
func (c *cursor) read(dst []byte) int {
	pos := int(c.pos.Load())
	n := copy(dst, c.pcm[pos:])
	c.pos.Store(int64(pos + n))
	return n
}

func (c *cursor) skip(d time.Duration) {
	pos := min(int(c.pos.Load())+c.format.Offset(d), len(c.pcm))
	c.pos.Store(int64(pos))
}

func (c *cursor) done() bool {
	return int(c.pos.Load()) >= len(c.pcm)
}

func (c *cursor) position() time.Duration {
	return c.format.Duration(int(c.pos.Load()))
}

// sink is an audio output that drains a cursor. Close ends the current
// stream; Release drops the connection to the audio server.
type sink interface {
	Open(format Format, c *cursor) error
	Close()
	Release()
}

// Player drives a sink and reports progress on a clock. Without a sink it
// simulates playback by advancing the cursor on every progress tick.
type Player struct {
	clock    clock.Clock
	interval time.Duration
	sink     sink

	mu       sync.Mutex
	cur      *cursor
	timer    clock.Timer
	token    uint64
	lastSecs int
	closed   bool
}

// NewSimulatedPlayer returns a player that makes no sound and advances in
// real (or manual) clock time.
func NewSimulatedPlayer(clk clock.Clock, interval time.Duration) *Player {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Player{clock: clk, interval: interval}
}

func newDevicePlayer(clk clock.Clock, s sink) *Player {
	return &Player{clock: clk, interval: DefaultProgressInterval, sink: s}
}

func (p *Player) Play(clip *Clip, from time.Duration, events PlaybackEvents) error {
	if clip == nil {
		return fmt.Errorf("no clip to play")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("player closed")
	}
	p.haltLocked()

	cur := newCursor(clip, from)
	if p.sink != nil {
		if err := p.sink.Open(clip.Format(), cur); err != nil {
			return fmt.Errorf("failed to open audio output: %w", err)
		}
	}

	p.token++
	token := p.token
	p.cur = cur
	p.lastSecs = int(cur.position() / time.Second)
	p.timer = p.clock.Every(p.interval, func() { p.tick(token, events) })
	return nil
}

func (p *Player) tick(token uint64, events PlaybackEvents) {
	p.mu.Lock()
	if token != p.token || p.cur == nil {
		p.mu.Unlock()
		return
	}
	if p.sink == nil {
		p.cur.skip(p.interval)
	}
	secs := int(p.cur.position() / time.Second)
	ended := p.cur.done()
	changed := secs != p.lastSecs
	p.lastSecs = secs
	if ended {
		p.haltLocked()
	}
	p.mu.Unlock()

	switch {
	case ended:
		if events.OnEnded != nil {
			events.OnEnded()
		}
	case changed:
		if events.OnProgress != nil {
			events.OnProgress(secs)
		}
	}
}

func (p *Player) Pause() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return 0
	}
	pos := p.cur.position()
	p.haltLocked()
	return pos
}

func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
}

func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.haltLocked()
	p.closed = true
	if p.sink != nil {
		p.sink.Release()
	}
}

// haltLocked stops the timer and output and invalidates pending ticks.
func (p *Player) haltLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cur != nil && p.sink != nil {
		p.sink.Close()
	}
	p.cur = nil
	p.token++
}
