package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/audiobridge/internal/audio"
	"github.com/audiolibrelab/audiobridge/internal/clock"
)

// ErrNoClip is returned by Download when nothing has been recorded.
var ErrNoClip = errors.New("no recording available")

const (
	DefaultTransferInterval = 200 * time.Millisecond
	DefaultTransferStep     = 5
)

// Options wires a Session to its collaborators. Capture is required; the
// rest default to the real clock, an in-memory handle store and simulated
// playback.
type Options struct {
	Capture audio.CaptureProvider
	Handles audio.HandleStore
	Player  audio.PlaybackEngine
	Clock   clock.Clock

	TransferInterval time.Duration
	TransferStep     int

	// OnChunk is called from the capture goroutine for every captured chunk.
	// It must not call into the session.
	OnChunk func(n int)
}

// Session coordinates capture, clip ownership, the duration and transfer
// timers and playback for one recording at a time.
type Session struct {
	capture  audio.CaptureProvider
	handles  audio.HandleStore
	player   audio.PlaybackEngine
	clock    clock.Clock
	interval time.Duration
	step     int
	onChunk  func(n int)

	mu         sync.Mutex
	closed     bool
	generation uint64
	requesting bool

	recording       RecordingState
	playback        PlaybackState
	transfer        TransferState
	durationSeconds int
	playbackSeconds int
	transferPercent int
	view            View

	stream   audio.Stream
	recorder *audio.ChunkRecorder
	clip     *audio.Clip
	handle   audio.Handle
	position time.Duration

	timerSeq      uint64
	durationTimer clock.Timer
	durationID    uint64
	transferTimer clock.Timer
	transferID    uint64
	playbackID    uint64

	observerSeq int
	observers   map[int]Observer
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Handles == nil {
		opts.Handles = audio.NewBlobStore()
	}
	if opts.Player == nil {
		opts.Player = audio.NewSimulatedPlayer(opts.Clock, audio.DefaultProgressInterval)
	}
	if opts.TransferInterval <= 0 {
		opts.TransferInterval = DefaultTransferInterval
	}
	if opts.TransferStep <= 0 {
		opts.TransferStep = DefaultTransferStep
	}

	s := &Session{
		capture:   opts.Capture,
		handles:   opts.Handles,
		player:    opts.Player,
		clock:     opts.Clock,
		interval:  opts.TransferInterval,
		step:      opts.TransferStep,
		onChunk:   opts.OnChunk,
		observers: make(map[int]Observer),
	}
	s.resetFieldsLocked()
	return s
}

// Subscribe registers o and returns a function removing it.
func (s *Session) Subscribe(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observerSeq++
	id := s.observerSeq
	s.observers[id] = o
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// StartRecording asks the capture provider for a stream and starts
// recording into a fresh buffer. It does nothing while already recording or
// while an earlier request is still waiting for permission. A refused or
// unavailable microphone leaves the session unchanged.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.recording == RecordingActive || s.requesting {
		s.mu.Unlock()
		return nil
	}
	s.requesting = true
	gen := s.generation
	s.unlockAndNotify()

	stream, err := s.capture.RequestStream(ctx)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		slog.Info("Discarding capture result for a session that was reset", "error", err)
		return nil
	}
	s.requesting = false

	if err != nil {
		s.unlockAndNotify()
		slog.Warn("Microphone acquisition failed", "error", err)
		return fmt.Errorf("failed to start recording: %w", err)
	}

	rec := audio.NewRecorder(stream, audio.RecorderEvents{OnData: s.onChunk})
	if err := rec.Start(); err != nil {
		s.unlockAndNotify()
		stream.Stop()
		return fmt.Errorf("failed to start recording: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	// Re-recording over an existing clip. The old handle stays valid until
	// StopRecording replaces it.
	if s.recording == RecordingRecorded {
		s.stopPlaybackLocked()
		s.cancelTransferLocked()
	}

	s.stream = stream
	s.recorder = rec
	s.recording = RecordingActive
	s.durationSeconds = 0
	s.armDurationTimerLocked()

	slog.Info("Recording started", "format", stream.Format())
	s.unlockAndNotify()
	return nil
}

// StopRecording finalizes the capture into a clip and replaces the playable
// handle. It does nothing unless recording.
func (s *Session) StopRecording() {
	s.mu.Lock()
	if s.closed || s.recording != RecordingActive {
		s.mu.Unlock()
		return
	}

	s.stopDurationTimerLocked()
	clip := s.recorder.Stop(s.clock.Now())
	s.recorder = nil
	s.stream.Stop()
	s.stream = nil

	if s.handle != "" {
		s.handles.Release(s.handle)
		s.handle = ""
	}
	s.clip = clip
	s.handle = s.handles.Create(clip)
	s.recording = RecordingRecorded
	s.stopPlaybackLocked()

	slog.Info("Recording stopped", "duration_seconds", s.durationSeconds, "bytes", clip.Size(), "handle", s.handle)
	s.unlockAndNotify()
}

// Reset releases every resource and returns the session to its initial
// state. It is valid in any state.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.releaseAllLocked()
	s.resetFieldsLocked()
	slog.Info("Session reset")
	s.unlockAndNotify()
}

// Close tears the session down. Every later call is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.releaseAllLocked()
	s.player.Close()
	s.closed = true
	s.requesting = false
	snap := s.snapshotLocked()
	observers := s.observerList()
	s.observers = make(map[int]Observer)
	s.mu.Unlock()

	slog.Debug("Session closed")
	for _, o := range observers {
		o(snap)
	}
}

// StartTransfer begins the simulated hand-off of the recorded clip.
func (s *Session) StartTransfer() {
	s.mu.Lock()
	if s.closed || s.recording != RecordingRecorded || s.transfer != TransferNotStarted {
		s.mu.Unlock()
		return
	}
	s.transfer = TransferTransferring
	s.transferPercent = 0
	s.armTransferTimerLocked()
	slog.Info("Transfer started", "handle", s.handle)
	s.unlockAndNotify()
}

// StartPlayback plays the clip from the retained position.
func (s *Session) StartPlayback() error {
	s.mu.Lock()
	if s.closed || s.handle == "" || s.playback == PlaybackPlaying {
		s.mu.Unlock()
		return nil
	}

	s.playbackID++
	id := s.playbackID
	events := audio.PlaybackEvents{
		OnProgress: func(sec int) { s.onPlaybackProgress(id, sec) },
		OnEnded:    func() { s.onPlaybackEnded(id) },
	}
	if err := s.player.Play(s.clip, s.position, events); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start playback: %w", err)
	}
	s.playback = PlaybackPlaying
	s.playbackSeconds = int(s.position / time.Second)
	slog.Debug("Playback started", "from", s.position)
	s.unlockAndNotify()
	return nil
}

// PausePlayback pauses and retains the position.
func (s *Session) PausePlayback() {
	s.mu.Lock()
	if s.closed || s.playback != PlaybackPlaying {
		s.mu.Unlock()
		return
	}
	s.playbackID++
	s.position = s.player.Pause()
	s.playbackSeconds = int(s.position / time.Second)
	s.playback = PlaybackPaused
	slog.Debug("Playback paused", "at", s.position)
	s.unlockAndNotify()
}

// Download is an encoded clip ready to be saved.
type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// Download encodes the current clip. It does not change state.
func (s *Session) Download(enc audio.Encoding) (*Download, error) {
	s.mu.Lock()
	clip := s.clip
	now := s.clock.Now()
	s.mu.Unlock()

	if clip == nil {
		return nil, ErrNoClip
	}
	data, err := clip.Encode(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}
	return &Download{
		Name:        audio.DownloadName(now, enc),
		ContentType: enc.ContentType(),
		Data:        data,
	}, nil
}

// SetView switches the shown side. Unknown views are ignored.
func (s *Session) SetView(v View) {
	if _, ok := ParseView(string(v)); !ok {
		return
	}
	s.mu.Lock()
	if s.closed || s.view == v {
		s.mu.Unlock()
		return
	}
	s.view = v
	s.unlockAndNotify()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Clip returns the clip behind h while h is the current handle.
func (s *Session) Clip(h audio.Handle) (*audio.Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == "" || h != s.handle {
		return nil, false
	}
	return s.handles.Resolve(h)
}

func (s *Session) onDurationTick(id uint64) {
	s.mu.Lock()
	if s.closed || id != s.durationID || s.recording != RecordingActive {
		s.mu.Unlock()
		return
	}
	s.durationSeconds++
	s.unlockAndNotify()
}

func (s *Session) onTransferTick(id uint64) {
	s.mu.Lock()
	if s.closed || id != s.transferID || s.transfer != TransferTransferring {
		s.mu.Unlock()
		return
	}
	s.transferPercent = min(s.transferPercent+s.step, 100)
	if s.transferPercent == 100 {
		s.stopTransferTimerLocked()
		s.transfer = TransferCompleted
		s.view = ViewLaptop
		slog.Info("Transfer completed", "handle", s.handle)
	}
	s.unlockAndNotify()
}

func (s *Session) onPlaybackProgress(id uint64, sec int) {
	s.mu.Lock()
	if s.closed || id != s.playbackID || s.playback != PlaybackPlaying {
		s.mu.Unlock()
		return
	}
	s.playbackSeconds = sec
	s.unlockAndNotify()
}

func (s *Session) onPlaybackEnded(id uint64) {
	s.mu.Lock()
	if s.closed || id != s.playbackID || s.playback != PlaybackPlaying {
		s.mu.Unlock()
		return
	}
	s.playback = PlaybackIdle
	s.playbackSeconds = 0
	s.position = 0
	slog.Debug("Playback ended")
	s.unlockAndNotify()
}

func (s *Session) armDurationTimerLocked() {
	s.stopDurationTimerLocked()
	s.timerSeq++
	id := s.timerSeq
	s.durationID = id
	s.durationTimer = s.clock.Every(time.Second, func() { s.onDurationTick(id) })
}

func (s *Session) stopDurationTimerLocked() {
	if s.durationTimer != nil {
		s.durationTimer.Stop()
		s.durationTimer = nil
	}
	s.durationID = 0
}

func (s *Session) armTransferTimerLocked() {
	s.stopTransferTimerLocked()
	s.timerSeq++
	id := s.timerSeq
	s.transferID = id
	s.transferTimer = s.clock.Every(s.interval, func() { s.onTransferTick(id) })
}

func (s *Session) stopTransferTimerLocked() {
	if s.transferTimer != nil {
		s.transferTimer.Stop()
		s.transferTimer = nil
	}
	s.transferID = 0
}

func (s *Session) stopPlaybackLocked() {
	s.playbackID++
	s.player.Stop()
	s.playback = PlaybackIdle
	s.playbackSeconds = 0
	s.position = 0
}

func (s *Session) cancelTransferLocked() {
	s.stopTransferTimerLocked()
	s.transfer = TransferNotStarted
	s.transferPercent = 0
}

// releaseAllLocked stops every timer, the capture stream and playback and
// releases the handle. Safe to call repeatedly.
func (s *Session) releaseAllLocked() {
	s.generation++
	s.stopDurationTimerLocked()
	s.stopTransferTimerLocked()
	s.stopPlaybackLocked()

	if s.recorder != nil {
		s.recorder.Stop(s.clock.Now())
		s.recorder = nil
	}
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	if s.handle != "" {
		s.handles.Release(s.handle)
		s.handle = ""
	}
	s.clip = nil
}

func (s *Session) resetFieldsLocked() {
	s.requesting = false
	s.recording = RecordingIdle
	s.playback = PlaybackIdle
	s.transfer = TransferNotStarted
	s.durationSeconds = 0
	s.playbackSeconds = 0
	s.transferPercent = 0
	s.position = 0
	s.view = ViewPhone
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Recording:       s.recording,
		Playback:        s.playback,
		Transfer:        s.transfer,
		DurationSeconds: s.durationSeconds,
		PlaybackSeconds: s.playbackSeconds,
		TransferPercent: s.transferPercent,
		View:            s.view,
		Requesting:      s.requesting,
		Handle:          s.handle,
		Closed:          s.closed,
	}
	if s.recorder != nil {
		snap.CapturedBytes = s.recorder.Size()
	}
	if s.clip != nil {
		snap.ClipBytes = s.clip.Size()
		snap.ClipSeconds = s.clip.Duration().Seconds()
	}
	return snap
}

func (s *Session) observerList() []Observer {
	list := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		list = append(list, o)
	}
	return list
}

// unlockAndNotify releases s.mu and hands the current snapshot to every
// observer.
func (s *Session) unlockAndNotify() {
	snap := s.snapshotLocked()
	observers := s.observerList()
	s.mu.Unlock()
	for _, o := range observers {
		o(snap)
	}
}
