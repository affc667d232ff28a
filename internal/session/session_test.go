package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/audiobridge/internal/audio"
	"github.com/audiolibrelab/audiobridge/internal/clock"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

type fakeStream struct {
	mu       sync.Mutex
	callback audio.DataCallback
	started  bool
	stops    int
}

func (f *fakeStream) Format() audio.Format { return testFormat }

func (f *fakeStream) SetCallback(cb audio.DataCallback) {
	f.mu.Lock()
	f.callback = cb
	f.mu.Unlock()
}

func (f *fakeStream) ClearCallback() {
	f.mu.Lock()
	f.callback = nil
	f.mu.Unlock()
}

func (f *fakeStream) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeStream) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops > 0
}

// feed delivers seconds of silence through the capture callback.
func (f *fakeStream) feed(seconds int) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(make([]byte, testFormat.BytesPerSecond()*seconds))
	}
}

type fakeProvider struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	requested chan struct{}
	calls     int
	streams   []*fakeStream
}

func (p *fakeProvider) Sources() ([]audio.SourceInfo, error) {
	return []audio.SourceInfo{{ID: "fake", Name: "Fake"}}, nil
}

func (p *fakeProvider) RequestStream(ctx context.Context) (audio.Stream, error) {
	p.mu.Lock()
	p.calls++
	gate, requested := p.gate, p.requested
	p.mu.Unlock()

	if requested != nil {
		requested <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	s := &fakeStream{}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeProvider) Close() {}

func (p *fakeProvider) last() *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// loggingStore records the order of handle operations.
type loggingStore struct {
	*audio.BlobStore
	mu  sync.Mutex
	ops []string
}

func (l *loggingStore) Create(c *audio.Clip) audio.Handle {
	h := l.BlobStore.Create(c)
	l.mu.Lock()
	l.ops = append(l.ops, "create "+string(h))
	l.mu.Unlock()
	return h
}

func (l *loggingStore) Release(h audio.Handle) {
	l.mu.Lock()
	l.ops = append(l.ops, "release "+string(h))
	l.mu.Unlock()
	l.BlobStore.Release(h)
}

type harness struct {
	session  *Session
	clock    *clock.Manual
	provider *fakeProvider
	handles  *audio.BlobStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	provider := &fakeProvider{}
	handles := audio.NewBlobStore()
	s := New(Options{
		Capture: provider,
		Handles: handles,
		Player:  audio.NewSimulatedPlayer(clk, 250*time.Millisecond),
		Clock:   clk,
	})
	t.Cleanup(s.Close)
	return &harness{session: s, clock: clk, provider: provider, handles: handles}
}

// record captures a clip of the given length and stops.
func (h *harness) record(t *testing.T, seconds int) {
	t.Helper()
	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.provider.last().feed(seconds)
	h.clock.Advance(time.Duration(seconds) * time.Second)
	h.session.StopRecording()
}

func assertInitial(t *testing.T, snap Snapshot) {
	t.Helper()
	if snap.Recording != RecordingIdle || snap.Playback != PlaybackIdle || snap.Transfer != TransferNotStarted {
		t.Errorf("Expected (idle, idle, not-started), got (%s, %s, %s)", snap.Recording, snap.Playback, snap.Transfer)
	}
	if snap.DurationSeconds != 0 || snap.PlaybackSeconds != 0 || snap.TransferPercent != 0 {
		t.Errorf("Expected zero counters, got duration=%d playback=%d transfer=%d",
			snap.DurationSeconds, snap.PlaybackSeconds, snap.TransferPercent)
	}
	if snap.HasClip() {
		t.Errorf("Expected no clip, got handle %s", snap.Handle)
	}
}

func TestNewSessionIsIdle(t *testing.T) {
	h := newHarness(t)
	snap := h.session.Snapshot()
	assertInitial(t, snap)
	if snap.View != ViewPhone {
		t.Errorf("Expected phone view, got %s", snap.View)
	}
}

func TestDurationCountsWhileRecording(t *testing.T) {
	h := newHarness(t)

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if got := h.session.Snapshot().Recording; got != RecordingActive {
		t.Fatalf("Expected recording, got %s", got)
	}

	h.clock.Advance(3 * time.Second)
	if got := h.session.Snapshot().DurationSeconds; got != 3 {
		t.Errorf("Expected duration 3 after three ticks, got %d", got)
	}

	h.provider.last().feed(3)
	h.session.StopRecording()
	h.clock.Advance(5 * time.Second)

	snap := h.session.Snapshot()
	if snap.Recording != RecordingRecorded {
		t.Errorf("Expected recorded, got %s", snap.Recording)
	}
	if snap.DurationSeconds != 3 {
		t.Errorf("Expected duration frozen at 3, got %d", snap.DurationSeconds)
	}
	if !snap.HasClip() {
		t.Error("Expected a clip handle after stopping")
	}
	if snap.ClipSeconds != 3 {
		t.Errorf("Expected 3s clip, got %.2f", snap.ClipSeconds)
	}
	if !h.provider.last().stopped() {
		t.Error("Expected capture stream to be released after stop")
	}
	if h.clock.Active() != 0 {
		t.Errorf("Expected no active timers, got %d", h.clock.Active())
	}
}

func TestStartRecordingIgnoredWhileRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	if err := h.session.StartRecording(ctx); err != nil {
		t.Fatalf("second StartRecording failed: %v", err)
	}

	if h.provider.calls != 1 {
		t.Errorf("Expected one stream request, got %d", h.provider.calls)
	}
	if got := h.session.Snapshot().DurationSeconds; got != 2 {
		t.Errorf("Expected duration to keep counting from 2, got %d", got)
	}
	if h.clock.Active() != 1 {
		t.Errorf("Expected exactly one duration timer, got %d", h.clock.Active())
	}
}

func TestStopRecordingWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.session.StopRecording()
	assertInitial(t, h.session.Snapshot())
	if h.handles.Live() != 0 {
		t.Errorf("Expected no handles, got %d", h.handles.Live())
	}
}

func TestPermissionFailureLeavesStateUnchanged(t *testing.T) {
	for _, want := range []error{audio.ErrPermissionDenied, audio.ErrDeviceUnavailable} {
		t.Run(want.Error(), func(t *testing.T) {
			h := newHarness(t)
			h.provider.err = want

			err := h.session.StartRecording(context.Background())
			if !errors.Is(err, want) {
				t.Fatalf("Expected %v, got %v", want, err)
			}
			snap := h.session.Snapshot()
			assertInitial(t, snap)
			if snap.Requesting {
				t.Error("Expected no pending request after failure")
			}
			if h.clock.Active() != 0 {
				t.Errorf("Expected no timers, got %d", h.clock.Active())
			}

			// A later attempt is allowed once the user fixes access.
			h.provider.err = nil
			if err := h.session.StartRecording(context.Background()); err != nil {
				t.Fatalf("retry failed: %v", err)
			}
			if got := h.session.Snapshot().Recording; got != RecordingActive {
				t.Errorf("Expected recording after retry, got %s", got)
			}
		})
	}
}

func TestStartTransferRequiresRecordedClip(t *testing.T) {
	h := newHarness(t)

	h.session.StartTransfer()
	if got := h.session.Snapshot().Transfer; got != TransferNotStarted {
		t.Errorf("Expected not-started while idle, got %s", got)
	}

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.session.StartTransfer()
	if got := h.session.Snapshot().Transfer; got != TransferNotStarted {
		t.Errorf("Expected not-started while recording, got %s", got)
	}
}

func TestTransferProgressesToCompletion(t *testing.T) {
	h := newHarness(t)
	h.record(t, 2)

	var mu sync.Mutex
	var seen []int
	h.session.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.TransferPercent)
		mu.Unlock()
	})

	h.session.StartTransfer()
	for i := 1; i < 20; i++ {
		h.clock.Advance(200 * time.Millisecond)
		snap := h.session.Snapshot()
		if snap.Transfer != TransferTransferring {
			t.Fatalf("Expected transferring after %d ticks, got %s", i, snap.Transfer)
		}
		if snap.TransferPercent != i*5 {
			t.Fatalf("Expected %d%% after %d ticks, got %d", i*5, i, snap.TransferPercent)
		}
	}

	h.clock.Advance(200 * time.Millisecond)
	snap := h.session.Snapshot()
	if snap.Transfer != TransferCompleted || snap.TransferPercent != 100 {
		t.Errorf("Expected completed at 100%%, got %s at %d", snap.Transfer, snap.TransferPercent)
	}
	if snap.View != ViewLaptop {
		t.Errorf("Expected laptop view after transfer, got %s", snap.View)
	}

	h.clock.Advance(time.Second)
	if got := h.session.Snapshot().TransferPercent; got != 100 {
		t.Errorf("Expected progress to stay at 100, got %d", got)
	}
	if h.clock.Active() != 0 {
		t.Errorf("Expected transfer timer stopped, got %d active", h.clock.Active())
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("Transfer progress went backwards: %v", seen)
		}
	}

	h.session.StartTransfer()
	if got := h.session.Snapshot().Transfer; got != TransferCompleted {
		t.Errorf("Expected second StartTransfer to be ignored, got %s", got)
	}
}

func TestTransferStepClampsAt100(t *testing.T) {
	clk := clock.NewManual(time.Now())
	provider := &fakeProvider{}
	s := New(Options{Capture: provider, Clock: clk, TransferStep: 30, TransferInterval: time.Second})
	defer s.Close()

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	provider.last().feed(1)
	s.StopRecording()
	s.StartTransfer()

	clk.Advance(3 * time.Second)
	if got := s.Snapshot().TransferPercent; got != 90 {
		t.Fatalf("Expected 90, got %d", got)
	}
	clk.Advance(time.Second)
	snap := s.Snapshot()
	if snap.TransferPercent != 100 || snap.Transfer != TransferCompleted {
		t.Errorf("Expected clamp to 100 and completed, got %d %s", snap.TransferPercent, snap.Transfer)
	}
}

func TestStartPlaybackRequiresClip(t *testing.T) {
	h := newHarness(t)
	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	if got := h.session.Snapshot().Playback; got != PlaybackIdle {
		t.Errorf("Expected idle playback without a clip, got %s", got)
	}
}

func TestPauseResumesFromPosition(t *testing.T) {
	h := newHarness(t)
	h.record(t, 10)

	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	h.clock.Advance(4 * time.Second)
	if got := h.session.Snapshot().PlaybackSeconds; got != 4 {
		t.Fatalf("Expected progress 4, got %d", got)
	}

	h.session.PausePlayback()
	snap := h.session.Snapshot()
	if snap.Playback != PlaybackPaused || snap.PlaybackSeconds != 4 {
		t.Fatalf("Expected paused at 4, got %s at %d", snap.Playback, snap.PlaybackSeconds)
	}

	h.clock.Advance(3 * time.Second)
	if got := h.session.Snapshot().PlaybackSeconds; got != 4 {
		t.Errorf("Expected progress to hold at 4 while paused, got %d", got)
	}

	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if got := h.session.Snapshot().PlaybackSeconds; got != 4 {
		t.Errorf("Expected resume from 4, got %d", got)
	}
	h.clock.Advance(time.Second)
	if got := h.session.Snapshot().PlaybackSeconds; got != 5 {
		t.Errorf("Expected progress 5 one second after resume, got %d", got)
	}
}

func TestPlaybackEndResetsProgress(t *testing.T) {
	h := newHarness(t)
	h.record(t, 2)

	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	h.clock.Advance(3 * time.Second)

	snap := h.session.Snapshot()
	if snap.Playback != PlaybackIdle || snap.PlaybackSeconds != 0 {
		t.Errorf("Expected idle at 0 after the clip ended, got %s at %d", snap.Playback, snap.PlaybackSeconds)
	}
	if h.clock.Active() != 0 {
		t.Errorf("Expected playback timer stopped, got %d", h.clock.Active())
	}

	// Replays from the start.
	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	h.clock.Advance(time.Second)
	if got := h.session.Snapshot().PlaybackSeconds; got != 1 {
		t.Errorf("Expected progress 1 on replay, got %d", got)
	}
}

func TestPauseWhenNotPlayingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.record(t, 2)
	h.session.PausePlayback()
	if got := h.session.Snapshot().Playback; got != PlaybackIdle {
		t.Errorf("Expected idle, got %s", got)
	}
}

func TestResetMidTransferStopsTicks(t *testing.T) {
	h := newHarness(t)
	h.record(t, 2)
	h.session.StartTransfer()
	h.clock.Advance(time.Second)

	h.session.Reset()
	assertInitial(t, h.session.Snapshot())

	h.clock.Advance(5 * time.Second)
	assertInitial(t, h.session.Snapshot())
	if h.clock.Active() != 0 {
		t.Errorf("Expected no active timers after reset, got %d", h.clock.Active())
	}
	if h.handles.Live() != 0 {
		t.Errorf("Expected no live handles after reset, got %d", h.handles.Live())
	}
}

func TestResetWhileRecordingReleasesStream(t *testing.T) {
	h := newHarness(t)
	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.provider.last().feed(1)
	h.clock.Advance(2 * time.Second)

	h.session.Reset()
	snap := h.session.Snapshot()
	assertInitial(t, snap)
	if snap.View != ViewPhone {
		t.Errorf("Expected phone view after reset, got %s", snap.View)
	}
	if !h.provider.last().stopped() {
		t.Error("Expected capture stream stopped on reset")
	}
	if h.handles.Live() != 0 {
		t.Errorf("Expected no live handles, got %d", h.handles.Live())
	}
}

func TestResetWhilePlayingStopsPlayback(t *testing.T) {
	h := newHarness(t)
	h.record(t, 10)
	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)

	h.session.Reset()
	h.clock.Advance(2 * time.Second)
	assertInitial(t, h.session.Snapshot())
	if h.clock.Active() != 0 {
		t.Errorf("Expected playback timer stopped, got %d", h.clock.Active())
	}
}

func TestStalePermissionGrantIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.provider.gate = make(chan struct{})
	h.provider.requested = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.session.StartRecording(context.Background()) }()

	<-h.provider.requested
	if !h.session.Snapshot().Requesting {
		t.Error("Expected a pending permission request")
	}

	h.session.Reset()
	close(h.provider.gate)
	if err := <-done; err != nil {
		t.Fatalf("Expected stale grant to be dropped silently, got %v", err)
	}

	assertInitial(t, h.session.Snapshot())
	if s := h.provider.last(); s == nil || !s.stopped() {
		t.Error("Expected the late stream to be stopped")
	}
	if h.clock.Active() != 0 {
		t.Errorf("Expected no duration timer, got %d", h.clock.Active())
	}
}

func TestStartWhilePermissionPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.provider.gate = make(chan struct{})
	h.provider.requested = make(chan struct{}, 2)

	done := make(chan error, 1)
	go func() { done <- h.session.StartRecording(context.Background()) }()
	<-h.provider.requested

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	close(h.provider.gate)
	if err := <-done; err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if h.provider.calls != 1 {
		t.Errorf("Expected one stream request, got %d", h.provider.calls)
	}
	if got := h.session.Snapshot().Recording; got != RecordingActive {
		t.Errorf("Expected recording, got %s", got)
	}
}

func TestRecordingAgainReleasesOldHandleFirst(t *testing.T) {
	clk := clock.NewManual(time.Now())
	provider := &fakeProvider{}
	store := &loggingStore{BlobStore: audio.NewBlobStore()}
	s := New(Options{Capture: provider, Handles: store, Clock: clk})
	defer s.Close()

	ctx := context.Background()
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	provider.last().feed(1)
	s.StopRecording()
	first := s.Snapshot().Handle

	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("second StartRecording failed: %v", err)
	}
	if got := s.Snapshot().Handle; got != first {
		t.Errorf("Expected old handle kept while re-recording, got %s", got)
	}
	provider.last().feed(2)
	s.StopRecording()
	second := s.Snapshot().Handle

	if first == second {
		t.Fatal("Expected a new handle for the new recording")
	}
	want := []string{"create " + string(first), "release " + string(first), "create " + string(second)}
	store.mu.Lock()
	got := append([]string(nil), store.ops...)
	store.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("Expected ops %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Op %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if store.Live() != 1 {
		t.Errorf("Expected one live handle, got %d", store.Live())
	}
	if _, ok := s.Clip(first); ok {
		t.Error("Expected old handle to be unresolvable")
	}
}

func TestRecordingAgainCancelsTransferAndPlayback(t *testing.T) {
	h := newHarness(t)
	h.record(t, 5)
	h.session.StartTransfer()
	h.clock.Advance(time.Second)
	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	snap := h.session.Snapshot()
	if snap.Transfer != TransferNotStarted || snap.TransferPercent != 0 {
		t.Errorf("Expected transfer cancelled, got %s at %d", snap.Transfer, snap.TransferPercent)
	}
	if snap.Playback != PlaybackIdle {
		t.Errorf("Expected playback stopped, got %s", snap.Playback)
	}
	if snap.DurationSeconds != 0 {
		t.Errorf("Expected duration reset to 0, got %d", snap.DurationSeconds)
	}
	if h.clock.Active() != 1 {
		t.Errorf("Expected only the duration timer, got %d", h.clock.Active())
	}
}

func TestStopRecordingHaltsPlaybackOfPreviousClip(t *testing.T) {
	h := newHarness(t)
	h.record(t, 5)

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	// The previous clip stays playable until the new one replaces it.
	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}
	if got := h.session.Snapshot().Playback; got != PlaybackPlaying {
		t.Fatalf("Expected playing, got %s", got)
	}

	h.provider.last().feed(1)
	h.session.StopRecording()

	if got := h.session.Snapshot().Playback; got != PlaybackIdle {
		t.Errorf("Expected idle playback, got %s", got)
	}
	if h.clock.Active() != 0 {
		t.Errorf("Expected no active timers, got %d", h.clock.Active())
	}
}

func TestStaleTickIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.clock.Advance(time.Second)

	h.session.mu.Lock()
	staleDuration := h.session.durationID
	h.session.mu.Unlock()

	h.provider.last().feed(1)
	h.session.StopRecording()
	h.session.onDurationTick(staleDuration)
	if got := h.session.Snapshot().DurationSeconds; got != 1 {
		t.Errorf("Expected stale duration tick ignored, got %d", got)
	}

	h.session.StartTransfer()
	h.session.mu.Lock()
	staleTransfer := h.session.transferID
	h.session.mu.Unlock()
	h.session.Reset()
	h.session.onTransferTick(staleTransfer)
	assertInitial(t, h.session.Snapshot())
}

func TestDownload(t *testing.T) {
	h := newHarness(t)

	if _, err := h.session.Download(audio.EncodingWAV); !errors.Is(err, ErrNoClip) {
		t.Errorf("Expected ErrNoClip, got %v", err)
	}

	h.record(t, 1)
	before := h.session.Snapshot()

	d, err := h.session.Download(audio.EncodingWAV)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if d.Name != "recording-2026-03-14.wav" {
		t.Errorf("Expected recording-2026-03-14.wav, got %s", d.Name)
	}
	if d.ContentType != "audio/wav" {
		t.Errorf("Expected audio/wav, got %s", d.ContentType)
	}
	if !bytes.HasPrefix(d.Data, []byte("RIFF")) {
		t.Error("Expected a RIFF payload")
	}
	if len(d.Data) != audio.WAVHeaderSize+testFormat.BytesPerSecond() {
		t.Errorf("Expected %d bytes, got %d", audio.WAVHeaderSize+testFormat.BytesPerSecond(), len(d.Data))
	}

	if after := h.session.Snapshot(); after != before {
		t.Errorf("Expected Download to leave state unchanged: %+v vs %+v", before, after)
	}
}

func TestSetView(t *testing.T) {
	h := newHarness(t)
	h.session.SetView(ViewLaptop)
	if got := h.session.Snapshot().View; got != ViewLaptop {
		t.Errorf("Expected laptop, got %s", got)
	}
	h.session.SetView(View("tablet"))
	if got := h.session.Snapshot().View; got != ViewLaptop {
		t.Errorf("Expected unknown view ignored, got %s", got)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	h := newHarness(t)
	h.record(t, 2)
	h.session.StartTransfer()

	h.session.Close()
	h.session.Close()

	if h.handles.Live() != 0 {
		t.Errorf("Expected handles released on close, got %d", h.handles.Live())
	}
	if h.clock.Active() != 0 {
		t.Errorf("Expected timers stopped on close, got %d", h.clock.Active())
	}

	calls := h.provider.calls
	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Errorf("Expected StartRecording after close to be a no-op, got %v", err)
	}
	if h.provider.calls != calls {
		t.Error("Expected no stream request after close")
	}
	h.session.Reset()
	if !h.session.Snapshot().Closed {
		t.Error("Expected snapshot to report closed")
	}
}

func TestCloseReleasesPlayer(t *testing.T) {
	h := newHarness(t)
	h.record(t, 2)
	if err := h.session.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback failed: %v", err)
	}

	h.session.Close()

	if h.clock.Active() != 0 {
		t.Errorf("Expected playback timer stopped on close, got %d", h.clock.Active())
	}
	clip := audio.NewClip(make([]byte, testFormat.BytesPerSecond()), testFormat, h.clock.Now())
	if err := h.session.player.Play(clip, 0, audio.PlaybackEvents{}); err == nil {
		t.Error("Expected the player to refuse playback after session close")
	}
}

// checkSnapshot asserts the invariants that hold after every operation.
func checkSnapshot(t *testing.T, step int, op string, snap Snapshot, active int) {
	t.Helper()
	switch snap.Recording {
	case RecordingIdle, RecordingActive, RecordingRecorded:
	default:
		t.Fatalf("step %d (%s): unknown recording state %q", step, op, snap.Recording)
	}
	switch snap.Playback {
	case PlaybackIdle, PlaybackPlaying, PlaybackPaused:
	default:
		t.Fatalf("step %d (%s): unknown playback state %q", step, op, snap.Playback)
	}
	switch snap.Transfer {
	case TransferNotStarted, TransferTransferring, TransferCompleted:
	default:
		t.Fatalf("step %d (%s): unknown transfer state %q", step, op, snap.Transfer)
	}
	switch snap.View {
	case ViewPhone, ViewLaptop:
	default:
		t.Fatalf("step %d (%s): unknown view %q", step, op, snap.View)
	}

	want := 0
	if snap.Recording == RecordingActive {
		want++
	}
	if snap.Transfer == TransferTransferring {
		want++
	}
	if snap.Playback == PlaybackPlaying {
		want++
	}
	if active != want {
		t.Fatalf("step %d (%s): Expected %d active timers for (%s, %s, %s), got %d",
			step, op, want, snap.Recording, snap.Transfer, snap.Playback, active)
	}

	if snap.Transfer != TransferNotStarted && snap.Recording != RecordingRecorded {
		t.Fatalf("step %d (%s): transfer %s without a recorded clip (%s)", step, op, snap.Transfer, snap.Recording)
	}
	if snap.Playback != PlaybackIdle && !snap.HasClip() {
		t.Fatalf("step %d (%s): playback %s without a clip", step, op, snap.Playback)
	}
	if snap.TransferPercent < 0 || snap.TransferPercent > 100 {
		t.Fatalf("step %d (%s): transfer percent %d out of range", step, op, snap.TransferPercent)
	}
}

func TestRandomOperationSequences(t *testing.T) {
	ops := []string{"start", "feed", "stop", "reset", "transfer", "play", "pause", "advance"}

	for _, seed := range []int64{1, 7, 42, 2026, 31337} {
		h := newHarness(t)
		rng := rand.New(rand.NewSource(seed))

		for step := 0; step < 300; step++ {
			op := ops[rng.Intn(len(ops))]
			switch op {
			case "start":
				if err := h.session.StartRecording(context.Background()); err != nil {
					t.Fatalf("seed %d step %d: StartRecording failed: %v", seed, step, err)
				}
			case "feed":
				if st := h.provider.last(); st != nil {
					st.feed(1 + rng.Intn(3))
				}
			case "stop":
				h.session.StopRecording()
			case "reset":
				h.session.Reset()
			case "transfer":
				h.session.StartTransfer()
			case "play":
				if err := h.session.StartPlayback(); err != nil {
					t.Fatalf("seed %d step %d: StartPlayback failed: %v", seed, step, err)
				}
			case "pause":
				h.session.PausePlayback()
			case "advance":
				h.clock.Advance(time.Duration(rng.Intn(1500)) * time.Millisecond)
			}
			checkSnapshot(t, step, op, h.session.Snapshot(), h.clock.Active())
		}
		h.session.Close()
	}
}

func TestObserversReceiveSnapshots(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var last Snapshot
	count := 0
	unsubscribe := h.session.Subscribe(func(s Snapshot) {
		mu.Lock()
		last = s
		count++
		mu.Unlock()
	})

	if err := h.session.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	h.clock.Advance(2 * time.Second)

	mu.Lock()
	if last.DurationSeconds != 2 || last.Recording != RecordingActive {
		t.Errorf("Expected last snapshot recording at 2s, got %+v", last)
	}
	seen := count
	mu.Unlock()

	unsubscribe()
	h.clock.Advance(time.Second)
	mu.Lock()
	if count != seen {
		t.Errorf("Expected no notifications after unsubscribe, got %d more", count-seen)
	}
	mu.Unlock()
}

func TestObserverMayCallBackIntoSession(t *testing.T) {
	h := newHarness(t)
	h.record(t, 1)

	h.session.Subscribe(func(s Snapshot) {
		if s.Transfer == TransferCompleted {
			h.session.SetView(ViewPhone)
		}
	})
	h.session.StartTransfer()
	h.clock.Advance(4 * time.Second)

	if got := h.session.Snapshot().View; got != ViewPhone {
		t.Errorf("Expected observer to switch view back, got %s", got)
	}
}

func TestChunkHookSeesCapturedBytes(t *testing.T) {
	clk := clock.NewManual(time.Now())
	provider := &fakeProvider{}
	var mu sync.Mutex
	total := 0
	s := New(Options{Capture: provider, Clock: clk, OnChunk: func(n int) {
		mu.Lock()
		total += n
		mu.Unlock()
	}})
	defer s.Close()

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	provider.last().feed(2)

	mu.Lock()
	defer mu.Unlock()
	if total != 2*testFormat.BytesPerSecond() {
		t.Errorf("Expected %d bytes, got %d", 2*testFormat.BytesPerSecond(), total)
	}
	if got := s.Snapshot().CapturedBytes; got != total {
		t.Errorf("Expected snapshot captured bytes %d, got %d", total, got)
	}
}
