package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/audiolibrelab/audiobridge/internal/audio"
	"github.com/audiolibrelab/audiobridge/internal/clock"
	"github.com/audiolibrelab/audiobridge/internal/config"
	"github.com/audiolibrelab/audiobridge/internal/session"
)

func newTestService(t *testing.T) (*AudioBridgeService, *audio.ToneProvider, *clock.Manual) {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Backend = "tone"
	cfg.Audio.SampleRate = 8000
	cfg.Output.Directory = t.TempDir()

	clk := clock.NewManual(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	tone := audio.NewToneProvider(audio.FormatFromConfig(cfg), 440, audio.PermissionGranted, 0)
	svc := NewWithOptions(cfg, Options{
		Capture: tone,
		Player:  audio.NewSimulatedPlayer(clk, 250*time.Millisecond),
		Clock:   clk,
	})
	t.Cleanup(svc.Close)
	return svc, tone, clk
}

// waitForAudio blocks until the tone stream has delivered some samples.
func waitForAudio(t *testing.T, svc *AudioBridgeService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for svc.Status().CapturedBytes == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for captured audio")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recordClip(t *testing.T, svc *AudioBridgeService, clk *clock.Manual) {
	t.Helper()
	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	waitForAudio(t, svc)
	clk.Advance(2 * time.Second)
	svc.StopRecording()
}

func TestPermissionDeniedSetsNotice(t *testing.T) {
	svc, tone, _ := newTestService(t)
	tone.SetPermission(audio.PermissionDenied)

	err := svc.StartRecording(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if !strings.Contains(svc.GetLastError(), "Unable to access microphone") {
		t.Errorf("Expected microphone notice, got %q", svc.GetLastError())
	}
	if got := testutil.ToFloat64(svc.Metrics().CaptureFailures.WithLabelValues("permission_denied")); got != 1 {
		t.Errorf("Expected 1 permission failure, got %v", got)
	}
	if got := svc.Status().Recording; got != session.RecordingIdle {
		t.Errorf("Expected idle after denial, got %s", got)
	}

	tone.SetPermission(audio.PermissionGranted)
	if err := svc.StartRecording(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if svc.GetLastError() != "" {
		t.Errorf("Expected notice cleared after success, got %q", svc.GetLastError())
	}
}

func TestDeviceUnavailableNotice(t *testing.T) {
	svc, tone, _ := newTestService(t)
	tone.SetPermission(audio.PermissionUnavailable)

	if err := svc.StartRecording(context.Background()); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if !strings.Contains(svc.GetLastError(), "No microphone available") {
		t.Errorf("Expected device notice, got %q", svc.GetLastError())
	}
}

func TestRecordTransferDownloadFlow(t *testing.T) {
	svc, tone, clk := newTestService(t)
	recordClip(t, svc, clk)

	status := svc.Status()
	if status.Recording != session.RecordingRecorded || !status.HasClip() {
		t.Fatalf("Expected a recorded clip, got %+v", status.Snapshot)
	}
	if status.Message != "Recording completed 00:02" {
		t.Errorf("Unexpected status message %q", status.Message)
	}
	if tone.Open() != 0 {
		t.Errorf("Expected capture stream released, got %d open", tone.Open())
	}

	svc.StartTransfer()
	clk.Advance(4 * time.Second)
	status = svc.Status()
	if status.Transfer != session.TransferCompleted || status.View != session.ViewLaptop {
		t.Errorf("Expected completed transfer on laptop view, got %s/%s", status.Transfer, status.View)
	}

	m := svc.Metrics()
	if got := testutil.ToFloat64(m.RecordingsStarted); got != 1 {
		t.Errorf("Expected 1 recording started, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecordingsCompleted); got != 1 {
		t.Errorf("Expected 1 recording completed, got %v", got)
	}
	if got := testutil.ToFloat64(m.TransfersStarted); got != 1 {
		t.Errorf("Expected 1 transfer started, got %v", got)
	}
	if got := testutil.ToFloat64(m.TransfersCompleted); got != 1 {
		t.Errorf("Expected 1 transfer completed, got %v", got)
	}
	if got := testutil.ToFloat64(m.LiveHandles); got != 1 {
		t.Errorf("Expected 1 live handle, got %v", got)
	}
	if got := testutil.ToFloat64(m.CapturedBytes); got == 0 {
		t.Error("Expected captured bytes to be counted")
	}

	d, err := svc.Download("")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if d.Name != "recording-2026-10-15.wav" {
		t.Errorf("Expected recording-2026-10-15.wav, got %s", d.Name)
	}

	flacDownload, err := svc.Download("flac")
	if err != nil {
		t.Fatalf("flac Download failed: %v", err)
	}
	if flacDownload.ContentType != "audio/flac" {
		t.Errorf("Expected audio/flac, got %s", flacDownload.ContentType)
	}
	if _, err := svc.Download("ogg"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestSaveAndListRecordings(t *testing.T) {
	svc, _, clk := newTestService(t)

	if _, err := svc.SaveRecording(""); !errors.Is(err, session.ErrNoClip) {
		t.Errorf("Expected ErrNoClip before recording, got %v", err)
	}

	recordClip(t, svc, clk)

	first, err := svc.SaveRecording("")
	if err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	second, err := svc.SaveRecording("flac")
	if err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}
	third, err := svc.SaveRecording("wav")
	if err != nil {
		t.Fatalf("SaveRecording failed: %v", err)
	}

	if filepath.Base(first) != "recording-2026-10-15.wav" {
		t.Errorf("Unexpected first name %s", first)
	}
	if filepath.Base(second) != "recording-2026-10-15.flac" {
		t.Errorf("Unexpected second name %s", second)
	}
	if filepath.Base(third) != "recording-2026-10-15-2.wav" {
		t.Errorf("Expected numbered duplicate, got %s", third)
	}

	recordings, err := svc.ListRecordings()
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(recordings) != 3 {
		t.Fatalf("Expected 3 recordings, got %d", len(recordings))
	}
	for _, r := range recordings {
		if r.Size == 0 || r.SizeHuman == "" {
			t.Errorf("Expected size info for %s", r.Name)
		}
		if r.DownloadURL != "/recordings/"+r.Name {
			t.Errorf("Unexpected download URL %s", r.DownloadURL)
		}
	}

	if _, err := svc.RecordingPath("recording-2026-10-15.wav"); err != nil {
		t.Errorf("Expected saved recording to resolve, got %v", err)
	}
	for _, bad := range []string{"../etc/passwd", "", ".hidden", "missing.wav"} {
		if _, err := svc.RecordingPath(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestListRecordingsMissingDirectory(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.Output.Directory = filepath.Join(t.TempDir(), "nope")
	recordings, err := svc.ListRecordings()
	if err != nil || len(recordings) != 0 {
		t.Errorf("Expected empty list for missing directory, got %v, %v", recordings, err)
	}
}

func TestPlayAndPause(t *testing.T) {
	svc, _, clk := newTestService(t)
	recordClip(t, svc, clk)

	if err := svc.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := svc.Status().Playback; got != session.PlaybackPlaying {
		t.Fatalf("Expected playing, got %s", got)
	}
	svc.Pause()
	if got := svc.Status().Playback; got != session.PlaybackPaused {
		t.Errorf("Expected paused, got %s", got)
	}
	if got := testutil.ToFloat64(svc.Metrics().Playbacks); got != 1 {
		t.Errorf("Expected 1 playback, got %v", got)
	}
}

func TestResetClearsEverything(t *testing.T) {
	svc, tone, clk := newTestService(t)
	recordClip(t, svc, clk)
	svc.StartTransfer()

	svc.Reset()
	status := svc.Status()
	if status.Recording != session.RecordingIdle || status.Transfer != session.TransferNotStarted || status.HasClip() {
		t.Errorf("Expected initial state after reset, got %+v", status.Snapshot)
	}
	if status.Message != "Ready to record" {
		t.Errorf("Unexpected message %q", status.Message)
	}
	if tone.Open() != 0 {
		t.Errorf("Expected no open streams, got %d", tone.Open())
	}
	if got := testutil.ToFloat64(svc.Metrics().LiveHandles); got != 0 {
		t.Errorf("Expected no live handles, got %v", got)
	}
}

func TestSetView(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.SetView("LAPTOP"); err != nil {
		t.Fatalf("SetView failed: %v", err)
	}
	if got := svc.Status().View; got != session.ViewLaptop {
		t.Errorf("Expected laptop, got %s", got)
	}
	if err := svc.SetView("tablet"); !errors.Is(err, ErrInvalidView) {
		t.Errorf("Expected ErrInvalidView, got %v", err)
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		snap session.Snapshot
		want string
	}{
		{session.Snapshot{Recording: session.RecordingIdle}, "Ready to record"},
		{session.Snapshot{Requesting: true}, "Waiting for microphone permission..."},
		{session.Snapshot{Recording: session.RecordingActive, DurationSeconds: 75}, "Recording... 01:15"},
		{session.Snapshot{Recording: session.RecordingRecorded, DurationSeconds: 5}, "Recording completed 00:05"},
		{session.Snapshot{Recording: session.RecordingRecorded, Transfer: session.TransferTransferring, TransferPercent: 45}, "Transferring to laptop... 45%"},
		{session.Snapshot{Recording: session.RecordingRecorded, Transfer: session.TransferCompleted}, "Transfer complete. Ready to play on your laptop"},
		{session.Snapshot{Recording: session.RecordingRecorded, Transfer: session.TransferCompleted, Playback: session.PlaybackPlaying, PlaybackSeconds: 3, DurationSeconds: 9}, "Playing 00:03 / 00:09"},
		{session.Snapshot{Closed: true}, "Session closed"},
	}
	for _, tt := range tests {
		if got := StatusMessage(tt.snap); got != tt.want {
			t.Errorf("StatusMessage(%+v) = %q, expected %q", tt.snap, got, tt.want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatTime(0); got != "00:00" {
		t.Errorf("Expected 00:00, got %s", got)
	}
	if got := FormatTime(3599); got != "59:59" {
		t.Errorf("Expected 59:59, got %s", got)
	}
	if got := formatBytes(512); got != "512 B" {
		t.Errorf("Expected 512 B, got %s", got)
	}
	if got := formatBytes(1536); got != "1.5 KB" {
		t.Errorf("Expected 1.5 KB, got %s", got)
	}
}
