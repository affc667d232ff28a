package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/audiobridge/internal/audio"
	"github.com/audiolibrelab/audiobridge/internal/clock"
	"github.com/audiolibrelab/audiobridge/internal/config"
	"github.com/audiolibrelab/audiobridge/internal/metrics"
	"github.com/audiolibrelab/audiobridge/internal/session"
)

// Service represents the core audio bridge service interface
type Service interface {
	// Phone side
	StartRecording(ctx context.Context) error
	StopRecording()
	Reset()
	StartTransfer()

	// Playback, on either side
	Play() error
	Pause()

	// Laptop side
	Download(format string) (*session.Download, error)
	SaveRecording(format string) (string, error)
	ListRecordings() ([]RecordingInfo, error)
	RecordingPath(name string) (string, error)

	// Information operations
	SetView(view string) error
	Status() Status
	Clip(handle audio.Handle) (*audio.Clip, bool)
	Sources() ([]audio.SourceInfo, error)
	Subscribe(o session.Observer) func()
	GetConfig() *config.Config
	GetLastError() string
	Metrics() *metrics.Metrics

	Close()
}

// Status is the session snapshot plus the text front ends show.
type Status struct {
	session.Snapshot
	Message   string `json:"status_message"`
	LastError string `json:"last_error,omitempty"`
	Backend   string `json:"backend"`
	Format    string `json:"download_format"`
}

// RecordingInfo describes a recording saved on the laptop side
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
	DownloadURL  string    `json:"download_url"`
}

// ErrInvalidView is returned by SetView for names other than phone and laptop.
var ErrInvalidView = errors.New("invalid view")

// Options overrides the collaborators New would build from the config.
type Options struct {
	Capture audio.CaptureProvider
	Player  audio.PlaybackEngine
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// AudioBridgeService is the main service implementation
type AudioBridgeService struct {
	cfg     *config.Config
	capture audio.CaptureProvider
	handles *audio.BlobStore
	session *session.Session
	metrics *metrics.Metrics
	backend string

	unsubscribe func()
	prevMu      sync.Mutex
	prev        session.Snapshot

	// Guards saves into the output directory
	saveMutex sync.Mutex

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service with the capture backend and playback engine
// selected in cfg.
func New(cfg *config.Config) (Service, error) {
	capture, err := audio.NewCaptureProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture backend: %w", err)
	}

	if cfg.Audio.Source != "" {
		sources, err := capture.Sources()
		if err != nil {
			capture.Close()
			return nil, fmt.Errorf("failed to list capture sources: %w", err)
		}
		if err := audio.ValidateSource(cfg.Audio.Source, sources); err != nil {
			capture.Close()
			return nil, err
		}
	}

	clk := clock.New()
	return NewWithOptions(cfg, Options{
		Capture: capture,
		Player:  audio.NewPlaybackEngine(cfg, clk),
		Clock:   clk,
	}), nil
}

// NewWithOptions creates a service around the given collaborators. Missing
// ones default to simulated playback, the wall clock and fresh metrics.
func NewWithOptions(cfg *config.Config, opts Options) *AudioBridgeService {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}

	s := &AudioBridgeService{
		cfg:     cfg,
		capture: opts.Capture,
		handles: audio.NewBlobStore(),
		metrics: opts.Metrics,
		backend: audio.DescribeBackend(cfg),
	}

	s.session = session.New(session.Options{
		Capture:          opts.Capture,
		Handles:          s.handles,
		Player:           opts.Player,
		Clock:            opts.Clock,
		TransferInterval: time.Duration(cfg.Transfer.IntervalMs) * time.Millisecond,
		TransferStep:     cfg.Transfer.StepPercent,
		OnChunk:          opts.Metrics.AddCapturedBytes,
	})
	s.prev = s.session.Snapshot()
	s.unsubscribe = s.session.Subscribe(s.observe)

	slog.Debug("Audio bridge service created", "backend", s.backend)
	return s
}

// observe turns state transitions into metrics.
func (s *AudioBridgeService) observe(snap session.Snapshot) {
	s.prevMu.Lock()
	prev := s.prev
	s.prev = snap
	s.prevMu.Unlock()

	if prev.Transfer == session.TransferTransferring && snap.Transfer == session.TransferCompleted {
		s.metrics.RecordTransferCompleted()
	}
	if prev.Recording == session.RecordingActive && snap.Recording == session.RecordingRecorded {
		s.metrics.RecordRecordingCompleted(snap.ClipSeconds)
	}
	s.metrics.SetLiveHandles(s.handles.Live())
}

// StartRecording acquires the microphone and starts recording
func (s *AudioBridgeService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	before := s.session.Snapshot()

	err := s.session.StartRecording(ctx)
	if err != nil {
		s.metrics.RecordCaptureFailure(failureReason(err))
		s.setLastError(captureNotice(err))
		return err
	}

	s.clearLastError()
	if after := s.session.Snapshot(); before.Recording != session.RecordingActive && after.Recording == session.RecordingActive {
		s.metrics.RecordRecordingStarted()
	}
	return nil
}

// StopRecording finalizes the current take
func (s *AudioBridgeService) StopRecording() {
	s.session.StopRecording()
}

// Reset discards the recording and any transfer
func (s *AudioBridgeService) Reset() {
	s.session.Reset()
	s.clearLastError()
	s.metrics.RecordReset()
}

// StartTransfer starts the simulated hand-off to the laptop
func (s *AudioBridgeService) StartTransfer() {
	before := s.session.Snapshot()
	s.session.StartTransfer()
	if before.Transfer == session.TransferNotStarted && s.session.Snapshot().Transfer == session.TransferTransferring {
		s.metrics.RecordTransferStarted()
	}
}

// Play starts or resumes playback
func (s *AudioBridgeService) Play() error {
	before := s.session.Snapshot()
	if err := s.session.StartPlayback(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to play recording: %v", err))
		return err
	}
	if before.Playback != session.PlaybackPlaying && s.session.Snapshot().Playback == session.PlaybackPlaying {
		s.metrics.RecordPlayback()
	}
	s.clearLastError()
	return nil
}

// Pause pauses playback
func (s *AudioBridgeService) Pause() {
	s.session.PausePlayback()
}

// SetView switches between the phone and laptop views
func (s *AudioBridgeService) SetView(view string) error {
	v, ok := session.ParseView(strings.ToLower(view))
	if !ok {
		return fmt.Errorf("%w: %q (valid: phone, laptop)", ErrInvalidView, view)
	}
	s.session.SetView(v)
	return nil
}

// Download encodes the current clip. An empty format uses output.format.
func (s *AudioBridgeService) Download(format string) (*session.Download, error) {
	if format == "" {
		format = s.cfg.Output.Format
	}
	enc, err := audio.ParseEncoding(format)
	if err != nil {
		return nil, err
	}

	d, err := s.session.Download(enc)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDownload(string(enc), len(d.Data))
	return d, nil
}

// SaveRecording downloads the clip into the output directory and returns
// the written path. Same-day names get a numeric suffix.
func (s *AudioBridgeService) SaveRecording(format string) (string, error) {
	d, err := s.Download(format)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return "", err
	}

	s.saveMutex.Lock()
	defer s.saveMutex.Unlock()

	dir := s.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := uniquePath(filepath.Join(dir, d.Name))
	if err := os.WriteFile(path, d.Data, 0644); err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return "", fmt.Errorf("failed to write recording: %w", err)
	}

	slog.Info("Recording saved", "path", path, "size", formatBytes(int64(len(d.Data))))
	s.clearLastError()
	return path, nil
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ListRecordings returns the recordings saved in the output directory,
// newest first
func (s *AudioBridgeService) ListRecordings() ([]RecordingInfo, error) {
	dir := s.cfg.Output.Directory

	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []RecordingInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	supportedExts := map[string]bool{
		".flac": true,
		".wav":  true,
	}

	recordings := []RecordingInfo{}
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "recording-") {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !supportedExts[ext] {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, RecordingInfo{
			Name:         file.Name(),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    strings.TrimPrefix(ext, "."),
			DownloadURL:  fmt.Sprintf("/recordings/%s", file.Name()),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// RecordingPath resolves a saved recording by file name, refusing anything
// outside the output directory.
func (s *AudioBridgeService) RecordingPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid recording name: %q", name)
	}
	path := filepath.Join(s.cfg.Output.Directory, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("recording not found: %s", name)
	}
	return path, nil
}

// Status returns the current state with a human-readable message
func (s *AudioBridgeService) Status() Status {
	snap := s.session.Snapshot()
	return Status{
		Snapshot:  snap,
		Message:   StatusMessage(snap),
		LastError: s.GetLastError(),
		Backend:   s.backend,
		Format:    s.cfg.Output.Format,
	}
}

// Clip resolves a live playable handle
func (s *AudioBridgeService) Clip(handle audio.Handle) (*audio.Clip, bool) {
	return s.session.Clip(handle)
}

// Sources lists capture sources offered by the backend
func (s *AudioBridgeService) Sources() ([]audio.SourceInfo, error) {
	return s.capture.Sources()
}

func (s *AudioBridgeService) Subscribe(o session.Observer) func() {
	return s.session.Subscribe(o)
}

func (s *AudioBridgeService) GetConfig() *config.Config {
	return s.cfg
}

func (s *AudioBridgeService) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close releases the session and the capture backend
func (s *AudioBridgeService) Close() {
	s.unsubscribe()
	s.session.Close()
	s.metrics.SetLiveHandles(s.handles.Live())
	if s.capture != nil {
		s.capture.Close()
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *AudioBridgeService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *AudioBridgeService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *AudioBridgeService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	default:
		return "other"
	}
}

// captureNotice is the blocking notice shown after a failed acquisition.
func captureNotice(err error) string {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return "Unable to access microphone. Please check your microphone permissions."
	}
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		return "No microphone available. Please connect an input device."
	}
	return fmt.Sprintf("Error accessing microphone: %v", err)
}

// StatusMessage renders the one-line status for a snapshot.
func StatusMessage(snap session.Snapshot) string {
	switch {
	case snap.Closed:
		return "Session closed"
	case snap.Requesting:
		return "Waiting for microphone permission..."
	case snap.Recording == session.RecordingActive:
		return "Recording... " + FormatTime(snap.DurationSeconds)
	case snap.Transfer == session.TransferTransferring:
		return fmt.Sprintf("Transferring to laptop... %d%%", snap.TransferPercent)
	case snap.Transfer == session.TransferCompleted:
		if snap.Playback == session.PlaybackPlaying {
			return "Playing " + FormatTime(snap.PlaybackSeconds) + " / " + FormatTime(snap.DurationSeconds)
		}
		return "Transfer complete. Ready to play on your laptop"
	case snap.Recording == session.RecordingRecorded:
		if snap.Playback == session.PlaybackPlaying {
			return "Playing " + FormatTime(snap.PlaybackSeconds) + " / " + FormatTime(snap.DurationSeconds)
		}
		return "Recording completed " + FormatTime(snap.DurationSeconds)
	default:
		return "Ready to record"
	}
}

// FormatTime renders seconds as MM:SS.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
