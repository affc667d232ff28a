package audio

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/audiolibrelab/audiobridge/internal/clock"
	"github.com/audiolibrelab/audiobridge/internal/config"
)

// BackendType selects where captured audio comes from.
type BackendType string

const (
	BackendTypeDevice BackendType = "device" // PulseAudio on Linux, miniaudio elsewhere
	BackendTypeTone   BackendType = "tone"
	BackendTypeAuto   BackendType = "auto"
)

// PlaybackType selects how clips are played back.
type PlaybackType string

const (
	PlaybackTypeDevice    PlaybackType = "device"
	PlaybackTypeSimulated PlaybackType = "simulated"
	PlaybackTypeAuto      PlaybackType = "auto"
)

// FormatFromConfig returns the capture format configured in cfg.
func FormatFromConfig(cfg *config.Config) Format {
	return Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
}

// NewCaptureProvider creates a capture provider using the backend selected
// in the configuration.
func NewCaptureProvider(cfg *config.Config) (CaptureProvider, error) {
	format := FormatFromConfig(cfg)

	switch determineBackend(cfg) {
	case BackendTypeTone:
		delay := time.Duration(cfg.Audio.Tone.PermissionDelayMs) * time.Millisecond
		return NewToneProvider(format, cfg.Audio.Tone.Frequency, Permission(cfg.Audio.Tone.Permission), delay), nil
	default:
		p, err := newDeviceProvider(format, cfg.Audio.Source)
		if err != nil {
			return nil, err
		}
		slog.Debug("Device capture backend ready", "os", runtime.GOOS, "source", cfg.Audio.Source)
		return p, nil
	}
}

// NewPlaybackEngine creates a playback engine using the configured type.
// A device engine that cannot reach the audio server falls back to
// simulated playback so the rest of the session keeps working.
func NewPlaybackEngine(cfg *config.Config, clk clock.Clock) PlaybackEngine {
	if determinePlayback(cfg) == PlaybackTypeDevice {
		p, err := newDevicePlayerFor(clk)
		if err == nil {
			return p
		}
		slog.Warn("Audio output unavailable, using simulated playback", "error", err)
	}
	return NewSimulatedPlayer(clk, DefaultProgressInterval)
}

// determineBackend determines which capture backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch BackendType(strings.ToLower(cfg.Audio.Backend)) {
	case BackendTypeTone:
		return BackendTypeTone
	case BackendTypeDevice:
		return BackendTypeDevice
	}
	return BackendTypeDevice
}

// determinePlayback resolves "auto" to match the capture backend: real
// capture gets real output, synthetic capture gets simulated output.
func determinePlayback(cfg *config.Config) PlaybackType {
	switch PlaybackType(strings.ToLower(cfg.Audio.Playback)) {
	case PlaybackTypeDevice:
		return PlaybackTypeDevice
	case PlaybackTypeSimulated:
		return PlaybackTypeSimulated
	}
	if determineBackend(cfg) == BackendTypeTone {
		return PlaybackTypeSimulated
	}
	return PlaybackTypeDevice
}

// GetAvailableBackends returns the capture backends usable on this system.
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeDevice, BackendTypeTone}
}

// DescribeBackend returns a one-line summary for logs and the info command.
func DescribeBackend(cfg *config.Config) string {
	device := "pulse"
	if runtime.GOOS != "linux" {
		device = "miniaudio"
	}
	backend := determineBackend(cfg)
	if backend == BackendTypeDevice {
		return fmt.Sprintf("capture=%s(%s) playback=%s", backend, device, determinePlayback(cfg))
	}
	return fmt.Sprintf("capture=%s playback=%s", backend, determinePlayback(cfg))
}
