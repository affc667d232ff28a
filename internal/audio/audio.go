package audio

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Capture acquisition failures. Both are terminal for the attempt that
// produced them; callers surface them and wait for the user to retry.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

const bytesPerSample = 2

// BytesPerSecond returns the PCM byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// FrameSize returns the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// Duration converts a PCM byte count to playing time.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Offset converts a playing time to a frame-aligned PCM byte offset.
func (f Format) Offset(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(int64(d) * int64(f.BytesPerSecond()) / int64(time.Second))
	return n - n%f.FrameSize()
}

// DataCallback receives one chunk of captured PCM. The slice is owned by the
// receiver.
type DataCallback func(data []byte)

// SourceInfo describes a capture source offered by a provider.
type SourceInfo struct {
	ID        string `json:"id"` // opaque backend-specific identifier
	Name      string `json:"name"`
	Bluetooth bool   `json:"bluetooth"`
}

// Stream is an exclusively owned capture stream.
type Stream interface {
	Format() Format
	SetCallback(cb DataCallback)
	ClearCallback()
	Start() error
	// Stop releases the underlying device. It is safe to call more than once.
	Stop()
}

// CaptureProvider hands out capture streams.
type CaptureProvider interface {
	Sources() ([]SourceInfo, error)
	// RequestStream may block while the platform asks for access. It fails
	// with ErrPermissionDenied or ErrDeviceUnavailable.
	RequestStream(ctx context.Context) (Stream, error)
	Close()
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", "bluez", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from a device name whether it is a Bluetooth headset,
// which usually drops to narrow-band audio while the microphone is open.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
