package session

import (
	"github.com/audiolibrelab/audiobridge/internal/audio"
)

type RecordingState string

const (
	RecordingIdle     RecordingState = "idle"
	RecordingActive   RecordingState = "recording"
	RecordingRecorded RecordingState = "recorded"
)

type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

type TransferState string

const (
	TransferNotStarted   TransferState = "not-started"
	TransferTransferring TransferState = "transferring"
	TransferCompleted    TransferState = "completed"
)

// View is the side of the hand-off currently shown.
type View string

const (
	ViewPhone  View = "phone"
	ViewLaptop View = "laptop"
)

// ParseView returns the view named s.
func ParseView(s string) (View, bool) {
	switch View(s) {
	case ViewPhone:
		return ViewPhone, true
	case ViewLaptop:
		return ViewLaptop, true
	}
	return "", false
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Recording       RecordingState `json:"recording_state"`
	Playback        PlaybackState  `json:"playback_state"`
	Transfer        TransferState  `json:"transfer_state"`
	DurationSeconds int            `json:"recording_duration_seconds"`
	PlaybackSeconds int            `json:"playback_progress_seconds"`
	TransferPercent int            `json:"transfer_progress_percent"`
	View            View           `json:"active_view"`

	// Requesting is set while a capture permission request is pending.
	Requesting    bool         `json:"requesting_permission"`
	CapturedBytes int          `json:"captured_bytes"`
	Handle        audio.Handle `json:"clip_handle,omitempty"`
	ClipBytes     int          `json:"clip_bytes"`
	ClipSeconds   float64      `json:"clip_seconds"`
	Closed        bool         `json:"closed,omitempty"`
}

// HasClip reports whether a playable clip exists.
func (s Snapshot) HasClip() bool {
	return s.Handle != ""
}

// Observer receives a snapshot after every state change. It is called
// without the session lock held and may call back into the session.
type Observer func(Snapshot)
