package audio

import (
	"fmt"
	"strings"
	"time"
)

// Encoding is the container a clip is exported in.
type Encoding string

const (
	EncodingWAV  Encoding = "wav"
	EncodingFLAC Encoding = "flac"
)

// ParseEncoding accepts "wav" or "flac" in any case.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case EncodingWAV:
		return EncodingWAV, nil
	case EncodingFLAC:
		return EncodingFLAC, nil
	default:
		return "", fmt.Errorf("unsupported clip encoding %q (valid: wav, flac)", s)
	}
}

func (e Encoding) Extension() string { return string(e) }

func (e Encoding) ContentType() string {
	switch e {
	case EncodingFLAC:
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

// Clip is a finalized recording. It is immutable once built.
type Clip struct {
	pcm       []byte
	format    Format
	createdAt time.Time
}

// NewClip takes ownership of pcm.
func NewClip(pcm []byte, format Format, createdAt time.Time) *Clip {
	return &Clip{pcm: pcm, format: format, createdAt: createdAt}
}

func (c *Clip) Format() Format       { return c.format }
func (c *Clip) CreatedAt() time.Time { return c.createdAt }
func (c *Clip) Size() int            { return len(c.pcm) }

func (c *Clip) Duration() time.Duration {
	return c.format.Duration(len(c.pcm))
}

// PCM returns the raw samples. Callers must not modify them.
func (c *Clip) PCM() []byte { return c.pcm }

// Encode renders the clip in the given container.
func (c *Clip) Encode(enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingWAV:
		return EncodeWAV(c.pcm, c.format)
	case EncodingFLAC:
		return EncodeFLAC(c.pcm, c.format)
	default:
		return nil, fmt.Errorf("unsupported clip encoding %q", enc)
	}
}

// DownloadName returns the file name offered for a client-side save.
func DownloadName(day time.Time, enc Encoding) string {
	return fmt.Sprintf("recording-%s.%s", day.UTC().Format("2006-01-02"), enc.Extension())
}
