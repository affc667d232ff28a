package audio

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const flacBlockSize = 4096

// EncodeFLAC losslessly packs PCM-16 data as FLAC. Mono and stereo only.
func EncodeFLAC(pcm []byte, f Format) ([]byte, error) {
	var channels frame.Channels
	switch f.Channels {
	case 1:
		channels = frame.ChannelsMono
	case 2:
		channels = frame.ChannelsLR
	default:
		return nil, fmt.Errorf("flac export supports 1 or 2 channels, got %d", f.Channels)
	}
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}

	samples := pcmToInt16(pcm)
	nFrames := len(samples) / f.Channels

	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(f.SampleRate),
		NChannels:     uint8(f.Channels),
		BitsPerSample: 16,
		NSamples:      uint64(nFrames),
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}

	for start := 0; start < nFrames; start += flacBlockSize {
		end := min(start+flacBlockSize, nFrames)
		n := end - start

		subframes := make([]*frame.Subframe, f.Channels)
		for ch := range subframes {
			s32 := make([]int32, n)
			for i := 0; i < n; i++ {
				s32[i] = int32(samples[(start+i)*f.Channels+ch])
			}
			subframes[ch] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   s32,
				NSamples:  n,
			}
		}

		fr := &frame.Frame{
			Header: frame.Header{
				BlockSize:     uint16(n),
				SampleRate:    uint32(f.SampleRate),
				Channels:      channels,
				BitsPerSample: 16,
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(fr); err != nil {
			return nil, fmt.Errorf("writing flac frame: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}
	return buf.Bytes(), nil
}
