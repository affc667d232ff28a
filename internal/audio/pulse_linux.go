//go:build linux

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/audiolibrelab/audiobridge/internal/clock"
)

// pulseProvider captures through the PulseAudio (or pipewire-pulse) server.
type pulseProvider struct {
	client   *pulse.Client
	format   Format
	sourceID string
}

func newDeviceProvider(format Format, sourceID string) (CaptureProvider, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", ErrDeviceUnavailable, err)
	}
	return &pulseProvider{client: c, format: format, sourceID: sourceID}, nil
}

func (p *pulseProvider) Sources() ([]SourceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var infos []SourceInfo
	for _, s := range sources {
		infos = append(infos, SourceInfo{
			ID:        s.ID(),
			Name:      s.Name(),
			Bluetooth: IsBluetooth(s.Name()) || IsBluetooth(s.ID()),
		})
	}
	return infos, nil
}

func (p *pulseProvider) RequestStream(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var source *pulse.Source
	if p.sourceID != "" && p.sourceID != "default" {
		infos, err := p.Sources()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		info, err := ResolveSource(p.sourceID, infos)
		if err != nil {
			return nil, err
		}
		s, err := p.client.SourceByID(info.ID)
		if err != nil || s == nil {
			return nil, fmt.Errorf("%w: source %q not found", ErrDeviceUnavailable, p.sourceID)
		}
		source = s
	} else {
		s, err := p.client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("%w: no default source: %v", ErrDeviceUnavailable, err)
		}
		source = s
	}
	slog.Debug("Pulse capture stream granted", "source", source.Name())
	return &pulseStream{client: p.client, source: source, format: p.format}, nil
}

func (p *pulseProvider) Close() {
	p.client.Close()
}

type pulseStream struct {
	client   *pulse.Client
	source   *pulse.Source
	format   Format
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
}

func (s *pulseStream) Format() Format { return s.format }

func (s *pulseStream) SetCallback(cb DataCallback) { s.callback.Store(&cb) }

func (s *pulseStream) ClearCallback() { s.callback.Store(nil) }

func (s *pulseStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := s.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		data := make([]byte, len(buf)*2)
		for i, v := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
		}
		(*cb)(data)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(s.format.SampleRate),
		pulse.RecordLatency(0.05),
		pulse.RecordSource(s.source),
	}
	if s.format.Channels == 2 {
		opts = append(opts, pulse.RecordStereo)
	} else {
		opts = append(opts, pulse.RecordMono)
	}

	stream, err := s.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}
	stream.Start()
	s.stream = stream
	return nil
}

func (s *pulseStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return
	}
	s.stream.Stop()
	s.stream.Close()
	s.stream = nil
}

// pulseSink plays a cursor through a PulseAudio playback stream.
type pulseSink struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
}

func newDevicePlayerFor(clk clock.Clock) (*Player, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", ErrDeviceUnavailable, err)
	}
	return newDevicePlayer(clk, &pulseSink{client: c}), nil
}

func (k *pulseSink) Open(format Format, c *cursor) error {
	tmp := make([]byte, 0)
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if c.done() {
			return 0, pulse.EndOfData
		}
		if cap(tmp) < len(buf)*2 {
			tmp = make([]byte, len(buf)*2)
		}
		n := c.read(tmp[:len(buf)*2]) / 2
		for i := 0; i < n; i++ {
			buf[i] = int16(binary.LittleEndian.Uint16(tmp[i*2:]))
		}
		return n, nil
	})

	channels := pulse.PlaybackMono
	vols := proto.ChannelVolumes{uint32(proto.VolumeNorm)}
	if format.Channels == 2 {
		channels = pulse.PlaybackStereo
		vols = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
	}
	stream, err := k.client.NewPlayback(reader,
		channels,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = vols
		}),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	stream.Start()
	k.stream = stream
	return nil
}

func (k *pulseSink) Close() {
	if k.stream == nil {
		return
	}
	k.stream.Stop()
	k.stream.Close()
	k.stream = nil
}

func (k *pulseSink) Release() {
	k.Close()
	k.client.Close()
}
