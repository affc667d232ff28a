//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/audiolibrelab/audiobridge/internal/clock"
)

// malgoProvider captures through miniaudio (CoreAudio, WASAPI, ...).
type malgoProvider struct {
	ctx      *malgo.AllocatedContext
	format   Format
	sourceID string
}

func newDeviceProvider(format Format, sourceID string) (CaptureProvider, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: miniaudio: %v", ErrDeviceUnavailable, err)
	}
	return &malgoProvider{ctx: ctx, format: format, sourceID: sourceID}, nil
}

func (p *malgoProvider) Sources() ([]SourceInfo, error) {
	devices, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var infos []SourceInfo
	for _, d := range devices {
		infos = append(infos, SourceInfo{
			ID:        hex.EncodeToString(d.ID.Pointer()[:]),
			Name:      d.Name(),
			Bluetooth: IsBluetooth(d.Name()),
		})
	}
	return infos, nil
}

func (p *malgoProvider) RequestStream(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &malgoStream{format: p.format}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(p.format.Channels)
	cfg.SampleRate = uint32(p.format.SampleRate)

	if p.sourceID != "" {
		idBytes, err := hex.DecodeString(p.sourceID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid device ID: %v", ErrDeviceUnavailable, err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		cfg.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			cb := s.callback.Load()
			if cb == nil || len(data) == 0 {
				return
			}
			chunk := make([]byte, len(data))
			copy(chunk, data)
			(*cb)(chunk)
		},
	}

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	s.device = dev
	return s, nil
}

func (p *malgoProvider) Close() {
	p.ctx.Uninit()
	p.ctx.Free()
}

type malgoStream struct {
	format   Format
	callback atomic.Pointer[DataCallback]

	mu      sync.Mutex
	device  *malgo.Device
	stopped bool
}

func (s *malgoStream) Format() Format { return s.format }

func (s *malgoStream) SetCallback(cb DataCallback) { s.callback.Store(&cb) }

func (s *malgoStream) ClearCallback() { s.callback.Store(nil) }

func (s *malgoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("stream already released")
	}
	return s.device.Start()
}

func (s *malgoStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.device.Stop()
	s.device.Uninit()
}

// malgoSink plays a cursor through a miniaudio playback device.
type malgoSink struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func newDevicePlayerFor(clk clock.Clock) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: miniaudio: %v", ErrDeviceUnavailable, err)
	}
	return newDevicePlayer(clk, &malgoSink{ctx: ctx}), nil
}

func (k *malgoSink) Open(format Format, c *cursor) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			n := c.read(pOutput)
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		},
	}

	dev, err := malgo.InitDevice(k.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("malgo playback start: %w", err)
	}
	k.device = dev
	return nil
}

func (k *malgoSink) Close() {
	if k.device == nil {
		return
	}
	k.device.Stop()
	k.device.Uninit()
	k.device = nil
}

func (k *malgoSink) Release() {
	k.Close()
	k.ctx.Uninit()
	k.ctx.Free()
}
