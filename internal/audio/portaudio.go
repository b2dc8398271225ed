// Package audio holds the PortAudio microphone backend. It is the only
// package that links against libportaudio.
package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/sjawhar/clipcoach/internal/capture"
)

const (
	DefaultFormat = "pulse"
	DefaultSource = "default"
)

// PortAudioDevice resolves the host's default input device through
// PortAudio. The encoder reads audio through Input (a PulseAudio or ALSA
// source name); PortAudio only answers whether a microphone exists and is
// accessible.
type PortAudioDevice struct {
	input capture.Input
}

var _ capture.Device = (*PortAudioDevice)(nil)

func NewPortAudioDevice(format, source string) *PortAudioDevice {
	if format == "" {
		format = DefaultFormat
	}
	if source == "" {
		source = DefaultSource
	}
	return &PortAudioDevice{input: capture.Input{Format: format, Source: source}}
}

func (d *PortAudioDevice) Kind() capture.Kind { return capture.KindAudio }

func (d *PortAudioDevice) Request(ctx context.Context) (capture.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w: %v", capture.ErrDeviceUnavailable, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels < 1 {
		_ = portaudio.Terminate()
		if err == nil {
			err = fmt.Errorf("no input channels")
		}
		return nil, fmt.Errorf("default input device: %w: %v", capture.ErrDeviceUnavailable, err)
	}

	// Opening a stream is what triggers the platform's microphone permission
	// check; the stream is closed immediately.
	buf := make([]int16, 64)
	stream, err := portaudio.OpenDefaultStream(1, 0, dev.DefaultSampleRate, len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open %s: %w: %v", dev.Name, capture.ErrPermissionDenied, err)
	}
	_ = stream.Close()

	return &micTrack{label: dev.Name, input: d.input}, nil
}

type micTrack struct {
	label string
	input capture.Input

	once sync.Once
	err  error
}

func (t *micTrack) Kind() capture.Kind   { return capture.KindAudio }
func (t *micTrack) Label() string        { return t.label }
func (t *micTrack) Input() capture.Input { return t.input }

func (t *micTrack) Stop() error {
	t.once.Do(func() {
		t.err = portaudio.Terminate()
	})
	return t.err
}
