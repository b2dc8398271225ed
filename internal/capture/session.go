package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrAlreadyActive is returned by Acquire while a stream is still held.
	ErrAlreadyActive = errors.New("capture session already active")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Input tells an encoder how to read a track's device.
type Input struct {
	Format string
	Source string
}

type Track interface {
	Kind() Kind
	Label() string
	Input() Input
	Stop() error
}

type Device interface {
	Kind() Kind
	Request(ctx context.Context) (Track, error)
}

// Stream is the merged set of tracks produced by one successful Acquire.
type Stream struct {
	tracks []Track
	active atomic.Bool
}

func newStream(tracks ...Track) *Stream {
	s := &Stream{tracks: tracks}
	s.active.Store(true)
	return s
}

func (s *Stream) Active() bool {
	return s != nil && s.active.Load()
}

func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	return append([]Track(nil), s.tracks...)
}

// Track returns the first track of the given kind, or nil.
func (s *Stream) Track(kind Kind) Track {
	if s == nil {
		return nil
	}
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *Stream) stop() error {
	if !s.active.CompareAndSwap(true, false) {
		return nil
	}
	var errs []error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s track %q: %w", t.Kind(), t.Label(), err))
		}
	}
	return errors.Join(errs...)
}

// Session owns at most one live Stream at a time.
type Session struct {
	audio Device
	video Device

	mu     sync.Mutex
	stream *Stream
}

func NewSession(audio, video Device) *Session {
	return &Session{audio: audio, video: video}
}

// Acquire requests the audio and video devices independently and merges the
// resulting tracks into one Stream. Either request failing fails the whole
// acquisition and stops whatever track the other request obtained.
func (s *Session) Acquire(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream.Active() {
		return nil, ErrAlreadyActive
	}
	if s.audio == nil || s.video == nil {
		return nil, fmt.Errorf("acquire stream: %w", ErrDeviceUnavailable)
	}

	var audioTrack, videoTrack Track
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := request(gctx, s.audio)
		audioTrack = t
		return err
	})
	g.Go(func() error {
		t, err := request(gctx, s.video)
		videoTrack = t
		return err
	})

	if err := g.Wait(); err != nil {
		for _, t := range []Track{audioTrack, videoTrack} {
			if t != nil {
				_ = t.Stop()
			}
		}
		return nil, fmt.Errorf("acquire stream: %w", err)
	}

	s.stream = newStream(videoTrack, audioTrack)
	return s.stream, nil
}

// Release stops every track of the current stream. Calling it without an
// active stream is a no-op.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	err := s.stream.stop()
	s.stream = nil
	return err
}

// Stream returns the live stream, or nil when released.
func (s *Session) Stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stream.Active() {
		return nil
	}
	return s.stream
}

func request(ctx context.Context, d Device) (Track, error) {
	t, err := d.Request(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return nil, fmt.Errorf("request %s: %w", d.Kind(), err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request %s: %w", d.Kind(), ctx.Err())
		}
		return nil, fmt.Errorf("request %s: %w: %v", d.Kind(), ErrDeviceUnavailable, err)
	}
	if t == nil {
		return nil, fmt.Errorf("request %s: %w", d.Kind(), ErrDeviceUnavailable)
	}
	return t, nil
}
