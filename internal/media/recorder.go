package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sjawhar/clipcoach/internal/capture"
)

const DefaultMimeType = `video/webm; codecs="opus,vp8"`

var (
	ErrInvalidState = errors.New("invalid recorder state")
	ErrEmptyCapture = errors.New("no media captured")
)

// Clip is one finalized recording. It is never modified after Stop returns it.
type Clip struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Capture is a running encoder. Fragments delivers encoded media in the
// order it was produced and is closed after the final fragment.
type Capture interface {
	Fragments() <-chan []byte
	Stop() error
	MimeType() string
}

type Encoder interface {
	Start(ctx context.Context, stream *capture.Stream) (Capture, error)
}

type State int

const (
	Idle State = iota
	Recording
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Recorder struct {
	encoder      Encoder
	flushTimeout time.Duration
	now          func() time.Time

	mu    sync.Mutex
	state State
	cycle *cycle
}

// cycle is the buffer of one record/stop run. A cycle abandoned on flush
// timeout keeps receiving from its encoder without touching the next one.
type cycle struct {
	capture   Capture
	startedAt time.Time
	drained   chan struct{}

	mu        sync.Mutex
	fragments [][]byte
}

func (c *cycle) drain() {
	defer close(c.drained)
	for frag := range c.capture.Fragments() {
		if len(frag) == 0 {
			continue
		}
		c.mu.Lock()
		c.fragments = append(c.fragments, frag)
		c.mu.Unlock()
	}
}

func (c *cycle) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.fragments
	c.fragments = nil
	return out
}

func NewRecorder(encoder Encoder, flushTimeout time.Duration) *Recorder {
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}
	return &Recorder{encoder: encoder, flushTimeout: flushTimeout, now: time.Now}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins buffering fragments from stream. The buffer belongs to this
// record cycle only; a new cycle starts empty.
func (r *Recorder) Start(ctx context.Context, stream *capture.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return fmt.Errorf("start recording while %s: %w", r.state, ErrInvalidState)
	}
	if !stream.Active() {
		return fmt.Errorf("start recording without an active stream: %w", ErrInvalidState)
	}

	c, err := r.encoder.Start(ctx, stream)
	if err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}

	r.state = Recording
	r.cycle = &cycle{capture: c, startedAt: r.now(), drained: make(chan struct{})}
	go r.cycle.drain()
	return nil
}

// Stop ends the record cycle, waits for the encoder's final fragment and
// returns the fragments concatenated in arrival order.
func (r *Recorder) Stop(ctx context.Context) (Clip, error) {
	r.mu.Lock()
	if r.state != Recording {
		state := r.state
		r.mu.Unlock()
		return Clip{}, fmt.Errorf("stop recording while %s: %w", state, ErrInvalidState)
	}
	r.state = Flushing
	cyc := r.cycle
	r.mu.Unlock()

	stopErr := cyc.capture.Stop()

	timer := time.NewTimer(r.flushTimeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-cyc.drained:
	case <-timer.C:
		waitErr = fmt.Errorf("final fragment not delivered within %s", r.flushTimeout)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	fragments := cyc.take()

	r.mu.Lock()
	r.cycle = nil
	r.state = Idle
	r.mu.Unlock()

	if waitErr != nil {
		return Clip{}, fmt.Errorf("flush recording: %w", waitErr)
	}
	if len(fragments) == 0 {
		if stopErr != nil {
			return Clip{}, fmt.Errorf("%w: %v", ErrEmptyCapture, stopErr)
		}
		return Clip{}, ErrEmptyCapture
	}

	return Clip{
		Data:     bytes.Join(fragments, nil),
		MimeType: cyc.capture.MimeType(),
		Duration: r.now().Sub(cyc.startedAt),
	}, nil
}
