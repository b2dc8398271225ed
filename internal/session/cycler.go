package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultClipLength = 2800 * time.Millisecond
	DefaultInterval   = 5 * time.Second
)

// Cycler records a fixed-length clip on a fixed interval. Each tick is an
// ordinary record cycle; a tick that finds the manager busy is skipped, not
// queued.
type Cycler struct {
	manager    *Manager
	clipLength time.Duration
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCycler(manager *Manager, clipLength, interval time.Duration) *Cycler {
	if clipLength <= 0 {
		clipLength = DefaultClipLength
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clipLength >= interval {
		clipLength = interval / 2
	}
	return &Cycler{manager: manager, clipLength: clipLength, interval: interval}
}

func (c *Cycler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Start begins periodic recording. Starting a running cycler is a no-op.
func (c *Cycler) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Stop ends periodic recording and waits for the current tick. A clip being
// recorded is stopped early and still processed.
func (c *Cycler) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Cycler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Cycler) tick(ctx context.Context) {
	m := c.manager

	m.ops.Lock()
	err := m.startRecordingLocked(ctx, true)
	m.ops.Unlock()
	if err != nil {
		if !errors.Is(err, ErrInvalidState) {
			slog.Warn("periodic recording start failed", "error", err)
		}
		return
	}

	timer := time.NewTimer(c.clipLength)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	m.ops.Lock()
	defer m.ops.Unlock()
	// The clip may have been stopped by hand in the meantime.
	if m.Status().State != Recording {
		return
	}
	if err := m.stopRecordingLocked(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("periodic recording stop failed", "error", err)
	}
}
