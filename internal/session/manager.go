package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/media"
)

// Manager sequences capture, recording, inference and archival for one
// capture session. At most one clip is in flight at a time.
type Manager struct {
	capture  Capture
	recorder Recorder
	pipeline Pipeline
	archiver Archiver
	sink     EventSink
	ownerID  string
	now      func() time.Time

	// ops serializes control operations; mu guards state.
	ops sync.Mutex

	mu               sync.Mutex
	state            State
	reason           string
	releaseRequested bool

	inflight sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
}

func NewManager(capture Capture, recorder Recorder, pipeline Pipeline, archiver Archiver, sink EventSink, ownerID string) *Manager {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		capture:  capture,
		recorder: recorder,
		pipeline: pipeline,
		archiver: archiver,
		sink:     sink,
		ownerID:  ownerID,
		now:      time.Now,
		state:    NoPermission,
		runCtx:   runCtx,
		cancel:   cancel,
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Reason: m.reason}
}

// AcquireStream requests the capture devices. It is allowed from NoPermission
// and Error.
func (m *Manager) AcquireStream(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if state := m.Status().State; state != NoPermission && state != Error {
		return m.reject("acquire stream", state)
	}

	if _, err := m.capture.Acquire(ctx); err != nil {
		m.transition(NoPermission, err.Error(), Event{Type: EventStreamFailed, Err: err})
		return err
	}

	m.transition(Streaming, "", Event{Type: EventStreamStarted})
	return nil
}

// ReleaseStream frees the capture devices. It is a no-op without a stream.
// A clip being recorded is stopped and, like a clip already being processed,
// still goes through inference and archival; the session then ends in
// NoPermission.
func (m *Manager) ReleaseStream(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.releaseLocked(ctx)
}

func (m *Manager) releaseLocked(ctx context.Context) error {
	switch m.Status().State {
	case NoPermission, Error:
		return nil
	case Recording:
		if err := m.stopRecordingLocked(ctx); err != nil && !errors.Is(err, media.ErrEmptyCapture) {
			slog.Warn("stop recording on release failed", "error", err)
		}
	}

	releaseErr := m.capture.Release()

	m.mu.Lock()
	processing := m.state == Processing
	if processing {
		m.releaseRequested = true
	} else {
		m.state = NoPermission
		m.reason = ""
	}
	m.mu.Unlock()

	m.publish(Event{Type: EventStreamStopped, Err: releaseErr})
	if releaseErr != nil {
		return fmt.Errorf("release stream: %w", releaseErr)
	}
	return nil
}

func (m *Manager) StartRecording(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.startRecordingLocked(ctx, false)
}

func (m *Manager) startRecordingLocked(ctx context.Context, periodic bool) error {
	if state := m.Status().State; state != Streaming {
		if periodic {
			m.publish(Event{Type: EventRecordingSkipped, Reason: "busy while " + state.String()})
			return fmt.Errorf("%w: start recording while %s", ErrInvalidState, state)
		}
		return m.reject("start recording", state)
	}

	if err := m.recorder.Start(ctx, m.capture.Stream()); err != nil {
		// The stream can no longer be recorded from; give the devices back.
		if releaseErr := m.capture.Release(); releaseErr != nil {
			slog.Warn("release after recorder failure failed", "error", releaseErr)
		}
		m.transition(Error, err.Error(), Event{Type: EventRecordingFailed, Err: err})
		return err
	}

	m.transition(Recording, "", Event{Type: EventRecordingStarted})
	return nil
}

// StopRecording finalizes the clip and hands it to the pipeline. It returns
// once the clip is captured; inference and archival report through events.
func (m *Manager) StopRecording(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if state := m.Status().State; state != Recording {
		return m.reject("stop recording", state)
	}
	return m.stopRecordingLocked(ctx)
}

func (m *Manager) stopRecordingLocked(ctx context.Context) error {
	clip, err := m.recorder.Stop(ctx)
	if err != nil {
		m.transition(Streaming, "", Event{Type: EventRecordingFailed, Err: err})
		return err
	}

	m.transition(Processing, "", Event{Type: EventRecordingStopped})

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.process(clip)
	}()
	return nil
}

func (m *Manager) process(clip media.Clip) {
	ctx := m.runCtx

	result, err := m.pipeline.Run(ctx, clip, func(p inference.Progress) {
		// A stage 1 failure ends processing and is reported by finish.
		if p.Stage == inference.StageTranscribe && p.Outcome == inference.Failed {
			return
		}
		m.publish(Event{Type: progressEventType(p), Err: p.Err})
	})
	if err != nil {
		m.finish(Event{Type: EventInferenceStage1Failed, Err: err})
		return
	}

	rec, err := m.archiver.Archive(ctx, clip, result, m.ownerID)
	if err != nil {
		m.finish(Event{Type: EventArchiveFailed, Err: err})
		return
	}
	m.finish(Event{Type: EventArchiveOK, Record: &rec})
}

// finish leaves Processing and publishes the event that ended it.
func (m *Manager) finish(evt Event) {
	m.mu.Lock()
	next := Streaming
	if m.releaseRequested {
		next = NoPermission
		m.releaseRequested = false
	}
	m.state = next
	m.reason = ""
	m.mu.Unlock()

	m.emit(evt, Status{State: next})
}

// Drain waits for the in-flight clip, if any, to finish processing.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any recording, releases the stream and drains the in-flight
// clip. If ctx ends first the pipeline is cancelled and the clip abandoned.
func (m *Manager) Close(ctx context.Context) error {
	m.ops.Lock()
	releaseErr := m.releaseLocked(ctx)
	m.ops.Unlock()

	drainErr := m.Drain(ctx)
	if drainErr != nil {
		m.cancel()
		m.inflight.Wait()
	}
	m.cancel()

	return errors.Join(releaseErr, drainErr)
}

func (m *Manager) reject(op string, state State) error {
	err := fmt.Errorf("%w: %s while %s", ErrInvalidState, op, state)
	m.publish(Event{Type: EventRequestRejected, Reason: op, Err: err})
	return err
}

func (m *Manager) transition(next State, reason string, evt Event) {
	m.mu.Lock()
	m.state = next
	m.reason = reason
	m.mu.Unlock()

	m.emit(evt, Status{State: next, Reason: reason})
}

func (m *Manager) publish(evt Event) {
	m.emit(evt, m.Status())
}

func (m *Manager) emit(evt Event, status Status) {
	evt.State = status.State
	if evt.Reason == "" {
		evt.Reason = status.Reason
	}
	if evt.At.IsZero() {
		evt.At = m.now().UTC()
	}

	if evt.Err != nil {
		slog.Warn("session event", "type", evt.Type, "state", evt.State, "error", evt.Err)
	} else {
		slog.Info("session event", "type", evt.Type, "state", evt.State)
	}

	if m.sink != nil {
		m.sink.Publish(evt)
	}
}
