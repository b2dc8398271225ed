package session

import (
	"fmt"
	"time"

	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/storage"
)

type State int

const (
	NoPermission State = iota
	Streaming
	Recording
	Processing
	Error
)

func (s State) String() string {
	switch s {
	case NoPermission:
		return "no-permission"
	case Streaming:
		return "streaming"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of the orchestrator. Reason is set for Error and for a
// NoPermission caused by a failed acquire.
type Status struct {
	State  State
	Reason string
}

type EventType string

const (
	EventStreamStarted         EventType = "stream-started"
	EventStreamStopped         EventType = "stream-stopped"
	EventStreamFailed          EventType = "stream-failed"
	EventRecordingStarted      EventType = "recording-started"
	EventRecordingStopped      EventType = "recording-stopped"
	EventRecordingFailed       EventType = "recording-failed"
	EventRecordingSkipped      EventType = "recording-skipped"
	EventInferenceStage1Start  EventType = "inference-stage1-started"
	EventInferenceStage1OK     EventType = "inference-stage1-ok"
	EventInferenceStage1Failed EventType = "inference-stage1-failed"
	EventInferenceStage2Start  EventType = "inference-stage2-started"
	EventInferenceStage2OK     EventType = "inference-stage2-ok"
	EventInferenceStage2Failed EventType = "inference-stage2-failed"
	EventArchiveOK             EventType = "archive-ok"
	EventArchiveFailed         EventType = "archive-failed"
	EventRequestRejected       EventType = "request-rejected"
)

// Event is one discrete status change. State is the orchestrator state after
// the change that produced the event.
type Event struct {
	Type   EventType
	State  State
	Reason string
	Err    error
	Record *storage.ClipRecord
	At     time.Time
}

func (e Event) Failed() bool {
	return e.Err != nil
}

func progressEventType(p inference.Progress) EventType {
	switch {
	case p.Stage == inference.StageTranscribe && p.Outcome == inference.Started:
		return EventInferenceStage1Start
	case p.Stage == inference.StageTranscribe && p.Outcome == inference.Succeeded:
		return EventInferenceStage1OK
	case p.Stage == inference.StageTranscribe:
		return EventInferenceStage1Failed
	case p.Outcome == inference.Started:
		return EventInferenceStage2Start
	case p.Outcome == inference.Succeeded:
		return EventInferenceStage2OK
	default:
		return EventInferenceStage2Failed
	}
}
