package server

import (
	"time"

	"github.com/sjawhar/clipcoach/internal/session"
	"github.com/sjawhar/clipcoach/internal/storage"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SessionEvent struct {
	Event
	State  string              `json:"state"`
	Reason string              `json:"reason,omitempty"`
	Error  string              `json:"error,omitempty"`
	Record *storage.ClipRecord `json:"record,omitempty"`
}

type AutoChangedEvent struct {
	Event
	Auto bool `json:"auto"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func newSessionEvent(evt session.Event) SessionEvent {
	out := SessionEvent{
		Event:  newEvent(string(evt.Type), evt.At),
		State:  evt.State.String(),
		Reason: evt.Reason,
		Record: evt.Record,
	}
	if evt.Err != nil {
		out.Error = evt.Err.Error()
	}
	return out
}
