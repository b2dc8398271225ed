package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/sjawhar/clipcoach/internal/archive"
	"github.com/sjawhar/clipcoach/internal/capture"
	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/media"
	"github.com/sjawhar/clipcoach/internal/session"
	"github.com/sjawhar/clipcoach/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Controller interface {
	AcquireStream(ctx context.Context) error
	ReleaseStream(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Status() session.Status
}

type RecordSource interface {
	ListRecords(ctx context.Context, ownerID string) iter.Seq2[storage.ClipRecord, error]
	ReadClip(ctx context.Context, key string) ([]byte, error)
}

type AutoControl interface {
	Start()
	Stop()
	Running() bool
}

func registerAPIRoutes(mux *http.ServeMux, hub *Hub, deps Deps) {
	control := func(op func(context.Context) error, okStatus int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := op(r.Context()); err != nil {
				writeJSONError(w, statusForError(err), err.Error())
				return
			}
			writeJSON(w, okStatus, statusPayload(deps))
		}
	}

	mux.HandleFunc("POST /api/stream", control(deps.Controller.AcquireStream, http.StatusOK))
	mux.HandleFunc("DELETE /api/stream", control(deps.Controller.ReleaseStream, http.StatusOK))
	mux.HandleFunc("POST /api/recording", control(deps.Controller.StartRecording, http.StatusOK))
	// Inference and archival continue after the response; progress arrives over /ws.
	mux.HandleFunc("DELETE /api/recording", control(deps.Controller.StopRecording, http.StatusAccepted))

	mux.HandleFunc("POST /api/auto", func(w http.ResponseWriter, r *http.Request) {
		if deps.Auto == nil {
			writeJSONError(w, http.StatusNotImplemented, "periodic recording not configured")
			return
		}
		deps.Auto.Start()
		hub.BroadcastAutoChanged(true)
		writeJSON(w, http.StatusOK, statusPayload(deps))
	})

	mux.HandleFunc("DELETE /api/auto", func(w http.ResponseWriter, r *http.Request) {
		if deps.Auto == nil {
			writeJSONError(w, http.StatusNotImplemented, "periodic recording not configured")
			return
		}
		deps.Auto.Stop()
		hub.BroadcastAutoChanged(false)
		writeJSON(w, http.StatusOK, statusPayload(deps))
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusPayload(deps))
	})

	mux.HandleFunc("GET /api/records", func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			owner = deps.OwnerID
		}
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		records := make([]storage.ClipRecord, 0, min(limit, defaultListLimit))
		for rec, err := range deps.Records.ListRecords(r.Context(), owner) {
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list records: %v", err))
				return
			}
			records = append(records, rec)
			if len(records) == limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("GET /api/clips/{key...}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if err := storage.ValidateKey(key); err != nil {
			writeJSONError(w, http.StatusForbidden, "invalid clip key")
			return
		}

		data, err := deps.Records.ReadClip(r.Context(), key)
		if err != nil {
			writeJSONError(w, statusForError(err), fmt.Sprintf("read clip: %v", err))
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", contentTypeForClip(key))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func statusPayload(deps Deps) map[string]any {
	status := deps.Controller.Status()
	auto := false
	if deps.Auto != nil {
		auto = deps.Auto.Running()
	}
	return map[string]any{
		"state":  status.State.String(),
		"reason": status.Reason,
		"auto":   auto,
	}
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxListLimit), nil
}

func contentTypeForClip(key string) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case ".webm":
		return "video/webm"
	case "":
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, media.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, capture.ErrAlreadyActive):
		return http.StatusServiceUnavailable
	case errors.Is(err, media.ErrEmptyCapture):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidKey):
		return http.StatusForbidden
	case errors.Is(err, inference.ErrUnavailable), errors.Is(err, inference.ErrRejected),
		errors.Is(err, archive.ErrStorageWriteFailed), errors.Is(err, archive.ErrRecordWriteFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
