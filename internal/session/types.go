package session

import (
	"context"

	"github.com/sjawhar/clipcoach/internal/capture"
	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/media"
	"github.com/sjawhar/clipcoach/internal/storage"
)

type Capture interface {
	Acquire(ctx context.Context) (*capture.Stream, error)
	Release() error
	Stream() *capture.Stream
}

type Recorder interface {
	Start(ctx context.Context, stream *capture.Stream) error
	Stop(ctx context.Context) (media.Clip, error)
}

type Pipeline interface {
	Run(ctx context.Context, clip media.Clip, observe inference.Observer) (inference.Result, error)
}

type Archiver interface {
	Archive(ctx context.Context, clip media.Clip, result inference.Result, ownerID string) (storage.ClipRecord, error)
}

type EventSink interface {
	Publish(evt Event)
}
