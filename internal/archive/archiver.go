package archive

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/media"
	"github.com/sjawhar/clipcoach/internal/storage"
)

var (
	ErrStorageWriteFailed = errors.New("clip storage write failed")
	ErrRecordWriteFailed  = errors.New("clip record write failed")
)

// BlobStore holds raw clip bytes. Write returns a URI the clip can be
// retrieved from.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// RecordStore is an append-only per-owner record collection. List yields
// newest first.
type RecordStore interface {
	Append(ctx context.Context, rec storage.ClipRecord) (string, error)
	List(ctx context.Context, ownerID string) iter.Seq2[storage.ClipRecord, error]
}

type Archiver struct {
	blobs   BlobStore
	records RecordStore
	now     func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func New(blobs BlobStore, records RecordStore) *Archiver {
	return &Archiver{blobs: blobs, records: records, now: time.Now, last: make(map[string]time.Time)}
}

// ClipKey is the blob key for a clip: {owner}/video-{timestamp}.{ext}.
func ClipKey(ownerID string, ts time.Time, mimeType string) string {
	return fmt.Sprintf("%s/video-%s.%s", ownerID, storage.FormatTimestamp(ts), media.Extension(mimeType))
}

// Archive stores the clip and then the record that references it. The record
// write is only attempted after the blob write returned a URI.
func (a *Archiver) Archive(ctx context.Context, clip media.Clip, result inference.Result, ownerID string) (storage.ClipRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return storage.ClipRecord{}, fmt.Errorf("%w: owner id is required", ErrStorageWriteFailed)
	}

	ts := a.timestamp(ownerID)
	mimeType := clip.MimeType
	if mimeType == "" {
		mimeType = media.DefaultMimeType
	}
	key := ClipKey(ownerID, ts, mimeType)

	uri, err := a.blobs.Write(ctx, key, clip.Data, mimeType)
	if err != nil {
		return storage.ClipRecord{}, fmt.Errorf("%w: %s: %v", ErrStorageWriteFailed, key, err)
	}

	rec := storage.ClipRecord{
		OwnerID:       ownerID,
		ClipKey:       key,
		ClipRef:       uri,
		Transcript:    result.Transcript,
		Sentiment:     result.Sentiment,
		CombinedLabel: result.CombinedLabel(),
		Suggestion:    result.Suggestion,
		Timestamp:     ts,
	}
	id, err := a.records.Append(ctx, rec)
	if err != nil {
		return storage.ClipRecord{}, fmt.Errorf("%w: %s: %v", ErrRecordWriteFailed, key, err)
	}
	rec.ID = id
	return rec, nil
}

// timestamp is strictly increasing per owner so keys never collide, even for
// clips archived within the clock's resolution.
func (a *Archiver) timestamp(ownerID string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now().UTC()
	if last, ok := a.last[ownerID]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	a.last[ownerID] = ts
	return ts
}

func (a *Archiver) ListRecords(ctx context.Context, ownerID string) iter.Seq2[storage.ClipRecord, error] {
	return a.records.List(ctx, ownerID)
}

func (a *Archiver) ReadClip(ctx context.Context, key string) ([]byte, error) {
	return a.blobs.Read(ctx, key)
}
