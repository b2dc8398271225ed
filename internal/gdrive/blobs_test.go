package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"github.com/sjawhar/clipcoach/internal/storage"
)

// fakeDrive serves the handful of Drive v3 calls the store makes.
type fakeDrive struct {
	mu      sync.Mutex
	uploads [][]byte
	queries []string
	files   map[string][]byte
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.uploads = append(f.uploads, body)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "f1", "webContentLink": "https://drive.example/f1"})
	case r.URL.Query().Get("alt") == "media":
		data, ok := f.files[strings.TrimPrefix(r.URL.Path[strings.LastIndex(r.URL.Path, "/"):], "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	default:
		q := r.URL.Query().Get("q")
		f.queries = append(f.queries, q)
		var files []map[string]string
		if strings.Contains(q, "value='u1/video-a.webm'") {
			files = append(files, map[string]string{"id": "f1"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"files": files})
	}
}

func newTestStore(t *testing.T, fake *fakeDrive) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewBlobStoreWithOptions(context.Background(), "folder-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewBlobStoreWithOptions failed: %v", err)
	}
	return store
}

func TestWriteUploadsClipWithKeyProperty(t *testing.T) {
	fake := &fakeDrive{}
	store := newTestStore(t, fake)

	uri, err := store.Write(context.Background(), "u1/video-a.webm", []byte("b1b2"), "video/webm")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if uri != "https://drive.example/f1" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if len(fake.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(fake.uploads))
	}
	body := string(fake.uploads[0])
	for _, want := range []string{"b1b2", keyProperty, "u1_video-a.webm", "folder-1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in upload body %q", want, body)
		}
	}
}

func TestWriteRejectsInvalidKey(t *testing.T) {
	fake := &fakeDrive{}
	store := newTestStore(t, fake)

	if _, err := store.Write(context.Background(), "../x", []byte("x"), ""); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if len(fake.uploads) != 0 {
		t.Fatal("expected no upload for invalid key")
	}
}

func TestReadDownloadsByKey(t *testing.T) {
	fake := &fakeDrive{files: map[string][]byte{"f1": []byte("b1b2")}}
	store := newTestStore(t, fake)

	data, err := store.Read(context.Background(), "u1/video-a.webm")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "b1b2" {
		t.Fatalf("unexpected data %q", data)
	}
	if len(fake.queries) != 1 || !strings.Contains(fake.queries[0], "'folder-1' in parents") {
		t.Fatalf("unexpected queries %v", fake.queries)
	}
}

func TestReadMissingKey(t *testing.T) {
	store := newTestStore(t, &fakeDrive{})

	if _, err := store.Read(context.Background(), "u1/other.webm"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery(`it's\`); got != `it\'s\\` {
		t.Fatalf("unexpected escape %q", got)
	}
}
