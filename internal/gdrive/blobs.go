package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sjawhar/clipcoach/internal/storage"
)

// keyProperty is the app property that maps a Drive file back to its blob key.
const keyProperty = "clipcoach_key"

// BlobStore keeps clips as files in one Drive folder.
type BlobStore struct {
	service  *drive.Service
	folderID string
}

func NewBlobStore(ctx context.Context, credPath, folderID string) (*BlobStore, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return NewBlobStoreWithOptions(ctx, folderID, option.WithCredentials(config))
}

func NewBlobStoreWithOptions(ctx context.Context, folderID string, opts ...option.ClientOption) (*BlobStore, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &BlobStore{service: svc, folderID: folderID}, nil
}

func (s *BlobStore) Write(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}

	file := &drive.File{
		Name:          strings.ReplaceAll(key, "/", "_"),
		MimeType:      contentType,
		AppProperties: map[string]string{keyProperty: key},
	}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}

	created, err := s.service.Files.Create(file).
		Media(bytes.NewReader(data)).
		Fields("id", "webContentLink", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive create %s: %w", key, err)
	}

	switch {
	case created.WebContentLink != "":
		return created.WebContentLink, nil
	case created.WebViewLink != "":
		return created.WebViewLink, nil
	default:
		return "https://drive.google.com/file/d/" + created.Id + "/view", nil
	}
}

func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("appProperties has { key='%s' and value='%s' } and trashed = false", keyProperty, escapeQuery(key))
	if s.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(s.folderID))
	}

	list, err := s.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("drive lookup %s: %w", key, err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}

	resp, err := s.service.Files.Get(list.Files[0].Id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", key, err)
	}
	return data, nil
}

func escapeQuery(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}
