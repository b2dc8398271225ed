package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// TimestampLayout is fixed-width so that lexical order of stored
// timestamps equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

const listPageSize = 50

// ClipRecord is the durable composite of a stored clip and its inference
// result. Records are append-only.
type ClipRecord struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	ClipKey       string    `json:"clip_key"`
	ClipRef       string    `json:"clip_ref"`
	Transcript    string    `json:"transcript"`
	Sentiment     string    `json:"sentiment"`
	CombinedLabel string    `json:"combined_label"`
	Suggestion    *string   `json:"suggestion,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "clipcoach.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS clip_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			clip_key TEXT NOT NULL,
			clip_ref TEXT NOT NULL,
			transcript TEXT NOT NULL,
			sentiment TEXT NOT NULL,
			combined_label TEXT NOT NULL,
			suggestion TEXT,
			timestamp TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create clip_records table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_clip_records_owner_ts ON clip_records(owner_id, timestamp DESC, id DESC)"); err != nil {
		return fmt.Errorf("create clip_records index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Append inserts rec and returns its id. An empty rec.ID gets a fresh UUID.
func (s *SQLiteStore) Append(ctx context.Context, rec ClipRecord) (string, error) {
	if strings.TrimSpace(rec.OwnerID) == "" {
		return "", errors.New("record owner id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var suggestion sql.NullString
	if rec.Suggestion != nil {
		suggestion = sql.NullString{String: *rec.Suggestion, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clip_records(id, owner_id, clip_key, clip_ref, transcript, sentiment, combined_label, suggestion, timestamp)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.OwnerID,
		rec.ClipKey,
		rec.ClipRef,
		rec.Transcript,
		rec.Sentiment,
		rec.CombinedLabel,
		suggestion,
		FormatTimestamp(rec.Timestamp),
	)
	if err != nil {
		return "", fmt.Errorf("append record for owner %s: %w", rec.OwnerID, err)
	}
	return rec.ID, nil
}

// List yields the owner's records newest first. Rows are fetched a page at a
// time, so the sequence is lazy; ranging over it again restarts from the
// newest record.
func (s *SQLiteStore) List(ctx context.Context, ownerID string) iter.Seq2[ClipRecord, error] {
	return func(yield func(ClipRecord, error) bool) {
		var cursorTS, cursorID string
		first := true
		for {
			page, err := s.page(ctx, ownerID, first, cursorTS, cursorID)
			if err != nil {
				yield(ClipRecord{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < listPageSize {
				return
			}
			last := page[len(page)-1]
			cursorTS, cursorID, first = FormatTimestamp(last.Timestamp), last.ID, false
		}
	}
}

func (s *SQLiteStore) page(ctx context.Context, ownerID string, first bool, cursorTS, cursorID string) ([]ClipRecord, error) {
	const columns = `SELECT id, owner_id, clip_key, clip_ref, transcript, sentiment, combined_label, suggestion, timestamp FROM clip_records`

	var (
		rows *sql.Rows
		err  error
	)
	if first {
		rows, err = s.db.QueryContext(ctx,
			columns+` WHERE owner_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
			ownerID, listPageSize)
	} else {
		rows, err = s.db.QueryContext(ctx,
			columns+` WHERE owner_id = ? AND (timestamp < ? OR (timestamp = ? AND id < ?))
			 ORDER BY timestamp DESC, id DESC LIMIT ?`,
			ownerID, cursorTS, cursorTS, cursorID, listPageSize)
	}
	if err != nil {
		return nil, fmt.Errorf("query records for owner %s: %w", ownerID, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]ClipRecord, 0, listPageSize)
	for rows.Next() {
		var rec ClipRecord
		var suggestion sql.NullString
		var ts string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.ClipKey, &rec.ClipRef, &rec.Transcript, &rec.Sentiment, &rec.CombinedLabel, &suggestion, &ts); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		parsed, err := time.Parse(TimestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse record %s timestamp: %w", rec.ID, err)
		}
		rec.Timestamp = parsed
		if suggestion.Valid {
			v := suggestion.String
			rec.Suggestion = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}

	return records, nil
}
