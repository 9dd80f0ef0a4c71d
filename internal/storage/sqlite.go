package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "taglistbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertAction(ctx context.Context, r ActionRecord) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO actions(kind, target_id, parent_id, body, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(kind, target_id, parent_id, body) DO NOTHING`,
		r.Kind, r.TargetID, r.ParentID, r.Body, r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return res.LastInsertId()
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM actions WHERE kind = ? AND target_id = ? AND parent_id = ? AND body = ?`,
		r.Kind, r.TargetID, r.ParentID, r.Body,
	).Scan(&id)
	return id, err
}

func (s *sqliteStore) DeleteAction(ctx context.Context, r ActionRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var (
		res sql.Result
		err error
	)
	if r.ID > 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, r.ID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM actions WHERE kind = ? AND target_id = ? AND parent_id = ? AND body = ?`,
			r.Kind, r.TargetID, r.ParentID, r.Body,
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListActions(ctx context.Context, kind string) ([]ActionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, target_id, parent_id, body, created_at FROM actions WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var (
			r  ActionRecord
			at string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.TargetID, &r.ParentID, &r.Body, &at); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDocument(ctx context.Context, collection, key string, data []byte) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !json.Valid(data) {
		return errors.New("document is not valid JSON")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(collection, key, data, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, key, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetDocument(ctx context.Context, collection, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND key = ?`, collection, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(data), true, nil
}

func (s *sqliteStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data, updated_at FROM documents WHERE collection = ? ORDER BY key`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var key, data, at string
		if err := rows.Scan(&key, &data, &at); err != nil {
			return nil, err
		}
		d := Document{Collection: collection, Key: key, Data: json.RawMessage(data)}
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, d)
	}
	return out, rows.Err()
}
