package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "taglistbot/pkg/logx"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		id         BIGSERIAL PRIMARY KEY,
		kind       TEXT        NOT NULL,
		target_id  TEXT        NOT NULL DEFAULT '',
		parent_id  BIGINT      NOT NULL DEFAULT -1,
		body       TEXT        NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT actions_identity UNIQUE (kind, target_id, parent_id, body)
	)`,
	`CREATE INDEX IF NOT EXISTS actions_kind ON actions (kind, id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT        NOT NULL,
		key        TEXT        NOT NULL,
		data       JSONB       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, key)
	)`,
}

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	for _, q := range postgresMigrations {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) InsertAction(ctx context.Context, r ActionRecord) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrDisabled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO actions (kind, target_id, parent_id, body, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		r.Kind, r.TargetID, r.ParentID, r.Body, r.CreatedAt,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	var e *pgconn.PgError
	if !errors.As(err, &e) || e.Code != pgerrcode.UniqueViolation {
		return 0, err
	}
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM actions WHERE kind = $1 AND target_id = $2 AND parent_id = $3 AND body = $4`,
		r.Kind, r.TargetID, r.ParentID, r.Body,
	).Scan(&id)
	return id, err
}

func (s *postgresStore) DeleteAction(ctx context.Context, r ActionRecord) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrDisabled
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	if r.ID > 0 {
		tag, err = s.pool.Exec(ctx, `DELETE FROM actions WHERE id = $1`, r.ID)
	} else {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM actions WHERE kind = $1 AND target_id = $2 AND parent_id = $3 AND body = $4`,
			r.Kind, r.TargetID, r.ParentID, r.Body,
		)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) ListActions(ctx context.Context, kind string) ([]ActionRecord, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, target_id, parent_id, body, created_at FROM actions WHERE kind = $1 ORDER BY id`, kind)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ActionRecord, error) {
		var r ActionRecord
		err := row.Scan(&r.ID, &r.Kind, &r.TargetID, &r.ParentID, &r.Body, &r.CreatedAt)
		return r, err
	})
}

func (s *postgresStore) PutDocument(ctx context.Context, collection, key string, data []byte) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if !json.Valid(data) {
		return errors.New("document is not valid JSON")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (collection, key, data, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, key, string(data),
	)
	return err
}

func (s *postgresStore) GetDocument(ctx context.Context, collection, key string) ([]byte, bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, ErrDisabled
	}
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE collection = $1 AND key = $2`, collection, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *postgresStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	rows, err := s.pool.Query(ctx,
		`SELECT key, data, updated_at FROM documents WHERE collection = $1 ORDER BY key`, collection)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		d := Document{Collection: collection}
		var data []byte
		err := row.Scan(&d.Key, &data, &d.UpdatedAt)
		d.Data = json.RawMessage(data)
		return d, err
	})
}
