package storage

import (
	"context"
	"errors"
	"strings"

	logx "taglistbot/pkg/logx"
)

// Store is the persistence API used by the queue and the registry.
type Store interface {
	// InsertAction stores r and returns its id. A structurally identical
	// record that is already stored is not duplicated; its id is returned.
	InsertAction(ctx context.Context, r ActionRecord) (int64, error)
	// DeleteAction removes r by id when r.ID > 0, else by structural identity.
	// It reports whether a row was removed; a missing row is not an error.
	DeleteAction(ctx context.Context, r ActionRecord) (bool, error)
	// ListActions returns every record of kind in insertion order.
	ListActions(ctx context.Context, kind string) ([]ActionRecord, error)

	PutDocument(ctx context.Context, collection, key string, data []byte) error
	GetDocument(ctx context.Context, collection, key string) ([]byte, bool, error)
	ListDocuments(ctx context.Context, collection string) ([]Document, error)

	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
