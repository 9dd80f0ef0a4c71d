package storage

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL, DSN required
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgxpool default
}

// ActionRecord is one persisted outbound action.
// Body holds the encoded payload line; its format belongs to the caller.
type ActionRecord struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"target_id"`
	ParentID  int64     `json:"parent_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// identity is the structural key used for dedup and id-less deletes.
func (r ActionRecord) identity() string {
	return r.Kind + "\x00" + r.TargetID + "\x00" + strconv.FormatInt(r.ParentID, 10) + "\x00" + r.Body
}

// Document is a JSON value addressed by collection and key.
type Document struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
