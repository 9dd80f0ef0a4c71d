package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "taglistbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only journal replayed on open)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	nextID  int64
	actions map[int64]ActionRecord
	byKey   map[string]int64
	docs    map[string]Document // collection + "\x00" + key

	writes       int
	compactEvery int
}

const (
	opActionPut = "action.put"
	opActionDel = "action.del"
	opDocPut    = "doc.put"
)

type journalEntry struct {
	Op     string        `json:"op"`
	Action *ActionRecord `json:"action,omitempty"`
	Doc    *Document     `json:"doc,omitempty"`
}

type fileSnapshot struct {
	NextID    int64          `json:"next_id"`
	Actions   []ActionRecord `json:"actions"`
	Documents []Document     `json:"documents"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		nextID:       1,
		actions:      map[int64]ActionRecord{},
		byKey:        map[string]int64{},
		docs:         map[string]Document{},
		compactEvery: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("actions", len(s.actions)), logx.Int("documents", len(s.docs)))
	return s, nil
}

func docKey(collection, key string) string { return collection + "\x00" + key }

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) InsertAction(ctx context.Context, r ActionRecord) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrDisabled
	}
	if id, ok := s.byKey[r.identity()]; ok {
		return id, nil
	}
	r.ID = s.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.appendLocked(journalEntry{Op: opActionPut, Action: &r}); err != nil {
		return 0, err
	}
	s.applyActionPut(r)
	return r.ID, nil
}

func (s *fileStore) DeleteAction(ctx context.Context, r ActionRecord) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrDisabled
	}
	id := r.ID
	if id <= 0 {
		id = s.byKey[r.identity()]
	}
	if _, ok := s.actions[id]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalEntry{Op: opActionDel, Action: &ActionRecord{ID: id}}); err != nil {
		return false, err
	}
	s.applyActionDel(id)
	return true, nil
}

func (s *fileStore) ListActions(ctx context.Context, kind string) ([]ActionRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrDisabled
	}
	out := make([]ActionRecord, 0, len(s.actions))
	for _, r := range s.actions {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) PutDocument(ctx context.Context, collection, key string, data []byte) error {
	_ = ctx
	if !json.Valid(data) {
		return errors.New("document is not valid JSON")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	d := Document{Collection: collection, Key: key, Data: append(json.RawMessage(nil), data...), UpdatedAt: time.Now().UTC()}
	if err := s.appendLocked(journalEntry{Op: opDocPut, Doc: &d}); err != nil {
		return err
	}
	s.docs[docKey(collection, key)] = d
	return nil
}

func (s *fileStore) GetDocument(ctx context.Context, collection, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, ErrDisabled
	}
	d, ok := s.docs[docKey(collection, key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), d.Data...), true, nil
}

func (s *fileStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrDisabled
	}
	out := make([]Document, 0)
	for _, d := range s.docs {
		if d.Collection == collection {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *fileStore) applyActionPut(r ActionRecord) {
	s.actions[r.ID] = r
	s.byKey[r.identity()] = r.ID
	if r.ID >= s.nextID {
		s.nextID = r.ID + 1
	}
}

func (s *fileStore) applyActionDel(id int64) {
	if r, ok := s.actions[id]; ok {
		delete(s.byKey, r.identity())
		delete(s.actions, id)
	}
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{NextID: s.nextID}
	for _, r := range s.actions {
		snap.Actions = append(snap.Actions, r)
	}
	sort.Slice(snap.Actions, func(i, j int) bool { return snap.Actions[i].ID < snap.Actions[j].ID })
	for _, d := range s.docs {
		snap.Documents = append(snap.Documents, d)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, r := range snap.Actions {
		s.applyActionPut(r)
	}
	for _, d := range snap.Documents {
		s.docs[docKey(d.Collection, d.Key)] = d
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// torn tail write
			continue
		}
		switch e.Op {
		case opActionPut:
			if e.Action != nil {
				s.applyActionPut(*e.Action)
			}
		case opActionDel:
			if e.Action != nil {
				s.applyActionDel(e.Action.ID)
			}
		case opDocPut:
			if e.Doc != nil {
				s.docs[docKey(e.Doc.Collection, e.Doc.Key)] = *e.Doc
			}
		}
	}
	return sc.Err()
}
