package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"taglistbot/internal/site"
	"taglistbot/internal/storage"
	logx "taglistbot/pkg/logx"
)

const (
	collTaglists = "taglists"
	collTrackers = "trackers"
	collUsers    = "users"
)

var ErrInvalidUser = errors.New("registry: user needs an account id or a name")

// Registry keeps its records as documents in the shared Store.
type Registry struct {
	store storage.Store
	log   logx.Logger

	// serializes read-modify-write of user documents
	userMu sync.Mutex
}

func New(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log.With(logx.String("comp", "registry"))}
}

// Seed writes the configured taglists and trackers, replacing entries with the same key.
func (r *Registry) Seed(ctx context.Context, taglists []Taglist, trackers []Tracker) error {
	for _, t := range taglists {
		if strings.TrimSpace(t.Abbreviation) == "" {
			return errors.New("registry: taglist without abbreviation")
		}
		if err := r.put(ctx, collTaglists, strings.ToLower(t.Abbreviation), t); err != nil {
			return err
		}
	}
	for _, t := range trackers {
		if t.AccountID == 0 {
			return fmt.Errorf("registry: tracker %q without account id", t.Name)
		}
		if err := r.put(ctx, collTrackers, strconv.FormatInt(t.AccountID, 10), t); err != nil {
			return err
		}
	}
	r.log.Info("registry seeded", logx.Int("taglists", len(taglists)), logx.Int("trackers", len(trackers)))
	return nil
}

func (r *Registry) Taglists(ctx context.Context) ([]Taglist, error) {
	return list[Taglist](ctx, r.store, collTaglists)
}

func (r *Registry) Taglist(ctx context.Context, abbrev string) (Taglist, bool, error) {
	return get[Taglist](ctx, r.store, collTaglists, strings.ToLower(strings.TrimSpace(abbrev)))
}

func (r *Registry) Trackers(ctx context.Context) ([]Tracker, error) {
	return list[Tracker](ctx, r.store, collTrackers)
}

func (r *Registry) TrackerByAccount(ctx context.Context, accountID int64) (Tracker, bool, error) {
	return get[Tracker](ctx, r.store, collTrackers, strconv.FormatInt(accountID, 10))
}

func (r *Registry) User(ctx context.Context, u User) (User, bool, error) {
	key, err := userKey(u)
	if err != nil {
		return User{}, false, err
	}
	return get[User](ctx, r.store, collUsers, key)
}

// StoreUser persists u, merging with a stored user of the same identity.
func (r *Registry) StoreUser(ctx context.Context, u User) error {
	key, err := userKey(u)
	if err != nil {
		return err
	}
	r.userMu.Lock()
	defer r.userMu.Unlock()

	cur, ok, err := get[User](ctx, r.store, collUsers, key)
	if err != nil {
		return err
	}
	if !ok {
		cur = User{AccountID: u.AccountID, Name: u.Name}
	}
	merged := cur.merge(u)
	if err := r.put(ctx, collUsers, key, merged); err != nil {
		return err
	}
	r.log.Debug("user stored", logx.String("user", merged.Name), logx.Int("subscriptions", len(merged.Subscriptions)))
	return nil
}

// Attributable returns the tracker's taglists that the tracker mentioned in
// its own comments on the post, in the tracker's configured order.
func (r *Registry) Attributable(ctx context.Context, comments []site.Comment, tr Tracker) ([]Taglist, error) {
	words := map[string]bool{}
	for _, c := range comments {
		if c.AuthorID != tr.AccountID {
			continue
		}
		for _, w := range strings.FieldsFunc(c.Text, isWordSep) {
			words[strings.ToLower(w)] = true
		}
	}
	var out []Taglist
	for _, abbrev := range tr.Taglists {
		if !words[strings.ToLower(abbrev)] {
			continue
		}
		tl, ok, err := r.Taglist(ctx, abbrev)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.log.Warn("tracker references unknown taglist", logx.String("tracker", tr.Name), logx.String("taglist", abbrev))
			continue
		}
		out = append(out, tl)
	}
	return out, nil
}

func isWordSep(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
}

func userKey(u User) (string, error) {
	if u.AccountID != 0 {
		return strconv.FormatInt(u.AccountID, 10), nil
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return "name:" + strings.ToLower(name), nil
	}
	return "", ErrInvalidUser
}

func (r *Registry) put(ctx context.Context, coll, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.store.PutDocument(ctx, coll, key, b); err != nil {
		return fmt.Errorf("registry: put %s/%s: %w", coll, key, err)
	}
	return nil
}

func get[T any](ctx context.Context, st storage.Store, coll, key string) (T, bool, error) {
	var v T
	b, ok, err := st.GetDocument(ctx, coll, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, fmt.Errorf("registry: decode %s/%s: %w", coll, key, err)
	}
	return v, true, nil
}

func list[T any](ctx context.Context, st storage.Store, coll string) ([]T, error) {
	docs, err := st.ListDocuments(ctx, coll)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Data, &v); err != nil {
			return nil, fmt.Errorf("registry: decode %s/%s: %w", coll, d.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
