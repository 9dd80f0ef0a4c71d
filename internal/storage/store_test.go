package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taglistbot/pkg/logx"
)

func openTestStores(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			st, err := Open(context.Background(), Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			require.NoError(t, err)
			return st
		}
	}
	return map[string]func() Store{
		"file":   open("file", "state.json"),
		"sqlite": open("sqlite", "state.db"),
	}
}

func TestStoreActions(t *testing.T) {
	ctx := context.Background()
	for name, open := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			a := ActionRecord{Kind: "comment", TargetID: "abc", ParentID: -1, Body: "hello ; world"}
			b := ActionRecord{Kind: "comment", ParentID: 42, Body: "reply"}
			d := ActionRecord{Kind: "deletion", ParentID: 7}

			idA, err := st.InsertAction(ctx, a)
			require.NoError(t, err)
			idB, err := st.InsertAction(ctx, b)
			require.NoError(t, err)
			_, err = st.InsertAction(ctx, d)
			require.NoError(t, err)
			assert.Greater(t, idA, int64(0))
			assert.Greater(t, idB, idA)

			again, err := st.InsertAction(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, idA, again, "duplicate insert returns existing id")

			list, err := st.ListActions(ctx, "comment")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, idA, list[0].ID)
			assert.Equal(t, "hello ; world", list[0].Body)
			assert.Equal(t, int64(42), list[1].ParentID)

			// id-less delete falls back to structural identity
			ok, err := st.DeleteAction(ctx, b)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = st.DeleteAction(ctx, b)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = st.DeleteAction(ctx, ActionRecord{ID: idA})
			require.NoError(t, err)
			assert.True(t, ok)

			list, err = st.ListActions(ctx, "comment")
			require.NoError(t, err)
			assert.Empty(t, list)

			dels, err := st.ListActions(ctx, "deletion")
			require.NoError(t, err)
			assert.Len(t, dels, 1)
		})
	}
}

func TestStoreDocuments(t *testing.T) {
	ctx := context.Background()
	for name, open := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			require.NoError(t, st.PutDocument(ctx, "users", "2", []byte(`{"name":"b"}`)))
			require.NoError(t, st.PutDocument(ctx, "users", "1", []byte(`{"name":"a"}`)))
			require.NoError(t, st.PutDocument(ctx, "users", "1", []byte(`{"name":"a2"}`)))
			require.Error(t, st.PutDocument(ctx, "users", "3", []byte(`{broken`)))

			got, ok, err := st.GetDocument(ctx, "users", "1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"name":"a2"}`, string(got))

			_, ok, err = st.GetDocument(ctx, "users", "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			docs, err := st.ListDocuments(ctx, "users")
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "1", docs[0].Key)
			assert.Equal(t, "2", docs[1].Key)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	id1, err := st.InsertAction(ctx, ActionRecord{Kind: "comment", TargetID: "x", ParentID: -1, Body: "one"})
	require.NoError(t, err)
	_, err = st.InsertAction(ctx, ActionRecord{Kind: "comment", TargetID: "x", ParentID: -1, Body: "two"})
	require.NoError(t, err)
	_, err = st.DeleteAction(ctx, ActionRecord{ID: id1})
	require.NoError(t, err)
	require.NoError(t, st.PutDocument(ctx, "cursors", "replies", []byte(`17`)))
	require.NoError(t, st.Close())

	st, err = Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	list, err := st.ListActions(ctx, "comment")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "two", list[0].Body)

	id3, err := st.InsertAction(ctx, ActionRecord{Kind: "comment", TargetID: "x", ParentID: -1, Body: "three"})
	require.NoError(t, err)
	assert.Greater(t, id3, list[0].ID, "ids are not reused after reopen")

	cur, ok, err := st.GetDocument(ctx, "cursors", "replies")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "17", string(cur))
}

func TestOpenRejectsUnknownAndDisabled(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "none"}, logx.Nop())
	assert.True(t, errors.Is(err, ErrDisabled))

	_, err = Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err, "postgres without dsn")
}

func TestClosedFileStore(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	_, err = st.InsertAction(context.Background(), ActionRecord{Kind: "comment", TargetID: "x"})
	assert.ErrorIs(t, err, ErrDisabled)
}
