package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taglistbot/pkg/logx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(Config{BaseURL: srv.URL, Token: "tok", Account: "bot", RatePerSec: 1000, Burst: 10}, logx.Nop())
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "success": status/100 == 2, "status": status})
}

func TestCommentsFlattensTree(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gallery/abc/comments", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeEnvelope(w, 200, []map[string]any{
			{"id": 1, "author_id": 10, "author": "tracker", "comment": "tagged A", "parent_id": 0, "children": []map[string]any{
				{"id": 2, "author_id": 11, "author": "u1", "comment": "+sub", "parent_id": 1},
			}},
			{"id": 3, "author_id": 12, "author": "u2", "comment": "nice", "parent_id": 0},
		})
	})

	got, err := c.Comments(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.True(t, got[0].TopLevel())
	assert.Equal(t, int64(1), got[1].ParentID)
	assert.Equal(t, "abc", got[1].PostID)
	assert.Equal(t, "u1", got[1].AuthorName)
}

func TestPostTargets(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		paths = append(paths, r.Method+" "+r.URL.Path+" "+r.PostForm.Get("image_id")+" "+r.PostForm.Get("comment"))
		writeEnvelope(w, 200, map[string]any{"id": 99})
	})

	id, err := c.Post(context.Background(), Target{PostID: "abc", ParentID: NoParent}, "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
	_, err = c.Post(context.Background(), Target{PostID: "abc", ParentID: 5}, "re")
	require.NoError(t, err)

	assert.Equal(t, []string{"POST /comment abc hi", "POST /comment/5 abc re"}, paths)
}

func TestErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 429, map[string]any{"error": "slow down"})
	})
	err := c.Delete(context.Background(), 7)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Status)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestSuccessFalseIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"error":"nope"},"success":false,"status":400}`))
	})
	_, err := c.Replies(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
}

func TestNewHTTPClientValidates(t *testing.T) {
	_, err := NewHTTPClient(Config{BaseURL: "not a url", Account: "bot"}, logx.Nop())
	assert.Error(t, err)
	_, err = NewHTTPClient(Config{BaseURL: "https://api.example.com/3"}, logx.Nop())
	assert.Error(t, err)
}

func TestMeterCountsFailedCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			writeEnvelope(w, 500, map[string]any{"error": "boom"})
			return
		}
		writeEnvelope(w, 200, []any{})
	})
	m := NewMeter(c)
	_, _ = m.Comments(context.Background(), "abc")
	_, _ = m.Replies(context.Background())
	_ = m.Delete(context.Background(), 1)
	assert.Equal(t, 3, m.Count())
}

func TestCappedStopsBeforeIssuing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 200, []any{})
	})
	m := NewMeter(c)
	capped := NewCapped(m, 2)
	_, err := capped.Comments(context.Background(), "abc")
	require.NoError(t, err)
	_, err = capped.Replies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, capped.Left())

	err = capped.Delete(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAllowanceSpent)
	assert.Equal(t, 2, m.Count(), "refused calls are never issued")

	assert.True(t, Retryable(err))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", &APIError{Status: 429})))
	assert.False(t, Retryable(&APIError{Status: 500}))
	assert.Equal(t, 0, NewCapped(m, -3).Left())
}
