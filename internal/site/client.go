package site

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "taglistbot/pkg/logx"
)

type Config struct {
	BaseURL    string
	Token      string
	Account    string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

// HTTPClient talks JSON to the site. Requests are paced by a token bucket
// shared by every module.
type HTTPClient struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPClient(cfg Config, log logx.Logger) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("site: invalid base url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Account) == "" {
		return nil, errors.New("site: account is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log.With(logx.String("comp", "site")),
	}, nil
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Status  int             `json:"status"`
}

type wireComment struct {
	ID       int64         `json:"id"`
	PostID   string        `json:"image_id"`
	AuthorID int64         `json:"author_id"`
	Author   string        `json:"author"`
	Comment  string        `json:"comment"`
	ParentID int64         `json:"parent_id"`
	Children []wireComment `json:"children,omitempty"`
}

type errorData struct {
	Error string `json:"error"`
}

func (c *HTTPClient) Comments(ctx context.Context, postID string) ([]Comment, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, errors.New("site: post id is required")
	}
	var tree []wireComment
	if err := c.do(ctx, http.MethodGet, "/gallery/"+url.PathEscape(postID)+"/comments", nil, &tree); err != nil {
		return nil, err
	}
	out := make([]Comment, 0, len(tree))
	flatten(tree, postID, &out)
	return out, nil
}

func (c *HTTPClient) Replies(ctx context.Context) ([]Comment, error) {
	var list []wireComment
	path := "/account/" + url.PathEscape(c.cfg.Account) + "/notifications/replies"
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	out := make([]Comment, 0, len(list))
	flatten(list, "", &out)
	return out, nil
}

func (c *HTTPClient) Post(ctx context.Context, to Target, text string) (int64, error) {
	form := url.Values{}
	form.Set("image_id", to.PostID)
	form.Set("comment", text)
	path := "/comment"
	if to.ParentID >= 0 {
		path = "/comment/" + strconv.FormatInt(to.ParentID, 10)
	}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, path, form, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

func (c *HTTPClient) Delete(ctx context.Context, commentID int64) error {
	return c.do(ctx, http.MethodDelete, "/comment/"+strconv.FormatInt(commentID, 10), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.base.String() + path

	var body io.Reader
	if form != nil {
		body = bytes.NewBufferString(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("site: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("site: read %s: %w", path, err)
	}
	c.log.Debug("request", logx.String("method", method), logx.String("path", path), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode/100 != 2 || (decodeErr == nil && !env.Success) {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			var ed errorData
			if json.Unmarshal(env.Data, &ed) == nil {
				apiErr.Message = ed.Error
			}
			if env.Status != 0 {
				apiErr.Status = env.Status
			}
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("site: decode %s: %w", path, decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("site: decode %s data: %w", path, err)
	}
	return nil
}

// flatten walks the reply tree depth-first, keeping display order.
func flatten(in []wireComment, postID string, out *[]Comment) {
	for _, w := range in {
		parent := w.ParentID
		if parent <= 0 {
			parent = NoParent
		}
		pid := w.PostID
		if pid == "" {
			pid = postID
		}
		*out = append(*out, Comment{
			ID:         w.ID,
			PostID:     pid,
			AuthorID:   w.AuthorID,
			AuthorName: w.Author,
			Text:       w.Comment,
			ParentID:   parent,
		})
		flatten(w.Children, pid, out)
	}
}
