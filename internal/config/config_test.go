package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taglistbot/internal/budget"
)

const sampleYAML = `
logging:
  level: debug
  console: true
site:
  base_url: https://api.example.com/3
  token: secret
  account: taglistbot
  timeout: 20s
budget:
  modules:
    comments:
      schedule: "@every 2m"
scheduler:
  timezone: UTC
storage:
  driver: sqlite
  path: ./data/state.db
taglists:
  - abbreviation: CATS
    has_ratings: true
  - abbreviation: DOGS
trackers:
  - account_id: 10
    name: tracker
    taglists: [CATS, DOGS]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, budget.DefaultDailyCap, cfg.Budget.DailyCap)
	assert.Equal(t, ModuleConfig{Quota: 250, Schedule: "@every 2m", Batch: 4}, cfg.Budget.Modules[budget.ModuleComments])
	assert.Equal(t, 50, cfg.Budget.Modules[budget.ModuleDeletion].Quota)
	assert.Equal(t, "taglistbot", cfg.Site.Mention)
	assert.Equal(t, 20*time.Second, DurationOr(cfg.Site.Timeout, time.Second))

	tb, err := cfg.BudgetTable()
	require.NoError(t, err)
	assert.Equal(t, 250, tb.QuotaFor(budget.ModuleComments))
}

func TestDecodeIsStrict(t *testing.T) {
	_, err := Decode("c.yaml", []byte("site:\n  base_url: x\n  bogus: 1\n"))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{"site":{}} {"site":{}}`))
	assert.Error(t, err)

	cfg, err := Decode("c.json", []byte(`{"site":{"account":"bot"}}`))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Driver)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(`
telegram:
  enabled: true
site:
  base_url: not a url
  timeout: soon
storage:
  driver: mongo
trackers:
  - account_id: 1
    name: t
    taglists: [NOPE]
`))
	require.NoError(t, err)
	err = Validate(cfg)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	joined := strings.Join(verr.Problems, "\n")
	for _, want := range []string{
		"telegram.token: required",
		"site.base_url: must be a URL",
		"site.token: required",
		"site.account: required",
		"storage.driver: must be one of",
		"site.timeout: invalid duration",
		`trackers.t: unknown taglist "NOPE"`,
	} {
		assert.Contains(t, joined, want)
	}
}

func TestValidateRejectsOversubscribedBudget(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(sampleYAML+`
`))
	require.NoError(t, err)
	cfg.Budget.DailyCap = 300 * 24
	cfg.Budget.Modules["extra"] = ModuleConfig{Quota: 10, Schedule: "1m"}

	err = Validate(cfg)
	var cerr *budget.ConfigurationError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, 310, cerr.Sum)
	assert.Equal(t, 300, cerr.Cap)
}

func TestSummarizeConfigChange(t *testing.T) {
	a, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeConfigChange(a, b)
	assert.Empty(t, changed)

	b.Logging.Level = "warn"
	b.Site.Token = "rotated"
	changed, fields := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "site"}, changed)
	assert.NotEmpty(t, fields)
	assert.Equal(t, []string{"site"}, RestartRequired(changed))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// invalid content is never published
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "token: secret", "token: ''", 1)), 0o600))
	select {
	case <-ch:
		t.Fatal("invalid config published")
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "level: debug", "level: warn", 1)), 0o600))
	select {
	case cfg := <-ch:
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Same(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
}
