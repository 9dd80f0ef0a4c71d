package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taglistbot/internal/budget"
	"taglistbot/internal/config"
	"taglistbot/internal/registry"
)

func testConfigYAML(dir string) string {
	return `
logging:
  level: error
site:
  base_url: https://api.example.com/3
  token: secret
  account: taglistbot
  account_id: 99
budget:
  modules:
    deletion:
      schedule: "@every 10m"
      batch: 3
storage:
  driver: file
  path: ` + filepath.Join(dir, "state.json") + `
taglists:
  - abbreviation: CATS
trackers:
  - account_id: 10
    name: tracker
    taglists: [CATS]
`
}

func TestMapping(t *testing.T) {
	cfg, err := config.Decode("c.yaml", []byte(testConfigYAML("/tmp/x")))
	require.NoError(t, err)

	sc := mapStorageConfig(cfg)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, "/tmp/x/state.json", sc.Path)

	site := mapSiteConfig(cfg)
	assert.Equal(t, 15*time.Second, site.Timeout)
	assert.Equal(t, "taglistbot", site.Account)

	cc := mapCommentsConfig(cfg)
	assert.Equal(t, int64(99), cc.AccountID)
	assert.Equal(t, 4, cc.Batch)

	assert.Equal(t, 3, cfg.Budget.Modules[budget.ModuleDeletion].Batch)

	taglists, trackers := mapRegistrySeed(cfg)
	assert.Equal(t, []registry.Taglist{{Abbreviation: "CATS"}}, taglists)
	require.Len(t, trackers, 1)
	assert.Equal(t, int64(10), trackers[0].AccountID)

	lc := mapLogConfig(cfg)
	assert.Equal(t, "error", lc.Level)
	assert.False(t, lc.Telegram.Enabled)
}

func TestMapLogConfigNeedsTelegram(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true
	cfg.Logging.Telegram.ChatID = 5
	assert.False(t, mapLogConfig(cfg).Telegram.Enabled)

	cfg.Telegram.Enabled = true
	lc := mapLogConfig(cfg)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(5), lc.Telegram.ChatID)
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML(dir)), 0o600))

	ctx := context.Background()
	a, err := New(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, a.adapter)

	tr, ok, err := a.registry.TrackerByAccount(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tracker", tr.Name)

	require.NoError(t, a.Start(ctx))
	snap := a.sched.Snapshot()
	require.Len(t, snap.Modules, 2)
	for _, m := range snap.Modules {
		assert.False(t, m.Next.IsZero(), m.Name)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	<-a.Done()
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site: {}\n"), 0o600))
	_, err := New(context.Background(), path)
	assert.Error(t, err)
}
