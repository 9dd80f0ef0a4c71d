package app

import (
	"strings"
	"time"

	"taglistbot/internal/budget"
	"taglistbot/internal/config"
	"taglistbot/internal/modules/comments"
	"taglistbot/internal/registry"
	"taglistbot/internal/site"
	"taglistbot/internal/storage"
	"taglistbot/internal/transport/telegram"
	logx "taglistbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled && cfg.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, 0),
		MaxConns:    sc.MaxConns,
	}
}

func mapSiteConfig(cfg *config.Config) site.Config {
	s := cfg.Site
	return site.Config{
		BaseURL:    s.BaseURL,
		Token:      s.Token,
		Account:    s.Account,
		RatePerSec: s.RatePerSec,
		Burst:      s.Burst,
		Timeout:    config.DurationOr(s.Timeout, 15*time.Second),
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func mapCommentsConfig(cfg *config.Config) comments.Config {
	return comments.Config{
		Batch:       cfg.Budget.Modules[budget.ModuleComments].Batch,
		MaxLen:      comments.MaxCommentLen,
		AccountID:   cfg.Site.AccountID,
		MaxCommands: cfg.Budget.Modules[budget.ModuleComments].MaxCommands,
	}
}

func mapRegistrySeed(cfg *config.Config) ([]registry.Taglist, []registry.Tracker) {
	taglists := make([]registry.Taglist, 0, len(cfg.Taglists))
	for _, t := range cfg.Taglists {
		taglists = append(taglists, registry.Taglist{Abbreviation: t.Abbreviation, Description: t.Description, HasRatings: t.HasRatings})
	}
	trackers := make([]registry.Tracker, 0, len(cfg.Trackers))
	for _, t := range cfg.Trackers {
		trackers = append(trackers, registry.Tracker{AccountID: t.AccountID, Name: t.Name, Taglists: append([]string(nil), t.Taglists...)})
	}
	return taglists, trackers
}
