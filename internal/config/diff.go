package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taglistbot/pkg/logx"
)

// LiveSections are applied on reload. Changes elsewhere need a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange lists the config sections that differ and safe
// fields describing them. Secrets (tokens, dsn) never appear in the fields.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	mark := func(section string, fs ...logx.Field) {
		changed = append(changed, section)
		fields = append(fields, fs...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram",
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.owners", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Site, newCfg.Site) {
		mark("site",
			logx.String("site.base_url", newCfg.Site.BaseURL),
			logx.String("site.account", newCfg.Site.Account),
		)
	}
	if !reflect.DeepEqual(oldCfg.Budget, newCfg.Budget) {
		mark("budget", logx.Int("budget.daily_cap", newCfg.Budget.DailyCap), logx.Strings("budget.modules", moduleNames(newCfg)))
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		mark("scheduler", logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Taglists, newCfg.Taglists) {
		mark("taglists", logx.Int("taglists", len(newCfg.Taglists)))
	}
	if !reflect.DeepEqual(oldCfg.Trackers, newCfg.Trackers) {
		mark("trackers", logx.Int("trackers", len(newCfg.Trackers)))
	}
	return changed, fields
}

// RestartRequired returns the changed sections that reload cannot apply.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func moduleNames(cfg *Config) []string {
	out := make([]string, 0, len(cfg.Budget.Modules))
	for n := range cfg.Budget.Modules {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
