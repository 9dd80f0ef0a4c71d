package config

import "taglistbot/internal/budget"

// Module defaults used when the budget section omits a module.
var defaultModules = map[string]ModuleConfig{
	budget.ModuleComments: {Quota: 250, Schedule: "@every 1m", Batch: 4},
	budget.ModuleDeletion: {Quota: 50, Schedule: "@every 5m", Batch: 5},
}

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Budget.DailyCap == 0 {
		cfg.Budget.DailyCap = budget.DefaultDailyCap
	}
	if cfg.Budget.Modules == nil {
		cfg.Budget.Modules = map[string]ModuleConfig{}
	}
	for name, def := range defaultModules {
		m, ok := cfg.Budget.Modules[name]
		if !ok {
			cfg.Budget.Modules[name] = def
			continue
		}
		if m.Quota == 0 {
			m.Quota = def.Quota
		}
		if m.Schedule == "" {
			m.Schedule = def.Schedule
		}
		if m.Batch == 0 {
			m.Batch = def.Batch
		}
		cfg.Budget.Modules[name] = m
	}
	if cfg.Site.Mention == "" {
		cfg.Site.Mention = cfg.Site.Account
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = "./data/taglistbot.json"
		}
	}
}
