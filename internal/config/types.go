package config

// Config is the whole process configuration. Only the logging section is
// applied on reload; everything else is read once at startup.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Site      SiteConfig      `json:"site"`
	Budget    BudgetConfig    `json:"budget"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Taglists  []TaglistConfig `json:"taglists" validate:"dive"`
	Trackers  []TrackerConfig `json:"trackers" validate:"dive"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warn+ logs to the operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token" validate:"required_if=Enabled true"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

// SiteConfig points at the comment API.
//
//	"site": { "base_url": "https://api.example.com/3", "token": "...", "account": "taglistbot" }
type SiteConfig struct {
	BaseURL    string  `json:"base_url" validate:"required,url"`
	Token      string  `json:"token" validate:"required"`
	Account    string  `json:"account" validate:"required"`
	AccountID  int64   `json:"account_id"`
	Mention    string  `json:"mention"` // defaults to account
	RatePerSec float64 `json:"rate_per_sec" validate:"gte=0"`
	Burst      int     `json:"burst" validate:"gte=0"`
	Timeout    string  `json:"timeout"`
}

// BudgetConfig splits the daily request cap between modules.
// Omitted modules fall back to the built-in allocation.
type BudgetConfig struct {
	DailyCap int                     `json:"daily_cap" validate:"gte=0"`
	Modules  map[string]ModuleConfig `json:"modules" validate:"dive"`
}

type ModuleConfig struct {
	Quota    int    `json:"quota" validate:"gte=0"`
	Schedule string `json:"schedule" validate:"required"`
	// Batch bounds how many queued actions one cycle processes.
	Batch int `json:"batch" validate:"gte=0"`
	// MaxCommands bounds the inbox commands one cycle runs; comments only.
	MaxCommands int `json:"max_commands,omitempty" validate:"gte=0"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./data/taglistbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3 postgres postgresql pgx"`
	Path        string `json:"path" validate:"required_if=Driver file,required_if=Driver sqlite,required_if=Driver sqlite3"`
	DSN         string `json:"dsn,omitempty" validate:"required_if=Driver postgres,required_if=Driver postgresql,required_if=Driver pgx"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty" validate:"gte=0"`
}

type TaglistConfig struct {
	Abbreviation string `json:"abbreviation" validate:"required"`
	Description  string `json:"description,omitempty"`
	HasRatings   bool   `json:"has_ratings"`
}

type TrackerConfig struct {
	AccountID int64    `json:"account_id" validate:"required"`
	Name      string   `json:"name" validate:"required"`
	Taglists  []string `json:"taglists" validate:"min=1,dive,required"`
}
