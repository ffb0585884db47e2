package main

import "time"

type Config struct {
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
	Host           string   `env:"HOST,default=localhost"`
	Port           int      `env:"PORT,default=8080"`
	WSPath         string   `env:"WS_PATH,default=/ws"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	StoreBackend    string `env:"STORE_BACKEND,default=file"`
	HistoryFilepath string `env:"HISTORY_FILEPATH,default=data/history.json"`
	SQLiteFilepath  string `env:"SQLITE_FILEPATH,default=data/chat.db"`
	MediaDir        string `env:"MEDIA_DIR,default=data/media"`
	BadgerFilepath  string `env:"BADGER_FILEPATH,default=data/badger"`
	SearchIndexPath string `env:"SEARCH_INDEX_PATH,default=data/search"`

	// ModerationCharReplacement is the rune code point used for masking;
	// 42 is '*'.
	ModerationCharReplacement rune `env:"MODERATION_CHARACTER_REPLACEMENT,default=42"`

	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL,default=1h"`
	// RetentionMaxAge of zero disables the retention worker.
	RetentionMaxAge time.Duration `env:"RETENTION_MAX_AGE,default=0"`
}
