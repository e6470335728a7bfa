// Package config loads engine configuration from the environment, with an
// optional .env file, and validates the values the storage layer depends on.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"keelstore/pkg/errs"
)

// Defaults applied when the environment does not specify a value.
const (
	DefaultPageSize        = 16384
	DefaultBufferCount     = 512
	DefaultJournalBlockLen = int64(1_000_000_000)
)

// Config is the engine's startup configuration.
type Config struct {
	VolumePath       string
	JournalPath      string
	PageSize         int
	BufferCount      int
	JournalBlockSize int64
	LogLevel         string
	LogPath          string
	MetricsAddr      string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first if present.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		VolumePath:       getenv("KEELSTORE_VOLUME", "keelstore.v01"),
		JournalPath:      getenv("KEELSTORE_JOURNAL", "keelstore_journal"),
		PageSize:         DefaultPageSize,
		BufferCount:      DefaultBufferCount,
		JournalBlockSize: DefaultJournalBlockLen,
		LogLevel:         getenv("KEELSTORE_LOG_LEVEL", "INFO"),
		LogPath:          os.Getenv("KEELSTORE_LOG_PATH"),
		MetricsAddr:      getenv("KEELSTORE_METRICS_ADDR", ":9187"),
	}

	if s := os.Getenv("KEELSTORE_PAGE_SIZE"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return cfg, errs.Newf(errs.KindInvalidArgument, "invalid KEELSTORE_PAGE_SIZE %q", s)
		}
		cfg.PageSize = v
	}
	if s := os.Getenv("KEELSTORE_BUFFER_COUNT"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return cfg, errs.Newf(errs.KindInvalidArgument, "invalid KEELSTORE_BUFFER_COUNT %q", s)
		}
		cfg.BufferCount = v
	}
	if s := os.Getenv("KEELSTORE_JOURNAL_BLOCK_SIZE"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 {
			return cfg, errs.Newf(errs.KindInvalidArgument, "invalid KEELSTORE_JOURNAL_BLOCK_SIZE %q", s)
		}
		cfg.JournalBlockSize = v
	}

	if err := ValidatePageSize(cfg.PageSize); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ValidatePageSize checks that size is one of the supported page sizes.
func ValidatePageSize(size int) error {
	switch size {
	case 1024, 2048, 4096, 8192, 16384:
		return nil
	}
	return errs.Newf(errs.KindInvalidArgument, "page size %d is not a supported power of two", size)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
