// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"

	"stockwatch/internal/source"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	CheckInterval  time.Duration
	Concurrency    int
	RequestTimeout time.Duration

	// Sources maps adapter names to their enable flag.
	Sources map[string]bool
	// SearchBaseURL overrides the search proxy root of the marketplace adapters.
	SearchBaseURL string
	// FeedURLTemplate is the RSS search URL of the feed adapter, with %s
	// standing for the escaped query.
	FeedURLTemplate string
	// StockFloors holds per-adapter overrides of the stock threshold.
	StockFloors map[string]int
}

var sourceDefaults = map[string]bool{
	source.Mercari:      true,
	source.YahooAuction: true,
	source.Surugaya:     true,
	source.FeedSource:   false,
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	token := str(k, "telegram_bot_token", "")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     str(k, "database_path", "./data/stockwatch.db"),
		LogLevel:         str(k, "log_level", "info"),
		SearchBaseURL:    str(k, "search_base_url", ""),
		FeedURLTemplate:  str(k, "feed_url_template", ""),
		Sources:          make(map[string]bool),
		StockFloors:      make(map[string]int),
	}

	var err error
	if cfg.AllowedUsers, err = parseUsers(str(k, "allowed_users", "")); err != nil {
		return nil, err
	}

	interval, err := positiveInt(k, "check_interval", 60)
	if err != nil {
		return nil, err
	}
	cfg.CheckInterval = time.Duration(interval) * time.Second

	if cfg.Concurrency, err = positiveInt(k, "concurrency", 3); err != nil {
		return nil, err
	}

	timeout, err := positiveInt(k, "request_timeout", 20)
	if err != nil {
		return nil, err
	}
	cfg.RequestTimeout = time.Duration(timeout) * time.Second

	for _, name := range source.Names() {
		on, err := boolean(k, "enable_"+name, sourceDefaults[name])
		if err != nil {
			return nil, err
		}
		cfg.Sources[name] = on

		raw := str(k, "stock_floor_"+name, "")
		if raw == "" {
			continue
		}
		floor, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envName("stock_floor_"+name), err)
		}
		cfg.StockFloors[name] = floor
	}

	if cfg.Sources[source.FeedSource] && cfg.FeedURLTemplate == "" {
		return nil, fmt.Errorf("FEED_URL_TEMPLATE is required when ENABLE_FEED is set")
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	return len(c.AllowedUsers) == 0 || lo.Contains(c.AllowedUsers, userID)
}

// SourceOptions builds the adapter construction options.
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		BaseURL:     c.SearchBaseURL,
		FeedURL:     c.FeedURLTemplate,
		StockFloors: c.StockFloors,
		Timeout:     c.RequestTimeout,
	}
}

// str returns the value of key, or def when it is unset or empty.
func str(k *koanf.Koanf, key, def string) string {
	if v := strings.TrimSpace(k.String(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(k *koanf.Koanf, key string, def int) (int, error) {
	raw := str(k, key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", envName(key), n)
	}
	return n, nil
}

func boolean(k *koanf.Koanf, key string, def bool) (bool, error) {
	raw := str(k, key, "")
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	return b, nil
}

func parseUsers(raw string) ([]int64, error) {
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

func envName(key string) string {
	return strings.ToUpper(key)
}
