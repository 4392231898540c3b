// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup; every
// external mirror and chat source is optional and disabled when its credentials are missing.
// HTTP auth, rate limiting and CORS are read by the server package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Template store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Sessions
	JournalCapacity int
	UndoLimit       int
	ExpiryInterval  time.Duration

	// Platform moderation API mirror
	ModerationAPIURL          string
	ModerationAPIClientID     string
	ModerationAPIClientSecret string
	ModerationAPITokenURL     string
	MirrorMaxConcurrent       int
	MirrorMaxRetries          int
	MirrorBackoff             time.Duration
	MirrorCallTimeout         time.Duration

	// Templates
	TemplateStore string
	DBDsn         string
	BoltPath      string

	// Chat queue
	ChatQueueTTL     time.Duration
	ChatFlagKeywords []string
	ChatHoldAll      bool
	ChatSeedFromAPI  bool

	// Twitch
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchModeratorID  string
	TwitchUserToken    string
	TwitchRefreshToken string

	// YouTube
	YTClientID     string
	YTClientSecret string
	YTRefreshToken string
	YTScopes       string

	// NATS
	NATSURL string
}

// Load reads environment variables and applies defaults. Malformed numbers
// and durations are errors rather than silently defaulted.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	cfg.JournalCapacity = envInt("JOURNAL_CAPACITY", 100, &errs)
	cfg.UndoLimit = envInt("UNDO_HISTORY_LIMIT", 0, &errs)
	cfg.ExpiryInterval = envDuration("EXPIRY_TICK_INTERVAL", time.Second, &errs)

	cfg.ModerationAPIURL = strings.TrimRight(os.Getenv("MODERATION_API_URL"), "/")
	cfg.ModerationAPIClientID = os.Getenv("MODERATION_API_CLIENT_ID")
	cfg.ModerationAPIClientSecret = os.Getenv("MODERATION_API_CLIENT_SECRET")
	cfg.ModerationAPITokenURL = os.Getenv("MODERATION_API_TOKEN_URL")
	cfg.MirrorMaxConcurrent = envInt("MIRROR_MAX_CONCURRENT", 4, &errs)
	cfg.MirrorMaxRetries = envInt("MIRROR_MAX_RETRIES", 2, &errs)
	cfg.MirrorBackoff = envDuration("MIRROR_RETRY_BACKOFF", 500*time.Millisecond, &errs)
	cfg.MirrorCallTimeout = envDuration("MIRROR_CALL_TIMEOUT", 10*time.Second, &errs)

	cfg.TemplateStore = strings.ToLower(envOr("TEMPLATE_STORE", StoreMemory))
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.BoltPath = envOr("BOLT_PATH", "data/moderation.db")

	cfg.ChatQueueTTL = envDuration("CHAT_QUEUE_TTL", 10*time.Minute, &errs)
	for _, k := range strings.Split(os.Getenv("CHAT_FLAG_KEYWORDS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.ChatFlagKeywords = append(cfg.ChatFlagKeywords, k)
		}
	}
	cfg.ChatHoldAll = envBool("CHAT_HOLD_ALL")
	cfg.ChatSeedFromAPI = os.Getenv("CHAT_SEED_FROM_API") != "0"

	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchModeratorID = os.Getenv("TWITCH_MODERATOR_ID")
	cfg.TwitchUserToken = os.Getenv("TWITCH_USER_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")

	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRefreshToken = os.Getenv("YT_REFRESH_TOKEN")
	cfg.YTScopes = os.Getenv("YT_SCOPES")

	cfg.NATSURL = os.Getenv("NATS_URL")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.TemplateStore {
	case StoreMemory:
	case StorePostgres:
		if c.DBDsn == "" {
			errs = append(errs, errors.New("TEMPLATE_STORE=postgres requires DB_DSN"))
		}
	case StoreBolt:
		if c.BoltPath == "" {
			errs = append(errs, errors.New("TEMPLATE_STORE=bolt requires BOLT_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TEMPLATE_STORE %q (memory|postgres|bolt)", c.TemplateStore))
	}
	if c.JournalCapacity < 1 {
		errs = append(errs, errors.New("JOURNAL_CAPACITY must be at least 1"))
	}
	if c.UndoLimit < 0 {
		errs = append(errs, errors.New("UNDO_HISTORY_LIMIT must not be negative"))
	}
	if c.MirrorMaxConcurrent < 1 {
		errs = append(errs, errors.New("MIRROR_MAX_CONCURRENT must be at least 1"))
	}
	if c.MirrorMaxRetries < 0 {
		errs = append(errs, errors.New("MIRROR_MAX_RETRIES must not be negative"))
	}
	if (c.ModerationAPIClientID == "") != (c.ModerationAPIClientSecret == "") {
		errs = append(errs, errors.New("MODERATION_API_CLIENT_ID and MODERATION_API_CLIENT_SECRET must be set together"))
	}
	if c.TwitchMirrorEnabled() && c.TwitchUserToken == "" && c.TwitchRefreshToken == "" {
		errs = append(errs, errors.New("twitch mirror requires TWITCH_USER_TOKEN or TWITCH_REFRESH_TOKEN"))
	}
	return errors.Join(errs...)
}

// TwitchMirrorEnabled reports whether Helix moderation calls are configured.
// The broadcaster is taken from each session's channel.
func (c *Config) TwitchMirrorEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchModeratorID != ""
}

// YouTubeEnabled reports whether YouTube live chat moderation is configured.
func (c *Config) YouTubeEnabled() bool {
	return c.YTClientID != "" && c.YTClientSecret != "" && c.YTRefreshToken != ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: want a positive duration", key, v))
		return def
	}
	return d
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
