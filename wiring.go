package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/onnwee/live-moderation/boltstore"
	"github.com/onnwee/live-moderation/chat"
	"github.com/onnwee/live-moderation/config"
	"github.com/onnwee/live-moderation/db"
	"github.com/onnwee/live-moderation/mirror"
	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/server"
	"github.com/onnwee/live-moderation/templates"
	"github.com/onnwee/live-moderation/twitchapi"
	"github.com/onnwee/live-moderation/youtubeapi"
)

// templateStore is the configured template persistence. Store is nil for
// the in-memory backend.
type templateStore struct {
	templates.Store
	close  func()
	checks []server.Check
}

func openTemplateStore(ctx context.Context, cfg *config.Config) (*templateStore, error) {
	switch cfg.TemplateStore {
	case config.StorePostgres:
		database, err := db.Connect(cfg.DBDsn)
		if err != nil {
			return nil, err
		}
		if err := migrateDB(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		return &templateStore{
			Store: db.NewTemplateRepo(database),
			close: func() {
				if err := database.Close(); err != nil {
					slog.Error("failed to close database", slog.Any("err", err))
				}
			},
			checks: []server.Check{{Name: "database", Fn: database.PingContext}},
		}, nil

	case config.StoreBolt:
		bs, err := boltstore.Open(boltstore.Options{Path: cfg.BoltPath})
		if err != nil {
			return nil, err
		}
		slog.Info("bolt template store opened", slog.String("path", cfg.BoltPath), slog.String("component", "boltstore"))
		return &templateStore{
			Store: bs,
			close: func() {
				if err := bs.Close(); err != nil {
					slog.Error("failed to close bolt store", slog.Any("err", err))
				}
			},
		}, nil
	}
	slog.Warn("templates are kept in memory and lost on restart; set TEMPLATE_STORE=postgres or bolt to persist them")
	return &templateStore{close: func() {}}, nil
}

// migrateDB runs versioned migrations, falling back to the embedded DDL for
// databases that predate schema_migrations.
func migrateDB(ctx context.Context, database *sql.DB) error {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return fmt.Errorf("migrate db (both versioned and embedded SQL failed): %w", err)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
		return nil
	}
	slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	return nil
}

// mirrorSet holds the process-wide mirror clients. Each session gets the
// subset matching the platforms it was opened for.
type mirrorSet struct {
	api       *mirror.Client
	nats      *mirror.Publisher
	twitch    *twitchMirrors
	youtube   *youtubeapi.Service
	closeNATS func()
}

func newMirrors(ctx context.Context, cfg *config.Config) (*mirrorSet, error) {
	m := &mirrorSet{}
	if cfg.ModerationAPIURL != "" {
		c, err := mirror.NewClient(ctx, mirror.Config{
			BaseURL:      cfg.ModerationAPIURL,
			ClientID:     cfg.ModerationAPIClientID,
			ClientSecret: cfg.ModerationAPIClientSecret,
			TokenURL:     cfg.ModerationAPITokenURL,
			Timeout:      cfg.MirrorCallTimeout,
		})
		if err != nil {
			return nil, err
		}
		m.api = c
		slog.Info("moderation api mirror enabled", slog.String("url", cfg.ModerationAPIURL), slog.Bool("oauth", cfg.ModerationAPIClientID != ""))
	} else {
		slog.Info("moderation api mirror disabled (MODERATION_API_URL not set)")
	}

	if cfg.NATSURL != "" {
		p, closeFn, err := mirror.ConnectPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		m.nats, m.closeNATS = p, closeFn
		slog.Info("nats event publisher enabled", slog.String("subject", mirror.SubjectPrefix+".>"))
	}

	if cfg.TwitchMirrorEnabled() {
		tw, err := newTwitchMirrors(ctx, cfg)
		if err != nil {
			m.close()
			return nil, err
		}
		m.twitch = tw
	}

	if cfg.YouTubeEnabled() {
		svc, err := youtubeapi.New(ctx, youtubeapi.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			RefreshToken: cfg.YTRefreshToken,
			Scopes:       cfg.YTScopes,
		})
		if err != nil {
			m.close()
			return nil, err
		}
		m.youtube = svc
		slog.Info("youtube live chat mirror enabled")
	}
	return m, nil
}

// twitchMirrors builds a Helix mirror per session channel. Logins are
// resolved with an app token; moderation calls use the moderator's user token.
type twitchMirrors struct {
	lookup      *twitchapi.HelixClient
	helix       *twitchapi.HelixClient
	moderatorID string
	ids         *cache.Cache
}

func newTwitchMirrors(ctx context.Context, cfg *config.Config) (*twitchMirrors, error) {
	var tokens twitchapi.TokenProvider = twitchapi.StaticToken(cfg.TwitchUserToken)
	if cfg.TwitchRefreshToken != "" {
		tokens = twitchapi.NewUserTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchUserToken, cfg.TwitchRefreshToken, time.Time{})
	}
	t := &twitchMirrors{
		lookup: &twitchapi.HelixClient{
			Tokens:   &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID: cfg.TwitchClientID,
		},
		helix: &twitchapi.HelixClient{Tokens: tokens, ClientID: cfg.TwitchClientID},
		ids:   cache.New(time.Hour, 10*time.Minute),
	}
	moderator, err := resolveTwitchID(ctx, t.lookup, cfg.TwitchModeratorID)
	if err != nil {
		return nil, fmt.Errorf("twitch moderator: %w", err)
	}
	t.moderatorID = moderator
	slog.Info("twitch helix mirror enabled", slog.String("moderator_id", moderator))
	return t, nil
}

// forChannel returns a mirror acting on channel's chat. An unknown channel
// is a validation error so the session is not opened.
func (t *twitchMirrors) forChannel(ctx context.Context, channel string) (*twitchapi.Mirror, error) {
	login := strings.ToLower(strings.TrimPrefix(channel, "#"))
	id, ok := t.ids.Get(login)
	if !ok {
		resolved, err := resolveTwitchID(ctx, t.lookup, login)
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			return nil, &moderation.ValidationError{Field: "twitchChannel", Reason: fmt.Sprintf("no twitch channel named %q", channel)}
		}
		if err != nil {
			return nil, fmt.Errorf("resolve twitch channel %s: %w", channel, err)
		}
		t.ids.SetDefault(login, resolved)
		id = resolved
	}
	return &twitchapi.Mirror{Helix: t.helix, BroadcasterID: id.(string), ModeratorID: t.moderatorID}, nil
}

// resolveTwitchID returns v unchanged when it is a numeric user id and
// looks it up as a login otherwise.
func resolveTwitchID(ctx context.Context, hc *twitchapi.HelixClient, v string) (string, error) {
	if v != "" && strings.TrimLeft(v, "0123456789") == "" {
		return v, nil
	}
	return hc.GetUserID(ctx, strings.ToLower(v))
}

// forSession combines the mirrors relevant to opts. Platform mirrors only
// apply when the session names a channel on that platform, and act on that
// channel.
func (m *mirrorSet) forSession(ctx context.Context, opts moderation.SessionOptions) (moderation.Mirror, error) {
	var ms []moderation.Mirror
	if m.api != nil {
		ms = append(ms, m.api)
	}
	if m.nats != nil {
		ms = append(ms, m.nats)
	}
	if m.twitch != nil && opts.TwitchChannel != "" {
		tw, err := m.twitch.forChannel(ctx, opts.TwitchChannel)
		if err != nil {
			return nil, err
		}
		slog.Info("twitch mirror bound to session channel", slog.String("stream_id", opts.StreamID), slog.String("channel", opts.TwitchChannel), slog.String("broadcaster_id", tw.BroadcasterID))
		ms = append(ms, tw)
	}
	if m.youtube != nil && opts.YouTubeLiveChatID != "" {
		ms = append(ms, &youtubeapi.Mirror{Service: m.youtube, LiveChatID: opts.YouTubeLiveChatID})
	}
	return mirror.Combine(ms...), nil
}

func (m *mirrorSet) close() {
	if m.closeNATS != nil {
		m.closeNATS()
	}
}

func newChatFactory(cfg *config.Config, m *mirrorSet) *chat.Factory {
	f := &chat.Factory{
		Flagger: chat.NewFlagger(cfg.ChatFlagKeywords),
		TTL:     cfg.ChatQueueTTL,
		HoldAll: cfg.ChatHoldAll,
		Twitch:  chat.TwitchConfig{Username: cfg.TwitchBotUsername, OAuth: cfg.TwitchOAuthToken},
	}
	if cfg.ChatSeedFromAPI && m.api != nil {
		f.Seeder = m.api
	}
	if m.youtube != nil {
		f.YouTube = m.youtube
	}
	return f
}
