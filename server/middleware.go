package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/live-moderation/telemetry"
)

type moderatorKey struct{}

// withModerator records who is acting in ctx.
func withModerator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, moderatorKey{}, name)
}

// moderatorFrom returns the moderator authenticated for the request, or ""
// when the API runs without credentials and the caller sent no X-Moderator.
func moderatorFrom(ctx context.Context) string {
	name, _ := ctx.Value(moderatorKey{}).(string)
	return name
}

// credentials maps API tokens and a basic-auth login to moderator names.
type credentials struct {
	tokens   map[string]string // token -> moderator
	user     string
	password string
}

func (c *credentials) enabled() bool {
	return len(c.tokens) > 0 || (c.user != "" && c.password != "")
}

// loadCredentials reads ADMIN_TOKEN, MODERATOR_TOKENS (name:token pairs,
// comma separated) and ADMIN_USERNAME/ADMIN_PASSWORD.
func loadCredentials() *credentials {
	c := &credentials{
		tokens:   map[string]string{},
		user:     os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
	}
	if tok := os.Getenv("ADMIN_TOKEN"); tok != "" {
		c.tokens[tok] = "admin"
	}
	for _, pair := range strings.Split(os.Getenv("MODERATOR_TOKENS"), ",") {
		name, tok, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || tok == "" {
			continue
		}
		c.tokens[tok] = name
	}
	if !c.enabled() {
		slog.Warn("moderator authentication not configured, session and template endpoints are UNPROTECTED. Set MODERATOR_TOKENS, ADMIN_TOKEN or ADMIN_USERNAME+ADMIN_PASSWORD for production")
	}
	return c
}

// identify returns the moderator behind r's credentials.
func (c *credentials) identify(r *http.Request) (string, bool) {
	if tok := r.Header.Get("X-Admin-Token"); tok != "" {
		for known, name := range c.tokens {
			if subtle.ConstantTimeCompare([]byte(tok), []byte(known)) == 1 {
				return name, true
			}
		}
	}
	if c.user == "" || c.password == "" {
		return "", false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.password)) == 1
	return user, userOK && passOK
}

// authenticate resolves the acting moderator and stores it in the request
// context. Without configured credentials the X-Moderator header is trusted.
func authenticate(creds *credentials) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var name string
			if creds.enabled() {
				var ok bool
				if name, ok = creds.identify(r); !ok {
					w.Header().Set("WWW-Authenticate", `Basic realm="live-moderation"`)
					writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
					telemetry.LoggerWithCorr(r.Context()).Warn("moderator auth failed", slog.String("path", r.URL.Path), slog.String("ip", clientIP(r)), slog.String("component", "http"))
					return
				}
			} else {
				name = strings.TrimSpace(r.Header.Get("X-Moderator"))
			}
			ctx := r.Context()
			span := trace.SpanFromContext(ctx)
			if name != "" {
				ctx = withModerator(ctx, name)
				span.SetAttributes(telemetry.ModeratorAttr(name))
			}
			if id := mux.Vars(r)["id"]; id != "" && strings.HasPrefix(r.URL.Path, "/sessions") {
				span.SetAttributes(telemetry.SessionAttr(id))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// limitConfig bounds mutations per moderator and session.
type limitConfig struct {
	enabled bool
	max     int
	window  time.Duration
}

func loadLimitConfig() limitConfig {
	cfg := limitConfig{enabled: os.Getenv("RATE_LIMIT_ENABLED") != "0", max: 120, window: time.Minute}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_REQUESTS")); err == nil && n > 0 {
		cfg.max = n
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); err == nil && n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// hits is the sliding window for one limiter key.
type hits struct {
	mu sync.Mutex
	at []time.Time
}

// mutationLimiter counts mutations per moderator and session in a sliding
// window.
type mutationLimiter struct {
	cfg     limitConfig
	windows *cache.Cache
	now     func() time.Time
}

// newMutationLimiter returns a limiter whose idle windows are dropped until
// ctx is done.
func newMutationLimiter(ctx context.Context, cfg limitConfig) *mutationLimiter {
	l := &mutationLimiter{cfg: cfg, windows: cache.New(2*cfg.window, 0), now: time.Now}
	go func() {
		t := time.NewTicker(cfg.window)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				l.windows.DeleteExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
	return l
}

// allow records a mutation for key. When the window is full it returns
// false and how long until the oldest mutation leaves it.
func (l *mutationLimiter) allow(key string) (bool, time.Duration) {
	if !l.cfg.enabled {
		return true, 0
	}
	_ = l.windows.Add(key, &hits{}, cache.DefaultExpiration)
	v, ok := l.windows.Get(key)
	if !ok {
		return true, 0
	}
	h := v.(*hits)
	l.windows.SetDefault(key, h)

	now := l.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := now.Add(-l.cfg.window)
	h.at = slices.DeleteFunc(h.at, func(t time.Time) bool { return !t.After(cutoff) })
	if len(h.at) >= l.cfg.max {
		return false, h.at[0].Sub(cutoff)
	}
	h.at = append(h.at, now)
	return true, 0
}

// limitKey scopes r to its moderator (or address when anonymous) and the
// session or template collection it targets.
func limitKey(r *http.Request) string {
	who := moderatorFrom(r.Context())
	if who == "" {
		who = "ip:" + clientIP(r)
	}
	scope := "templates"
	if strings.HasPrefix(r.URL.Path, "/sessions") {
		scope = "sessions"
		if id := mux.Vars(r)["id"]; id != "" {
			scope = "session:" + id
		}
	}
	return who + "|" + scope
}

// limitMutations rejects mutations over the limit with 429. Reads pass
// through. It runs after authenticate so the moderator is known.
func limitMutations(l *mutationLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			key := limitKey(r)
			ok, wait := l.allow(key)
			if !ok {
				secs := int((wait + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: fmt.Sprintf("rate limit exceeded: %d mutations per %s", l.cfg.max, l.cfg.window)})
				telemetry.LoggerWithCorr(r.Context()).Warn("rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path), slog.String("component", "http"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller address, preferring the first X-Forwarded-For
// hop. Ports are stripped; bare IPv6 addresses are kept intact.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip, _, _ = strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return strings.Trim(ip, "[]")
}

// corsPolicy decides which browser origins may call the API. Dev mode
// (ENV unset or dev) allows any origin unless CORS_PERMISSIVE=0.
type corsPolicy struct {
	any     bool
	origins []string
}

const corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Moderator, X-Correlation-ID"

func loadCORSPolicy() corsPolicy {
	env := strings.ToLower(os.Getenv("ENV"))
	p := corsPolicy{any: env == "" || env == "dev" || env == "development"}
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		p.any = v == "1" || v == "true"
	}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			p.origins = append(p.origins, o)
		}
	}
	if !p.any && len(p.origins) == 0 {
		slog.Warn("CORS_ALLOWED_ORIGINS is empty, browser clients are blocked")
	}
	return p
}

// allows matches origin exactly or against a "*.example.com" entry.
func (p corsPolicy) allows(origin string) bool {
	for _, o := range p.origins {
		if origin == o {
			return true
		}
		if domain, ok := strings.CutPrefix(o, "*."); ok {
			host := origin
			if _, rest, ok := strings.Cut(origin, "://"); ok {
				host = rest
			}
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
	}
	return false
}

func (p corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		switch origin := r.Header.Get("Origin"); {
		case p.any:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && p.allows(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", "Retry-After, X-Correlation-ID, Location")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
