package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/live-moderation/telemetry"
)

// ManagerConfig carries the settings applied to every new session.
type ManagerConfig struct {
	// Mirror returns the external mirror for a session; a nil mirror disables
	// mirroring and an error fails Open. ctx is the session's context.
	Mirror func(ctx context.Context, opts SessionOptions) (Mirror, error)
	// Queue builds the chat message queue for a session. The context is
	// canceled when the session closes. Nil leaves sessions without a queue.
	Queue func(ctx context.Context, opts SessionOptions) (MessageQueue, error)
	Notes NoteSource
	Clock func() time.Time

	Dispatch        DispatcherConfig
	JournalCapacity int
	UndoLimit       int
	ExpiryInterval  time.Duration
}

// SessionInfo summarizes an open session.
type SessionInfo struct {
	Opened time.Time `json:"opened"`
	SessionOptions
	ID string `json:"id"`
}

// Manager owns the open sessions. At most one session is open per stream.
type Manager struct {
	base     context.Context
	sessions map[string]*Session
	byStream map[string]string
	logger   *slog.Logger
	cfg      ManagerConfig
	mu       sync.RWMutex
}

// NewManager returns a manager whose sessions are bound to ctx.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		base:     ctx,
		cfg:      cfg,
		sessions: map[string]*Session{},
		byStream: map[string]string{},
		logger:   slog.Default().With(slog.String("component", "session_manager")),
	}
}

// Open creates a session for opts.StreamID and starts its expiry scheduler.
func (m *Manager) Open(opts SessionOptions) (*Session, error) {
	opts.StreamID = strings.TrimSpace(opts.StreamID)
	if opts.StreamID == "" {
		return nil, &ValidationError{Field: "streamId", Reason: "must not be blank"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byStream[opts.StreamID]; ok {
		return nil, fmt.Errorf("stream %s (session %s): %w", opts.StreamID, id, ErrSessionExists)
	}

	ctx, cancel := context.WithCancel(m.base)
	id := uuid.NewString()
	store := NewStore(m.cfg.Clock)
	journal := NewJournal(m.cfg.JournalCapacity)
	stack := NewCommandStack(store, journal, WithClock(m.cfg.Clock), WithUndoLimit(m.cfg.UndoLimit))

	var mirror Mirror
	if m.cfg.Mirror != nil {
		mm, err := m.cfg.Mirror(ctx, opts)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("mirror for %s: %w", opts.StreamID, err)
		}
		mirror = mm
	}
	dispatch := m.cfg.Dispatch
	if dispatch.Clock == nil {
		dispatch.Clock = m.cfg.Clock
	}
	s := &Session{
		id:         id,
		opts:       opts,
		opened:     m.cfg.Clock(),
		now:        m.cfg.Clock,
		notes:      m.cfg.Notes,
		cancel:     cancel,
		done:       make(chan struct{}),
		store:      store,
		journal:    journal,
		stack:      stack,
		bulk:       NewBulkExecutor(stack),
		dispatcher: NewDispatcher(ctx, mirror, dispatch),
		logger:     slog.Default().With(slog.String("component", "session"), slog.String("session_id", id), slog.String("stream_id", opts.StreamID)),
	}
	s.dispatcher.OnFailure(s.recordFailure)

	if m.cfg.Queue != nil {
		q, err := m.cfg.Queue(ctx, opts)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open chat queue for %s: %w", opts.StreamID, err)
		}
		s.queue = q
	}

	sched := NewExpiryScheduler(s, m.cfg.ExpiryInterval, m.cfg.Clock)
	go func() {
		defer close(s.done)
		sched.Run(ctx)
	}()

	m.sessions[id] = s
	m.byStream[opts.StreamID] = id
	telemetry.SetOpenSessions(len(m.sessions))
	m.logger.Info("session opened", slog.String("session_id", id), slog.String("stream_id", opts.StreamID))
	return s, nil
}

// Get returns the open session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns the open sessions ordered by opening time.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{ID: s.id, SessionOptions: s.opts, Opened: s.opened})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return a.Opened.Compare(b.Opened) })
	return out
}

// Close closes and forgets the session with id. Its state is discarded.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		delete(m.byStream, s.opts.StreamID)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	telemetry.SetOpenSessions(n)
	return s.Close()
}

// CloseAll closes every open session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := slices.Collect(maps.Values(m.sessions))
	clear(m.sessions)
	clear(m.byStream)
	m.mu.Unlock()
	telemetry.SetOpenSessions(0)
	for _, s := range open {
		if err := s.Close(); err != nil {
			m.logger.Warn("session close failed", slog.String("session_id", s.id), slog.Any("err", err))
		}
	}
}
