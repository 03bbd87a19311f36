// Package syncmgr deduplicates pull synchronizations per identity and
// rate-limits repeats.
//
// Per identity a sync moves idle -> pending -> completed|failed. Idle is not
// stored: it is implied by the absence of a pending call and the age of the
// last completion.
package syncmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMinInterval = 5 * time.Second
)

// ErrSyncTimeout is returned when fn does not finish within the timeout.
var ErrSyncTimeout = errors.New("sync timed out")

// Outcome tells a caller what Execute did.
type Outcome int

const (
	// OutcomePerformed means this call ran fn.
	OutcomePerformed Outcome = iota
	// OutcomeJoined means the call waited on another caller's in-flight sync.
	OutcomeJoined
	// OutcomeSkipped means no sync ran because one completed recently.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePerformed:
		return "performed"
	case OutcomeJoined:
		return "joined"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// Config configures a Manager. Zero values fall back to defaults.
type Config struct {
	Timeout     time.Duration
	MinInterval time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

type call struct {
	done    chan struct{}
	err     error
	started time.Time
	source  string
}

// Manager tracks pending and completed syncs per identity.
type Manager struct {
	timeout     time.Duration
	minInterval time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger

	mu        sync.Mutex
	pending   map[string]*call
	completed map[string]time.Time
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	} else if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		timeout:     cfg.Timeout,
		minInterval: cfg.MinInterval,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		pending:     make(map[string]*call),
		completed:   make(map[string]time.Time),
	}
}

// NeedsSync reports whether a new sync for id would run.
func (m *Manager) NeedsSync(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsSyncLocked(id, m.clock.Now())
}

func (m *Manager) needsSyncLocked(id string, now time.Time) bool {
	if c, ok := m.pending[id]; ok {
		if now.Sub(c.started) < m.timeout {
			return false
		}
		m.logger.Warn("discarding stuck sync", "identity", id, "source", c.source, "age", now.Sub(c.started).String())
		delete(m.pending, id)
	}
	if last, ok := m.completed[id]; ok && now.Sub(last) < m.minInterval {
		return false
	}
	return true
}

// Execute runs fn for id unless a sync is already in flight or finished
// within the minimum interval. Concurrent callers share the in-flight result.
// Errors from fn, including ErrSyncTimeout, are returned to the caller.
func (m *Manager) Execute(ctx context.Context, id, source string, fn func(context.Context) error) (Outcome, error) {
	now := m.clock.Now()
	m.mu.Lock()
	if !m.needsSyncLocked(id, now) {
		c, inFlight := m.pending[id]
		m.mu.Unlock()
		if !inFlight {
			m.logger.Debug("sync skipped", "identity", id, "source", source)
			return OutcomeSkipped, nil
		}
		m.logger.Debug("joining in-flight sync", "identity", id, "source", source, "owner", c.source)
		select {
		case <-c.done:
			return OutcomeJoined, c.err
		case <-ctx.Done():
			return OutcomeJoined, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{}), started: now, source: source}
	m.pending[id] = c
	m.mu.Unlock()

	c.err = m.run(ctx, fn)

	m.mu.Lock()
	if m.pending[id] == c {
		delete(m.pending, id)
	}
	if c.err == nil {
		m.completed[id] = m.clock.Now()
	}
	m.mu.Unlock()
	close(c.done)

	if c.err != nil {
		m.logger.Warn("sync failed", "identity", id, "source", source, "err", c.err)
	}
	return OutcomePerformed, c.err
}

func (m *Manager) run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- fn(ctx)
	}()
	select {
	case err := <-errc:
		return err
	case <-m.clock.After(m.timeout):
		return ErrSyncTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearUserSync forgets all bookkeeping for id.
func (m *Manager) ClearUserSync(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	delete(m.completed, id)
	m.mu.Unlock()
}
