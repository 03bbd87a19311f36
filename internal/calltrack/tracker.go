// Package calltrack records how often storage operations run so that
// excessive backend reads and writes can be spotted while debugging.
package calltrack

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultBurstThreshold = 10
	defaultBurstWindow    = 10 * time.Second
)

// Config configures a Tracker. Zero values fall back to defaults.
type Config struct {
	Registerer     prometheus.Registerer
	Clock          clockwork.Clock
	Logger         *slog.Logger
	BurstThreshold int
	BurstWindow    time.Duration
}

// OperationStats summarizes calls for a single operation.
type OperationStats struct {
	Count      int            `json:"count"`
	FirstCall  time.Time      `json:"firstCall"`
	LastCall   time.Time      `json:"lastCall"`
	BySource   map[string]int `json:"bySource"`
	BurstCount int            `json:"burstCount"`
}

type operation struct {
	stats  OperationStats
	recent []time.Time
}

// Tracker counts operations in memory and exports them as Prometheus counters.
type Tracker struct {
	clock          clockwork.Clock
	logger         *slog.Logger
	burstThreshold int
	burstWindow    time.Duration
	calls          *prometheus.CounterVec

	mu  sync.Mutex
	ops map[string]*operation
}

// New builds a Tracker and registers its counter when a registerer is given.
func New(cfg Config) (*Tracker, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.BurstThreshold
	if threshold <= 0 {
		threshold = defaultBurstThreshold
	}
	window := cfg.BurstWindow
	if window <= 0 {
		window = defaultBurstWindow
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelsync",
		Subsystem: "store",
		Name:      "calls_total",
		Help:      "Storage adapter calls by operation and source.",
	}, []string{"operation", "source"})
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(calls); err != nil {
			return nil, fmt.Errorf("register call counter: %w", err)
		}
	}
	return &Tracker{
		clock:          clock,
		logger:         logger,
		burstThreshold: threshold,
		burstWindow:    window,
		calls:          calls,
		ops:            make(map[string]*operation),
	}, nil
}

// Track records one call of operation issued by source.
func (t *Tracker) Track(op, source string) {
	if t == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	t.calls.WithLabelValues(op, source).Inc()

	now := t.clock.Now()
	t.mu.Lock()
	entry, ok := t.ops[op]
	if !ok {
		entry = &operation{stats: OperationStats{FirstCall: now, BySource: make(map[string]int)}}
		t.ops[op] = entry
	}
	entry.stats.Count++
	entry.stats.LastCall = now
	entry.stats.BySource[source]++

	cutoff := now.Add(-t.burstWindow)
	kept := entry.recent[:0]
	for _, ts := range entry.recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	entry.recent = append(kept, now)
	burst := len(entry.recent) > t.burstThreshold
	inWindow := len(entry.recent)
	if burst {
		entry.stats.BurstCount++
	}
	t.mu.Unlock()

	if burst {
		t.logger.Warn("excessive storage calls",
			"operation", op,
			"source", source,
			"calls_in_window", inWindow,
			"window", t.burstWindow.String(),
		)
	}
}

// Stats returns a copy of the per-operation statistics.
func (t *Tracker) Stats() map[string]OperationStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]OperationStats, len(t.ops))
	for name, entry := range t.ops {
		stats := entry.stats
		stats.BySource = make(map[string]int, len(entry.stats.BySource))
		for src, n := range entry.stats.BySource {
			stats.BySource[src] = n
		}
		out[name] = stats
	}
	return out
}

// Reset drops in-memory statistics. Prometheus counters are monotonic and
// keep their values.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.ops = make(map[string]*operation)
	t.mu.Unlock()
}

// Summary renders the statistics sorted by call count, busiest first.
func (t *Tracker) Summary() string {
	stats := t.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if stats[names[i]].Count == stats[names[j]].Count {
			return names[i] < names[j]
		}
		return stats[names[i]].Count > stats[names[j]].Count
	})

	var b strings.Builder
	if len(names) == 0 {
		b.WriteString("no calls recorded\n")
		return b.String()
	}
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(&b, "%s: %d calls", name, s.Count)
		if s.BurstCount > 0 {
			fmt.Fprintf(&b, " (%d bursts)", s.BurstCount)
		}
		b.WriteString("\n")
		sources := make([]string, 0, len(s.BySource))
		for src := range s.BySource {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(&b, "  %s: %d\n", src, s.BySource[src])
		}
	}
	return b.String()
}

// PrintSummary logs the summary at info level.
func (t *Tracker) PrintSummary(logger *slog.Logger) {
	if logger == nil {
		logger = t.logger
	}
	for _, line := range strings.Split(strings.TrimRight(t.Summary(), "\n"), "\n") {
		logger.Info("call summary", "line", line)
	}
}
