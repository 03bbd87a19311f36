package calltrack

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestTracker(t *testing.T, clock clockwork.Clock, logs *bytes.Buffer) (*Tracker, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	tr, err := New(Config{
		Registerer:     reg,
		Clock:          clock,
		Logger:         slog.New(slog.NewTextHandler(logs, nil)),
		BurstThreshold: 3,
		BurstWindow:    time.Second,
	})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tr, reg
}

func TestTrackerCountsBySource(t *testing.T) {
	var logs bytes.Buffer
	tr, _ := newTestTracker(t, clockwork.NewFakeClock(), &logs)

	tr.Track("save", "addToWatchlist")
	tr.Track("save", "addToWatchlist")
	tr.Track("save", "addLikedMovie")
	tr.Track("load", "syncWithStorage")

	stats := tr.Stats()
	if stats["save"].Count != 3 {
		t.Fatalf("save count = %d, want 3", stats["save"].Count)
	}
	if stats["save"].BySource["addToWatchlist"] != 2 {
		t.Fatalf("addToWatchlist saves = %d, want 2", stats["save"].BySource["addToWatchlist"])
	}
	if stats["load"].Count != 1 {
		t.Fatalf("load count = %d, want 1", stats["load"].Count)
	}
	if got := testutil.ToFloat64(tr.calls.WithLabelValues("save", "addToWatchlist")); got != 2 {
		t.Fatalf("prometheus counter = %v, want 2", got)
	}
}

func TestTrackerWarnsOnBurst(t *testing.T) {
	var logs bytes.Buffer
	clock := clockwork.NewFakeClock()
	tr, _ := newTestTracker(t, clock, &logs)

	for i := 0; i < 3; i++ {
		tr.Track("save", "updatePreferences")
	}
	if strings.Contains(logs.String(), "excessive storage calls") {
		t.Fatalf("unexpected burst warning at threshold")
	}
	tr.Track("save", "updatePreferences")
	if !strings.Contains(logs.String(), "excessive storage calls") {
		t.Fatalf("expected burst warning, logs: %s", logs.String())
	}

	logs.Reset()
	clock.Advance(2 * time.Second)
	tr.Track("save", "updatePreferences")
	if strings.Contains(logs.String(), "excessive storage calls") {
		t.Fatalf("window should have expired")
	}
	if tr.Stats()["save"].BurstCount != 1 {
		t.Fatalf("burst count = %d, want 1", tr.Stats()["save"].BurstCount)
	}
}

func TestTrackerResetAndSummary(t *testing.T) {
	var logs bytes.Buffer
	tr, _ := newTestTracker(t, clockwork.NewFakeClock(), &logs)

	tr.Track("load", "syncWithStorage")
	tr.Track("save", "a")
	tr.Track("save", "b")

	summary := tr.Summary()
	if !strings.HasPrefix(summary, "save: 2 calls") {
		t.Fatalf("summary should list busiest first, got %q", summary)
	}
	if !strings.Contains(summary, "load: 1 calls") {
		t.Fatalf("summary missing load, got %q", summary)
	}

	tr.PrintSummary(nil)
	if !strings.Contains(logs.String(), "call summary") {
		t.Fatalf("expected summary lines in log")
	}

	tr.Reset()
	if len(tr.Stats()) != 0 {
		t.Fatalf("expected empty stats after reset")
	}
	if tr.Summary() != "no calls recorded\n" {
		t.Fatalf("unexpected summary after reset: %q", tr.Summary())
	}
}

func TestNilTrackerIsNoop(t *testing.T) {
	var tr *Tracker
	tr.Track("save", "x")
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(Config{Registerer: reg}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := New(Config{Registerer: reg}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
