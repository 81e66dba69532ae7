// Package reconcile watches the request table for operator status changes
// and hands each change to a dispatcher.
//
// Every tick reads the table, diffs it against the previously committed
// snapshot, dispatches the transitions and then commits the new snapshot.
// The commit happens even when some dispatches fail, so a failed
// notification is not retried: delivery is at most once per transition.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/centromex/rental-bot/internal/metrics"
	"github.com/centromex/rental-bot/internal/models"
	"github.com/centromex/rental-bot/internal/table"
)

// DefaultInterval is the tick period when Options leaves it unset.
const DefaultInterval = 10 * time.Second

// ErrNotSeeded is returned by Start before a successful Seed.
var ErrNotSeeded = errors.New("reconcile loop has no seed snapshot")

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Store is the part of the record store the loop reads.
type Store interface {
	Initialize(ctx context.Context) error
	ReadAll(ctx context.Context) ([]models.Record, error)
}

// Dispatcher notifies the requester of one transition.
type Dispatcher interface {
	Dispatch(ctx context.Context, tr models.Transition) error
}

// BaselineStore persists committed snapshots across restarts.
type BaselineStore interface {
	SaveBaseline(ctx context.Context, snap models.Snapshot) error
	LoadBaseline(ctx context.Context) (models.Snapshot, bool, error)
}

// Options configures a Loop. Every field is optional.
type Options struct {
	Interval time.Duration
	// Baseline, when set, receives every committed snapshot.
	Baseline BaselineStore
	// Resume seeds from the persisted baseline instead of a fresh read.
	Resume bool
	Logger Logger
	Now    func() time.Time
}

// TickReport summarizes one reconciliation tick.
type TickReport struct {
	SnapshotID  string
	Rows        int
	Transitions []models.Transition
	Failed      int
	// Skipped is set when the table was missing and the tick only
	// re-initialized it.
	Skipped bool
}

// Loop owns the last committed snapshot and runs ticks against it.
type Loop struct {
	store      Store
	dispatcher Dispatcher
	baseline   BaselineStore
	resume     bool
	interval   time.Duration
	logger     Logger
	now        func() time.Time
	trigger    chan struct{}

	tickMu   sync.Mutex
	previous *models.Snapshot

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a loop that reads store and hands transitions to dispatcher.
// Call Seed before Start.
func New(store Store, dispatcher Dispatcher, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{
		store:      store,
		dispatcher: dispatcher,
		baseline:   opts.Baseline,
		resume:     opts.Resume,
		interval:   opts.Interval,
		logger:     opts.Logger,
		now:        opts.Now,
		trigger:    make(chan struct{}, 1),
	}
}

// Seed takes the initial snapshot, initializing the table when absent.
func (l *Loop) Seed(ctx context.Context) error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	if l.resume && l.baseline != nil {
		snap, ok, err := l.baseline.LoadBaseline(ctx)
		switch {
		case err != nil:
			l.logger.Printf("[reconcile] could not load persisted baseline, reading table instead: %v", err)
		case ok:
			l.previous = &snap
			l.logger.Printf("[reconcile] resumed from baseline %s taken at %s (%d rows)",
				snap.ID, snap.TakenAt.Format(time.RFC3339), len(snap.Records))
			return nil
		}
	}

	records, err := l.store.ReadAll(ctx)
	if errors.Is(err, table.ErrTableMissing) {
		if err := l.store.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize table: %w", err)
		}
		records, err = l.store.ReadAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("seed snapshot: %w", err)
	}
	snap := l.commitLocked(ctx, records)
	l.logger.Printf("[reconcile] seeded snapshot %s with %d rows", snap.ID, len(snap.Records))
	return nil
}

// Tick runs one read, diff, notify and commit cycle.
func (l *Loop) Tick(ctx context.Context) (TickReport, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	records, err := l.store.ReadAll(ctx)
	if errors.Is(err, table.ErrTableMissing) {
		l.logger.Printf("[reconcile] %v, initializing", err)
		if err := l.store.Initialize(ctx); err != nil {
			l.logger.Printf("[reconcile] could not initialize table: %v", err)
		}
		metrics.Ticks.WithLabelValues("missing").Inc()
		return TickReport{Skipped: true}, nil
	}
	if err != nil {
		metrics.Ticks.WithLabelValues("error").Inc()
		return TickReport{}, fmt.Errorf("read table: %w", err)
	}

	var prev []models.Record
	if l.previous != nil {
		prev = l.previous.Records
	}
	report := TickReport{Rows: len(records), Transitions: Diff(prev, records)}

	for _, tr := range report.Transitions {
		metrics.Transitions.WithLabelValues(string(tr.To)).Inc()
		l.logger.Printf("[reconcile] status changed for message %d: %q -> %q", tr.ID, tr.From, tr.To)
		if err := l.dispatcher.Dispatch(ctx, tr); err != nil {
			report.Failed++
		}
	}

	snap := l.commitLocked(ctx, records)
	report.SnapshotID = snap.ID
	metrics.Ticks.WithLabelValues("ok").Inc()
	return report, nil
}

// Previous returns the last committed snapshot.
func (l *Loop) Previous() (models.Snapshot, bool) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	if l.previous == nil {
		return models.Snapshot{}, false
	}
	return models.NewSnapshot(l.previous.ID, l.previous.TakenAt, l.previous.Records), true
}

// Start runs ticks in the background until ctx is done or Stop is called.
// Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.tickMu.Lock()
	seeded := l.previous != nil
	l.tickMu.Unlock()
	if !seeded {
		return ErrNotSeeded
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go l.run(runCtx, done)
	l.logger.Printf("[reconcile] started, checking every %s", l.interval)
	return nil
}

// Stop halts the background loop and waits for an in-flight tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Printf("[reconcile] stopped")
}

// Running reports whether the background loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Trigger requests a tick ahead of the timer. Requests made while one is
// already pending are merged.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.done == done {
			l.cancel()
			l.cancel, l.done = nil, nil
		}
		l.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.trigger:
		}
		report, err := l.Tick(ctx)
		if err != nil {
			l.logger.Printf("[reconcile] tick failed: %v", err)
			continue
		}
		if len(report.Transitions) > 0 {
			l.logger.Printf("[reconcile] snapshot %s: %d transitions, %d failed",
				report.SnapshotID, len(report.Transitions), report.Failed)
		}
	}
}

func (l *Loop) commitLocked(ctx context.Context, records []models.Record) models.Snapshot {
	changed := l.previous == nil || !sameRecords(l.previous.Records, records)
	snap := models.NewSnapshot(uuid.NewString(), l.now(), records)
	l.previous = &snap

	if l.baseline != nil && changed {
		if err := l.baseline.SaveBaseline(ctx, snap); err != nil {
			l.logger.Printf("[reconcile] could not persist baseline %s: %v", snap.ID, err)
		}
	}
	return snap
}

func sameRecords(a, b []models.Record) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
