// Package relay drives polling cycles: for every configured feed it fetches, parses, filters out delivered items,
// delivers the rest in feed order and records each confirmed delivery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0x0BSoD/feedRelay/internal/metrics"
	"github.com/0x0BSoD/feedRelay/internal/model"
)

// ErrCycleInProgress is returned by RunCycle while another cycle is running.
var ErrCycleInProgress = errors.New("cycle already in progress")

type Fetcher interface {
	Fetch(ctx context.Context, src model.FeedSource) ([]byte, error)
}

type Parser interface {
	Parse(src model.FeedSource, raw []byte) ([]model.Item, error)
}

type DeliveryStore interface {
	FilterNew(ctx context.Context, feedID string, items []model.Item) ([]model.Item, error)
	Commit(ctx context.Context, feedID, guid string, deliveredAt time.Time) error
	Record(ctx context.Context, feedID, guid string) (model.DeliveryRecord, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, src model.FeedSource, item model.Item) error
}

type Reporter interface {
	Notify(msg string)
}

type Config struct {
	Interval        time.Duration
	RunOnStart      bool
	CycleTimeout    time.Duration
	FeedTimeout     time.Duration
	Concurrency     int
	FetchRetries    uint64
	DeliveryRetries uint64
	DeliveryBackoff time.Duration
}

type Relay struct {
	sources   []model.FeedSource
	fetcher   Fetcher
	parser    Parser
	store     DeliveryStore
	deliverer Deliverer
	reporter  Reporter
	cfg       Config

	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.RWMutex
	last *model.CycleState
}

func New(
	sources []model.FeedSource,
	fetcher Fetcher,
	parser Parser,
	store DeliveryStore,
	deliverer Deliverer,
	reporter Reporter,
	cfg Config,
) *Relay {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Relay{
		sources:   sources,
		fetcher:   fetcher,
		parser:    parser,
		store:     store,
		deliverer: deliverer,
		reporter:  reporter,
		cfg:       cfg,
	}
}

// Start runs cycles on every tick of the configured interval until ctx is done, and once immediately when
// RunOnStart is set. A tick that arrives while a cycle is still running is skipped.
func (r *Relay) Start(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", r.cfg.Interval)
	}

	slog.Info("relay started", "feeds", len(r.sources), "interval", r.cfg.Interval)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	defer r.wg.Wait()

	if r.cfg.RunOnStart {
		r.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.trigger(ctx)
		}
	}
}

func (r *Relay) trigger(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if _, err := r.RunCycle(ctx); errors.Is(err, ErrCycleInProgress) {
			slog.Warn("previous cycle still running, skipping tick")
		}
	}()
}

// RunCycle visits every feed once. Feeds are processed concurrently up to the configured limit and fail
// independently; the returned state holds one outcome per feed in configuration order.
func (r *Relay) RunCycle(ctx context.Context) (model.CycleState, error) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.Inc()
		return model.CycleState{}, ErrCycleInProgress
	}
	defer r.running.Store(false)

	if r.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CycleTimeout)
		defer cancel()
	}

	state := model.CycleState{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Sources:   r.sources,
		Outcomes:  make([]model.FeedOutcome, len(r.sources)),
	}
	log := slog.With("cycle", state.ID)
	log.Info("cycle started", "feeds", len(r.sources))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, src := range r.sources {
		i, src := i, src
		g.Go(func() error {
			state.Outcomes[i] = r.processFeed(ctx, log.With("feed", src.ID), src)
			return nil
		})
	}
	_ = g.Wait()

	state.FinishedAt = time.Now()
	for _, o := range state.Outcomes {
		logOutcome(log, o)
	}

	duration := state.FinishedAt.Sub(state.StartedAt)
	metrics.CycleDuration.Observe(duration.Seconds())
	log.Info("cycle finished", "delivered", state.Delivered(), "failed_feeds", state.Failed(), "duration", duration)

	r.mu.Lock()
	r.last = &state
	r.mu.Unlock()

	return state, nil
}

// LastCycle returns the state of the most recently finished cycle.
func (r *Relay) LastCycle() (model.CycleState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.last == nil {
		return model.CycleState{}, false
	}
	return *r.last, true
}

func logOutcome(log *slog.Logger, o model.FeedOutcome) {
	metrics.FeedOutcomes.WithLabelValues(o.FeedID, string(o.Stage)).Inc()

	if o.Failed() {
		log.Error("feed failed",
			"feed", o.FeedID,
			"stage", o.Stage,
			"timeout", o.TimedOut(),
			"delivered", o.Delivered,
			"err", o.Err,
		)
		return
	}

	log.Info("feed processed",
		"feed", o.FeedID,
		"parsed", o.Parsed,
		"new", o.Fresh,
		"delivered", o.Delivered,
		"rejected", o.Rejected,
		"duration", o.Duration,
	)
}
