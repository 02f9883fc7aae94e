package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/0x0BSoD/feedRelay/internal/metrics"
	"github.com/0x0BSoD/feedRelay/internal/model"
	"github.com/0x0BSoD/feedRelay/internal/notifier"
	"github.com/0x0BSoD/feedRelay/internal/source"
	"github.com/0x0BSoD/feedRelay/internal/storage"
)

const commitTimeout = 10 * time.Second

// processFeed runs Fetching -> Parsing -> Filtering -> Delivering -> Done for one feed. Every failure ends in an
// outcome, never in a panic or an error that escapes the cycle.
func (r *Relay) processFeed(ctx context.Context, log *slog.Logger, src model.FeedSource) model.FeedOutcome {
	start := time.Now()
	out := model.FeedOutcome{FeedID: src.ID}

	fail := func(stage model.Stage, err error) model.FeedOutcome {
		out.Stage, out.Err, out.Duration = stage, err, time.Since(start)
		return out
	}

	items, stage, err := r.load(ctx, src)
	if err != nil {
		return fail(stage, err)
	}
	out.Parsed = len(items)

	fresh, err := r.store.FilterNew(ctx, src.ID, items)
	if err != nil {
		return fail(model.StageFiltering, err)
	}
	out.Fresh = len(fresh)

	for _, item := range fresh {
		if err := ctx.Err(); err != nil {
			return fail(model.StageDelivering, err)
		}

		err := r.deliver(ctx, log, src, item)
		switch {
		case err == nil:
			out.Delivered++
			metrics.ItemsDelivered.WithLabelValues(src.ID).Inc()
		case notifier.IsPermanent(err):
			out.Rejected++
			log.Error("item permanently rejected by destination, recording it as delivered",
				"guid", item.GUID, "link", item.Link, "err", err)
		default:
			return fail(model.StageDelivering, err)
		}

		if err := r.commit(ctx, log, src, item); err != nil {
			return fail(model.StageCommitting, err)
		}
	}

	out.Stage, out.Duration = model.StageDone, time.Since(start)
	return out
}

type loadResult struct {
	items []model.Item
	stage model.Stage
	err   error
}

// load fetches and parses under the per-feed timeout. When the timeout fires the work is abandoned, not awaited,
// so a feed stuck in a blocking read or a pathological parse cannot hold up the cycle.
func (r *Relay) load(ctx context.Context, src model.FeedSource) ([]model.Item, model.Stage, error) {
	if r.cfg.FeedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FeedTimeout)
		defer cancel()
	}

	var parsing atomic.Bool
	done := make(chan loadResult, 1)

	go func() {
		raw, err := r.fetch(ctx, src)
		if err != nil {
			done <- loadResult{stage: model.StageFetching, err: err}
			return
		}

		parsing.Store(true)
		items, err := r.parser.Parse(src, raw)
		if err != nil {
			done <- loadResult{stage: model.StageParsing, err: err}
			return
		}
		done <- loadResult{items: items}
	}()

	select {
	case res := <-done:
		return res.items, res.stage, res.err
	case <-ctx.Done():
		if parsing.Load() {
			return nil, model.StageParsing, &source.ParseError{Source: src, Cause: ctx.Err()}
		}
		return nil, model.StageFetching, &source.FetchError{Source: src, Cause: ctx.Err()}
	}
}

func (r *Relay) fetch(ctx context.Context, src model.FeedSource) ([]byte, error) {
	var (
		raw     []byte
		lastErr error
	)

	op := func() error {
		data, err := r.fetcher.Fetch(ctx, src)
		if err != nil {
			lastErr = err

			var fe *source.FetchError
			if errors.As(err, &fe) && !fe.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}

		raw = data
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.cfg.FetchRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &source.FetchError{Source: src, Cause: err}
	}

	return raw, nil
}

// deliver sends one item, retrying transient failures with exponential backoff. A permanent failure is returned
// on the first attempt.
func (r *Relay) deliver(ctx context.Context, log *slog.Logger, src model.FeedSource, item model.Item) error {
	var lastErr error

	op := func() error {
		err := r.deliverer.Deliver(ctx, src, item)
		if err == nil {
			return nil
		}
		lastErr = err

		if notifier.IsPermanent(err) {
			metrics.DeliveryFailures.WithLabelValues(src.ID, notifier.Permanent.String()).Inc()
			return backoff.Permanent(err)
		}
		metrics.DeliveryFailures.WithLabelValues(src.ID, notifier.Transient.String()).Inc()
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.DeliveryBackoff
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, r.cfg.DeliveryRetries), ctx)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		log.Warn("delivery failed, retrying", "guid", item.GUID, "backoff", wait, "err", err)
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

// commit records a confirmed delivery. The item has already reached the destination, so a store failure here is
// never answered by resending: the commit is retried once and then reported as a possible duplicate.
func (r *Relay) commit(ctx context.Context, log *slog.Logger, src model.FeedSource, item model.Item) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	err := r.commitOnce(ctx, log, src, item)
	if err == nil {
		return nil
	}

	metrics.DuplicateRisks.Inc()
	log.Error("possible duplicate risk: delivered item was not recorded, retrying commit",
		"guid", item.GUID, "link", item.Link, "err", err)

	if err = r.commitOnce(ctx, log, src, item); err == nil {
		log.Warn("delivered item recorded on second attempt", "guid", item.GUID)
		return nil
	}

	log.Error("possible duplicate risk: giving up recording delivered item for this cycle",
		"guid", item.GUID, "link", item.Link, "err", err)
	if r.reporter != nil {
		r.reporter.Notify(fmt.Sprintf(
			"possible duplicate risk: item %q of feed %s was delivered but could not be recorded: %v",
			item.Link, src.ID, err,
		))
	}

	return err
}

func (r *Relay) commitOnce(ctx context.Context, log *slog.Logger, src model.FeedSource, item model.Item) error {
	err := r.store.Commit(ctx, src.ID, item.GUID, time.Now())
	if errors.Is(err, storage.ErrAlreadyRecorded) {
		args := []any{"guid", item.GUID}
		if rec, recErr := r.store.Record(ctx, src.ID, item.GUID); recErr == nil {
			args = append(args, "recorded_at", rec.DeliveredAt)
		}
		log.Warn("item was already recorded by a concurrent delivery", args...)
		return nil
	}
	return err
}
