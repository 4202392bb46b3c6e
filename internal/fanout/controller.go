// Package fanout turns one trigger into per-symbol units of work and drives
// them through the workers under a concurrency cap and a compute rate limit.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/ledger"
	"github.com/aristath/tickerbrief/internal/universe"
	"github.com/aristath/tickerbrief/internal/worker"
)

// Controller owns one run at a time: enumerate the universe, seed ledger
// rows, and dispatch each unit to the worker pool.
type Controller struct {
	universe    *universe.Repository
	ledger      *ledger.Repository
	worker      *worker.Worker
	concurrency int
	maxAttempts int
	limiter     *rate.Limiter
	log         zerolog.Logger
}

// NewController creates a fan-out controller. ratePerMin caps how many
// compute calls start per minute across all workers; zero disables the cap.
func NewController(
	universeRepo *universe.Repository,
	ledgerRepo *ledger.Repository,
	w *worker.Worker,
	concurrency, maxAttempts, ratePerMin int,
	log zerolog.Logger,
) *Controller {
	limit := rate.Inf
	if ratePerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(ratePerMin))
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Controller{
		universe:    universeRepo,
		ledger:      ledgerRepo,
		worker:      w,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		limiter:     rate.NewLimiter(limit, concurrency),
		log:         log.With().Str("component", "fanout").Logger(),
	}
}

// Trigger runs one fan-out for the request's date and blocks until every
// dispatched unit reaches a terminal status. Units already completed (or
// failed and awaiting an explicit retry) are skipped, which is what makes
// re-triggering a partially finished date safe.
func (c *Controller) Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.RunSummary, error) {
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return nil, fmt.Errorf("invalid run date %q: %w", req.Date, err)
	}

	symbols := req.Subset
	if len(symbols) == 0 {
		var err error
		symbols, err = c.universe.ActiveSymbols()
		if err != nil {
			return nil, fmt.Errorf("failed to load universe: %w", err)
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to dispatch for %s", req.Date)
	}

	runID := uuid.New().String()
	log := c.log.With().Str("run_id", runID).Str("date", req.Date).Logger()
	log.Info().
		Int("universe", len(symbols)).
		Str("triggered_by", req.TriggeredBy).
		Msg("Run triggered")

	summary := &domain.RunSummary{RunID: runID, Date: req.Date}

	var dispatch []string
	for _, symbol := range symbols {
		if _, err := c.ledger.CreateJob(ctx, symbol, req.Date); err != nil {
			return nil, err
		}
		job, err := c.ledger.GetJob(ctx, symbol, req.Date)
		if err != nil {
			return nil, err
		}
		if job != nil && job.Status.Terminal() {
			summary.Skipped++
			continue
		}
		dispatch = append(dispatch, symbol)
	}
	summary.Dispatched = len(dispatch)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, symbol := range dispatch {
		symbol := symbol
		g.Go(func() error {
			return c.runUnit(gctx, symbol, req.Date)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Per-unit outcomes live in the ledger; tally the terminal states there.
	jobs, err := c.ledger.ListByDate(ctx, req.Date)
	if err != nil {
		return nil, err
	}
	dispatched := make(map[string]bool, len(dispatch))
	for _, symbol := range dispatch {
		dispatched[symbol] = true
	}
	for _, job := range jobs {
		if !dispatched[job.Symbol] {
			continue
		}
		switch job.Status {
		case domain.JobCompleted:
			summary.Completed++
		case domain.JobFailed:
			summary.Failed++
		}
	}

	log.Info().
		Int("dispatched", summary.Dispatched).
		Int("skipped", summary.Skipped).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Msg("Run finished")

	return summary, nil
}

// runUnit drives one unit through bounded attempts. Only transient errors
// are retried; the ledger row is reset to pending between attempts because
// failed -> pending is the sole backward transition the state machine has.
// Unit failures stay in the ledger rather than aborting the run, so the
// returned error is only ever a context cancellation.
func (c *Controller) runUnit(ctx context.Context, symbol, date string) error {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.worker.ProcessUnit(ctx, domain.DispatchMessage{Symbol: symbol, Date: date, Attempt: attempt})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.IsTransient(err) || attempt >= c.maxAttempts {
			return nil
		}

		reset, retryErr := c.ledger.RetryFailed(ctx, symbol, date)
		if retryErr != nil || !reset {
			return nil
		}
		c.log.Debug().
			Str("symbol", symbol).
			Str("date", date).
			Int("attempt", attempt).
			Msg("Retrying transient failure")
	}
}
