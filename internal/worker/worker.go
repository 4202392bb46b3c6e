// Package worker processes one (symbol, date) unit of work: claim the ledger
// row, compute the artifact, persist it, prime the cache, and record the
// outcome. Dispatch is at-least-once, so every step here is idempotent.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tickerbrief/internal/artifacts"
	"github.com/aristath/tickerbrief/internal/cache"
	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/ledger"
)

// Worker executes units of work against the ledger.
type Worker struct {
	ledger    *ledger.Repository
	snapshots domain.SnapshotSource
	computer  domain.ArtifactComputer
	artifacts *artifacts.Repository
	cache     *cache.Manager
	timeout   time.Duration
	log       zerolog.Logger
}

// New creates a worker.
func New(
	ledgerRepo *ledger.Repository,
	snapshots domain.SnapshotSource,
	computer domain.ArtifactComputer,
	artifactRepo *artifacts.Repository,
	cacheManager *cache.Manager,
	timeout time.Duration,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		ledger:    ledgerRepo,
		snapshots: snapshots,
		computer:  computer,
		artifacts: artifactRepo,
		cache:     cacheManager,
		timeout:   timeout,
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// ProcessUnit runs one dispatch message to a terminal ledger status.
//
// A unit whose job is already completed is skipped without recomputing, and a
// claim lost to another worker is dropped silently; both are the normal shape
// of duplicate delivery, not errors. Everything else either completes the job
// or marks it failed with the error taxonomy kind, and the compute error is
// returned so the dispatcher can decide about retries.
func (w *Worker) ProcessUnit(ctx context.Context, msg domain.DispatchMessage) error {
	log := w.log.With().Str("symbol", msg.Symbol).Str("date", msg.Date).Logger()

	jobID, err := w.ledger.CreateJob(ctx, msg.Symbol, msg.Date)
	if err != nil {
		return err
	}

	job, err := w.ledger.GetJob(ctx, msg.Symbol, msg.Date)
	if err != nil {
		return err
	}
	if job == nil {
		return domain.ErrJobNotFound
	}
	if job.Status == domain.JobCompleted {
		log.Debug().Msg("Job already completed, skipping")
		return nil
	}

	if err := w.ledger.MarkInProgress(ctx, jobID, job.AttemptCount+1); err != nil {
		if err == domain.ErrLedgerConflict {
			log.Debug().Msg("Claim lost, another worker owns this unit")
			return nil
		}
		return err
	}

	artifact, err := w.computeUnit(ctx, msg.Symbol, msg.Date)
	if err != nil {
		kind := domain.ErrorKind(err)
		if markErr := w.ledger.MarkFailed(ctx, jobID, fmt.Sprintf("%s: %v", kind, err)); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to record job failure")
		}
		log.Warn().Err(err).Str("kind", kind).Msg("Unit failed")
		return err
	}

	if err := w.ledger.MarkCompleted(ctx, jobID); err != nil {
		return err
	}

	log.Info().
		Int("narrative_chars", len(artifact.Narrative)).
		Int("chart_bytes", len(artifact.Chart)).
		Msg("Unit completed")
	return nil
}

// computeUnit produces and persists the artifact for one unit.
func (w *Worker) computeUnit(ctx context.Context, symbol, date string) (*domain.Artifact, error) {
	snap, err := w.snapshots.Get(ctx, symbol, date)
	if err != nil {
		return nil, &domain.TransientComputeError{Op: "snapshot read", Err: err}
	}
	if snap == nil {
		return nil, &domain.MissingInputError{Symbol: symbol, Date: date}
	}

	computeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	artifact, err := w.computer.ComputeArtifact(computeCtx, symbol, date, snap)
	if err != nil {
		return nil, err
	}

	if err := w.artifacts.Save(ctx, artifact); err != nil {
		return nil, &domain.TransientComputeError{Op: "artifact save", Err: err}
	}

	if err := PrimeCache(ctx, w.cache, artifact); err != nil {
		return nil, &domain.TransientComputeError{Op: "cache write", Err: err}
	}

	return artifact, nil
}

// PrimeCache writes all four fragments of an artifact through the cache
// manager: the msgpack report bundle plus the narrative, data, and chart
// projections served individually by the query API.
func PrimeCache(ctx context.Context, m *cache.Manager, a *domain.Artifact) error {
	report, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode report bundle: %w", err)
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to encode data fragment: %w", err)
	}

	fragments := map[domain.FragmentKind][]byte{
		domain.FragmentReport:    report,
		domain.FragmentNarrative: []byte(a.Narrative),
		domain.FragmentData:      data,
		domain.FragmentChart:     a.Chart,
	}

	for kind, value := range fragments {
		if len(value) == 0 {
			continue
		}
		if err := m.Put(ctx, cache.Key(a.Symbol, a.Date, kind), value); err != nil {
			return err
		}
	}
	return nil
}
