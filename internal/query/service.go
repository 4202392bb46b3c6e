// Package query serves artifact reads through the fallback chain: cache
// first, then the durable artifact store for completed jobs, then on-demand
// compute as the last resort. Every response says which path served it.
package query

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tickerbrief/internal/artifacts"
	"github.com/aristath/tickerbrief/internal/cache"
	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/ledger"
	"github.com/aristath/tickerbrief/internal/worker"
)

// Service answers artifact reads.
type Service struct {
	cache     *cache.Manager
	ledger    *ledger.Repository
	artifacts *artifacts.Repository
	snapshots domain.SnapshotSource
	computer  domain.ArtifactComputer
	log       zerolog.Logger
}

// NewService creates a query service.
func NewService(
	cacheManager *cache.Manager,
	ledgerRepo *ledger.Repository,
	artifactRepo *artifacts.Repository,
	snapshots domain.SnapshotSource,
	computer domain.ArtifactComputer,
	log zerolog.Logger,
) *Service {
	return &Service{
		cache:     cacheManager,
		ledger:    ledgerRepo,
		artifacts: artifactRepo,
		snapshots: snapshots,
		computer:  computer,
		log:       log.With().Str("component", "query").Logger(),
	}
}

// GetBrief returns the artifact for (symbol, date) and the path that served
// it. An on-demand compute primes the cache but never writes the artifact
// store or the ledger: an artifact only becomes durable when its job
// completes through a run.
func (s *Service) GetBrief(ctx context.Context, symbol, date string) (*domain.Artifact, domain.ReadStatus, error) {
	value, found, err := s.cache.Get(ctx, cache.Key(symbol, date, domain.FragmentReport))
	if err != nil {
		return nil, "", err
	}
	if found {
		var artifact domain.Artifact
		if err := msgpack.Unmarshal(value, &artifact); err == nil {
			return &artifact, domain.ReadCacheHit, nil
		}
		// Undecodable cache rows fall through to the durable copies.
		s.log.Warn().Str("symbol", symbol).Str("date", date).Msg("Discarding undecodable cache entry")
	}

	artifact, err := s.fromLedger(ctx, symbol, date)
	if err != nil {
		return nil, "", err
	}
	if artifact != nil {
		return artifact, domain.ReadLedgerHit, nil
	}

	artifact, err = s.computeOnDemand(ctx, symbol, date)
	if err != nil {
		return nil, "", err
	}
	return artifact, domain.ReadComputedOnDemand, nil
}

// GetFragment returns a single fragment of the artifact. The cheap path is a
// direct cache hit on the fragment key; otherwise the full brief is resolved
// and the fragment projected from it.
func (s *Service) GetFragment(ctx context.Context, symbol, date string, kind domain.FragmentKind) ([]byte, domain.ReadStatus, error) {
	value, found, err := s.cache.Get(ctx, cache.Key(symbol, date, kind))
	if err != nil {
		return nil, "", err
	}
	if found {
		return value, domain.ReadCacheHit, nil
	}

	artifact, status, err := s.GetBrief(ctx, symbol, date)
	if err != nil {
		return nil, "", err
	}

	fragment, err := projectFragment(artifact, kind)
	if err != nil {
		return nil, "", err
	}
	return fragment, status, nil
}

// fromLedger serves the durable artifact when the job is completed, and
// backfills the cache so the next read is a cache hit. Returns nil when the
// ledger cannot serve this read.
func (s *Service) fromLedger(ctx context.Context, symbol, date string) (*domain.Artifact, error) {
	job, err := s.ledger.GetJob(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	if job == nil || job.Status != domain.JobCompleted {
		return nil, nil
	}

	artifact, err := s.artifacts.Get(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		// Completed job without its artifact: the store was lost or reset.
		// Fall through to on-demand rather than failing the read.
		s.log.Warn().Str("symbol", symbol).Str("date", date).Msg("Completed job has no stored artifact")
		return nil, nil
	}

	// Best-effort backfill: a failed cache write degrades the next read,
	// not this one.
	if err := worker.PrimeCache(ctx, s.cache, artifact); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Str("date", date).Msg("Cache backfill failed")
	}

	return artifact, nil
}

// computeOnDemand rebuilds the artifact from the snapshot for a read that
// nothing else can serve.
func (s *Service) computeOnDemand(ctx context.Context, symbol, date string) (*domain.Artifact, error) {
	snap, err := s.snapshots.Get(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &domain.MissingInputError{Symbol: symbol, Date: date}
	}

	artifact, err := s.computer.ComputeArtifact(ctx, symbol, date, snap)
	if err != nil {
		return nil, err
	}

	if err := worker.PrimeCache(ctx, s.cache, artifact); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Str("date", date).Msg("Cache prime failed after on-demand compute")
	}

	s.log.Info().Str("symbol", symbol).Str("date", date).Msg("Served read via on-demand compute")
	return artifact, nil
}

// projectFragment extracts one fragment from a resolved artifact.
func projectFragment(a *domain.Artifact, kind domain.FragmentKind) ([]byte, error) {
	switch kind {
	case domain.FragmentReport:
		return msgpack.Marshal(a)
	case domain.FragmentNarrative:
		return []byte(a.Narrative), nil
	case domain.FragmentData:
		return json.Marshal(a.Data)
	case domain.FragmentChart:
		return a.Chart, nil
	default:
		return nil, &domain.PermanentComputeError{Reason: "unknown fragment kind " + string(kind)}
	}
}

// CacheStats exposes the cache hit counters for the system endpoint.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}
