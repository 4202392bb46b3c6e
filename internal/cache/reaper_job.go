package cache

import (
	"context"

	"github.com/rs/zerolog"
)

// ReaperJob removes expired cache entries from both tiers.
// It should be scheduled to run daily.
type ReaperJob struct {
	manager *Manager
	log     zerolog.Logger
}

// NewReaperJob creates a new cache reaper job.
func NewReaperJob(manager *Manager, log zerolog.Logger) *ReaperJob {
	return &ReaperJob{
		manager: manager,
		log:     log.With().Str("job", "cache_reaper").Logger(),
	}
}

// Run executes the reaper, removing all expired entries.
func (j *ReaperJob) Run() error {
	deleted, err := j.manager.ReapExpired(context.Background())
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired cache entries")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Msg("Cache reap completed")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *ReaperJob) Name() string {
	return "cache_reaper"
}
