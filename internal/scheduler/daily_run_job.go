package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/fanout"
	"github.com/aristath/tickerbrief/internal/ledger"
	"github.com/aristath/tickerbrief/internal/snapshots"
	"github.com/aristath/tickerbrief/internal/universe"
)

// triggerer is the slice of the fan-out controller the job needs.
type triggerer interface {
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.RunSummary, error)
}

var _ triggerer = (*fanout.Controller)(nil)

// snapshotReadiness is the slice of the snapshot store the readiness gate
// needs. CountForDate only feeds the timeout log.
type snapshotReadiness interface {
	ReadyForDate(ctx context.Context, date string, universeSize int) (bool, error)
	CountForDate(ctx context.Context, date string) (int, error)
}

var _ snapshotReadiness = (*snapshots.Repository)(nil)

// NextRunDate maps a firing instant to the UTC trading date it should
// process, or false when no run is due (weekends). Keeping this pure means
// the date decision carries no scheduler state: a firing at any instant
// always resolves to the same date, and restarts rely on the ledger refire
// guard rather than a remembered last run.
func NextRunDate(now time.Time) (string, bool) {
	now = now.UTC()
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return "", false
	}
	return now.Format("2006-01-02"), true
}

// DailyRunJob fires the fan-out for the current UTC date once the upstream
// snapshot fetch looks complete. A date whose ledger already has rows is not
// re-triggered; cron misfires and restarts land here, and the operator API
// is the path for deliberate re-runs.
type DailyRunJob struct {
	fanout           triggerer
	ledger           *ledger.Repository
	snapshots        snapshotReadiness
	universe         *universe.Repository
	readinessTimeout time.Duration
	readinessPoll    time.Duration
	now              func() time.Time
	log              zerolog.Logger
}

// NewDailyRunJob creates the scheduled daily run job.
func NewDailyRunJob(
	fanoutController triggerer,
	ledgerRepo *ledger.Repository,
	snapshotStore snapshotReadiness,
	universeRepo *universe.Repository,
	readinessTimeout, readinessPoll time.Duration,
	log zerolog.Logger,
) *DailyRunJob {
	return &DailyRunJob{
		fanout:           fanoutController,
		ledger:           ledgerRepo,
		snapshots:        snapshotStore,
		universe:         universeRepo,
		readinessTimeout: readinessTimeout,
		readinessPoll:    readinessPoll,
		now:              time.Now,
		log:              log.With().Str("job", "daily_run").Logger(),
	}
}

// Run executes one scheduled firing.
func (j *DailyRunJob) Run() error {
	ctx := context.Background()
	date, ok := NextRunDate(j.now())
	if !ok {
		j.log.Debug().Msg("No run due today")
		return nil
	}
	log := j.log.With().Str("date", date).Logger()

	// Refire guard: rows for this date mean a run was already triggered.
	count, err := j.ledger.CountByDate(ctx, date)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Info().Int("existing_jobs", count).Msg("Run already triggered for date, skipping")
		return nil
	}

	if err := j.waitForSnapshots(ctx, date, log); err != nil {
		return err
	}

	summary, err := j.fanout.Trigger(ctx, domain.TriggerRequest{Date: date, TriggeredBy: "scheduler"})
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Msg("Scheduled run finished")
	return nil
}

// waitForSnapshots polls until the upstream fetch covers the universe or the
// readiness timeout passes. A timeout does not abort the run: the missing
// symbols fail as missing_input in the ledger, which is more visible than a
// silently skipped day.
func (j *DailyRunJob) waitForSnapshots(ctx context.Context, date string, log zerolog.Logger) error {
	universeSize, err := j.universe.Count()
	if err != nil {
		return err
	}

	deadline := j.now().Add(j.readinessTimeout)
	for {
		ready, err := j.snapshots.ReadyForDate(ctx, date, universeSize)
		if err != nil {
			return err
		}
		if ready {
			log.Debug().Msg("Upstream snapshots ready")
			return nil
		}
		if j.now().After(deadline) {
			count, err := j.snapshots.CountForDate(ctx, date)
			if err != nil {
				return err
			}
			log.Warn().
				Int("snapshots", count).
				Int("universe", universeSize).
				Msg("Readiness timeout, triggering with incomplete snapshots")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.readinessPoll):
		}
	}
}

// Name returns the job name for scheduling and logging.
func (j *DailyRunJob) Name() string {
	return "daily_run"
}
