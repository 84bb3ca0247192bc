package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Pruner is the narrow slice of the Persistence Facade the retention job
// needs: delete rows older than a cutoff.
type Pruner interface {
	PruneRetention(ctx context.Context, olderThan time.Time) (riskRows, priceRows int64, err error)
}

// Archiver exports retention-expired rows to cold storage ahead of pruning.
// Implemented by internal/persistence/archive.Archiver; nil disables
// archival and the job prunes directly.
type Archiver interface {
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (key string, riskRows, priceRows int, err error)
}

// RetentionJob prunes RiskMetrics and ValidatedPrice rows older than
// Window, archiving them first when an Archiver is configured. Grounded on
// the teacher's daily/weekly maintenance jobs (periodic database upkeep)
// and r2_backup_service.go (archive-then-prune ordering), adapted from
// whole-database backup to per-row cold-storage export.
type RetentionJob struct {
	facade   Pruner
	archiver Archiver // nil disables archival
	window   time.Duration
	log      zerolog.Logger
}

// NewRetentionJob builds a job that prunes rows older than window.
func NewRetentionJob(facade Pruner, archiver Archiver, window time.Duration, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		facade:   facade,
		archiver: archiver,
		window:   window,
		log:      log.With().Str("job", "retention").Logger(),
	}
}

// Name identifies the job for scheduler logging.
func (j *RetentionJob) Name() string { return "retention_prune" }

// Run archives (if configured) then prunes rows older than the retention
// window. Archival failure aborts the run without pruning, so expired rows
// are never lost to a partial upload.
func (j *RetentionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.window)

	if j.archiver != nil {
		key, riskRows, priceRows, err := j.archiver.ArchiveOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive before prune: %w", err)
		}
		if key != "" {
			j.log.Info().Str("archive_key", key).Int("risk_rows", riskRows).Int("price_rows", priceRows).Msg("archived retention-expired rows")
		}
	}

	riskRows, priceRows, err := j.facade.PruneRetention(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune retention: %w", err)
	}
	j.log.Info().Int64("risk_rows", riskRows).Int64("price_rows", priceRows).Time("cutoff", cutoff).Msg("pruned retention-expired rows")
	return nil
}
