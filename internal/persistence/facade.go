// Package persistence defines the narrow abstract Facade (C10) the core
// depends on, plus a sqlite reference implementation (sqlite/) and an S3/R2
// cold-storage archival path (archive/). The core never assumes a
// particular store; it only assumes read-your-writes for a single owner on
// the same connection.
package persistence

import (
	"context"
	"time"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Facade is the complete persistence contract §4.10 specifies.
type Facade interface {
	UpsertPosition(ctx context.Context, pos *domain.Position) error
	ArchivePosition(ctx context.Context, id string) error
	LoadPositions(ctx context.Context, owner domain.Address) ([]*domain.Position, error)

	InsertRiskMetrics(ctx context.Context, positionID string, metrics domain.RiskMetrics) error
	LatestRiskMetrics(ctx context.Context, positionID string) (domain.RiskMetrics, bool, error)

	ListThresholds(ctx context.Context, owner domain.Address) ([]domain.ThresholdRule, error)
	CreateAlert(ctx context.Context, alert domain.Alert) error
	ResolveAlert(ctx context.Context, alertID string, resolvedAt time.Time) error

	AppendPrice(ctx context.Context, price domain.ValidatedPrice) error

	// PruneRetention deletes RiskMetrics and price history rows older than
	// olderThan, returning the number of rows removed from each table. Used
	// by the retention/archival maintenance job.
	PruneRetention(ctx context.Context, olderThan time.Time) (riskRows, priceRows int64, err error)
}
