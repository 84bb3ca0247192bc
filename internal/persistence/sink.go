package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// AlertSink adapts a Facade to the alerts.Sink shape (CreateAlert/ResolveAlert
// without a context parameter), since the Alert Engine is a pure in-memory
// component that never threads a context through.
type AlertSink struct {
	Facade Facade
	Log    zerolog.Logger
}

// CreateAlert persists a newly created alert, logging (not failing) on error
// — a persistence hiccup must never unwind the Alert Engine's state.
func (s AlertSink) CreateAlert(alert domain.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Facade.CreateAlert(ctx, alert); err != nil {
		s.Log.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to persist alert")
	}
}

// ResolveAlert persists an alert resolution.
func (s AlertSink) ResolveAlert(alertID string, resolvedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Facade.ResolveAlert(ctx, alertID, resolvedAt); err != nil {
		s.Log.Warn().Err(err).Str("alert_id", alertID).Msg("failed to persist alert resolution")
	}
}
