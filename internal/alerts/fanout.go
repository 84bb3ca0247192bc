package alerts

import (
	"time"

	"github.com/onchainrisk/monitor/internal/domain"
)

// FanOutSink delivers to every wrapped Sink in order. Used to fan an alert
// out to both the Persistence Facade and the Stream Hub without either
// depending on the other.
type FanOutSink []Sink

// CreateAlert delivers to every sink.
func (f FanOutSink) CreateAlert(alert domain.Alert) {
	for _, sink := range f {
		sink.CreateAlert(alert)
	}
}

// ResolveAlert delivers to every sink.
func (f FanOutSink) ResolveAlert(alertID string, resolvedAt time.Time) {
	for _, sink := range f {
		sink.ResolveAlert(alertID, resolvedAt)
	}
}
