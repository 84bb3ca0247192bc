package stream

import (
	"time"

	"github.com/onchainrisk/monitor/internal/domain"
)

// PublishRiskMetrics implements monitor.Publisher, fanning a new RiskMetrics
// out to its position's risk topic.
func (h *Hub) PublishRiskMetrics(positionID string, metrics domain.RiskMetrics) {
	h.Publish(RiskTopic(positionID), "risk", metrics)
}

// PublishPosition implements monitor.Publisher.
func (h *Hub) PublishPosition(owner domain.Address, pos *domain.Position) {
	h.Publish(PositionsTopic(owner), "position", pos)
}

// CreateAlert implements alerts.Sink.
func (h *Hub) CreateAlert(alert domain.Alert) {
	h.Publish(AlertsTopic(alert.Owner), "alert", alert)
}

// ResolveAlert implements alerts.Sink. The Stream Hub only has the alert's
// id and resolution time at this point; subscribers reconcile against their
// own previously-delivered Alert.
func (h *Hub) ResolveAlert(alertID string, resolvedAt time.Time) {
	h.Publish(SystemTopic, "alert_resolved", map[string]any{
		"alert_id":    alertID,
		"resolved_at": resolvedAt,
	})
}

// PublishPrice publishes a ValidatedPrice on its token's market topic
// (optional subscription per §4.9).
func (h *Hub) PublishPrice(price domain.ValidatedPrice) {
	h.Publish(MarketTopic(price.Token), "price", price)
}

// PublishAnomaly forwards a price-aggregator anomaly onto the system topic
// as a degraded-state signal.
func (h *Hub) PublishAnomaly(token domain.TokenRef, priceUSD float64, deviationPercent float64) {
	h.Publish(SystemTopic, "price_anomaly", map[string]any{
		"token":             token,
		"price_usd":         priceUSD,
		"deviation_percent": deviationPercent,
	})
}
