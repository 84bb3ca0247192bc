package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Store implements persistence.Facade over a sqlite DB.
type Store struct {
	db  *DB
	log zerolog.Logger
}

// NewStore wraps an opened DB as a Facade implementation.
func NewStore(db *DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "persistence.sqlite").Logger()}
}

// UpsertPosition implements persistence.Facade, idempotent by position.ID.
func (s *Store) UpsertPosition(ctx context.Context, pos *domain.Position) error {
	legsJSON, err := json.Marshal(pos.Legs)
	if err != nil {
		return fmt.Errorf("marshal legs: %w", err)
	}
	var entrySnapshotJSON []byte
	if pos.EntrySnapshot != nil {
		entrySnapshotJSON, err = json.Marshal(pos.EntrySnapshot)
		if err != nil {
			return fmt.Errorf("marshal entry snapshot: %w", err)
		}
	}
	payloadJSON, err := marshalPayload(pos.ProtocolPayload)
	if err != nil {
		return fmt.Errorf("marshal protocol payload: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO positions
			(id, owner, protocol, chain, kind, legs_json, entry_snapshot_json, last_refresh, protocol_payload_json, archived, zero_amount_ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner=excluded.owner, protocol=excluded.protocol, chain=excluded.chain, kind=excluded.kind,
			legs_json=excluded.legs_json, entry_snapshot_json=excluded.entry_snapshot_json,
			last_refresh=excluded.last_refresh, protocol_payload_json=excluded.protocol_payload_json,
			archived=excluded.archived, zero_amount_ticks=excluded.zero_amount_ticks`,
		pos.ID, pos.Owner.String(), string(pos.Protocol), uint32(pos.Chain), string(pos.Kind),
		string(legsJSON), nullableString(entrySnapshotJSON), pos.LastRefresh.UnixNano(),
		nullableString(payloadJSON), boolToInt(pos.Archived), pos.ZeroAmountTicks,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// ArchivePosition marks a position archived without altering any other
// field (the owning adapter may not have an in-memory copy at hand).
func (s *Store) ArchivePosition(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `UPDATE positions SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive position: %w", err)
	}
	return nil
}

// LoadPositions returns every non-archived position for owner.
func (s *Store) LoadPositions(ctx context.Context, owner domain.Address) ([]*domain.Position, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, owner, protocol, chain, kind, legs_json, entry_snapshot_json, last_refresh,
			protocol_payload_json, archived, zero_amount_ticks
		FROM positions WHERE owner = ? AND archived = 0`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func scanPosition(rows *sql.Rows) (*domain.Position, error) {
	var (
		id, ownerStr, protocol, kind, legsJSON string
		chain                                   uint32
		entrySnapshotJSON, payloadJSON          sql.NullString
		lastRefreshNano                          int64
		archivedInt, zeroAmountTicks             int
	)
	if err := rows.Scan(&id, &ownerStr, &protocol, &chain, &kind, &legsJSON, &entrySnapshotJSON,
		&lastRefreshNano, &payloadJSON, &archivedInt, &zeroAmountTicks); err != nil {
		return nil, err
	}

	owner, err := domain.ParseAddress(ownerStr)
	if err != nil {
		return nil, fmt.Errorf("parse owner address: %w", err)
	}

	var legs []domain.Leg
	if err := json.Unmarshal([]byte(legsJSON), &legs); err != nil {
		return nil, fmt.Errorf("unmarshal legs: %w", err)
	}

	pos := &domain.Position{
		ID:              id,
		Owner:           owner,
		Protocol:        domain.Protocol(protocol),
		Chain:           domain.ChainId(chain),
		Kind:            domain.PositionKind(kind),
		Legs:            legs,
		LastRefresh:     time.Unix(0, lastRefreshNano),
		Archived:        archivedInt != 0,
		ZeroAmountTicks: zeroAmountTicks,
	}

	if entrySnapshotJSON.Valid && entrySnapshotJSON.String != "" {
		var snap domain.EntrySnapshot
		if err := json.Unmarshal([]byte(entrySnapshotJSON.String), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal entry snapshot: %w", err)
		}
		pos.EntrySnapshot = &snap
	}

	if payloadJSON.Valid && payloadJSON.String != "" {
		payload, err := unmarshalPayload(pos.Kind, []byte(payloadJSON.String))
		if err != nil {
			return nil, fmt.Errorf("unmarshal protocol payload: %w", err)
		}
		pos.ProtocolPayload = payload
	}

	return pos, nil
}

// InsertRiskMetrics is append-only.
func (s *Store) InsertRiskMetrics(ctx context.Context, positionID string, metrics domain.RiskMetrics) error {
	factorsJSON, err := json.Marshal(metrics.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO risk_metrics (position_id, timestamp, factors_json, overall, level, confidence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		positionID, metrics.Timestamp.UnixNano(), string(factorsJSON), metrics.Overall, string(metrics.Level), metrics.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert risk metrics: %w", err)
	}
	return nil
}

// LatestRiskMetrics returns the most recent row for positionID, if any.
func (s *Store) LatestRiskMetrics(ctx context.Context, positionID string) (domain.RiskMetrics, bool, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT timestamp, factors_json, overall, level, confidence
		FROM risk_metrics WHERE position_id = ? ORDER BY timestamp DESC LIMIT 1`, positionID)

	var (
		tsNano                int64
		factorsJSON, level    string
		overall, confidence   float64
	)
	if err := row.Scan(&tsNano, &factorsJSON, &overall, &level, &confidence); err != nil {
		if err == sql.ErrNoRows {
			return domain.RiskMetrics{}, false, nil
		}
		return domain.RiskMetrics{}, false, fmt.Errorf("query latest risk metrics: %w", err)
	}

	var factors map[string]float64
	if err := json.Unmarshal([]byte(factorsJSON), &factors); err != nil {
		return domain.RiskMetrics{}, false, fmt.Errorf("unmarshal factors: %w", err)
	}

	return domain.RiskMetrics{
		PositionID: positionID,
		Timestamp:  time.Unix(0, tsNano),
		Factors:    factors,
		Overall:    overall,
		Level:      domain.Level(level),
		Confidence: confidence,
	}, true, nil
}

// ListThresholds returns every threshold rule owned by owner.
func (s *Store) ListThresholds(ctx context.Context, owner domain.Address) ([]domain.ThresholdRule, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, position_id, factor, comparator, value, enabled
		FROM threshold_rules WHERE owner = ?`, owner.String())
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	var out []domain.ThresholdRule
	for rows.Next() {
		var (
			id, factor, comparator string
			positionID             sql.NullString
			value                  float64
			enabledInt             int
		)
		if err := rows.Scan(&id, &positionID, &factor, &comparator, &value, &enabledInt); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		rule := domain.ThresholdRule{
			ID: id, Owner: owner, Factor: factor,
			Comparator: domain.Comparator(comparator), Value: value, Enabled: enabledInt != 0,
		}
		if positionID.Valid {
			pid := positionID.String
			rule.PositionID = &pid
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// CreateAlert inserts a newly-opened alert.
func (s *Store) CreateAlert(ctx context.Context, alert domain.Alert) error {
	var positionID sql.NullString
	if alert.PositionID != nil {
		positionID = sql.NullString{String: *alert.PositionID, Valid: true}
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO alerts (id, owner, position_id, threshold_id, factor, crossed_value, current_value, severity, state, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		alert.ID, alert.Owner.String(), positionID, alert.ThresholdID, alert.Factor,
		alert.CrossedValue, alert.CurrentValue, string(alert.Severity), string(alert.State), alert.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// ResolveAlert marks an alert resolved; alerts are never deleted.
func (s *Store) ResolveAlert(ctx context.Context, alertID string, resolvedAt time.Time) error {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE alerts SET state = ?, resolved_at = ? WHERE id = ?`,
		string(domain.AlertResolved), resolvedAt.UnixNano(), alertID,
	)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return nil
}

// AppendPrice is append-only; retention is enforced separately by PruneRetention.
func (s *Store) AppendPrice(ctx context.Context, price domain.ValidatedPrice) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO price_history (chain, address, price_usd, confidence, deviation_percent, source_count, anomaly_flag, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uint32(price.Token.Chain), price.Token.Address.String(), price.PriceUSD.String(),
		price.Confidence, price.DeviationPercent, price.SourceCount, boolToInt(price.AnomalyFlag), price.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append price: %w", err)
	}
	return nil
}

// PruneRetention deletes risk_metrics and price_history rows older than
// olderThan, reporting how many rows were removed from each table.
func (s *Store) PruneRetention(ctx context.Context, olderThan time.Time) (riskRows, priceRows int64, err error) {
	cutoff := olderThan.UnixNano()

	riskResult, err := s.db.conn.ExecContext(ctx, `DELETE FROM risk_metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("prune risk metrics: %w", err)
	}
	riskRows, _ = riskResult.RowsAffected()

	priceResult, err := s.db.conn.ExecContext(ctx, `DELETE FROM price_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return riskRows, 0, fmt.Errorf("prune price history: %w", err)
	}
	priceRows, _ = priceResult.RowsAffected()

	s.log.Info().Int64("risk_rows", riskRows).Int64("price_rows", priceRows).Time("older_than", olderThan).Msg("pruned retention-expired rows")
	return riskRows, priceRows, nil
}

// ExportPriceHistoryOlderThan and ExportRiskMetricsOlderThan back the
// archival job: they read (never delete) rows for upload to cold storage
// before PruneRetention removes them.
func (s *Store) ExportPriceHistoryOlderThan(ctx context.Context, olderThan time.Time) ([]domain.ValidatedPrice, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT chain, address, price_usd, confidence, deviation_percent, source_count, anomaly_flag, timestamp
		FROM price_history WHERE timestamp < ?`, olderThan.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query price history export: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidatedPrice
	for rows.Next() {
		var (
			chain                          uint32
			addressStr, priceStr           string
			confidence, deviationPercent   float64
			sourceCount, anomalyInt        int
			tsNano                         int64
		)
		if err := rows.Scan(&chain, &addressStr, &priceStr, &confidence, &deviationPercent, &sourceCount, &anomalyInt, &tsNano); err != nil {
			return nil, fmt.Errorf("scan price history export: %w", err)
		}
		addr, err := domain.ParseAddress(addressStr)
		if err != nil {
			return nil, err
		}
		priceUSD, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ValidatedPrice{
			Token:            domain.TokenRef{Chain: domain.ChainId(chain), Address: addr},
			PriceUSD:         priceUSD,
			Confidence:       confidence,
			DeviationPercent: deviationPercent,
			SourceCount:      sourceCount,
			AnomalyFlag:      anomalyInt != 0,
			Timestamp:        time.Unix(0, tsNano),
		})
	}
	return out, rows.Err()
}

// ExportRiskMetricsOlderThan reads (never deletes) risk_metrics rows older
// than olderThan for upload to cold storage ahead of PruneRetention.
func (s *Store) ExportRiskMetricsOlderThan(ctx context.Context, olderThan time.Time) ([]domain.RiskMetrics, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT position_id, timestamp, factors_json, overall, level, confidence
		FROM risk_metrics WHERE timestamp < ?`, olderThan.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query risk metrics export: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskMetrics
	for rows.Next() {
		var (
			positionID, level, factorsJSON string
			tsNano                         int64
			overall, confidence            float64
		)
		if err := rows.Scan(&positionID, &tsNano, &factorsJSON, &overall, &level, &confidence); err != nil {
			return nil, fmt.Errorf("scan risk metrics export: %w", err)
		}
		var factors map[string]float64
		if err := json.Unmarshal([]byte(factorsJSON), &factors); err != nil {
			return nil, fmt.Errorf("decode factors: %w", err)
		}
		out = append(out, domain.RiskMetrics{
			PositionID: positionID,
			Timestamp:  time.Unix(0, tsNano),
			Factors:    factors,
			Overall:    overall,
			Level:      domain.Level(level),
			Confidence: confidence,
		})
	}
	return out, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
