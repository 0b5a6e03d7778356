package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const metricColumns = `id, organization_id, name, kind, event_types, aggregation,
	numerator_id, denominator_id, format, created_at`

func (s *SQLStore) CreateMetric(ctx context.Context, m *MetricDefinition) error {
	var typesJSON sql.NullString
	if len(m.EventTypes) > 0 {
		b, err := json.Marshal(m.EventTypes)
		if err != nil {
			return fmt.Errorf("failed to marshal event types: %w", err)
		}
		typesJSON = sql.NullString{String: string(b), Valid: true}
	}
	if m.Format == "" {
		m.Format = FormatNumber
	}

	now := time.Now().UTC()
	err := s.queryRow(ctx,
		`INSERT INTO metrics (organization_id, name, kind, event_types, aggregation, numerator_id, denominator_id, format, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		m.OrganizationID, m.Name, string(m.Kind), typesJSON, nullableString(string(m.Aggregation)),
		nullableInt(m.NumeratorID), nullableInt(m.DenominatorID), string(m.Format), toMillis(now),
	).Scan(&m.ID)
	if err != nil {
		return storageErr("insert metric", err)
	}
	m.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (s *SQLStore) GetMetric(ctx context.Context, id int64) (*MetricDefinition, error) {
	m, err := scanMetric(s.queryRow(ctx, `SELECT `+metricColumns+` FROM metrics WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLStore) ListMetrics(ctx context.Context, organizationID int64) ([]*MetricDefinition, error) {
	rows, err := s.query(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE organization_id = ? ORDER BY id`,
		organizationID,
	)
	if err != nil {
		return nil, storageErr("list metrics", err)
	}
	defer rows.Close()

	var metrics []*MetricDefinition
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list metrics", err)
	}
	return metrics, nil
}

// CountMetricDependents counts the calculated metrics that reference id
// as numerator or denominator.
func (s *SQLStore) CountMetricDependents(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM metrics WHERE numerator_id = ? OR denominator_id = ?`,
		id, id,
	).Scan(&n)
	if err != nil {
		return 0, storageErr("count metric dependents", err)
	}
	return n, nil
}

// DeleteMetric removes a metric definition. A metric that any other metric
// references is rejected with ErrInUse.
func (s *SQLStore) DeleteMetric(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var dependents int
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT COUNT(*) FROM metrics WHERE numerator_id = ? OR denominator_id = ?`),
			id, id,
		).Scan(&dependents)
		if err != nil {
			return storageErr("count metric dependents", err)
		}
		if dependents > 0 {
			return fmt.Errorf("metric %d is referenced by %d other metric(s): %w", id, dependents, ErrInUse)
		}

		result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM metrics WHERE id = ?`), id)
		if err != nil {
			return storageErr("delete metric", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return storageErr("delete metric", err)
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanMetric(row rowScanner) (*MetricDefinition, error) {
	var m MetricDefinition
	var kind, format string
	var typesJSON, aggregation sql.NullString
	var numeratorID, denominatorID sql.NullInt64
	var createdAt int64

	err := row.Scan(&m.ID, &m.OrganizationID, &m.Name, &kind, &typesJSON, &aggregation,
		&numeratorID, &denominatorID, &format, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("scan metric", err)
	}

	if typesJSON.Valid && typesJSON.String != "" {
		if err := json.Unmarshal([]byte(typesJSON.String), &m.EventTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event types: %w", err)
		}
	}

	m.Kind = MetricKind(kind)
	m.Aggregation = Aggregation(aggregation.String)
	m.NumeratorID = intPtr(numeratorID)
	m.DenominatorID = intPtr(denominatorID)
	m.Format = Format(format)
	m.CreatedAt = fromMillis(createdAt)

	return &m, nil
}
