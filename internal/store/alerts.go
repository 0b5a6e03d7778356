package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const alertColumns = `id, organization_id, type, funnel_id, funnel_step_id, threshold_hours,
	is_active, last_fired_at, last_event_at, created_at`

func (s *SQLStore) CreateAlert(ctx context.Context, a *Alert) error {
	if a.Type == "" {
		a.Type = AnyEvent
	}
	now := time.Now().UTC()
	err := s.queryRow(ctx,
		`INSERT INTO alerts (organization_id, type, funnel_id, funnel_step_id, threshold_hours, is_active, last_fired_at, last_event_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		a.OrganizationID, a.Type, nullableInt(a.FunnelID), nullableInt(a.FunnelStepID), a.ThresholdHours,
		boolToInt(a.IsActive), nullableTime(a.LastFiredAt), nullableTime(a.LastEventAt), toMillis(now),
	).Scan(&a.ID)
	if err != nil {
		return storageErr("insert alert", err)
	}
	a.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (s *SQLStore) GetAlert(ctx context.Context, id int64) (*Alert, error) {
	a, err := scanAlert(s.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAlerts returns every alert of an organization, active or not.
// organizationID 0 lists alerts of all organizations.
func (s *SQLStore) ListAlerts(ctx context.Context, organizationID int64) ([]*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var args []any
	if organizationID != 0 {
		query += ` WHERE organization_id = ?`
		args = append(args, organizationID)
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list alerts", err)
	}
	return alerts, nil
}

// UpdateAlertState writes the monitor-owned fields that are set in st.
func (s *SQLStore) UpdateAlertState(ctx context.Context, id int64, st AlertState) error {
	var sets []string
	var args []any
	if st.LastEventAt != nil {
		sets = append(sets, "last_event_at = ?")
		args = append(args, toMillis(*st.LastEventAt))
	}
	if st.LastFiredAt != nil {
		sets = append(sets, "last_fired_at = ?")
		args = append(args, toMillis(*st.LastFiredAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	result, err := s.exec(ctx, `UPDATE alerts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storageErr("update alert state", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("update alert state", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var funnelID, stepID, lastFiredAt, lastEventAt sql.NullInt64
	var isActive int
	var createdAt int64

	err := row.Scan(&a.ID, &a.OrganizationID, &a.Type, &funnelID, &stepID, &a.ThresholdHours,
		&isActive, &lastFiredAt, &lastEventAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("scan alert", err)
	}

	a.FunnelID = intPtr(funnelID)
	a.FunnelStepID = intPtr(stepID)
	a.IsActive = isActive == 1
	a.LastFiredAt = timePtr(lastFiredAt)
	a.LastEventAt = timePtr(lastEventAt)
	a.CreatedAt = fromMillis(createdAt)

	return &a, nil
}
