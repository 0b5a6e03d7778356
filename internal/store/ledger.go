package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetAssignment looks up the sticky variant recorded for a session.
func (s *SQLStore) GetAssignment(ctx context.Context, sessionKey string, experimentID int64) (int64, bool, error) {
	var variantID int64
	err := s.queryRow(ctx,
		`SELECT variant_id FROM assignments WHERE session_key = ? AND experiment_id = ?`,
		sessionKey, experimentID,
	).Scan(&variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("get assignment", err)
	}
	return variantID, true, nil
}

// CreateAssignmentIfAbsent records an assignment unless one already exists
// for the (session, experiment) pair. The first committed row wins; a
// losing writer gets created == false and no error.
func (s *SQLStore) CreateAssignmentIfAbsent(ctx context.Context, sessionKey string, experimentID, variantID int64) (bool, error) {
	result, err := s.exec(ctx,
		`INSERT INTO assignments (session_key, experiment_id, variant_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_key, experiment_id) DO NOTHING`,
		sessionKey, experimentID, variantID, toMillis(time.Now()),
	)
	if err != nil {
		return false, storageErr("create assignment", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("create assignment", err)
	}
	return rowsAffected == 1, nil
}

// VariantConversions counts, per variant, the sessions assigned and the
// assigned sessions that produced an event of eventType after assignment.
func (s *SQLStore) VariantConversions(ctx context.Context, experimentID int64, eventType string) ([]VariantStats, error) {
	rows, err := s.query(ctx, `
		SELECT
			a.variant_id,
			COUNT(DISTINCT a.session_key) AS assigned,
			COUNT(DISTINCT CASE WHEN e.id IS NOT NULL THEN a.session_key END) AS converted
		FROM assignments a
		LEFT JOIN events e
			ON e.session_key = a.session_key
			AND e.type = ?
			AND e.occurred_at >= a.created_at
		WHERE a.experiment_id = ?
		GROUP BY a.variant_id
		ORDER BY a.variant_id
	`, eventType, experimentID)
	if err != nil {
		return nil, storageErr("variant conversions", err)
	}
	defer rows.Close()

	var stats []VariantStats
	for rows.Next() {
		var vs VariantStats
		if err := rows.Scan(&vs.VariantID, &vs.Assigned, &vs.Converted); err != nil {
			return nil, storageErr("scan variant conversions", err)
		}
		stats = append(stats, vs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("variant conversions", err)
	}
	return stats, nil
}
