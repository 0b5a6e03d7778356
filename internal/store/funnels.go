package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *SQLStore) CreateFunnel(ctx context.Context, organizationID int64, name string, steps []string) (*Funnel, error) {
	f := &Funnel{OrganizationID: organizationID, Name: name}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.rebind(`INSERT INTO funnels (organization_id, name) VALUES (?, ?) RETURNING id`),
			organizationID, name,
		).Scan(&f.ID)
		if err != nil {
			return storageErr("insert funnel", err)
		}

		for i, stepName := range steps {
			step := FunnelStep{FunnelID: f.ID, Position: i + 1, Name: stepName}
			err := tx.QueryRowContext(ctx,
				s.rebind(`INSERT INTO funnel_steps (funnel_id, position, name) VALUES (?, ?, ?) RETURNING id`),
				f.ID, step.Position, step.Name,
			).Scan(&step.ID)
			if err != nil {
				return storageErr("insert funnel step", err)
			}
			f.Steps = append(f.Steps, step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFunnelSteps returns the steps of a funnel ordered by position.
func (s *SQLStore) ListFunnelSteps(ctx context.Context, funnelID int64) ([]FunnelStep, error) {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM funnels WHERE id = ?`, funnelID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get funnel", err)
	}

	rows, err := s.query(ctx,
		`SELECT id, funnel_id, position, name FROM funnel_steps WHERE funnel_id = ? ORDER BY position, id`,
		funnelID,
	)
	if err != nil {
		return nil, storageErr("list funnel steps", err)
	}
	defer rows.Close()

	var steps []FunnelStep
	for rows.Next() {
		var step FunnelStep
		if err := rows.Scan(&step.ID, &step.FunnelID, &step.Position, &step.Name); err != nil {
			return nil, storageErr("scan funnel step", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list funnel steps", err)
	}
	return steps, nil
}
