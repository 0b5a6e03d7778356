package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

func (s *SQLStore) CreateExperiment(ctx context.Context, e *Experiment) error {
	if e.Status == "" {
		e.Status = StatusActive
	}
	now := time.Now().UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.rebind(`INSERT INTO experiments (organization_id, slug, name, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 RETURNING id`),
			e.OrganizationID, e.Slug, e.Name, string(e.Status), toMillis(now), toMillis(now),
		).Scan(&e.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("experiment %q: %w", e.Slug, ErrAlreadyExists)
			}
			return storageErr("insert experiment", err)
		}

		for i := range e.Variants {
			v := &e.Variants[i]
			err := tx.QueryRowContext(ctx,
				s.rebind(`INSERT INTO variants (experiment_id, position, name, url, weight) VALUES (?, ?, ?, ?, ?) RETURNING id`),
				e.ID, i, v.Name, v.URL, v.Weight,
			).Scan(&v.ID)
			if err != nil {
				return storageErr("insert variant", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.CreatedAt = fromMillis(toMillis(now))
	e.UpdatedAt = e.CreatedAt
	return nil
}

func (s *SQLStore) GetExperimentBySlug(ctx context.Context, slug string) (*Experiment, error) {
	var e Experiment
	var status string
	var createdAt, updatedAt int64

	err := s.queryRow(ctx,
		`SELECT id, organization_id, slug, name, status, created_at, updated_at FROM experiments WHERE slug = ?`,
		slug,
	).Scan(&e.ID, &e.OrganizationID, &e.Slug, &e.Name, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get experiment", err)
	}

	e.Status = ExperimentStatus(status)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)

	variants, err := s.listVariants(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Variants = variants
	return &e, nil
}

func (s *SQLStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.query(ctx,
		`SELECT slug FROM experiments ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, storageErr("list experiments", err)
	}
	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			rows.Close()
			return nil, storageErr("scan experiment", err)
		}
		slugs = append(slugs, slug)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("list experiments", err)
	}

	experiments := make([]*Experiment, 0, len(slugs))
	for _, slug := range slugs {
		e, err := s.GetExperimentBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	return experiments, nil
}

func (s *SQLStore) UpdateExperimentStatus(ctx context.Context, slug string, status ExperimentStatus) error {
	result, err := s.exec(ctx,
		`UPDATE experiments SET status = ?, updated_at = ? WHERE slug = ?`,
		string(status), toMillis(time.Now()), slug,
	)
	if err != nil {
		return storageErr("update experiment status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("update experiment status", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) listVariants(ctx context.Context, experimentID int64) ([]Variant, error) {
	rows, err := s.query(ctx,
		`SELECT id, name, url, weight FROM variants WHERE experiment_id = ? ORDER BY position, id`,
		experimentID,
	)
	if err != nil {
		return nil, storageErr("list variants", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.URL, &v.Weight); err != nil {
			return nil, storageErr("scan variant", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list variants", err)
	}
	return variants, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
