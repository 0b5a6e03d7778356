package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const eventColumns = `id, organization_id, contact_id, type, source, occurred_at, confidence,
	funnel_id, funnel_step_id, session_key, payload, external_id`

// RecordEvent appends an event. When ExternalID is set the insert is an
// idempotent upsert: a second delivery of the same external id is ignored
// and created is false. e.ID is populated in both cases.
func (s *SQLStore) RecordEvent(ctx context.Context, e *Event) (bool, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	err = s.queryRow(ctx,
		`INSERT INTO events (organization_id, contact_id, type, source, occurred_at, confidence,
		    funnel_id, funnel_step_id, session_key, payload, external_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (organization_id, external_id) DO NOTHING
		 RETURNING id`,
		e.OrganizationID, nullableInt(e.ContactID), e.Type, e.Source, toMillis(e.Timestamp), e.Confidence,
		nullableInt(e.FunnelID), nullableInt(e.FunnelStepID), e.SessionKey, string(payloadJSON), nullableString(e.ExternalID),
	).Scan(&e.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, storageErr("record event", err)
	}

	// Conflict on external id: the event already exists.
	err = s.queryRow(ctx,
		`SELECT id FROM events WHERE organization_id = ? AND external_id = ?`,
		e.OrganizationID, e.ExternalID,
	).Scan(&e.ID)
	if err != nil {
		return false, storageErr("lookup existing event", err)
	}
	return false, nil
}

// SetEventStatus writes a provider status (for example a refund or
// cancellation) into the payload of the event with the given external id.
// It is the only mutation events allow.
func (s *SQLStore) SetEventStatus(ctx context.Context, organizationID int64, externalID, status string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var id int64
		var payloadJSON string
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT id, payload FROM events WHERE organization_id = ? AND external_id = ?`),
			organizationID, externalID,
		).Scan(&id, &payloadJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return storageErr("get event", err)
		}

		payload := map[string]any{}
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		payload["status"] = status

		updated, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE events SET payload = ? WHERE id = ?`), string(updated), id); err != nil {
			return storageErr("update event status", err)
		}
		return nil
	})
}

func (s *SQLStore) TagContact(ctx context.Context, organizationID, contactID int64, tag string) error {
	_, err := s.exec(ctx,
		`INSERT INTO contact_tags (organization_id, contact_id, tag) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		organizationID, contactID, tag,
	)
	if err != nil {
		return storageErr("tag contact", err)
	}
	return nil
}

func (s *SQLStore) FindEvents(ctx context.Context, f Filter) ([]*Event, error) {
	where, args := buildWhere(f)
	rows, err := s.query(ctx,
		`SELECT `+eventColumns+` FROM events`+where+` ORDER BY occurred_at ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, storageErr("find events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("find events", err)
	}
	return events, nil
}

// FindLatestEvent returns the most recent event matching f, or nil when
// nothing matches.
func (s *SQLStore) FindLatestEvent(ctx context.Context, f Filter) (*Event, error) {
	where, args := buildWhere(f)
	rows, err := s.query(ctx,
		`SELECT `+eventColumns+` FROM events`+where+` ORDER BY occurred_at DESC, id DESC LIMIT 1`,
		args...,
	)
	if err != nil {
		return nil, storageErr("find latest event", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storageErr("find latest event", err)
		}
		return nil, nil
	}
	return scanEvent(rows)
}

func (s *SQLStore) CountEvents(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&n); err != nil {
		return 0, storageErr("count events", err)
	}
	return n, nil
}

func (s *SQLStore) CountDistinctContacts(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(DISTINCT contact_id) FROM events`+where, args...).Scan(&n); err != nil {
		return 0, storageErr("count distinct contacts", err)
	}
	return n, nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.OrganizationID != 0 {
		clauses = append(clauses, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, t := range f.Types {
			ph[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, "type IN ("+strings.Join(ph, ",")+")")
	}
	if f.FunnelID != nil {
		clauses = append(clauses, "funnel_id = ?")
		args = append(args, *f.FunnelID)
	}
	if f.FunnelStepID != nil {
		clauses = append(clauses, "funnel_step_id = ?")
		args = append(args, *f.FunnelStepID)
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.Tag != "" {
		clauses = append(clauses, `contact_id IN (
			SELECT contact_id FROM contact_tags WHERE contact_tags.organization_id = events.organization_id AND tag = ?)`)
		args = append(args, f.Tag)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, toMillis(f.Until))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var contactID, funnelID, stepID sql.NullInt64
	var occurredAt int64
	var payloadJSON string
	var externalID sql.NullString

	err := row.Scan(&e.ID, &e.OrganizationID, &contactID, &e.Type, &e.Source, &occurredAt, &e.Confidence,
		&funnelID, &stepID, &e.SessionKey, &payloadJSON, &externalID)
	if err != nil {
		return nil, storageErr("scan event", err)
	}

	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	e.ContactID = intPtr(contactID)
	e.FunnelID = intPtr(funnelID)
	e.FunnelStepID = intPtr(stepID)
	e.Timestamp = fromMillis(occurredAt)
	e.ExternalID = externalID.String

	return &e, nil
}
