package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    organization_id BIGINT NOT NULL,
    contact_id BIGINT,
    type TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    occurred_at BIGINT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 1,
    funnel_id BIGINT,
    funnel_step_id BIGINT,
    session_key TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    external_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_org_time ON events(organization_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_org_type_time ON events(organization_id, type, occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_funnel ON events(funnel_id, funnel_step_id);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_external ON events(organization_id, external_id);

CREATE TABLE IF NOT EXISTS contact_tags (
    organization_id BIGINT NOT NULL,
    contact_id BIGINT NOT NULL,
    tag TEXT NOT NULL,
    PRIMARY KEY (organization_id, contact_id, tag)
);

CREATE TABLE IF NOT EXISTS metrics (
    id BIGSERIAL PRIMARY KEY,
    organization_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    event_types TEXT,
    aggregation TEXT,
    numerator_id BIGINT,
    denominator_id BIGINT,
    format TEXT NOT NULL DEFAULT 'number',
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_org ON metrics(organization_id);
CREATE INDEX IF NOT EXISTS idx_metrics_numerator ON metrics(numerator_id);
CREATE INDEX IF NOT EXISTS idx_metrics_denominator ON metrics(denominator_id);

CREATE TABLE IF NOT EXISTS alerts (
    id BIGSERIAL PRIMARY KEY,
    organization_id BIGINT NOT NULL,
    type TEXT NOT NULL,
    funnel_id BIGINT,
    funnel_step_id BIGINT,
    threshold_hours INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_fired_at BIGINT,
    last_event_at BIGINT,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_org ON alerts(organization_id, is_active);

CREATE TABLE IF NOT EXISTS funnels (
    id BIGSERIAL PRIMARY KEY,
    organization_id BIGINT NOT NULL,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS funnel_steps (
    id BIGSERIAL PRIMARY KEY,
    funnel_id BIGINT NOT NULL REFERENCES funnels(id),
    position INTEGER NOT NULL,
    name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_funnel_steps_funnel ON funnel_steps(funnel_id, position);

CREATE TABLE IF NOT EXISTS experiments (
    id BIGSERIAL PRIMARY KEY,
    organization_id BIGINT NOT NULL,
    slug TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS variants (
    id BIGSERIAL PRIMARY KEY,
    experiment_id BIGINT NOT NULL REFERENCES experiments(id),
    position INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, position);

CREATE TABLE IF NOT EXISTS assignments (
    session_key TEXT NOT NULL,
    experiment_id BIGINT NOT NULL,
    variant_id BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (session_key, experiment_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_id, variant_id);
`

// OpenPostgres connects to a PostgreSQL database and applies the schema.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLStore{db: db, dialect: dialectPostgres}, nil
}
