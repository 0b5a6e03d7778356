package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_id INTEGER NOT NULL,
    contact_id INTEGER,
    type TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    occurred_at INTEGER NOT NULL,
    confidence REAL NOT NULL DEFAULT 1,
    funnel_id INTEGER,
    funnel_step_id INTEGER,
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
    organization_id INTEGER NOT NULL,
    contact_id INTEGER NOT NULL,
    tag TEXT NOT NULL,
    PRIMARY KEY (organization_id, contact_id, tag)
);

CREATE TABLE IF NOT EXISTS metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    event_types TEXT,
    aggregation TEXT,
    numerator_id INTEGER,
    denominator_id INTEGER,
    format TEXT NOT NULL DEFAULT 'number',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_org ON metrics(organization_id);
CREATE INDEX IF NOT EXISTS idx_metrics_numerator ON metrics(numerator_id);
CREATE INDEX IF NOT EXISTS idx_metrics_denominator ON metrics(denominator_id);

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    funnel_id INTEGER,
    funnel_step_id INTEGER,
    threshold_hours INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_fired_at INTEGER,
    last_event_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_org ON alerts(organization_id, is_active);

CREATE TABLE IF NOT EXISTS funnels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_id INTEGER NOT NULL,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS funnel_steps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    funnel_id INTEGER NOT NULL REFERENCES funnels(id),
    position INTEGER NOT NULL,
    name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_funnel_steps_funnel ON funnel_steps(funnel_id, position);

CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_id INTEGER NOT NULL,
    slug TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS variants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL REFERENCES experiments(id),
    position INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, position);

CREATE TABLE IF NOT EXISTS assignments (
    session_key TEXT NOT NULL,
    experiment_id INTEGER NOT NULL,
    variant_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (session_key, experiment_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_id, variant_id);
`

// OpenSQLite opens (or creates) an embedded SQLite database at dbPath and
// applies the schema.
func OpenSQLite(dbPath string) (*SQLStore, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLStore{db: db, dialect: dialectSQLite}, nil
}
