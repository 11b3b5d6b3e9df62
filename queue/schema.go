package queue

// SchemaDDL defines the SQLite schema for the mutation queue.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Outbound mutation log, one row per local task change
CREATE TABLE IF NOT EXISTS mutations (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    entity_id TEXT NOT NULL,
    operation TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    origin TEXT NOT NULL DEFAULT 'local',
    status TEXT NOT NULL DEFAULT 'pending',
    attempt INTEGER NOT NULL DEFAULT 0,
    server_version INTEGER,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mutations_entity ON mutations(entity_id, seq);
CREATE INDEX IF NOT EXISTS idx_mutations_status ON mutations(status);

-- Last server-confirmed version per entity
CREATE TABLE IF NOT EXISTS baselines (
    entity_id TEXT PRIMARY KEY,
    server_version INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);
`
