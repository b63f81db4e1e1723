package container

import "database/sql"

const ddl = `
CREATE TABLE IF NOT EXISTS attrs (
    scope TEXT NOT NULL,
    key   TEXT NOT NULL,
    value TEXT NOT NULL,
    kind  TEXT NOT NULL DEFAULT 'str',
    PRIMARY KEY (scope, key)
);

CREATE TABLE IF NOT EXISTS datasets (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL UNIQUE,
    dtype         TEXT NOT NULL,
    unit          TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    compression   TEXT NOT NULL DEFAULT 'none',
    chunk_samples INTEGER NOT NULL,
    length        INTEGER NOT NULL DEFAULT 0,
    cal_gain      REAL NOT NULL DEFAULT 1.0,
    cal_offset    REAL NOT NULL DEFAULT 0.0
);

CREATE TABLE IF NOT EXISTS chunks (
    dataset_id INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    n          INTEGER NOT NULL,
    raw        BLOB NOT NULL,
    PRIMARY KEY (dataset_id, seq)
);

CREATE TABLE IF NOT EXISTS logs (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    source  TEXT NOT NULL,
    time_ns INTEGER NOT NULL,
    message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logs_source ON logs(source, time_ns);
`

// Init creates the schema tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}
