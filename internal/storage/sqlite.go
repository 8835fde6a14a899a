//go:build sqlite

package storage

import (
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			instance_id INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS evaluations (
			session_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (session_id, generation, idx)
		)`,
	},
	upsertSession: `
		INSERT INTO sessions (id, instance_id, started_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instance_id = excluded.instance_id,
			started_at = excluded.started_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`,
	selectSession: `SELECT payload FROM sessions WHERE id = ?`,
	listSessions:  `SELECT payload FROM sessions ORDER BY started_at, id`,
	upsertEvaluation: `
		INSERT INTO evaluations (session_id, generation, idx, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, generation, idx) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`,
	selectEvaluations: `SELECT payload FROM evaluations WHERE session_id = ? ORDER BY generation, idx`,
}

type SQLiteStore struct {
	*sqlStore
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{sqlStore: &sqlStore{dialect: sqliteDialect, dsn: path}}
}
