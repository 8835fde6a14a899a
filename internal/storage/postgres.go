package storage

import (
	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	driver: "postgres",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			instance_id INTEGER NOT NULL,
			started_at BIGINT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BYTEA NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS evaluations (
			session_id TEXT NOT NULL,
			generation INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BYTEA NOT NULL,
			PRIMARY KEY (session_id, generation, idx)
		)`,
	},
	upsertSession: `
		INSERT INTO sessions (id, instance_id, started_at, schema_version, codec_version, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			instance_id = EXCLUDED.instance_id,
			started_at = EXCLUDED.started_at,
			schema_version = EXCLUDED.schema_version,
			codec_version = EXCLUDED.codec_version,
			payload = EXCLUDED.payload
	`,
	selectSession: `SELECT payload FROM sessions WHERE id = $1`,
	listSessions:  `SELECT payload FROM sessions ORDER BY started_at, id`,
	upsertEvaluation: `
		INSERT INTO evaluations (session_id, generation, idx, schema_version, codec_version, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, generation, idx) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			codec_version = EXCLUDED.codec_version,
			payload = EXCLUDED.payload
	`,
	selectEvaluations: `SELECT payload FROM evaluations WHERE session_id = $1 ORDER BY generation, idx`,
}

// PostgresStore keeps results in a PostgreSQL database, the counterpart of
// the simulator's own ODBC result database.
type PostgresStore struct {
	*sqlStore
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{sqlStore: &sqlStore{dialect: postgresDialect, dsn: dsn}}
}
