package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"tlcopt/internal/model"
)

// dialect holds the driver name and statements of one SQL backend.
type dialect struct {
	driver            string
	schema            []string
	upsertSession     string
	selectSession     string
	listSessions      string
	upsertEvaluation  string
	selectEvaluations string
}

// sqlStore implements Store on database/sql. Records are stored as JSON
// payloads next to the columns used for lookup and ordering.
type sqlStore struct {
	dialect dialect
	dsn     string

	mu sync.RWMutex
	db *sql.DB
}

func (s *sqlStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return fmt.Errorf("%s data source is required", s.dialect.driver)
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.dialect.driver, s.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	for _, stmt := range s.dialect.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("create tables: %w", err)
		}
	}

	s.db = db
	return nil
}

func (s *sqlStore) SaveSession(ctx context.Context, session model.SessionRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSession(session)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.dialect.upsertSession,
		session.ID, session.InstanceID, session.StartedAt.UnixNano(),
		session.SchemaVersion, session.CodecVersion, payload)
	return err
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (model.SessionRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SessionRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, s.dialect.selectSession, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SessionRecord{}, false, nil
		}
		return model.SessionRecord{}, false, err
	}

	session, err := DecodeSession(payload)
	if err != nil {
		return model.SessionRecord{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, true, nil
}

func (s *sqlStore) ListSessions(ctx context.Context) ([]model.SessionRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.dialect.listSessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		session, err := DecodeSession(payload)
		if err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveEvaluation(ctx context.Context, evaluation model.EvaluationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeEvaluation(evaluation)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.dialect.upsertEvaluation,
		evaluation.SessionID, evaluation.Generation, evaluation.Index,
		evaluation.SchemaVersion, evaluation.CodecVersion, payload)
	return err
}

func (s *sqlStore) GetEvaluations(ctx context.Context, sessionID string) ([]model.EvaluationRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.dialect.selectEvaluations, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EvaluationRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		evaluation, err := DecodeEvaluation(payload)
		if err != nil {
			return nil, fmt.Errorf("decode evaluation of session %s: %w", sessionID, err)
		}
		out = append(out, evaluation)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqlStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}
