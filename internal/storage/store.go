package storage

import (
	"context"

	"tlcopt/internal/model"
)

// Store persists session summaries and per-individual evaluation results.
type Store interface {
	Init(ctx context.Context) error
	SaveSession(ctx context.Context, session model.SessionRecord) error
	GetSession(ctx context.Context, id string) (model.SessionRecord, bool, error)
	// ListSessions returns sessions ordered by start time.
	ListSessions(ctx context.Context) ([]model.SessionRecord, error)
	SaveEvaluation(ctx context.Context, evaluation model.EvaluationRecord) error
	// GetEvaluations returns a session's evaluations ordered by generation
	// and index.
	GetEvaluations(ctx context.Context, sessionID string) ([]model.EvaluationRecord, error)
}
