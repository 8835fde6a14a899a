package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tlcopt/internal/model"
)

type evaluationKey struct {
	generation int
	index      int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	sessions    map[string]model.SessionRecord
	evaluations map[string]map[evaluationKey]model.EvaluationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.sessions = make(map[string]model.SessionRecord)
	s.evaluations = make(map[string]map[evaluationKey]model.EvaluationRecord)
	return nil
}

func (s *MemoryStore) SaveSession(_ context.Context, session model.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (model.SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return model.SessionRecord{}, false, nil
	}
	return cloneSession(session), true, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]model.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SessionRecord, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveEvaluation(_ context.Context, evaluation model.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	bySession, ok := s.evaluations[evaluation.SessionID]
	if !ok {
		bySession = make(map[evaluationKey]model.EvaluationRecord)
		s.evaluations[evaluation.SessionID] = bySession
	}
	bySession[evaluationKey{generation: evaluation.Generation, index: evaluation.Index}] = cloneEvaluation(evaluation)
	return nil
}

func (s *MemoryStore) GetEvaluations(_ context.Context, sessionID string) ([]model.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySession := s.evaluations[sessionID]
	out := make([]model.EvaluationRecord, 0, len(bySession))
	for _, evaluation := range bySession {
		out = append(out, cloneEvaluation(evaluation))
	}
	sortEvaluations(out)
	return out, nil
}

var errNotInitialized = errors.New("store is not initialized")

func sortEvaluations(records []model.EvaluationRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Generation != records[j].Generation {
			return records[i].Generation < records[j].Generation
		}
		return records[i].Index < records[j].Index
	})
}

func cloneSession(session model.SessionRecord) model.SessionRecord {
	out := session
	out.Statuses = append([]string(nil), session.Statuses...)
	out.Motorized = append([]model.Turning(nil), session.Motorized...)
	out.Pedestrian = append([]model.Turning(nil), session.Pedestrian...)
	out.Task.Situation = append([]float64(nil), session.Task.Situation...)
	out.Task.SectionIDs = append([]int(nil), session.Task.SectionIDs...)
	out.ReferencePlan = session.ReferencePlan.Clone()
	if session.EndedAt != nil {
		ended := *session.EndedAt
		out.EndedAt = &ended
	}
	return out
}

func cloneEvaluation(evaluation model.EvaluationRecord) model.EvaluationRecord {
	out := evaluation
	out.Genes = append(model.Individual(nil), evaluation.Genes...)
	out.Plan = evaluation.Plan.Clone()
	return out
}
