package storage

import (
	"context"
	"testing"
	"time"

	"tlcopt/internal/model"
)

func sampleSession(id string, started time.Time) model.SessionRecord {
	return model.SessionRecord{
		VersionedRecord: Versioned(),
		ID:              id,
		InstanceID:      2,
		NetworkFile:     "four_way.yaml",
		ControllerKind:  model.ControllerFixedTime,
		Database:        "layer2_2",
		Task: model.TaskDescriptor{
			ReplicationID:      5,
			JunctionID:         42,
			PointInTime:        120,
			SimulationDuration: 600,
			WarmupDuration:     300,
		},
		Statuses:  []string{"REPLICATION_ID_OK", "TIME_OK"},
		Motorized: []model.Turning{{FromSectionID: 101, ToSectionID: 201}},
		ReferencePlan: model.PhasePlan{
			JunctionID: 42,
			Cycle:      35,
			Phases:     []model.Phase{{ID: 1, Duration: 30}, {ID: 2, Interphase: true, Duration: 5, StartOffset: 30}},
		},
		StartedAt: started,
	}
}

func sampleEvaluation(sessionID string, generation, index int) model.EvaluationRecord {
	return model.EvaluationRecord{
		VersionedRecord: Versioned(),
		SessionID:       sessionID,
		Generation:      generation,
		Index:           index,
		Seed:            int64(100 + generation),
		Genes:           model.Individual{10 + index},
		Status:          model.EvaluationDone,
		Elapsed:         25 * time.Millisecond,
		FinishedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	later := sampleSession("s-later", base.Add(time.Hour))
	earlier := sampleSession("s-earlier", base)
	for _, session := range []model.SessionRecord{later, earlier} {
		if err := store.SaveSession(ctx, session); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}

	ended := base.Add(2 * time.Hour)
	earlier.EndedAt = &ended
	if err := store.SaveSession(ctx, earlier); err != nil {
		t.Fatalf("update session: %v", err)
	}

	loaded, ok, err := store.GetSession(ctx, earlier.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok {
		t.Fatalf("expected session %s", earlier.ID)
	}
	if loaded.EndedAt == nil || !loaded.EndedAt.Equal(ended) || loaded.Task.JunctionID != 42 {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}
	if len(loaded.ReferencePlan.Phases) != 2 || !loaded.ReferencePlan.Phases[1].Interphase {
		t.Fatalf("unexpected reference plan: %+v", loaded.ReferencePlan)
	}

	if _, ok, err := store.GetSession(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing session, ok=%t err=%v", ok, err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s-earlier" || sessions[1].ID != "s-later" {
		t.Fatalf("unexpected session order: %+v", sessions)
	}

	for _, evaluation := range []model.EvaluationRecord{
		sampleEvaluation(earlier.ID, 2, 0),
		sampleEvaluation(earlier.ID, 1, 1),
		sampleEvaluation(earlier.ID, 1, 0),
		sampleEvaluation(later.ID, 1, 0),
	} {
		if err := store.SaveEvaluation(ctx, evaluation); err != nil {
			t.Fatalf("save evaluation: %v", err)
		}
	}
	failed := sampleEvaluation(earlier.ID, 1, 1)
	failed.Status = model.EvaluationFailed
	failed.Error = "negative gene"
	if err := store.SaveEvaluation(ctx, failed); err != nil {
		t.Fatalf("overwrite evaluation: %v", err)
	}

	evaluations, err := store.GetEvaluations(ctx, earlier.ID)
	if err != nil {
		t.Fatalf("get evaluations: %v", err)
	}
	if len(evaluations) != 3 {
		t.Fatalf("expected 3 evaluations, got %d", len(evaluations))
	}
	order := [][2]int{{1, 0}, {1, 1}, {2, 0}}
	for i, evaluation := range evaluations {
		if evaluation.Generation != order[i][0] || evaluation.Index != order[i][1] {
			t.Fatalf("evaluation %d out of order: gen=%d idx=%d", i, evaluation.Generation, evaluation.Index)
		}
	}
	if evaluations[1].Status != model.EvaluationFailed || evaluations[1].Error != "negative gene" {
		t.Fatalf("expected overwritten evaluation, got %+v", evaluations[1])
	}

	none, err := store.GetEvaluations(ctx, "missing")
	if err != nil {
		t.Fatalf("get evaluations for missing session: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no evaluations, got %d", len(none))
	}
}
