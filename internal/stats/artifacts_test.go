package stats

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tlcopt/internal/model"
)

func sampleArtifacts(id string, started time.Time) SessionArtifacts {
	ended := started.Add(time.Minute)
	return SessionArtifacts{
		Session: model.SessionRecord{
			ID:             id,
			InstanceID:     3,
			NetworkFile:    "four_way.yaml",
			ControllerKind: model.ControllerFixedTime,
			Task:           model.TaskDescriptor{ReplicationID: 5, JunctionID: 42},
			ReferencePlan: model.PhasePlan{
				JunctionID: 42,
				Cycle:      35,
				Phases: []model.Phase{
					{ID: 1, Duration: 30},
					{ID: 2, Interphase: true, Duration: 5, StartOffset: 30},
				},
			},
			StartedAt: started,
			EndedAt:   &ended,
		},
		Evaluations: []model.EvaluationRecord{
			{
				SessionID: id,
				Seed:      9,
				Genes:     model.Individual{12},
				Plan: model.PhasePlan{Cycle: 17, Phases: []model.Phase{
					{ID: 1, Duration: 12},
					{ID: 2, Interphase: true, Duration: 5, StartOffset: 12},
				}},
				RunID:   "run-1",
				Status:  model.EvaluationDone,
				Elapsed: 1500 * time.Millisecond,
			},
			{SessionID: id, Index: 1, Status: model.EvaluationFailed, Error: "gene 0: malformed token"},
		},
	}
}

func TestWriteAndExportSessionArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	dir, err := WriteSessionArtifacts(baseDir, sampleArtifacts("s-1", time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{sessionFile, phasesFile, evaluationsFile} {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	session, ok, err := ReadSession(baseDir, "s-1")
	if err != nil || !ok {
		t.Fatalf("read session: ok=%t err=%v", ok, err)
	}
	if session.Task.JunctionID != 42 || len(session.ReferencePlan.Phases) != 2 {
		t.Fatalf("unexpected session: %+v", session)
	}

	rows, err := ReadEvaluationRows(baseDir, "s-1")
	if err != nil {
		t.Fatalf("read evaluations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 evaluation rows, got %d", len(rows))
	}
	if rows[0]["durations"] != "12 5" || rows[0]["cycle"] != "17" || rows[0]["elapsed_ms"] != "1500" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1]["status"] != "failed" || rows[1]["error"] == "" {
		t.Fatalf("unexpected second row: %v", rows[1])
	}

	exported, err := ExportSessionArtifacts(baseDir, "s-1", outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range []string{sessionFile, phasesFile, evaluationsFile} {
		if _, err := os.Stat(filepath.Join(exported, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
}

func TestSessionIndexOrderingAndReplace(t *testing.T) {
	baseDir := t.TempDir()
	early := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	if _, err := WriteSessionArtifacts(baseDir, sampleArtifacts("early", early)); err != nil {
		t.Fatalf("write early: %v", err)
	}
	if _, err := WriteSessionArtifacts(baseDir, sampleArtifacts("late", late)); err != nil {
		t.Fatalf("write late: %v", err)
	}
	rewritten := sampleArtifacts("early", early)
	rewritten.Evaluations = rewritten.Evaluations[:1]
	if _, err := WriteSessionArtifacts(baseDir, rewritten); err != nil {
		t.Fatalf("rewrite early: %v", err)
	}

	index, err := ListSessionIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("expected 2 index entries, got %d", len(index))
	}
	if index[0].SessionID != "late" || index[1].SessionID != "early" {
		t.Fatalf("unexpected order: %s, %s", index[0].SessionID, index[1].SessionID)
	}
	if index[1].Evaluations != 1 || index[1].Failed != 0 {
		t.Fatalf("expected replaced entry, got %+v", index[1])
	}
	if index[0].Evaluations != 2 || index[0].Failed != 1 {
		t.Fatalf("unexpected counts: %+v", index[0])
	}
}

func TestListSessionIndexMissing(t *testing.T) {
	index, err := ListSessionIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("expected empty index, got %d", len(index))
	}
}

func TestWriteSessionArtifactsRequiresID(t *testing.T) {
	if _, err := WriteSessionArtifacts(t.TempDir(), SessionArtifacts{}); err == nil {
		t.Fatal("expected error for missing session id")
	}
	if _, _, err := ReadSession(t.TempDir(), "missing"); err != nil {
		t.Fatalf("read missing session: %v", err)
	}
}
