// Package stats writes per-session artifacts to disk and keeps an index of
// the sessions written so far.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tlcopt/internal/model"
)

const (
	sessionIndexFile = "session_index.json"
	sessionFile      = "session.json"
	phasesFile       = "phases.csv"
	evaluationsFile  = "evaluations.csv"
)

type SessionArtifacts struct {
	Session     model.SessionRecord
	Evaluations []model.EvaluationRecord
}

type SessionIndexEntry struct {
	SessionID      string               `json:"session_id"`
	InstanceID     int                  `json:"instance_id"`
	ControllerKind model.ControllerKind `json:"controller_kind"`
	NetworkFile    string               `json:"network_file"`
	ReplicationID  int                  `json:"replication_id"`
	JunctionID     int                  `json:"junction_id"`
	Degraded       bool                 `json:"degraded"`
	Evaluations    int                  `json:"evaluations"`
	Failed         int                  `json:"failed"`
	StartedAtUTC   string               `json:"started_at_utc"`
	EndedAtUTC     string               `json:"ended_at_utc,omitempty"`
}

// WriteSessionArtifacts writes session.json, phases.csv and evaluations.csv
// under baseDir/<session id> and records the session in the index.
func WriteSessionArtifacts(baseDir string, artifacts SessionArtifacts) (string, error) {
	id := artifacts.Session.ID
	if id == "" {
		return "", fmt.Errorf("session id is required")
	}

	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, sessionFile), artifacts.Session); err != nil {
		return "", err
	}
	if err := writePhases(filepath.Join(dir, phasesFile), artifacts.Session.ReferencePlan); err != nil {
		return "", err
	}
	if err := writeEvaluations(filepath.Join(dir, evaluationsFile), artifacts.Evaluations); err != nil {
		return "", err
	}
	if err := AppendSessionIndex(baseDir, indexEntry(artifacts)); err != nil {
		return "", err
	}
	return dir, nil
}

func indexEntry(artifacts SessionArtifacts) SessionIndexEntry {
	s := artifacts.Session
	entry := SessionIndexEntry{
		SessionID:      s.ID,
		InstanceID:     s.InstanceID,
		ControllerKind: s.ControllerKind,
		NetworkFile:    s.NetworkFile,
		ReplicationID:  s.Task.ReplicationID,
		JunctionID:     s.Task.JunctionID,
		Degraded:       s.Degraded,
		Evaluations:    len(artifacts.Evaluations),
		StartedAtUTC:   s.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.EndedAt != nil {
		entry.EndedAtUTC = s.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, e := range artifacts.Evaluations {
		if e.Status == model.EvaluationFailed {
			entry.Failed++
		}
	}
	return entry
}

// AppendSessionIndex adds entry to the index, replacing an entry with the
// same session id.
func AppendSessionIndex(baseDir string, entry SessionIndexEntry) error {
	if entry.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListSessionIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].SessionID == entry.SessionID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, sessionIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, sessionIndexFile), index)
}

// ListSessionIndex returns indexed sessions, most recently started first.
func ListSessionIndex(baseDir string) ([]SessionIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, sessionIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []SessionIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAtUTC > entries[j].StartedAtUTC
	})
	return entries, nil
}

// ReadSession loads session.json of one session.
func ReadSession(baseDir, sessionID string) (model.SessionRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, sessionID, sessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.SessionRecord{}, false, nil
		}
		return model.SessionRecord{}, false, err
	}
	var session model.SessionRecord
	if err := json.Unmarshal(data, &session); err != nil {
		return model.SessionRecord{}, false, err
	}
	return session, true, nil
}

// ExportSessionArtifacts copies the artifacts of one session to outDir.
func ExportSessionArtifacts(baseDir, sessionID, outDir string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	src := filepath.Join(baseDir, sessionID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, sessionID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, file := range []string{sessionFile, phasesFile, evaluationsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func writePhases(path string, plan model.PhasePlan) error {
	rows := [][]string{{"phase", "interphase", "duration", "start_offset", "min", "max_initial", "max", "seconds_per_actuation", "passage_time"}}
	for _, p := range plan.Phases {
		rows = append(rows, []string{
			strconv.Itoa(p.ID),
			strconv.FormatBool(p.Interphase),
			formatFloat(p.Duration),
			formatFloat(p.StartOffset),
			formatFloat(p.MinDuration),
			formatFloat(p.MaxInitialGreen),
			formatFloat(p.MaxDuration),
			formatFloat(p.SecondsPerActuation),
			formatFloat(p.PassageTime),
		})
	}
	return writeCSV(path, rows)
}

func writeEvaluations(path string, evaluations []model.EvaluationRecord) error {
	rows := [][]string{{"generation", "index", "seed", "status", "genes", "cycle", "durations", "run_id", "elapsed_ms", "error"}}
	for _, e := range evaluations {
		genes := make([]string, len(e.Genes))
		for i, g := range e.Genes {
			genes[i] = strconv.Itoa(g)
		}
		durations := make([]string, len(e.Plan.Phases))
		for i, p := range e.Plan.Phases {
			durations[i] = formatFloat(p.Duration)
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Generation),
			strconv.Itoa(e.Index),
			strconv.FormatInt(e.Seed, 10),
			string(e.Status),
			strings.Join(genes, " "),
			formatFloat(e.Plan.Cycle),
			strings.Join(durations, " "),
			e.RunID,
			strconv.FormatInt(e.Elapsed.Milliseconds(), 10),
			e.Error,
		})
	}
	return writeCSV(path, rows)
}

// ReadEvaluationRows returns the data rows of evaluations.csv keyed by its
// header.
func ReadEvaluationRows(baseDir, sessionID string) ([]map[string]string, error) {
	file, err := os.Open(filepath.Join(baseDir, sessionID, evaluationsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Sync()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
