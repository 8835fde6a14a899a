package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ControllerKind selects how genes are decoded and which bootstrap variant
// runs. Canonical names come from controlid.Normalize.
type ControllerKind string

const (
	ControllerFixedTime ControllerKind = "fixed-time"
	ControllerActuated  ControllerKind = "actuated"
	ControllerExternal  ControllerKind = "external"
)

// TaskDescriptor is the optimization task received during bootstrap.
type TaskDescriptor struct {
	ReplicationID      int       `json:"replication_id"`
	JunctionID         int       `json:"junction_id"`
	SimStartOffset     float64   `json:"sim_start_offset"`
	PointInTime        float64   `json:"point_in_time"`
	SimulationDuration int       `json:"simulation_duration"`
	WarmupDuration     int       `json:"warmup_duration"`
	Situation          []float64 `json:"situation,omitempty"`
	SectionIDs         []int     `json:"section_ids,omitempty"`
}

// HasSituation reports whether the situation data is usable for building an
// OD matrix: non-empty and paired with exactly two section ids per flow.
func (t TaskDescriptor) HasSituation() bool {
	return len(t.Situation) > 0 && len(t.SectionIDs) == 2*len(t.Situation)
}

// EvaluationTime is the absolute simulation time the task refers to.
func (t TaskDescriptor) EvaluationTime() float64 {
	return t.SimStartOffset + t.PointInTime
}

// Turning is a signal-controlled movement between two sections.
type Turning struct {
	FromSectionID int `json:"from_section_id"`
	ToSectionID   int `json:"to_section_id"`
}

// Phase is one stage of a signal cycle. The actuated fields are zero for
// fixed-time controllers.
type Phase struct {
	ID                  int     `json:"id"`
	Interphase          bool    `json:"interphase"`
	Duration            float64 `json:"duration"`
	MinDuration         float64 `json:"min_duration,omitempty"`
	MaxInitialGreen     float64 `json:"max_initial_green,omitempty"`
	MaxDuration         float64 `json:"max_duration,omitempty"`
	SecondsPerActuation float64 `json:"seconds_per_actuation,omitempty"`
	PassageTime         float64 `json:"passage_time,omitempty"`
	StartOffset         float64 `json:"start_offset"`
}

// PhasePlan is the ordered phase sequence of one controlled junction.
type PhasePlan struct {
	JunctionID int     `json:"junction_id"`
	Cycle      float64 `json:"cycle"`
	Phases     []Phase `json:"phases"`
}

// NonInterphaseCount returns the number of phases subject to optimization.
func (p PhasePlan) NonInterphaseCount() int {
	n := 0
	for _, phase := range p.Phases {
		if !phase.Interphase {
			n++
		}
	}
	return n
}

// InterphaseDuration returns the summed duration of all interphases.
func (p PhasePlan) InterphaseDuration() float64 {
	sum := 0.0
	for _, phase := range p.Phases {
		if phase.Interphase {
			sum += phase.Duration
		}
	}
	return sum
}

// TotalDuration returns the sum of all phase durations.
func (p PhasePlan) TotalDuration() float64 {
	sum := 0.0
	for _, phase := range p.Phases {
		sum += phase.Duration
	}
	return sum
}

// Clone returns a deep copy of the plan.
func (p PhasePlan) Clone() PhasePlan {
	out := p
	out.Phases = append([]Phase(nil), p.Phases...)
	return out
}

// Individual is one candidate gene vector proposed by the optimizer.
type Individual []int

// SessionRecord is the persisted summary of one bootstrapped session.
type SessionRecord struct {
	VersionedRecord
	ID             string         `json:"id"`
	InstanceID     int            `json:"instance_id"`
	NetworkFile    string         `json:"network_file"`
	ControllerKind ControllerKind `json:"controller_kind"`
	Database       string         `json:"database"`
	Task           TaskDescriptor `json:"task"`
	Statuses       []string       `json:"statuses"`
	Degraded       bool           `json:"degraded"`
	// FromSituation is set when the demand was built from the task's
	// situation flows instead of the scheduled demand.
	FromSituation bool       `json:"from_situation"`
	Motorized     []Turning  `json:"motorized,omitempty"`
	Pedestrian    []Turning  `json:"pedestrian,omitempty"`
	ReferencePlan PhasePlan  `json:"reference_plan"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// EvaluationStatus describes how an individual evaluation ended.
type EvaluationStatus string

const (
	EvaluationDone   EvaluationStatus = "done"
	EvaluationFailed EvaluationStatus = "failed"
)

// EvaluationRecord is the persisted result of one NEW_IND round.
type EvaluationRecord struct {
	VersionedRecord
	SessionID  string           `json:"session_id"`
	Generation int              `json:"generation"`
	Index      int              `json:"index"`
	Seed       int64            `json:"seed"`
	Genes      Individual       `json:"genes,omitempty"`
	Plan       PhasePlan        `json:"plan"`
	RunID      string           `json:"run_id,omitempty"`
	Status     EvaluationStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	Elapsed    time.Duration    `json:"elapsed"`
	FinishedAt time.Time        `json:"finished_at"`
}
