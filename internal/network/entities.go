package network

// Kind identifies the entity type stored under a catalog id.
type Kind string

const (
	KindReplication           Kind = "replication"
	KindExperiment            Kind = "experiment"
	KindScenario              Kind = "scenario"
	KindTrafficDemand         Kind = "traffic_demand"
	KindODMatrix              Kind = "od_matrix"
	KindTrafficState          Kind = "traffic_state"
	KindMasterControlPlan     Kind = "master_control_plan"
	KindControlPlan           Kind = "control_plan"
	KindNode                  Kind = "node"
	KindTurning               Kind = "turning"
	KindSection               Kind = "section"
	KindRoadType              Kind = "road_type"
	KindCentroid              Kind = "centroid"
	KindCentroidConfiguration Kind = "centroid_configuration"
	KindVehicle               Kind = "vehicle"
	KindPolicy                Kind = "policy"
)

// FootpathRoadType is the road type name that marks pedestrian sections.
const FootpathRoadType = "Footpath"

type Replication struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name,omitempty"`
	Experiment int    `yaml:"experiment"`
	RandomSeed int64  `yaml:"random_seed"`
}

type Experiment struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	Scenario int    `yaml:"scenario"`
	// Warmup is the warm-up period in seconds.
	Warmup   int   `yaml:"warmup"`
	Policies []int `yaml:"policies,omitempty"`
}

// RemovePolicy detaches a policy from the experiment. The policy itself stays
// in the catalog.
func (e *Experiment) RemovePolicy(id int) {
	kept := e.Policies[:0]
	for _, policyID := range e.Policies {
		if policyID != id {
			kept = append(kept, policyID)
		}
	}
	e.Policies = kept
}

// ResultConfig describes where and what the simulator writes as statistics.
type ResultConfig struct {
	Driver             string `yaml:"driver,omitempty"`
	Database           string `yaml:"database,omitempty"`
	User               string `yaml:"user,omitempty"`
	StoreStatistics    bool   `yaml:"store_statistics"`
	StoreDetection     bool   `yaml:"store_detection"`
	SectionStatistics  bool   `yaml:"section_statistics"`
	TurnStatistics     bool   `yaml:"turn_statistics"`
	MatrixStatistics   bool   `yaml:"matrix_statistics"`
	TransitStatistics  bool   `yaml:"transit_statistics"`
	StatisticsInterval int    `yaml:"statistics_interval"`
}

type Scenario struct {
	ID                int          `yaml:"id"`
	Name              string       `yaml:"name,omitempty"`
	Demand            int          `yaml:"demand"`
	MasterControlPlan int          `yaml:"master_control_plan"`
	Extensions        []string     `yaml:"extensions,omitempty"`
	Results           ResultConfig `yaml:"results"`
}

// DemandItem schedules one OD matrix or traffic state. Factor is a percentage.
type DemandItem struct {
	From     float64 `yaml:"from"`
	Duration float64 `yaml:"duration"`
	Factor   float64 `yaml:"factor"`
	Item     int     `yaml:"item"`
}

// End returns the exclusive end of the item.
func (d DemandItem) End() float64 { return d.From + d.Duration }

type TrafficDemand struct {
	ID          int          `yaml:"id"`
	Name        string       `yaml:"name,omitempty"`
	InitialTime float64      `yaml:"initial_time"`
	Schedule    []DemandItem `yaml:"schedule"`
}

// Duration is the span from the initial time to the end of the latest item.
func (d *TrafficDemand) Duration() float64 {
	end := d.InitialTime
	for _, item := range d.Schedule {
		if item.End() > end {
			end = item.End()
		}
	}
	return end - d.InitialTime
}

// Overlapping reports whether two items for the same demand object overlap.
func (d *TrafficDemand) Overlapping() bool {
	for i, a := range d.Schedule {
		for _, b := range d.Schedule[i+1:] {
			if a.Item == b.Item && a.From < b.End() && b.From < a.End() {
				return true
			}
		}
	}
	return false
}

type Trip struct {
	From  int     `yaml:"from"`
	To    int     `yaml:"to"`
	Trips float64 `yaml:"trips"`
}

type ODMatrix struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Vehicle int    `yaml:"vehicle"`
	// Duration in seconds; zero means one hour.
	Duration float64 `yaml:"duration"`
	Trips    []Trip  `yaml:"trips,omitempty"`
}

// DefaultMatrixDuration is the period an OD matrix covers unless set.
const DefaultMatrixDuration = 3600.0

// EffectiveDuration returns Duration or the one hour default.
func (m *ODMatrix) EffectiveDuration() float64 {
	if m.Duration <= 0 {
		return DefaultMatrixDuration
	}
	return m.Duration
}

// SetTrips sets the trip count between two centroids, replacing any previous
// value for the pair.
func (m *ODMatrix) SetTrips(from, to int, trips float64) {
	for i := range m.Trips {
		if m.Trips[i].From == from && m.Trips[i].To == to {
			m.Trips[i].Trips = trips
			return
		}
	}
	m.Trips = append(m.Trips, Trip{From: from, To: to, Trips: trips})
}

// TripsBetween returns the trip count for a centroid pair.
func (m *ODMatrix) TripsBetween(from, to int) (float64, bool) {
	for _, trip := range m.Trips {
		if trip.From == from && trip.To == to {
			return trip.Trips, true
		}
	}
	return 0, false
}

type TrafficState struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Vehicle int    `yaml:"vehicle"`
}

type PlanItem struct {
	From        float64 `yaml:"from"`
	Duration    float64 `yaml:"duration"`
	ControlPlan int     `yaml:"control_plan"`
}

type MasterControlPlan struct {
	ID          int        `yaml:"id"`
	Name        string     `yaml:"name,omitempty"`
	InitialTime float64    `yaml:"initial_time"`
	Schedule    []PlanItem `yaml:"schedule"`
}

// ControlType is the signal-control mode of a junction within a plan.
type ControlType string

const (
	ControlUnspecified  ControlType = "unspecified"
	ControlUncontrolled ControlType = "uncontrolled"
	ControlFixed        ControlType = "fixed"
	ControlExternal     ControlType = "external"
	ControlActuated     ControlType = "actuated"
)

type Phase struct {
	ID                  int     `yaml:"id"`
	Interphase          bool    `yaml:"interphase"`
	From                float64 `yaml:"from"`
	Duration            float64 `yaml:"duration"`
	Min                 float64 `yaml:"min,omitempty"`
	MaxInitial          float64 `yaml:"max_initial,omitempty"`
	Max                 float64 `yaml:"max,omitempty"`
	SecondsPerActuation float64 `yaml:"seconds_per_actuation,omitempty"`
	PassageTime         float64 `yaml:"passage_time,omitempty"`
}

type ControlJunction struct {
	Node   int         `yaml:"node"`
	Type   ControlType `yaml:"type"`
	Cycle  float64     `yaml:"cycle"`
	Offset float64     `yaml:"offset,omitempty"`
	Phases []*Phase    `yaml:"phases"`
}

type ControlPlan struct {
	ID        int                `yaml:"id"`
	Name      string             `yaml:"name,omitempty"`
	Junctions []*ControlJunction `yaml:"junctions"`
}

// Junction returns the control program for a node.
func (p *ControlPlan) Junction(nodeID int) (*ControlJunction, bool) {
	for _, junction := range p.Junctions {
		if junction.Node == nodeID {
			return junction, true
		}
	}
	return nil, false
}

type Turning struct {
	ID          int   `yaml:"id"`
	Origin      int   `yaml:"origin"`
	Destination int   `yaml:"destination"`
	Signals     []int `yaml:"signals,omitempty"`
}

// Signalized reports whether at least one signal group governs the turning.
func (t *Turning) Signalized() bool { return len(t.Signals) > 0 }

type Node struct {
	ID       int        `yaml:"id"`
	Name     string     `yaml:"name,omitempty"`
	Turnings []*Turning `yaml:"turnings,omitempty"`
}

// TurningsFrom returns the turnings leaving the given section.
func (n *Node) TurningsFrom(sectionID int) []*Turning {
	var out []*Turning
	for _, turning := range n.Turnings {
		if turning.Origin == sectionID {
			out = append(out, turning)
		}
	}
	return out
}

// TurningsInto returns the turnings entering the given section.
func (n *Node) TurningsInto(sectionID int) []*Turning {
	var out []*Turning
	for _, turning := range n.Turnings {
		if turning.Destination == sectionID {
			out = append(out, turning)
		}
	}
	return out
}

type Section struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name,omitempty"`
	RoadType   int    `yaml:"road_type"`
	ExternalID string `yaml:"external_id,omitempty"`
	// Origin and Destination are node ids; zero means the section starts or
	// ends at the network boundary.
	Origin      int `yaml:"origin,omitempty"`
	Destination int `yaml:"destination,omitempty"`
}

type RoadType struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Internal bool   `yaml:"internal,omitempty"`
}

type Centroid struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

type CentroidConfiguration struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name,omitempty"`
	Active    bool   `yaml:"active"`
	Centroids []int  `yaml:"centroids,omitempty"`
	Matrices  []int  `yaml:"matrices,omitempty"`
}

type Vehicle struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Activation controls when a policy applies during a simulation.
type Activation string

const (
	ActivationTime     Activation = "time"
	ActivationAlways   Activation = "always"
	ActivationTrigger  Activation = "trigger"
	ActivationExternal Activation = "external"
)

type Policy struct {
	ID         int        `yaml:"id"`
	Name       string     `yaml:"name,omitempty"`
	Activation Activation `yaml:"activation"`
	From       float64    `yaml:"from,omitempty"`
	Duration   float64    `yaml:"duration,omitempty"`
}

// ActiveAt reports whether a time-activated policy covers t, bounds included.
func (p *Policy) ActiveAt(t float64) bool {
	return p.From <= t && t <= p.From+p.Duration
}
