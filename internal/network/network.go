package network

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	ErrNotFound      = errors.New("network entity not found")
	ErrWrongKind     = errors.New("network entity has wrong kind")
	ErrDuplicateID   = errors.New("duplicate network entity id")
	ErrNoActiveSetup = errors.New("no active centroid configuration")
)

// Network is a typed catalog of every entity in one network file. Ids are
// unique across all kinds.
type Network struct {
	Path string
	Name string

	kinds        map[int]Kind
	turningNodes map[int]int
	nextID       int

	replications   map[int]*Replication
	experiments    map[int]*Experiment
	scenarios      map[int]*Scenario
	demands        map[int]*TrafficDemand
	matrices       map[int]*ODMatrix
	states         map[int]*TrafficState
	masterPlans    map[int]*MasterControlPlan
	controlPlans   map[int]*ControlPlan
	nodes          map[int]*Node
	sections       map[int]*Section
	roadTypes      map[int]*RoadType
	centroids      map[int]*Centroid
	configurations map[int]*CentroidConfiguration
	vehicles       map[int]*Vehicle
	policies       map[int]*Policy
}

func newNetwork() *Network {
	return &Network{
		kinds:          map[int]Kind{},
		turningNodes:   map[int]int{},
		replications:   map[int]*Replication{},
		experiments:    map[int]*Experiment{},
		scenarios:      map[int]*Scenario{},
		demands:        map[int]*TrafficDemand{},
		matrices:       map[int]*ODMatrix{},
		states:         map[int]*TrafficState{},
		masterPlans:    map[int]*MasterControlPlan{},
		controlPlans:   map[int]*ControlPlan{},
		nodes:          map[int]*Node{},
		sections:       map[int]*Section{},
		roadTypes:      map[int]*RoadType{},
		centroids:      map[int]*Centroid{},
		configurations: map[int]*CentroidConfiguration{},
		vehicles:       map[int]*Vehicle{},
		policies:       map[int]*Policy{},
	}
}

// KindOf returns the kind registered under id.
func (n *Network) KindOf(id int) (Kind, bool) {
	kind, ok := n.kinds[id]
	return kind, ok
}

// IsKind reports whether id exists and has the given kind.
func (n *Network) IsKind(id int, kind Kind) bool {
	got, ok := n.kinds[id]
	return ok && got == kind
}

func lookup[T any](n *Network, id int, kind Kind, items map[int]*T) (*T, error) {
	got, ok := n.kinds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}
	if got != kind {
		return nil, fmt.Errorf("%w: id %d is a %s, not a %s", ErrWrongKind, id, got, kind)
	}
	return items[id], nil
}

func (n *Network) Replication(id int) (*Replication, error) {
	return lookup(n, id, KindReplication, n.replications)
}

func (n *Network) Experiment(id int) (*Experiment, error) {
	return lookup(n, id, KindExperiment, n.experiments)
}

func (n *Network) Scenario(id int) (*Scenario, error) {
	return lookup(n, id, KindScenario, n.scenarios)
}

func (n *Network) TrafficDemand(id int) (*TrafficDemand, error) {
	return lookup(n, id, KindTrafficDemand, n.demands)
}

func (n *Network) ODMatrix(id int) (*ODMatrix, error) {
	return lookup(n, id, KindODMatrix, n.matrices)
}

func (n *Network) TrafficState(id int) (*TrafficState, error) {
	return lookup(n, id, KindTrafficState, n.states)
}

func (n *Network) MasterControlPlan(id int) (*MasterControlPlan, error) {
	return lookup(n, id, KindMasterControlPlan, n.masterPlans)
}

func (n *Network) ControlPlan(id int) (*ControlPlan, error) {
	return lookup(n, id, KindControlPlan, n.controlPlans)
}

func (n *Network) Node(id int) (*Node, error) {
	return lookup(n, id, KindNode, n.nodes)
}

func (n *Network) Section(id int) (*Section, error) {
	return lookup(n, id, KindSection, n.sections)
}

func (n *Network) RoadType(id int) (*RoadType, error) {
	return lookup(n, id, KindRoadType, n.roadTypes)
}

func (n *Network) Centroid(id int) (*Centroid, error) {
	return lookup(n, id, KindCentroid, n.centroids)
}

func (n *Network) CentroidConfiguration(id int) (*CentroidConfiguration, error) {
	return lookup(n, id, KindCentroidConfiguration, n.configurations)
}

func (n *Network) Vehicle(id int) (*Vehicle, error) {
	return lookup(n, id, KindVehicle, n.vehicles)
}

func (n *Network) Policy(id int) (*Policy, error) {
	return lookup(n, id, KindPolicy, n.policies)
}

// Turning returns a turning together with the node it belongs to.
func (n *Network) Turning(id int) (*Turning, *Node, error) {
	got, ok := n.kinds[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s %d", ErrNotFound, KindTurning, id)
	}
	if got != KindTurning {
		return nil, nil, fmt.Errorf("%w: id %d is a %s, not a %s", ErrWrongKind, id, got, KindTurning)
	}
	node := n.nodes[n.turningNodes[id]]
	for _, turning := range node.Turnings {
		if turning.ID == id {
			return turning, node, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: turning %d", ErrNotFound, id)
}

// SectionRoadType resolves the road type of a section.
func (n *Network) SectionRoadType(sectionID int) (*RoadType, error) {
	section, err := n.Section(sectionID)
	if err != nil {
		return nil, err
	}
	return n.RoadType(section.RoadType)
}

// ActiveCentroidConfiguration returns the active configuration. When several
// are flagged active the one with the highest id wins.
func (n *Network) ActiveCentroidConfiguration() (*CentroidConfiguration, error) {
	var active *CentroidConfiguration
	for _, id := range sortedIDs(n.configurations) {
		if conf := n.configurations[id]; conf.Active {
			active = conf
		}
	}
	if active == nil {
		return nil, ErrNoActiveSetup
	}
	return active, nil
}

// VehicleByName finds a vehicle type by its exact name.
func (n *Network) VehicleByName(name string) (*Vehicle, error) {
	for _, id := range sortedIDs(n.vehicles) {
		if n.vehicles[id].Name == name {
			return n.vehicles[id], nil
		}
	}
	return nil, fmt.Errorf("%w: vehicle %q", ErrNotFound, name)
}

// NextID returns an id not used by any entity.
func (n *Network) NextID() int {
	if n.nextID == 0 {
		for id := range n.kinds {
			if id > n.nextID {
				n.nextID = id
			}
		}
	}
	n.nextID++
	return n.nextID
}

func register[T any](n *Network, id int, kind Kind, items map[int]*T, item *T) error {
	if id <= 0 {
		return fmt.Errorf("%s id must be positive: %d", kind, id)
	}
	if existing, ok := n.kinds[id]; ok {
		return fmt.Errorf("%w: %d (%s and %s)", ErrDuplicateID, id, existing, kind)
	}
	n.kinds[id] = kind
	items[id] = item
	if id > n.nextID && n.nextID != 0 {
		n.nextID = id
	}
	return nil
}

// AddTrafficDemand registers a demand, assigning an id when it has none.
func (n *Network) AddTrafficDemand(demand *TrafficDemand) error {
	if demand.ID == 0 {
		demand.ID = n.NextID()
	}
	return register(n, demand.ID, KindTrafficDemand, n.demands, demand)
}

// AddODMatrix registers a matrix, assigning an id when it has none.
func (n *Network) AddODMatrix(matrix *ODMatrix) error {
	if matrix.ID == 0 {
		matrix.ID = n.NextID()
	}
	return register(n, matrix.ID, KindODMatrix, n.matrices, matrix)
}

// AddMasterControlPlan registers a plan, assigning an id when it has none.
func (n *Network) AddMasterControlPlan(plan *MasterControlPlan) error {
	if plan.ID == 0 {
		plan.ID = n.NextID()
	}
	return register(n, plan.ID, KindMasterControlPlan, n.masterPlans, plan)
}

func unregister[T any](n *Network, id int, kind Kind, items map[int]*T) bool {
	if n.kinds[id] != kind {
		return false
	}
	delete(n.kinds, id)
	delete(items, id)
	return true
}

// RemoveTrafficDemand drops a demand. It reports false when id is not a
// demand. Removed ids are not handed out again.
func (n *Network) RemoveTrafficDemand(id int) bool {
	return unregister(n, id, KindTrafficDemand, n.demands)
}

// RemoveODMatrix drops a matrix and its entries in centroid configurations.
func (n *Network) RemoveODMatrix(id int) bool {
	if !unregister(n, id, KindODMatrix, n.matrices) {
		return false
	}
	for _, conf := range n.configurations {
		conf.Matrices = slices.DeleteFunc(conf.Matrices, func(m int) bool { return m == id })
	}
	return true
}

func (n *Network) RemoveMasterControlPlan(id int) bool {
	return unregister(n, id, KindMasterControlPlan, n.masterPlans)
}

// Replications returns all replications ordered by id.
func (n *Network) Replications() []*Replication {
	out := make([]*Replication, 0, len(n.replications))
	for _, id := range sortedIDs(n.replications) {
		out = append(out, n.replications[id])
	}
	return out
}

func sortedIDs[T any](items map[int]*T) []int {
	ids := make([]int, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
