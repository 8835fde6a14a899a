package network

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileExtension is appended to network names that carry no known extension.
const FileExtension = ".yaml"

// Document is the on-disk layout of a network file.
type Document struct {
	Name                   string                   `yaml:"name,omitempty"`
	Replications           []*Replication           `yaml:"replications,omitempty"`
	Experiments            []*Experiment            `yaml:"experiments,omitempty"`
	Scenarios              []*Scenario              `yaml:"scenarios,omitempty"`
	TrafficDemands         []*TrafficDemand         `yaml:"traffic_demands,omitempty"`
	ODMatrices             []*ODMatrix              `yaml:"od_matrices,omitempty"`
	TrafficStates          []*TrafficState          `yaml:"traffic_states,omitempty"`
	MasterControlPlans     []*MasterControlPlan     `yaml:"master_control_plans,omitempty"`
	ControlPlans           []*ControlPlan           `yaml:"control_plans,omitempty"`
	Nodes                  []*Node                  `yaml:"nodes,omitempty"`
	Sections               []*Section               `yaml:"sections,omitempty"`
	RoadTypes              []*RoadType              `yaml:"road_types,omitempty"`
	Centroids              []*Centroid              `yaml:"centroids,omitempty"`
	CentroidConfigurations []*CentroidConfiguration `yaml:"centroid_configurations,omitempty"`
	Vehicles               []*Vehicle               `yaml:"vehicles,omitempty"`
	Policies               []*Policy                `yaml:"policies,omitempty"`
}

// ResolveFile appends FileExtension when name has no .yaml or .yml suffix.
func ResolveFile(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return name
	default:
		return name + FileExtension
	}
}

// Load opens and indexes a network file.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network %s: %w", path, err)
	}
	net, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse network %s: %w", path, err)
	}
	net.Path = path
	return net, nil
}

// Parse decodes a network document. Unknown fields are rejected.
func Parse(data []byte) (*Network, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return FromDocument(doc)
}

// FromDocument indexes a decoded document into a catalog.
func FromDocument(doc Document) (*Network, error) {
	n := newNetwork()
	n.Name = doc.Name

	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, item := range doc.Replications {
		add(register(n, item.ID, KindReplication, n.replications, item))
	}
	for _, item := range doc.Experiments {
		add(register(n, item.ID, KindExperiment, n.experiments, item))
	}
	for _, item := range doc.Scenarios {
		add(register(n, item.ID, KindScenario, n.scenarios, item))
	}
	for _, item := range doc.TrafficDemands {
		add(register(n, item.ID, KindTrafficDemand, n.demands, item))
	}
	for _, item := range doc.ODMatrices {
		add(register(n, item.ID, KindODMatrix, n.matrices, item))
	}
	for _, item := range doc.TrafficStates {
		add(register(n, item.ID, KindTrafficState, n.states, item))
	}
	for _, item := range doc.MasterControlPlans {
		add(register(n, item.ID, KindMasterControlPlan, n.masterPlans, item))
	}
	for _, item := range doc.ControlPlans {
		add(register(n, item.ID, KindControlPlan, n.controlPlans, item))
	}
	for _, item := range doc.Nodes {
		add(register(n, item.ID, KindNode, n.nodes, item))
		for _, turning := range item.Turnings {
			add(registerTurning(n, item.ID, turning))
		}
	}
	for _, item := range doc.Sections {
		add(register(n, item.ID, KindSection, n.sections, item))
	}
	for _, item := range doc.RoadTypes {
		add(register(n, item.ID, KindRoadType, n.roadTypes, item))
	}
	for _, item := range doc.Centroids {
		add(register(n, item.ID, KindCentroid, n.centroids, item))
	}
	for _, item := range doc.CentroidConfigurations {
		add(register(n, item.ID, KindCentroidConfiguration, n.configurations, item))
	}
	for _, item := range doc.Vehicles {
		add(register(n, item.ID, KindVehicle, n.vehicles, item))
	}
	for _, item := range doc.Policies {
		add(register(n, item.ID, KindPolicy, n.policies, item))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("index network: %w", errors.Join(errs...))
	}
	return n, nil
}

func registerTurning(n *Network, nodeID int, turning *Turning) error {
	if turning.ID <= 0 {
		return fmt.Errorf("turning id must be positive at node %d", nodeID)
	}
	if existing, ok := n.kinds[turning.ID]; ok {
		return fmt.Errorf("%w: %d (%s and %s)", ErrDuplicateID, turning.ID, existing, KindTurning)
	}
	n.kinds[turning.ID] = KindTurning
	n.turningNodes[turning.ID] = nodeID
	return nil
}

// Document returns the catalog contents ordered by id, including entities
// added after loading.
func (n *Network) Document() Document {
	doc := Document{Name: n.Name}
	doc.Replications = ordered(n.replications)
	doc.Experiments = ordered(n.experiments)
	doc.Scenarios = ordered(n.scenarios)
	doc.TrafficDemands = ordered(n.demands)
	doc.ODMatrices = ordered(n.matrices)
	doc.TrafficStates = ordered(n.states)
	doc.MasterControlPlans = ordered(n.masterPlans)
	doc.ControlPlans = ordered(n.controlPlans)
	doc.Nodes = ordered(n.nodes)
	doc.Sections = ordered(n.sections)
	doc.RoadTypes = ordered(n.roadTypes)
	doc.Centroids = ordered(n.centroids)
	doc.CentroidConfigurations = ordered(n.configurations)
	doc.Vehicles = ordered(n.vehicles)
	doc.Policies = ordered(n.policies)
	return doc
}

// Save writes the current catalog as YAML.
func (n *Network) Save(path string) error {
	data, err := yaml.Marshal(n.Document())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ordered[T any](items map[int]*T) []*T {
	if len(items) == 0 {
		return nil
	}
	out := make([]*T, 0, len(items))
	for _, id := range sortedIDs(items) {
		out = append(out, items[id])
	}
	return out
}
