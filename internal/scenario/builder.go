// Package scenario prepares a loaded network for repeated evaluation of one
// junction: result storage, warm-up, a demand window and a control-plan
// window starting at the evaluation time.
package scenario

import (
	"errors"
	"fmt"
	"log/slog"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
)

var (
	ErrNoActivePlan  = errors.New("no control plan active at evaluation time")
	ErrInvalidDemand = errors.New("invalid traffic demand")
)

const (
	windowDemandName = "optimization demand"
	windowPlanName   = "optimization master control plan"
	situationName    = "optimization OD matrix"
	situationVehicle = "car"
)

// Builder mutates a network in place. It is bound to one session.
type Builder struct {
	net    *network.Network
	logger *slog.Logger
}

func NewBuilder(net *network.Network, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{net: net, logger: logger}
}

// ConfigureExtensions resets the simulator extensions of a scenario. External
// controllers get the API extension that runs their control logic; every
// other kind runs without extensions.
func (b *Builder) ConfigureExtensions(scenario *network.Scenario, kind model.ControllerKind, apiExtension string) {
	scenario.Extensions = nil
	if kind == model.ControllerExternal && apiExtension != "" {
		scenario.Extensions = []string{apiExtension}
	}
	b.logger.Debug("configured extensions", "scenario", scenario.ID, "extensions", scenario.Extensions)
}

// ResultStorage names the result database for a session.
type ResultStorage struct {
	Driver   string
	Database string
	User     string
}

// ConfigureResults stores section and turn statistics once per simulation.
func (b *Builder) ConfigureResults(scenario *network.Scenario, storage ResultStorage, interval int) network.ResultConfig {
	scenario.Results = network.ResultConfig{
		Driver:             storage.Driver,
		Database:           storage.Database,
		User:               storage.User,
		StoreStatistics:    true,
		StoreDetection:     false,
		SectionStatistics:  true,
		TurnStatistics:     true,
		MatrixStatistics:   false,
		TransitStatistics:  false,
		StatisticsInterval: interval,
	}
	return scenario.Results
}

// SplitDuration converts seconds to hours, minutes and seconds.
func SplitDuration(seconds int) (h, m, s int) {
	h = seconds / 3600
	m = (seconds % 3600) / 60
	s = seconds - h*3600 - m*60
	return h, m, s
}

func (b *Builder) SetWarmup(experiment *network.Experiment, seconds int) {
	experiment.Warmup = seconds
	h, m, s := SplitDuration(seconds)
	b.logger.Debug("set warm-up", "experiment", experiment.ID, "warmup", fmt.Sprintf("%02d:%02d:%02d", h, m, s))
}

// ActiveControlPlanItem returns the schedule entry covering t, both ends
// inclusive.
func ActiveControlPlanItem(plan *network.MasterControlPlan, t float64) (network.PlanItem, error) {
	for _, item := range plan.Schedule {
		if item.From <= t && t <= item.From+item.Duration {
			return item, nil
		}
	}
	return network.PlanItem{}, fmt.Errorf("%w: master control plan %d at %.2f", ErrNoActivePlan, plan.ID, t)
}

// SetupMasterControlPlan creates a master control plan that runs the plan
// active at t for the whole window.
func (b *Builder) SetupMasterControlPlan(source *network.MasterControlPlan, t float64, duration int) (*network.MasterControlPlan, error) {
	item, err := ActiveControlPlanItem(source, t)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("control plan obtained", "time", t, "control_plan", item.ControlPlan, "from", item.From, "to", item.From+item.Duration)

	window := &network.MasterControlPlan{
		Name: windowPlanName,
		Schedule: []network.PlanItem{{
			From:        0,
			Duration:    float64(duration),
			ControlPlan: item.ControlPlan,
		}},
	}
	if err := b.net.AddMasterControlPlan(window); err != nil {
		return nil, err
	}
	return window, nil
}

// DemandItemsAt returns the schedule entries covering t, end exclusive.
func DemandItemsAt(demand *network.TrafficDemand, t float64) []network.DemandItem {
	var out []network.DemandItem
	for _, item := range demand.Schedule {
		if item.From <= t && t < item.End() {
			out = append(out, item)
		}
	}
	return out
}

// TimeWindowDemand copies the demand items active at t into a new demand of
// the given duration. OD matrix items are rescaled to the new duration; other
// items keep their factor.
func (b *Builder) TimeWindowDemand(source *network.TrafficDemand, t float64, duration int) (*network.TrafficDemand, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration %d", ErrInvalidDemand, duration)
	}
	window := &network.TrafficDemand{Name: windowDemandName}
	for _, item := range DemandItemsAt(source, t) {
		b.logger.Debug("demand obtained", "time", t, "item", item.Item, "from", item.From, "to", item.End())
		copied := network.DemandItem{
			From:     window.InitialTime,
			Duration: float64(duration),
			Factor:   item.Factor,
			Item:     item.Item,
		}
		if b.net.IsKind(item.Item, network.KindODMatrix) && item.Duration > 0 {
			copied.Factor = float64(duration) / item.Duration * 100
		}
		window.Schedule = append(window.Schedule, copied)
	}
	if err := b.net.AddTrafficDemand(window); err != nil {
		return nil, err
	}
	if err := b.checkDemand(window); err != nil {
		b.logger.Warn("time-window demand is not valid", "demand", window.ID, "error", err)
	}
	return window, nil
}

func (b *Builder) checkDemand(demand *network.TrafficDemand) error {
	if len(demand.Schedule) == 0 {
		return fmt.Errorf("%w: empty schedule", ErrInvalidDemand)
	}
	if demand.Overlapping() {
		return fmt.Errorf("%w: overlapping items", ErrInvalidDemand)
	}
	for _, item := range demand.Schedule {
		if !b.net.IsKind(item.Item, network.KindODMatrix) && !b.net.IsKind(item.Item, network.KindTrafficState) {
			return fmt.Errorf("%w: item %d is neither an OD matrix nor a traffic state", ErrInvalidDemand, item.Item)
		}
	}
	return nil
}

// PolicyChanges lists what ActivatePolicies did.
type PolicyChanges struct {
	Activated []int
	Removed   []int
	Untouched []int
}

// ActivatePolicies freezes the policies of an experiment at time t:
// time-activated policies active at t become always active, inactive ones are
// detached from the experiment. Trigger and external policies are left alone.
func (b *Builder) ActivatePolicies(experiment *network.Experiment, t float64) PolicyChanges {
	var changes PolicyChanges
	for _, id := range append([]int(nil), experiment.Policies...) {
		policy, err := b.net.Policy(id)
		if err != nil {
			b.logger.Warn("experiment references unknown policy", "policy", id, "error", err)
			continue
		}
		switch policy.Activation {
		case network.ActivationTime:
			if policy.ActiveAt(t) {
				policy.Activation = network.ActivationAlways
				changes.Activated = append(changes.Activated, id)
			} else {
				experiment.RemovePolicy(id)
				changes.Removed = append(changes.Removed, id)
			}
		case network.ActivationTrigger, network.ActivationExternal:
			b.logger.Warn("policy activation cannot be frozen", "policy", id, "activation", policy.Activation)
			changes.Untouched = append(changes.Untouched, id)
		default:
			changes.Untouched = append(changes.Untouched, id)
		}
	}
	return changes
}
