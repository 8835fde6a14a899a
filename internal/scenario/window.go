package scenario

import (
	"fmt"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
)

// Sources are the demand and master control plan a scenario had when it was
// loaded. Windows are always cut from these, so rebuilding for a new
// duration does not compound earlier rescaling.
type Sources struct {
	Demand     *network.TrafficDemand
	MasterPlan *network.MasterControlPlan
}

// CaptureSources records the current demand and master control plan.
func (b *Builder) CaptureSources(scenario *network.Scenario) (Sources, error) {
	demand, err := b.net.TrafficDemand(scenario.Demand)
	if err != nil {
		return Sources{}, fmt.Errorf("scenario %d demand: %w", scenario.ID, err)
	}
	plan, err := b.net.MasterControlPlan(scenario.MasterControlPlan)
	if err != nil {
		return Sources{}, fmt.Errorf("scenario %d master control plan: %w", scenario.ID, err)
	}
	return Sources{Demand: demand, MasterPlan: plan}, nil
}

// Window is the simulation setup for one evaluation time and duration.
type Window struct {
	Demand        *network.TrafficDemand
	MasterPlan    *network.MasterControlPlan
	ControlPlan   *network.ControlPlan
	FromSituation bool
}

// BuildWindow installs a demand and master control plan of the given
// duration on the scenario. Situation data is used when it is consistent,
// otherwise the demand active at the evaluation time is copied. On error the
// scenario is left untouched.
func (b *Builder) BuildWindow(scenario *network.Scenario, src Sources, task model.TaskDescriptor, duration int) (Window, error) {
	at := task.EvaluationTime()

	var (
		window Window
		err    error
	)
	if task.HasSituation() {
		window.Demand, err = b.SituationDemand(task, duration)
		window.FromSituation = true
	} else {
		window.Demand, err = b.TimeWindowDemand(src.Demand, at, duration)
	}
	if err != nil {
		return Window{}, fmt.Errorf("build demand: %w", err)
	}

	window.MasterPlan, err = b.SetupMasterControlPlan(src.MasterPlan, at, duration)
	if err != nil {
		b.ReleaseWindow(window)
		return Window{}, fmt.Errorf("build control plan window: %w", err)
	}
	item, err := ActiveControlPlanItem(window.MasterPlan, float64(duration))
	if err == nil {
		window.ControlPlan, err = b.net.ControlPlan(item.ControlPlan)
	}
	if err != nil {
		b.ReleaseWindow(window)
		return Window{}, err
	}

	scenario.Demand = window.Demand.ID
	scenario.MasterControlPlan = window.MasterPlan.ID
	b.logger.Info("prepared simulation window",
		"time", at,
		"duration", duration,
		"demand", window.Demand.ID,
		"situation", window.FromSituation,
		"control_plan", window.ControlPlan.ID,
	)
	return window, nil
}

// ReleaseWindow removes the demand and master control plan BuildWindow
// created, and the situation matrix behind a situation demand. Matrices of
// a copied time-window demand belong to the source demand and stay.
func (b *Builder) ReleaseWindow(window Window) {
	if window.Demand != nil {
		if window.FromSituation {
			for _, item := range window.Demand.Schedule {
				b.net.RemoveODMatrix(item.Item)
			}
		}
		b.net.RemoveTrafficDemand(window.Demand.ID)
	}
	if window.MasterPlan != nil {
		b.net.RemoveMasterControlPlan(window.MasterPlan.ID)
	}
}
