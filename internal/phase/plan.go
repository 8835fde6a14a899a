package phase

import (
	"fmt"
	"strings"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
	"tlcopt/internal/wire"
)

const (
	InterphaseSuffix    = "IP"
	NonInterphaseSuffix = "nonIP"
)

// FromControlJunction copies the stored phase sequence of a junction.
func FromControlJunction(junction *network.ControlJunction) model.PhasePlan {
	plan := model.PhasePlan{
		JunctionID: junction.Node,
		Cycle:      junction.Cycle,
		Phases:     make([]model.Phase, 0, len(junction.Phases)),
	}
	for _, p := range junction.Phases {
		plan.Phases = append(plan.Phases, model.Phase{
			ID:                  p.ID,
			Interphase:          p.Interphase,
			Duration:            p.Duration,
			MinDuration:         p.Min,
			MaxInitialGreen:     p.MaxInitial,
			MaxDuration:         p.Max,
			SecondsPerActuation: p.SecondsPerActuation,
			PassageTime:         p.PassageTime,
			StartOffset:         p.From,
		})
	}
	return plan
}

// ApplyToControlJunction writes plan timings back to the junction. The phase
// sequence must match the one the plan was read from.
func ApplyToControlJunction(plan model.PhasePlan, junction *network.ControlJunction) error {
	if len(plan.Phases) != len(junction.Phases) {
		return fmt.Errorf("junction %d has %d phases, plan has %d", junction.Node, len(junction.Phases), len(plan.Phases))
	}
	junction.Cycle = plan.Cycle
	for i, p := range plan.Phases {
		target := junction.Phases[i]
		target.From = p.StartOffset
		target.Duration = p.Duration
		target.Min = p.MinDuration
		target.MaxInitial = p.MaxInitialGreen
		target.Max = p.MaxDuration
		target.SecondsPerActuation = p.SecondsPerActuation
		target.PassageTime = p.PassageTime
	}
	return nil
}

// Recompute sets the cycle to the sum of all durations and assigns
// cumulative start offsets in phase order.
func Recompute(plan *model.PhasePlan) {
	start := 0.0
	for i := range plan.Phases {
		plan.Phases[i].StartOffset = start
		start += plan.Phases[i].Duration
	}
	plan.Cycle = start
}

// ReportLine renders one phase as "<duration> IP" or "<duration> nonIP".
func ReportLine(p model.Phase) string {
	suffix := NonInterphaseSuffix
	if p.Interphase {
		suffix = InterphaseSuffix
	}
	return wire.FormatFloat(p.Duration) + " " + suffix
}

// ParseReportLine is the inverse of ReportLine.
func ParseReportLine(line string) (model.Phase, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return model.Phase{}, fmt.Errorf("%w: phase line %q", wire.ErrMalformedToken, line)
	}
	duration, err := wire.ParseFloat(fields[0])
	if err != nil {
		return model.Phase{}, err
	}
	switch fields[1] {
	case InterphaseSuffix:
		return model.Phase{Interphase: true, Duration: duration}, nil
	case NonInterphaseSuffix:
		return model.Phase{Duration: duration}, nil
	default:
		return model.Phase{}, fmt.Errorf("%w: phase flag %q", wire.ErrMalformedToken, fields[1])
	}
}
