package phase

import (
	"errors"
	"fmt"

	"tlcopt/internal/model"
)

var (
	ErrGeneCount    = errors.New("gene count does not match phase plan")
	ErrNegativeGene = errors.New("negative gene")
)

// ActuatedGenesPerPhase is the number of genes per non-interphase phase for
// actuated controllers: min green, delta to max initial, delta to max out,
// seconds per actuation and passage time.
const ActuatedGenesPerPhase = 5

// Decoder turns a gene vector into new phase timings.
type Decoder interface {
	Kind() model.ControllerKind
	GeneCount(plan model.PhasePlan) int
	Decode(plan model.PhasePlan, genes model.Individual) (model.PhasePlan, error)
}

// DecoderFor returns the decoding policy for a controller kind. External
// controllers receive no genes and have no decoder.
func DecoderFor(kind model.ControllerKind) (Decoder, error) {
	switch kind {
	case model.ControllerFixedTime:
		return FixedTime{}, nil
	case model.ControllerActuated:
		return Actuated{}, nil
	default:
		return nil, fmt.Errorf("no gene decoder for controller kind %q", kind)
	}
}

func validate(d Decoder, plan model.PhasePlan, genes model.Individual) error {
	if want := d.GeneCount(plan); len(genes) != want {
		return fmt.Errorf("%w: got %d genes, want %d", ErrGeneCount, len(genes), want)
	}
	for i, g := range genes {
		if g < 0 {
			return fmt.Errorf("%w: gene %d is %d", ErrNegativeGene, i, g)
		}
	}
	return nil
}

// FixedTime maps one gene to the duration of each non-interphase phase.
type FixedTime struct{}

func (FixedTime) Kind() model.ControllerKind { return model.ControllerFixedTime }

func (FixedTime) GeneCount(plan model.PhasePlan) int { return plan.NonInterphaseCount() }

func (d FixedTime) Decode(plan model.PhasePlan, genes model.Individual) (model.PhasePlan, error) {
	if err := validate(d, plan, genes); err != nil {
		return model.PhasePlan{}, err
	}
	out := plan.Clone()
	next := 0
	for i := range out.Phases {
		if out.Phases[i].Interphase {
			continue
		}
		out.Phases[i].Duration = float64(genes[next])
		next++
	}
	Recompute(&out)
	return out, nil
}

// Actuated decodes five additive genes per non-interphase phase, so the
// min <= max initial <= max ordering holds for any non-negative input.
type Actuated struct{}

func (Actuated) Kind() model.ControllerKind { return model.ControllerActuated }

func (Actuated) GeneCount(plan model.PhasePlan) int {
	return ActuatedGenesPerPhase * plan.NonInterphaseCount()
}

func (d Actuated) Decode(plan model.PhasePlan, genes model.Individual) (model.PhasePlan, error) {
	if err := validate(d, plan, genes); err != nil {
		return model.PhasePlan{}, err
	}
	out := plan.Clone()
	next := 0
	for i := range out.Phases {
		p := &out.Phases[i]
		if p.Interphase {
			continue
		}
		g := genes[next : next+ActuatedGenesPerPhase]
		next += ActuatedGenesPerPhase

		p.MinDuration = float64(g[0])
		p.MaxInitialGreen = p.MinDuration + float64(g[1])
		p.MaxDuration = p.MaxInitialGreen + float64(g[2])
		p.SecondsPerActuation = float64(g[3])
		p.PassageTime = float64(g[4])
	}
	Recompute(&out)
	return out, nil
}
