package phase

import (
	"errors"
	"math/rand"
	"testing"

	"tlcopt/internal/model"
)

func fixedPlan() model.PhasePlan {
	plan := model.PhasePlan{
		JunctionID: 42,
		Phases: []model.Phase{
			{ID: 1, Duration: 30},
			{ID: 2, Interphase: true, Duration: 5},
			{ID: 3, Duration: 25},
			{ID: 4, Interphase: true, Duration: 5},
			{ID: 5, Duration: 20},
			{ID: 6, Interphase: true, Duration: 4},
		},
	}
	Recompute(&plan)
	return plan
}

func TestFixedTimeDecode(t *testing.T) {
	plan := fixedPlan()
	got, err := FixedTime{}.Decode(plan, model.Individual{10, 20, 30})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	wantDurations := []float64{10, 5, 20, 5, 30, 4}
	wantOffsets := []float64{0, 10, 15, 35, 40, 70}
	for i, p := range got.Phases {
		if p.Duration != wantDurations[i] {
			t.Fatalf("phase %d duration=%v want=%v", i, p.Duration, wantDurations[i])
		}
		if p.StartOffset != wantOffsets[i] {
			t.Fatalf("phase %d offset=%v want=%v", i, p.StartOffset, wantOffsets[i])
		}
	}
	if got.Cycle != 74 {
		t.Fatalf("cycle=%v want=74", got.Cycle)
	}
	if plan.Phases[0].Duration != 30 {
		t.Fatal("decode must not modify the input plan")
	}
}

func TestDecodeRejectsWrongGeneCount(t *testing.T) {
	plan := fixedPlan()
	if _, err := (FixedTime{}).Decode(plan, model.Individual{10, 20}); !errors.Is(err, ErrGeneCount) {
		t.Fatalf("expected gene count error, got %v", err)
	}
	if _, err := (Actuated{}).Decode(plan, model.Individual{1, 2, 3}); !errors.Is(err, ErrGeneCount) {
		t.Fatalf("expected gene count error, got %v", err)
	}
}

func TestDecodeRejectsNegativeGenes(t *testing.T) {
	if _, err := (FixedTime{}).Decode(fixedPlan(), model.Individual{10, -1, 30}); !errors.Is(err, ErrNegativeGene) {
		t.Fatalf("expected negative gene error, got %v", err)
	}
}

func TestActuatedDecodeKeepsBoundsOrdered(t *testing.T) {
	plan := fixedPlan()
	decoder := Actuated{}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		genes := make(model.Individual, decoder.GeneCount(plan))
		for i := range genes {
			genes[i] = rng.Intn(120)
		}
		got, err := decoder.Decode(plan, genes)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		next := 0
		for _, p := range got.Phases {
			if p.Interphase {
				continue
			}
			g := genes[next : next+ActuatedGenesPerPhase]
			next += ActuatedGenesPerPhase
			if p.MinDuration != float64(g[0]) ||
				p.MaxInitialGreen != float64(g[0]+g[1]) ||
				p.MaxDuration != float64(g[0]+g[1]+g[2]) {
				t.Fatalf("round %d: unexpected bounds %+v for genes %v", round, p, g)
			}
			if !(p.MinDuration <= p.MaxInitialGreen && p.MaxInitialGreen <= p.MaxDuration) {
				t.Fatalf("round %d: bounds out of order %+v", round, p)
			}
			if p.SecondsPerActuation != float64(g[3]) || p.PassageTime != float64(g[4]) {
				t.Fatalf("round %d: unexpected actuation fields %+v", round, p)
			}
		}
	}
}

func TestCycleEqualsTotalDuration(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	plan := fixedPlan()

	for _, decoder := range []Decoder{FixedTime{}, Actuated{}} {
		for round := 0; round < 50; round++ {
			genes := make(model.Individual, decoder.GeneCount(plan))
			for i := range genes {
				genes[i] = rng.Intn(90)
			}
			got, err := decoder.Decode(plan, genes)
			if err != nil {
				t.Fatalf("%s decode: %v", decoder.Kind(), err)
			}
			if got.Cycle != got.TotalDuration() {
				t.Fatalf("%s: cycle=%v total=%v", decoder.Kind(), got.Cycle, got.TotalDuration())
			}
			if got.InterphaseDuration() != plan.InterphaseDuration() {
				t.Fatalf("%s: interphase durations changed", decoder.Kind())
			}
		}
	}
}

func TestDecoderFor(t *testing.T) {
	for kind, want := range map[model.ControllerKind]model.ControllerKind{
		model.ControllerFixedTime: model.ControllerFixedTime,
		model.ControllerActuated:  model.ControllerActuated,
	} {
		decoder, err := DecoderFor(kind)
		if err != nil {
			t.Fatalf("decoder for %s: %v", kind, err)
		}
		if decoder.Kind() != want {
			t.Fatalf("decoder kind=%s want=%s", decoder.Kind(), want)
		}
	}
	if _, err := DecoderFor(model.ControllerExternal); err == nil {
		t.Fatal("expected external controllers to have no decoder")
	}
}
