package phase

import (
	"testing"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
)

func TestReportLineRoundTrip(t *testing.T) {
	plan := fixedPlan()
	plan.Phases[1].Duration = 4.5

	for _, want := range plan.Phases {
		line := ReportLine(want)
		got, err := ParseReportLine(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if got.Interphase != want.Interphase || got.Duration != want.Duration {
			t.Fatalf("round trip %q: got=%+v want=%+v", line, got, want)
		}
	}
	if got := ReportLine(model.Phase{Duration: 30}); got != "30 nonIP" {
		t.Fatalf("line=%q", got)
	}
	if got := ReportLine(model.Phase{Interphase: true, Duration: 5}); got != "5 IP" {
		t.Fatalf("line=%q", got)
	}
}

func TestParseReportLineErrors(t *testing.T) {
	for _, line := range []string{"", "30", "30 green", "x IP", "30 IP extra"} {
		if _, err := ParseReportLine(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestControlJunctionRoundTrip(t *testing.T) {
	net, err := network.Load("../../testdata/networks/four_way.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	controlPlan, err := net.ControlPlan(31)
	if err != nil {
		t.Fatalf("control plan: %v", err)
	}
	junction, ok := controlPlan.Junction(42)
	if !ok {
		t.Fatal("expected junction 42 in control plan 31")
	}

	plan := FromControlJunction(junction)
	if plan.NonInterphaseCount() != 3 || len(plan.Phases) != 6 || plan.Cycle != 89 {
		t.Fatalf("unexpected plan %+v", plan)
	}

	decoded, err := FixedTime{}.Decode(plan, model.Individual{10, 20, 30})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := ApplyToControlJunction(decoded, junction); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if junction.Cycle != 74 || junction.Phases[4].Duration != 30 || junction.Phases[4].From != 40 {
		t.Fatalf("junction not updated: cycle=%v phase5=%+v", junction.Cycle, *junction.Phases[4])
	}

	short := decoded.Clone()
	short.Phases = short.Phases[:2]
	if err := ApplyToControlJunction(short, junction); err == nil {
		t.Fatal("expected mismatched phase count error")
	}
}
