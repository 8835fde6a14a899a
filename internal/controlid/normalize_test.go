package controlid

import (
	"testing"

	"tlcopt/internal/model"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"fixed-time":       "fixed-time",
		"fixed_time":       "fixed-time",
		"FTC":              "fixed-time",
		"internal_ftc":     "fixed-time",
		"opt_internalFTC8": "fixed-time",
		"nema":             "actuated",
		"opt_InternalNEMA": "actuated",
		"Actuated":         "actuated",
		"external_ftc":     "external",
		"opt_ExternalFTC":  "external",
		"api":              "external",
		"custom_kind":      "custom-kind",
		"":                 "",
	}

	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("normalize(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	kind, ok := Parse("NEMA")
	if !ok || kind != model.ControllerActuated {
		t.Fatalf("parse nema: kind=%q ok=%t", kind, ok)
	}
	if _, ok := Parse("roundabout"); ok {
		t.Fatal("expected unknown controller kind")
	}
}
