package wire

import (
	"errors"
	"testing"
)

func TestParseGene(t *testing.T) {
	cases := map[string]int{
		"12":    12,
		" 7\n":  7,
		"12.0":  12,
		"-3":    -3,
		"0.000": 0,
	}
	for in, want := range cases {
		got, err := ParseGene(in)
		if err != nil {
			t.Fatalf("parse gene %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse gene %q=%d want=%d", in, got, want)
		}
	}

	for _, in := range []string{"12.5", "abc", "", "NaN", "1e12"} {
		if _, err := ParseGene(in); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("expected malformed gene for %q, got %v", in, err)
		}
	}
}

func TestParseNumbers(t *testing.T) {
	if v, err := ParseInt("600"); err != nil || v != 600 {
		t.Fatalf("parse int: v=%d err=%v", v, err)
	}
	if _, err := ParseInt("600.0"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected malformed int, got %v", err)
	}
	if v, err := ParseFloat("120.5"); err != nil || v != 120.5 {
		t.Fatalf("parse float: v=%v err=%v", v, err)
	}
	if _, err := ParseFloat("SITUATION_DONE"); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected malformed float, got %v", err)
	}
	if got := FormatFloat(30); got != "30" {
		t.Fatalf("format=%q", got)
	}
	if got := FormatFloat(4.5); got != "4.5" {
		t.Fatalf("format=%q", got)
	}
}
