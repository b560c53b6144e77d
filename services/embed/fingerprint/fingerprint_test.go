package fingerprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/vectorforge/embedcore/services/embed/embederr"
)

func TestCompute_Deterministic(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"identical text", "package main", "package main", true},
		{"leading whitespace differs", "  package main", "package main", true},
		{"trailing whitespace differs", "package main\n\n", "package main", true},
		{"inner whitespace differs", "package  main", "package main", false},
		{"case differs", "Package main", "package main", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa, err := Compute(tt.a)
			if err != nil {
				t.Fatalf("Compute(a): %v", err)
			}
			fb, err := Compute(tt.b)
			if err != nil {
				t.Fatalf("Compute(b): %v", err)
			}
			if (fa == fb) != tt.same {
				t.Errorf("Compute(%q) == Compute(%q): got %v, want %v", tt.a, tt.b, fa == fb, tt.same)
			}
		})
	}
}

func TestCompute_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n  \t"} {
		if _, err := Compute(in); !errors.Is(err, embederr.ErrInvalidInput) {
			t.Errorf("Compute(%q) error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestCompute_StableAcrossRuns(t *testing.T) {
	want := "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae" // sha256("foo")
	got, err := Compute("foo")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.String() != want {
		t.Errorf("Compute(%q) = %s, want %s", "foo", got.String(), want)
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	fp, err := Compute("round trip me")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	parsed, err := Parse(fp.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != fp {
		t.Errorf("Parse(fp.String()) = %v, want %v", parsed, fp)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("a", 63)} {
		if _, err := Parse(in); !errors.Is(err, embederr.ErrInvalidInput) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() = false, want true")
	}
	fp, _ := Compute("non-zero")
	if fp.IsZero() {
		t.Error("computed fingerprint reported as zero")
	}
}
