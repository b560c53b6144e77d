package vector

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vectorforge/embedcore/services/embed/embederr"
)

func TestValidateDimensionMismatch(t *testing.T) {
	v := Vector{1, 2, 3}
	if err := Validate(v, 4); err != embederr.ErrInvalidVector {
		t.Fatalf("Validate() = %v, want ErrInvalidVector", err)
	}
}

func TestValidateRejectsNonFinite(t *testing.T) {
	cases := []Vector{
		{float32(math.NaN()), 0, 0, 0},
		{float32(math.Inf(1)), 0, 0, 0},
		{float32(math.Inf(-1)), 0, 0, 0},
	}
	for _, v := range cases {
		if err := Validate(v, 4); err != embederr.ErrInvalidVector {
			t.Errorf("Validate(%v) = %v, want ErrInvalidVector", v, err)
		}
	}
}

func TestValidateAcceptsWantDim(t *testing.T) {
	if err := Validate(Vector{1, 2, 3, 4}, 4); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestNormalizeUnitLength(t *testing.T) {
	v := Vector{3, 4, 0, 0}
	got := Normalize(v)
	if diff := math.Abs(Norm(got) - 1.0); diff > 1e-6 {
		t.Errorf("Norm(Normalize(v)) = %v, want ~1.0", Norm(got))
	}
	want := Vector{0.6, 0.8, 0, 0}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("Normalize(v)[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeZeroVectorUnchanged(t *testing.T) {
	v := Vector{0, 0, 0, 0}
	got := Normalize(v)
	if diff := cmp.Diff(Vector{0, 0, 0, 0}, got); diff != "" {
		t.Errorf("Normalize(zero vector) mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsIndependentCopy(t *testing.T) {
	v := Vector{1, 2, 3, 4}
	clone := Clone(v)
	if diff := cmp.Diff(v, clone); diff != "" {
		t.Errorf("Clone(v) mismatch (-want +got):\n%s", diff)
	}
	clone[0] = 99
	if v[0] == 99 {
		t.Error("mutating clone affected the original vector")
	}
}
