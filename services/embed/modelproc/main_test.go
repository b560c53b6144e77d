package main

import "testing"

func TestPseudoEmbedDeterministic(t *testing.T) {
	a := pseudoEmbed("hello world")
	b := pseudoEmbed("hello world")
	if len(a) != dim {
		t.Fatalf("len = %d, want %d", len(a), dim)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pseudoEmbed not deterministic at index %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestPseudoEmbedDistinctInputsDiffer(t *testing.T) {
	a := pseudoEmbed("alpha")
	b := pseudoEmbed("beta")
	if equal(a, b) {
		t.Fatal("expected different texts to produce different vectors")
	}
}

func TestPseudoEmbedIsUnitNorm(t *testing.T) {
	v := pseudoEmbed("normalize me")
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 0.99 || sumSq > 1.01 {
		t.Fatalf("squared norm = %f, want ~1.0", sumSq)
	}
}

func equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
