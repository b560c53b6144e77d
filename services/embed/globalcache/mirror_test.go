package globalcache

import (
	"context"
	"testing"

	"github.com/vectorforge/embedcore/services/embed/fingerprint"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(Config{InMemory: true})
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMirrorStoreLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	m := NewMirror(db, 0, nil)

	fp, _ := fingerprint.Compute("mirror me")
	v := vector.Normalize(vector.Vector{1, 2, 3, 4})

	ctx := context.Background()
	if err := m.Store(ctx, fp, "model-a", v); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := m.Load(ctx, fp, "model-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load: want hit")
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("Load()[%d] = %v, want %v", i, got[i], v[i])
		}
	}
}

func TestMirrorLoadMissOnDifferentModel(t *testing.T) {
	db := openTestDB(t)
	m := NewMirror(db, 0, nil)
	ctx := context.Background()

	fp, _ := fingerprint.Compute("model scoped")
	v := vector.Normalize(vector.Vector{1, 1, 1})
	if err := m.Store(ctx, fp, "model-a", v); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, ok, err := m.Load(ctx, fp, "model-b"); err != nil || ok {
		t.Errorf("Load under different model_id: ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestMirrorNilIsANoOp(t *testing.T) {
	var m *Mirror
	ctx := context.Background()
	fp, _ := fingerprint.Compute("nil mirror")

	if err := m.Store(ctx, fp, "model-a", vector.Vector{1}); err != nil {
		t.Errorf("Store on nil mirror: %v, want nil", err)
	}
	if _, ok, err := m.Load(ctx, fp, "model-a"); ok || err != nil {
		t.Errorf("Load on nil mirror: ok=%v err=%v, want false/nil", ok, err)
	}
}
