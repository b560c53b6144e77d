package cache

import (
	"testing"

	"github.com/vectorforge/embedcore/services/embed/fingerprint"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

func mustFP(t *testing.T, s string) fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Compute(s)
	if err != nil {
		t.Fatalf("Compute(%q): %v", s, err)
	}
	return fp
}

func testVector(dim int, fill float32) vector.Vector {
	v := make(vector.Vector, dim)
	for i := range v {
		v[i] = fill
	}
	return vector.Normalize(v)
}

func TestReservePublishGet(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8, 4, "test-model")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fp := mustFP(t, "package main\n")

	res, isLeader, hit := s.Reserve(fp)
	if hit {
		t.Fatal("Reserve reported a hit before anything was published")
	}
	if !isLeader {
		t.Fatalf("first Reserve: isLeader=%v, want true (no other reservation holds fp)", isLeader)
	}

	want := testVector(4, 1.0)
	if err := s.Publish(res, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, hit := s.Get(fp)
	if !hit {
		t.Fatal("Get after Publish: want hit")
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Get()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if _, _, hit := s.Reserve(fp); !hit {
		t.Error("Reserve after Publish: want hit=true")
	}
}

func TestReserveSingleFlight(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8, 4, "test-model")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fp := mustFP(t, "concurrent fingerprint")

	leaderRes, isLeader, hit := s.Reserve(fp)
	if hit || !isLeader {
		t.Fatalf("first Reserve: hit=%v isLeader=%v, want false/true", hit, isLeader)
	}

	followerRes, isLeader, hit := s.Reserve(fp)
	if hit || isLeader {
		t.Fatalf("second Reserve: hit=%v isLeader=%v, want false/false", hit, isLeader)
	}

	done := make(chan struct{})
	var gotVec vector.Vector
	var gotErr error
	go func() {
		gotVec, gotErr = s.Wait(followerRes)
		close(done)
	}()

	want := testVector(4, 0.5)
	if err := s.Publish(leaderRes, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	<-done
	if gotErr != nil {
		t.Fatalf("follower Wait error: %v", gotErr)
	}
	if len(gotVec) != 4 {
		t.Fatalf("follower Wait vector len = %d, want 4", len(gotVec))
	}
}

func TestAbandonWakesFollowers(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8, 4, "test-model")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fp := mustFP(t, "will fail")

	leaderRes, _, _ := s.Reserve(fp)
	followerRes, _, _ := s.Reserve(fp)

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(followerRes)
		done <- err
	}()

	computeErr := errTestCompute
	s.Abandon(leaderRes, computeErr)

	if err := <-done; err != computeErr {
		t.Errorf("follower Wait error = %v, want %v", err, computeErr)
	}

	if _, _, hit := s.Reserve(fp); hit {
		t.Error("Reserve after Abandon: want hit=false, fingerprint was never published")
	}
}

func TestEvictionReturnsSlotToFreeList(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, 4, "test-model")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	fps := []fingerprint.Fingerprint{
		mustFP(t, "one"),
		mustFP(t, "two"),
		mustFP(t, "three"),
	}

	for i, fp := range fps {
		res, _, _ := s.Reserve(fp)
		if err := s.Publish(res, testVector(4, float32(i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	if _, _, hit := s.Reserve(fps[0]); hit {
		t.Error("oldest entry should have been evicted once capacity (2) was exceeded by a third insert")
	}
	if _, _, hit := s.Reserve(fps[2]); !hit {
		t.Error("most recently published entry should still be cached")
	}

	stats := s.Stats()
	if stats.LiveCount != 2 {
		t.Errorf("LiveCount = %d, want 2 (capacity)", stats.LiveCount)
	}
}

func TestReopenRecoversLiveEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8, 4, "test-model")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	fp := mustFP(t, "survives a restart")
	res, _, _ := s.Reserve(fp)
	want := testVector(4, 2.0)
	if err := s.Publish(res, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	s.Close()

	s2, err := Open(dir, 8, 4, "test-model")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, hit := s2.Get(fp)
	if !hit {
		t.Fatal("Get after reopen: want hit")
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Get()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOpenRecreatesOnModelMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 4, 4, "model-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fp := mustFP(t, "model specific")
	res, _, _ := s.Reserve(fp)
	s.Publish(res, testVector(4, 1.0))
	s.Close()

	s2, err := Open(dir, 4, 4, "model-b")
	if err != nil {
		t.Fatalf("reopen under new model: %v", err)
	}
	defer s2.Close()

	if _, hit := s2.Get(fp); hit {
		t.Error("Get after model_id change: want hit=false, cache should have been recreated")
	}
}

type testComputeError struct{ msg string }

func (e *testComputeError) Error() string { return e.msg }

var errTestCompute error = &testComputeError{"synthetic compute failure"}
