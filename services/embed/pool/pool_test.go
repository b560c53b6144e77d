package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func fixtureCommand(t *testing.T, script string) []string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.go")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	goBin := filepath.Join(runtime.GOROOT(), "bin", "go")
	return []string{goBin, "run", path}
}

const echoFixture = `
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

type rec struct {
	Type     string      ` + "`json:\"type\"`" + `
	WorkerID string      ` + "`json:\"worker_id,omitempty\"`" + `
	BatchID  string      ` + "`json:\"batch_id,omitempty\"`" + `
	Texts    []string    ` + "`json:\"texts,omitempty\"`" + `
	Vectors  [][]float32 ` + "`json:\"vectors,omitempty\"`" + `
}

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var r rec
		json.Unmarshal(scanner.Bytes(), &r)
		switch r.Type {
		case "init":
			fmt.Printf("{\"type\":\"init_complete\",\"worker_id\":%q}\n", r.WorkerID)
		case "embed_batch":
			vecs := make([][]float32, len(r.Texts))
			for i := range r.Texts {
				vecs[i] = []float32{1, 0, 0, 0}
			}
			out := rec{Type: "embed_complete", BatchID: r.BatchID, Vectors: vecs}
			b, _ := json.Marshal(out)
			fmt.Println(string(b))
		case "shutdown", "abort":
			return
		}
	}
}
`

// crashOnceFixture crashes (no embed_complete, just an abrupt exit) the
// first time it receives an embed_batch record, using a marker file to tell
// its first incarnation from the replacement's. It models spec scenario 5:
// a worker dies mid-batch and the pool's respawn-and-retry should paper
// over it before the caller ever sees WorkerCrashed.
const crashOnceFixtureTemplate = `
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

type rec struct {
	Type     string      ` + "`json:\"type\"`" + `
	WorkerID string      ` + "`json:\"worker_id,omitempty\"`" + `
	BatchID  string      ` + "`json:\"batch_id,omitempty\"`" + `
	Texts    []string    ` + "`json:\"texts,omitempty\"`" + `
	Vectors  [][]float32 ` + "`json:\"vectors,omitempty\"`" + `
}

func main() {
	marker := %q
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var r rec
		json.Unmarshal(scanner.Bytes(), &r)
		switch r.Type {
		case "init":
			fmt.Printf("{\"type\":\"init_complete\",\"worker_id\":%%q}\n", r.WorkerID)
		case "embed_batch":
			if _, err := os.Stat(marker); os.IsNotExist(err) {
				os.WriteFile(marker, []byte("1"), 0o644)
				os.Exit(1)
			}
			vecs := make([][]float32, len(r.Texts))
			for i := range r.Texts {
				vecs[i] = []float32{1, 0, 0, 0}
			}
			out := rec{Type: "embed_complete", BatchID: r.BatchID, Vectors: vecs}
			b, _ := json.Marshal(out)
			fmt.Println(string(b))
		case "shutdown", "abort":
			return
		}
	}
}
`

func crashOnceFixtureCommand(t *testing.T) []string {
	t.Helper()
	markerDir := t.TempDir()
	marker := filepath.Join(markerDir, "crashed-once")
	script := fmt.Sprintf(crashOnceFixtureTemplate, marker)
	return fixtureCommand(t, script)
}

func testConfig(t *testing.T, workers int) Config {
	return Config{
		WorkerCount:        workers,
		Command:            fixtureCommand(t, echoFixture),
		QueueHighWater:     16,
		BatchSoftDeadline:  2 * time.Second,
		BatchHardDeadline:  10 * time.Second,
		WorkerStall:        5 * time.Second,
		InitTimeout:        15 * time.Second,
		MaxRespawnFailures: 3,
		RespawnWindow:      time.Minute,
		DrainGrace:         5 * time.Second,
	}
}

func TestSubmitDispatchesAndReturnsVectors(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns go run subprocesses")
	}
	ctx := context.Background()
	p, err := New(ctx, testConfig(t, 2), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	resultC, err := p.Submit(ctx, "", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultC:
		if res.Err != nil {
			t.Fatalf("result error: %v", res.Err)
		}
		if len(res.Vectors) != 3 {
			t.Fatalf("got %d vectors, want 3", len(res.Vectors))
		}
	case <-time.After(20 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestSubmitOverloaded(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns go run subprocesses")
	}
	ctx := context.Background()
	cfg := testConfig(t, 1)
	cfg.QueueHighWater = 0
	p, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	if _, err := p.Submit(ctx, "", []string{"x"}); err == nil {
		t.Error("Submit with QueueHighWater=0: want Overloaded error")
	}
}

func TestSubmitSurvivesOneWorkerCrash(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns go run subprocesses")
	}
	ctx := context.Background()
	cfg := testConfig(t, 1)
	cfg.Command = crashOnceFixtureCommand(t)
	p, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	resultC, err := p.Submit(ctx, "", []string{"a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultC:
		if res.Err != nil {
			t.Fatalf("result error: %v, want the crash to be retried transparently", res.Err)
		}
		if len(res.Vectors) != 1 {
			t.Fatalf("got %d vectors, want 1", len(res.Vectors))
		}
	case <-time.After(20 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestShutdownDrains(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns go run subprocesses")
	}
	ctx := context.Background()
	p, err := New(ctx, testConfig(t, 1), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resultC, err := p.Submit(ctx, "", []string{"a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-resultC

	p.Shutdown()

	if _, err := p.Submit(ctx, "", []string{"b"}); err == nil {
		t.Error("Submit after Shutdown: want Draining error")
	}
}
