package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fixtureCommand writes a tiny Go program implementing just enough of the
// worker wire protocol to exercise Spawn/Dispatch/Shutdown, and returns the
// command to run it via `go run`. Using `go run` keeps this test
// self-contained without a prebuilt binary on PATH; the real deployment
// target is services/embed/modelproc.
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
	Type         string      ` + "`json:\"type\"`" + `
	WorkerID     string      ` + "`json:\"worker_id,omitempty\"`" + `
	BatchID      string      ` + "`json:\"batch_id,omitempty\"`" + `
	Texts        []string    ` + "`json:\"texts,omitempty\"`" + `
	Vectors      [][]float32 ` + "`json:\"vectors,omitempty\"`" + `
	Partial      bool        ` + "`json:\"partial,omitempty\"`" + `
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
		case "shutdown":
			return
		case "abort":
			return
		}
	}
}
`

func TestSpawnDispatchShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a go run subprocess")
	}
	cmd := fixtureCommand(t, echoFixture)

	w := New("w0", cmd, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.Spawn(ctx, 20*time.Second); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := w.State(); got != Idle {
		t.Fatalf("State after Spawn = %v, want Idle", got)
	}

	res, err := w.Dispatch(ctx, "batch-1", []string{"alpha", "beta"}, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(res.Vectors) != 2 {
		t.Fatalf("Dispatch returned %d vectors, want 2", len(res.Vectors))
	}
	if res.Partial {
		t.Error("Dispatch reported Partial, want false")
	}

	if err := w.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := w.State(); got != Dead {
		t.Fatalf("State after Shutdown = %v, want Dead", got)
	}
}

func TestDispatchDetectsCrash(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a go run subprocess")
	}
	crashFixture := `
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var r map[string]any
		json.Unmarshal(scanner.Bytes(), &r)
		if r["type"] == "init" {
			fmt.Printf("{\"type\":\"init_complete\",\"worker_id\":%q}\n", r["worker_id"])
			continue
		}
		if r["type"] == "embed_batch" {
			os.Exit(1)
		}
	}
}
`
	cmd := fixtureCommand(t, crashFixture)
	w := New("w1", cmd, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.Spawn(ctx, 20*time.Second); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	_, err := w.Dispatch(ctx, "batch-1", []string{"alpha"}, 5*time.Second, nil)
	if err == nil {
		t.Fatal("Dispatch after child crash: want error")
	}
	if got := w.State(); got != Dead {
		t.Fatalf("State after crash = %v, want Dead", got)
	}
}
