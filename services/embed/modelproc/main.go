// Command modelproc is a reference implementation of the child side of the
// worker wire protocol (spec.md §6). It is a test/dev fixture, not a model
// host: vectors are hash-derived and L2-normalized rather than computed by
// any real embedding model. The worker pool dispatches real model binaries
// the same way it dispatches this one, so the pool, planner, and cache can
// be exercised end-to-end without a BGE-small runtime installed.
package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
)

const dim = 384

type record struct {
	Type         string      `json:"type"`
	WorkerID     string      `json:"worker_id,omitempty"`
	BatchID      string      `json:"batch_id,omitempty"`
	Texts        []string    `json:"texts,omitempty"`
	SoftDeadline int64       `json:"soft_deadline_ms,omitempty"`
	Processed    int         `json:"processed,omitempty"`
	Total        int         `json:"total,omitempty"`
	Vectors      [][]float32 `json:"vectors,omitempty"`
	Partial      bool        `json:"partial,omitempty"`
	Error        string      `json:"error,omitempty"`
	MemoryBytes  int64       `json:"memory_bytes,omitempty"`
}

func main() {
	failEvery := flag.Int("fail-every", 0, "crash after this many embed_batch records (0 disables, for crash-recovery testing)")
	flag.Parse()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var workerID string
	var batchesSeen int

	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			writeRecord(w, record{Type: "error", Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}

		switch rec.Type {
		case "init":
			workerID = rec.WorkerID
			writeRecord(w, record{Type: "init_complete", WorkerID: workerID})

		case "embed_batch":
			batchesSeen++
			if *failEvery > 0 && batchesSeen%*failEvery == 0 {
				os.Exit(1)
			}
			vectors := make([][]float32, len(rec.Texts))
			for i, t := range rec.Texts {
				writeRecord(w, record{Type: "progress", BatchID: rec.BatchID, Processed: i, Total: len(rec.Texts)})
				vectors[i] = pseudoEmbed(t)
			}
			writeRecord(w, record{Type: "embed_complete", BatchID: rec.BatchID, Vectors: vectors})

		case "query_memory":
			writeRecord(w, record{Type: "memory_response", MemoryBytes: approxMemoryBytes()})

		case "abort":
			writeRecord(w, record{Type: "abort_ack"})

		case "shutdown":
			return

		default:
			writeRecord(w, record{Type: "error", Error: fmt.Sprintf("unknown record type %q", rec.Type)})
		}
	}
}

func writeRecord(w *bufio.Writer, rec record) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	w.Write(b)
	w.WriteByte('\n')
	w.Flush()
}

// pseudoEmbed derives a deterministic unit vector from text. Two calls with
// the same text always produce the same vector, which is what makes this a
// useful stand-in for cache/planner tests without a real model.
func pseudoEmbed(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, dim)
	for i := range v {
		b := sum[i%len(sum)]
		v[i] = float32(int(b)-128) / 128
	}
	return normalize(v)
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func approxMemoryBytes() int64 {
	return int64(dim) * 4 * 1024
}
