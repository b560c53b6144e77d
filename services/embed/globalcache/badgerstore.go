// Package globalcache is the optional second-tier mirror for computed
// embeddings, resolving SPEC_FULL.md §4.9 (spec's Open Question #1: whether
// a multi-process deployment shares a single authoritative cache or each
// process keeps its own with best-effort coalescing). It is grounded on the
// teacher's services/trace/agent/routing.BadgerRouterCacheStore: a BadgerDB
// instance opened once at process start, keyed records with a TTL enforced
// by Badger's own GC rather than application code.
package globalcache

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// DB is a thin wrapper around a BadgerDB handle, narrowing the API to the
// read/write-transaction shape the mirror needs and giving tests a single
// seam to fake. Mirrors the teacher's storage/badger.DB wrapper.
type DB struct {
	bdb *badger.DB
}

// Config controls how the embedded BadgerDB instance is opened.
type Config struct {
	Dir      string
	InMemory bool
}

// DefaultConfig returns a Config pointed at no directory; callers must set
// Dir (or InMemory for tests) before calling OpenDB.
func DefaultConfig() Config {
	return Config{}
}

// OpenDB opens (creating if necessary) a BadgerDB instance at cfg.Dir, with
// Badger's own logger silenced the way the teacher's main.go does — Badger
// is chatty at Info level and the embed core has its own structured logger.
func OpenDB(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("globalcache: open badger: %w", err)
	}
	return &DB{bdb: bdb}, nil
}

// Close releases the underlying BadgerDB instance.
func (d *DB) Close() error {
	return d.bdb.Close()
}

// WithReadTxn runs fn inside a read-only Badger transaction.
func (d *DB) WithReadTxn(_ context.Context, fn func(txn *badger.Txn) error) error {
	return d.bdb.View(fn)
}

// WithWriteTxn runs fn inside a read-write Badger transaction, committing on
// a nil return and rolling back otherwise.
func (d *DB) WithWriteTxn(_ context.Context, fn func(txn *badger.Txn) error) error {
	return d.bdb.Update(fn)
}

// RunGC triggers one pass of Badger's value-log garbage collection; safe to
// call periodically from a background goroutine (the teacher does this from
// a ticker in cmd/trace/main.go).
func (d *DB) RunGC(discardRatio float64) error {
	return d.bdb.RunValueLogGC(discardRatio)
}
