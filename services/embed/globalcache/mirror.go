package globalcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/vectorforge/embedcore/services/embed/fingerprint"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

// defaultTTL matches the teacher's router cache: long enough to survive a
// weekend or a short redeploy without accumulating stale entries forever.
const defaultTTL = 7 * 24 * time.Hour

const keyPrefix = "embed/v1/"

var errMiss = errors.New("globalcache: miss")

// Mirror is a coalescing second-tier cache. cmd/embedsrv opens its BadgerDB
// directory under <CacheDir>/global, and CacheDir is keyed per repository by
// default; BadgerDB's directory lock lets only one process hold a given
// mirror open at a time. Unlike the per-process on-disk cache (package cache),
// Mirror is not authoritative: a miss here always falls back to computing
// the vector locally, and a successful local compute is written back so the
// next process to start up (or the next cache eviction in this process)
// finds it warm. This "coalescing, not hard-mirror" choice is the resolution
// to spec's Open Question #1, recorded in SPEC_FULL.md §4.9.
//
// Grounded on the teacher's BadgerRouterCacheStore: gob-encoded payloads,
// Badger-native TTL, nil-safe so callers that don't configure a mirror
// degrade to local-only caching without special-casing.
type Mirror struct {
	db     *DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewMirror wraps db (which must already be open) into a Mirror. Pass ttl
// <= 0 to use the 7-day default. A nil *Mirror is valid and every method on
// it is a no-op miss, so callers can embed a possibly-nil Mirror without a
// separate "mirror enabled" flag.
func NewMirror(db *DB, ttl time.Duration, logger *slog.Logger) *Mirror {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, ttl: ttl, logger: logger}
}

type record struct {
	ModelID string
	Vector  vector.Vector
}

func mirrorKey(fp fingerprint.Fingerprint, modelID string) []byte {
	return []byte(keyPrefix + modelID + "/" + fp.String())
}

// Load returns the mirrored vector for (fp, modelID), if any. A nil *Mirror,
// a Badger miss, or a stale TTL all report (nil, false, nil) — callers treat
// all three identically, falling back to local compute.
func (m *Mirror) Load(ctx context.Context, fp fingerprint.Fingerprint, modelID string) (vector.Vector, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, nil
	}

	key := mirrorKey(fp, modelID)
	var raw []byte
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errMiss
		}
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, errMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("globalcache: load: %w", err)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, false, fmt.Errorf("globalcache: decode: %w", err)
	}
	if rec.ModelID != modelID {
		// Defensive: a key collision should never happen since modelID is
		// part of the key, but a stale format from a prior schema might
		// still be sitting in the value-log during a rolling deploy.
		return nil, false, nil
	}
	return rec.Vector, true, nil
}

// Store writes v into the mirror under (fp, modelID) with the configured
// TTL. Failures are non-fatal to the caller: the vector was already
// computed and returned, so a mirror write failure only means the next
// process won't find it warm.
func (m *Mirror) Store(ctx context.Context, fp fingerprint.Fingerprint, modelID string, v vector.Vector) error {
	if m == nil || m.db == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record{ModelID: modelID, Vector: v}); err != nil {
		return fmt.Errorf("globalcache: encode: %w", err)
	}

	key := mirrorKey(fp, modelID)
	return m.db.WithWriteTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, buf.Bytes()).WithTTL(m.ttl)
		return txn.SetEntry(entry)
	})
}
