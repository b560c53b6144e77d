// Package cache implements the two-tier, content-addressed embedding cache
// described in spec §4.2: a fixed-capacity on-disk region (header, entries,
// vectors, keys files) with the vectors file mmap'd, paired with an in-memory
// LRU that also doubles as the fingerprint→slot index. Reads are not
// zero-copy: Get decodes a slot's bytes into a freshly allocated Vector.
// Concurrent callers
// asking for the same fingerprint at the same time are coalesced into a
// single compute via Reserve/Publish/Abandon — "at most one compute in
// flight per fingerprint" (spec §4.2's single-flight requirement).
//
// The on-disk format and OS-tagged mmap helpers are grounded on
// calvinalkan-agent-task's pkg/slotcache and SnellerInc-sneller's
// tenant/dcache file_linux.go/file_other.go pair; the in-memory LRU/index
// split is grounded on allaspectsdev-tokenman's internal/cache two-tier
// design.
package cache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vectorforge/embedcore/services/embed/embederr"
	"github.com/vectorforge/embedcore/services/embed/fingerprint"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

const (
	headerFileName  = "header.bin"
	entriesFileName = "entries.bin"
	vectorsFileName = "vectors.bin"
	keysFileName    = "keys.bin"
)

// pendingCompute is the single-flight record for a fingerprint that a
// leader is currently computing. Followers block on done.
type pendingCompute struct {
	done   chan struct{}
	vector vector.Vector
	err    error
}

// Reservation is returned by Reserve when the caller becomes the leader
// responsible for computing the vector for a fingerprint.
type Reservation struct {
	fp      fingerprint.Fingerprint
	pending *pendingCompute
}

// Store is the two-tier embedding cache for one model. It is safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	dim      int
	capacity uint64
	modelID  string

	hf *os.File
	ef *os.File
	kf *os.File
	vf *os.File

	vecBuf []byte // mmap'd (or fallback in-process) vectors region

	index       *lru.Cache[fingerprint.Fingerprint, uint64]
	freeSlots   []uint64
	nextVecSlot uint64
	pending     map[fingerprint.Fingerprint]*pendingCompute

	liveCount uint64
}

// Open opens (creating if necessary) the four cache region files under dir.
// If an existing header's schemaVersion, dim, capacity, or modelID don't
// match, the cache is recreated wholesale — the fail-safe for format drift
// and for a model_id change.
func Open(dir string, capacity uint64, dim int, modelID string) (*Store, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("cache: capacity must be > 0")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}

	hdrPath := filepath.Join(dir, headerFileName)
	if existing, err := readHeaderIfValid(hdrPath, capacity, dim, modelID); err == nil && existing {
		// compatible, fall through to normal open below
	} else {
		if err := resetRegion(dir); err != nil {
			return nil, err
		}
	}

	s := &Store{
		dim:      dim,
		capacity: capacity,
		modelID:  modelID,
		pending:  make(map[fingerprint.Fingerprint]*pendingCompute),
	}

	var err error
	s.hf, err = os.OpenFile(hdrPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open header: %w", err)
	}
	s.ef, err = os.OpenFile(filepath.Join(dir, entriesFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open entries: %w", err)
	}
	s.kf, err = os.OpenFile(filepath.Join(dir, keysFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open keys: %w", err)
	}
	s.vf, err = os.OpenFile(filepath.Join(dir, vectorsFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: open vectors: %w", err)
	}

	if err := s.initRegions(); err != nil {
		s.closeFiles()
		return nil, err
	}

	s.index, err = lru.NewWithEvict(int(capacity), s.onEvict)
	if err != nil {
		s.closeFiles()
		return nil, fmt.Errorf("cache: building index: %w", err)
	}

	live, err := s.recoverFromDisk()
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.liveCount = live

	return s, nil
}

func readHeaderIfValid(path string, capacity uint64, dim int, modelID string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if len(data) < headerSize {
		return false, fmt.Errorf("cache: truncated header")
	}
	h := decodeHeader(data)
	if h.SchemaVersion != schemaVersion || h.Dim != uint32(dim) || h.Capacity != capacity || h.ModelID != modelID {
		return false, fmt.Errorf("cache: header mismatch, recreating")
	}
	return true, nil
}

// resetRegion removes any existing region files so the caller starts from a
// clean slate; used when the on-disk header is absent, corrupt, or stamped
// with an incompatible schema/dim/model.
func resetRegion(dir string) error {
	for _, name := range []string{headerFileName, entriesFileName, vectorsFileName, keysFileName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cache: reset %s: %w", name, err)
		}
	}
	return nil
}

// initRegions ensures every region file is grown to its fixed size and the
// vectors file is mapped into memory.
func (s *Store) initRegions() error {
	if err := growFile(s.hf, headerSize); err != nil {
		return fmt.Errorf("cache: grow header: %w", err)
	}
	if err := growFile(s.ef, int64(s.capacity)*entrySize); err != nil {
		return fmt.Errorf("cache: grow entries: %w", err)
	}
	if err := growFile(s.kf, int64(s.capacity)*keySlotSize); err != nil {
		return fmt.Errorf("cache: grow keys: %w", err)
	}
	vecRegionSize := int64(s.capacity) * int64(s.dim) * 4
	if err := growFile(s.vf, vecRegionSize); err != nil {
		return fmt.Errorf("cache: grow vectors: %w", err)
	}

	buf, err := mmapRegion(s.vf, vecRegionSize)
	if err != nil {
		return fmt.Errorf("cache: mmap vectors: %w", err)
	}
	s.vecBuf = buf

	hdr := header{SchemaVersion: schemaVersion, Dim: uint32(s.dim), Capacity: s.capacity, ModelID: s.modelID}
	return s.writeHeaderLocked(hdr)
}

// recoverFromDisk replays the key region at open, rebuilding the in-memory
// index from whatever slots still carry a valid key. Torn writes from a
// crash mid-Publish are detected by an empty key slot (len == 0 means the
// key write never landed, so the slot never counts as live) and simply
// skipped — the entry/vector bytes in that slot are ignored and the slot is
// treated as never allocated.
//
// next_vector_slot is reconstructed as one past the highest used slot: every
// slot below it has been allocated at some point (either still live or a
// hole left by a since-recovered process' eviction), and every slot at or
// above it has never been touched, so it falls to the bump allocator in
// allocSlotLocked rather than the free list.
func (s *Store) recoverFromDisk() (uint64, error) {
	keyBuf := make([]byte, s.capacity*keySlotSize)
	if _, err := s.kf.ReadAt(keyBuf, 0); err != nil && err.Error() != "EOF" {
		// A short read on a freshly-created file is fine; anything else bubbles up.
	}

	var live uint64
	used := make(map[uint64]bool, s.capacity)
	var highestUsed uint64
	anyUsed := false
	for slot := uint64(0); slot < s.capacity; slot++ {
		off := slot * keySlotSize
		hexFP, ok := decodeKey(keyBuf[off : off+keySlotSize])
		if !ok {
			continue
		}
		fp, err := fingerprint.Parse(hexFP)
		if err != nil {
			continue
		}
		s.index.Add(fp, slot)
		used[slot] = true
		live++
		highestUsed = slot
		anyUsed = true
	}

	if anyUsed {
		s.nextVecSlot = highestUsed + 1
	}
	for slot := uint64(0); slot < s.nextVecSlot; slot++ {
		if !used[slot] {
			s.freeSlots = append(s.freeSlots, slot)
		}
	}
	return live, nil
}

func (s *Store) closeFiles() {
	if s.vecBuf != nil {
		munmapRegion(s.vecBuf)
	}
	for _, f := range []*os.File{s.hf, s.ef, s.kf, s.vf} {
		if f != nil {
			f.Close()
		}
	}
}

// Close flushes and releases the mapping and underlying file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFiles()
	return nil
}

// Get returns the cached vector for fp, if present. A hit bumps the entry's
// hit_count/last_accessed and touches the LRU recency — both are
// best-effort: a failure to persist the touch never turns a hit into a
// miss, matching spec §9's redesign note that LRU bookkeeping must never
// block the read path.
func (s *Store) Get(fp fingerprint.Fingerprint) (vector.Vector, bool) {
	s.mu.Lock()
	slot, ok := s.index.Get(fp)
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	v := s.readVectorSlot(slot)

	go s.touchSlot(slot)

	return v, true
}

func (s *Store) readVectorSlot(slot uint64) vector.Vector {
	off := slot * uint64(s.dim) * 4
	raw := s.vecBuf[off : off+uint64(s.dim)*4]
	v := make(vector.Vector, s.dim)
	for i := range v {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		v[i] = float32FromBits(bits)
	}
	return v
}

func (s *Store) writeVectorSlot(slot uint64, v vector.Vector) {
	off := slot * uint64(s.dim) * 4
	raw := s.vecBuf[off : off+uint64(s.dim)*4]
	for i, f := range v {
		binary.LittleEndian.PutUint32(raw[i*4:], float32Bits(f))
	}
	// On Linux this is a no-op (the mapping is already MAP_SHARED); on the
	// fallback build it writes the slot back to vectors.bin so a published
	// vector survives a crash instead of living only in vecBuf.
	_ = flushVectorSlot(s.vf, s.vecBuf, int64(off), int(uint64(s.dim)*4))
}

// touchSlot updates hit_count/last_accessed for slot without holding the
// main lock for the whole operation longer than necessary.
func (s *Store) touchSlot(slot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.readEntryLocked(slot)
	e.HitCount++
	e.LastAccessed = nowUnixNano()
	s.writeEntryLocked(slot, e)
}

// Reserve claims the right to compute fp's vector. If another caller is
// already computing it, isLeader is false and the returned Reservation
// shares that caller's pending compute; the caller should pass it to Wait
// instead of computing. If fp is already cached, hit is true and no
// reservation is created.
func (s *Store) Reserve(fp fingerprint.Fingerprint) (res *Reservation, isLeader bool, hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Get(fp); ok {
		return nil, false, true
	}
	if p, ok := s.pending[fp]; ok {
		return &Reservation{fp: fp, pending: p}, false, false
	}

	p := &pendingCompute{done: make(chan struct{})}
	s.pending[fp] = p
	return &Reservation{fp: fp, pending: p}, true, false
}

// Wait blocks until the leader holding fp's reservation calls Publish or
// Abandon, then returns the vector (or error) it produced. Callers must
// have gotten a non-leader Reservation from Reserve.
func (s *Store) Wait(res *Reservation) (vector.Vector, error) {
	<-res.pending.done
	return res.pending.vector, res.pending.err
}

// Publish stores v for the fingerprint the leader reserved and wakes any
// waiting followers. The write-fence order is vector bytes, then key bytes,
// then the entry tuple, then live_count, then the header. Recovery counts a
// slot as live exactly when its key is valid, so a crash before the key
// write leaves the slot not live, and a crash after it finds the vector
// bytes already in place.
func (s *Store) Publish(res *Reservation, v vector.Vector) error {
	if err := vector.Validate(v, s.dim); err != nil {
		s.Abandon(res, err)
		return err
	}

	s.mu.Lock()
	slot, err := s.allocSlotLocked()
	if err != nil {
		s.mu.Unlock()
		s.Abandon(res, err)
		return err
	}

	s.writeVectorSlot(slot, v)

	if err := s.writeKeyLocked(slot, res.fp); err != nil {
		s.freeSlots = append(s.freeSlots, slot)
		s.mu.Unlock()
		s.Abandon(res, err)
		return err
	}

	now := nowUnixNano()
	s.writeEntryLocked(slot, slotEntry{VectorOffset: slot * uint64(s.dim) * 4, CreatedAt: now, HitCount: 0, LastAccessed: now})

	s.index.Add(res.fp, slot)
	s.liveCount++
	_ = s.writeHeaderLocked(header{SchemaVersion: schemaVersion, Dim: uint32(s.dim), Capacity: s.capacity, LiveCount: s.liveCount, NextVecSlot: s.nextVecSlot, ModelID: s.modelID})

	delete(s.pending, res.fp)
	s.mu.Unlock()

	res.pending.vector = v
	close(res.pending.done)
	return nil
}

// Abandon releases fp's reservation without caching anything — used when
// the leader's compute failed. Waiting followers observe err. The computed
// vector (if the caller has one despite the error, e.g. StorageFull) is
// still returned to the original caller by the batch layer; Abandon only
// concerns the cache's bookkeeping.
func (s *Store) Abandon(res *Reservation, err error) {
	if err == nil {
		err = embederr.ErrInvalidInput
	}
	s.mu.Lock()
	delete(s.pending, res.fp)
	s.mu.Unlock()

	res.pending.err = err
	close(res.pending.done)
}

// allocSlotLocked returns a free slot, evicting the least-recently-used
// entry via the index if the cache is at capacity. Caller must hold s.mu.
func (s *Store) allocSlotLocked() (uint64, error) {
	if slot, ok := s.takeFreeSlotLocked(); ok {
		return slot, nil
	}
	if uint64(s.index.Len()) >= s.capacity {
		// Evict the oldest entry; onEvict either rewinds nextVecSlot or
		// pushes the slot onto freeSlots, so this recurses at most once.
		_, _, ok := s.index.RemoveOldest()
		if !ok {
			return 0, embederr.ErrStorageFull
		}
		if slot, ok := s.takeFreeSlotLocked(); ok {
			return slot, nil
		}
	}
	return 0, embederr.ErrStorageFull
}

// takeFreeSlotLocked returns a reusable slot from the free list, falling
// back to bump-allocating the next never-yet-used slot from nextVecSlot.
// Caller must hold s.mu.
func (s *Store) takeFreeSlotLocked() (uint64, bool) {
	if len(s.freeSlots) > 0 {
		slot := s.freeSlots[len(s.freeSlots)-1]
		s.freeSlots = s.freeSlots[:len(s.freeSlots)-1]
		return slot, true
	}
	if s.nextVecSlot < s.capacity {
		slot := s.nextVecSlot
		s.nextVecSlot++
		return slot, true
	}
	return 0, false
}

// onEvict is the LRU eviction callback: it zeroes the slot's entry tuple,
// clears its key record (marking it not-live), and reclaims the slot —
// rewinding nextVecSlot if the slot was the most recent bump allocation,
// otherwise returning it to the free list. Called with s.mu already held by
// the caller chain (RemoveOldest/Remove/Add all invoke it synchronously),
// so it must not re-lock.
func (s *Store) onEvict(fp fingerprint.Fingerprint, slot uint64) {
	s.writeEntryLocked(slot, slotEntry{})
	s.clearKeyLocked(slot)
	if s.nextVecSlot > 0 && slot == s.nextVecSlot-1 {
		s.nextVecSlot--
	} else {
		s.freeSlots = append(s.freeSlots, slot)
	}
	if s.liveCount > 0 {
		s.liveCount--
	}
}

func (s *Store) readEntryLocked(slot uint64) slotEntry {
	buf := make([]byte, entrySize)
	s.ef.ReadAt(buf, int64(slot)*entrySize)
	return decodeEntry(buf)
}

func (s *Store) writeEntryLocked(slot uint64, e slotEntry) {
	s.ef.WriteAt(encodeEntry(e), int64(slot)*entrySize)
}

func (s *Store) writeKeyLocked(slot uint64, fp fingerprint.Fingerprint) error {
	_, err := s.kf.WriteAt(encodeKey(fp.String()), int64(slot)*keySlotSize)
	return err
}

func (s *Store) clearKeyLocked(slot uint64) {
	s.kf.WriteAt(make([]byte, keySlotSize), int64(slot)*keySlotSize)
}

func (s *Store) writeHeaderLocked(h header) error {
	_, err := s.hf.WriteAt(encodeHeader(h), 0)
	return err
}

// Stats reports a point-in-time snapshot of cache occupancy.
type Stats struct {
	LiveCount uint64
	Capacity  uint64
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{LiveCount: s.liveCount, Capacity: s.capacity}
}
