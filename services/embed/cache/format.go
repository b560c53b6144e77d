package cache

import "encoding/binary"

// On-disk layout (spec §4.2). Four fixed-size files live side by side in a
// cache directory:
//
//	header  — one fixed-offset record (schemaVersion, capacity, liveCount, dim, nextVectorSlot, modelID)
//	entries — capacity slots of (vectorOffset, createdAt, hitCount, lastAccessed)
//	vectors — capacity * dim * 4 bytes of raw little-endian float32
//	keys    — capacity * keySlotSize bytes of (len byte, fingerprint hex bytes)
//
// All integers are little-endian. Alignment and field order are fixed across
// versions; Open refuses to read a header whose schemaVersion or dim doesn't
// match what the running binary expects.

const (
	schemaVersion = 1

	// headerSize is the fixed size of the header record on disk.
	headerSize = 128

	headerOffSchemaVersion = 0  // uint32
	headerOffDim           = 4  // uint32
	headerOffCapacity      = 8  // uint64
	headerOffLiveCount     = 16 // uint64
	headerOffNextVecSlot   = 24 // uint64
	headerOffModelIDLen    = 32 // uint32
	headerOffModelID       = 36 // up to 64 bytes
	modelIDMaxLen          = 64

	// entrySize is the fixed size of one entry-table slot: vectorOffset
	// (uint64), createdAt (int64, unix nanos), hitCount (uint64),
	// lastAccessed (int64, unix nanos).
	entrySize            = 32
	entryOffVectorOffset = 0
	entryOffCreatedAt    = 8
	entryOffHitCount     = 16
	entryOffLastAccessed = 24

	// keySlotSize is 1 length byte + 64 bytes of hex-encoded fingerprint
	// (a 32-byte fingerprint is exactly 64 hex characters): spec's
	// "capacity × 65 bytes holding (len, utf-8 bytes)".
	keySlotSize  = 65
	keyHexLength = 64
)

// header is the decoded form of the fixed header record.
type header struct {
	SchemaVersion uint32
	Dim           uint32
	Capacity      uint64
	LiveCount     uint64
	NextVecSlot   uint64
	ModelID       string
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[headerOffSchemaVersion:], h.SchemaVersion)
	binary.LittleEndian.PutUint32(buf[headerOffDim:], h.Dim)
	binary.LittleEndian.PutUint64(buf[headerOffCapacity:], h.Capacity)
	binary.LittleEndian.PutUint64(buf[headerOffLiveCount:], h.LiveCount)
	binary.LittleEndian.PutUint64(buf[headerOffNextVecSlot:], h.NextVecSlot)

	idBytes := []byte(h.ModelID)
	if len(idBytes) > modelIDMaxLen {
		idBytes = idBytes[:modelIDMaxLen]
	}
	binary.LittleEndian.PutUint32(buf[headerOffModelIDLen:], uint32(len(idBytes)))
	copy(buf[headerOffModelID:], idBytes)
	return buf
}

func decodeHeader(buf []byte) header {
	var h header
	h.SchemaVersion = binary.LittleEndian.Uint32(buf[headerOffSchemaVersion:])
	h.Dim = binary.LittleEndian.Uint32(buf[headerOffDim:])
	h.Capacity = binary.LittleEndian.Uint64(buf[headerOffCapacity:])
	h.LiveCount = binary.LittleEndian.Uint64(buf[headerOffLiveCount:])
	h.NextVecSlot = binary.LittleEndian.Uint64(buf[headerOffNextVecSlot:])

	idLen := binary.LittleEndian.Uint32(buf[headerOffModelIDLen:])
	if idLen > modelIDMaxLen {
		idLen = modelIDMaxLen
	}
	h.ModelID = string(buf[headerOffModelID : headerOffModelID+int(idLen)])
	return h
}

// slotEntry is the decoded form of one entry-table tuple.
type slotEntry struct {
	VectorOffset uint64
	CreatedAt    int64
	HitCount     uint64
	LastAccessed int64
}

func encodeEntry(e slotEntry) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf[entryOffVectorOffset:], e.VectorOffset)
	binary.LittleEndian.PutUint64(buf[entryOffCreatedAt:], uint64(e.CreatedAt))
	binary.LittleEndian.PutUint64(buf[entryOffHitCount:], e.HitCount)
	binary.LittleEndian.PutUint64(buf[entryOffLastAccessed:], uint64(e.LastAccessed))
	return buf
}

func decodeEntry(buf []byte) slotEntry {
	var e slotEntry
	e.VectorOffset = binary.LittleEndian.Uint64(buf[entryOffVectorOffset:])
	e.CreatedAt = int64(binary.LittleEndian.Uint64(buf[entryOffCreatedAt:]))
	e.HitCount = binary.LittleEndian.Uint64(buf[entryOffHitCount:])
	e.LastAccessed = int64(binary.LittleEndian.Uint64(buf[entryOffLastAccessed:]))
	return e
}

// encodeKey writes a key-region slot: a length byte followed by the
// fingerprint's hex encoding, zero-padded. len == 0 marks an empty slot.
func encodeKey(hexFP string) []byte {
	buf := make([]byte, keySlotSize)
	if hexFP == "" {
		return buf
	}
	b := []byte(hexFP)
	buf[0] = byte(len(b))
	copy(buf[1:], b)
	return buf
}

func decodeKey(buf []byte) (hexFP string, valid bool) {
	n := int(buf[0])
	if n == 0 || n > keyHexLength {
		return "", false
	}
	return string(buf[1 : 1+n]), true
}
