package vector

import (
	"encoding/binary"
	"hash/fnv"
)

// PointID derives the stable point id for a chunk. The embedding
// version participates so that re-embedding under a new model writes
// new points instead of silently overwriting old ones.
func PointID(filePath string, ordinal, embeddingVersion int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(filePath))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ordinal))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(embeddingVersion))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
