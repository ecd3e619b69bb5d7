package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashBytes returns the hex SHA-256 of raw bytes. Used for file content
// hashes and cache keys.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex SHA-256 of a string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// SpanID derives the deterministic span id from the identity fields.
// Given identical inputs it is byte-equal across runs and machines.
func SpanID(repo, path string, byteStart, byteEnd int, kind SpanKind, name, signature, doc string, parents []string) string {
	material := strings.Join([]string{
		repo,
		path,
		fmt.Sprintf("%d", byteStart),
		fmt.Sprintf("%d", byteEnd),
		string(kind),
		name,
		signature,
		HashString(doc),
		HashString(strings.Join(parents, "\x1f")),
	}, "|")
	return HashString(material)
}

// ComputeID fills in the span's deterministic id from its fields.
func (s *Span) ComputeID() string {
	s.ID = SpanID(s.Repo, s.Path, s.ByteStart, s.ByteEnd, s.Kind, s.Name, s.Signature, s.Doc, s.Parents)
	return s.ID
}

// ChunkID derives the deterministic chunk id from its span and the hash
// of the local context the chunk was rendered with.
func ChunkID(spanID, contextHash string) string {
	return HashString(spanID + "|" + contextHash)
}

// memoryRefPrefix marks chunk ids that point at memories instead of
// indexed code. Memory hits ride through fusion and packing on the
// same id field as chunks.
const memoryRefPrefix = "mem:"

// MemoryRef wraps a memory id as a chunk id.
func MemoryRef(memoryID string) string {
	return memoryRefPrefix + memoryID
}

// IsMemoryRef reports whether a chunk id refers to a memory.
func IsMemoryRef(chunkID string) bool {
	return strings.HasPrefix(chunkID, memoryRefPrefix)
}

// MemoryIDFromRef unwraps a memory chunk id. The second return is false
// for ordinary chunk ids.
func MemoryIDFromRef(chunkID string) (string, bool) {
	if !IsMemoryRef(chunkID) {
		return "", false
	}
	return chunkID[len(memoryRefPrefix):], true
}
