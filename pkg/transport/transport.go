// Package transport defines the wire formats and collaborator contracts for
// crash report delivery over public relays.
//
// Three event kinds carry a report:
//
//	10420  direct report, sealed for the recipient, payload in the content
//	10421  chunk manifest, sealed for the recipient
//	10422  encrypted chunk, published in the clear
//
// Reports up to DirectSizeThreshold travel as a single sealed event. Larger
// reports are split into convergently encrypted chunks (kind 10422) plus a
// sealed manifest (kind 10421) that carries the chunk hashes needed to
// decrypt them. The manifest must never be published unsealed: its chunk
// hashes are the decryption keys.
package transport

import "encoding/json"

// Event kinds used by the delivery pipeline.
const (
	// KindDirect carries a whole report sealed for the recipient.
	KindDirect = 10420
	// KindManifest carries the sealed chunk manifest.
	KindManifest = 10421
	// KindChunk carries one convergently encrypted chunk in the clear.
	KindChunk = 10422
)

// DirectSizeThreshold is the largest serialized report that is delivered as
// a single sealed event. It leaves room for the sealing overhead under the
// 64 KiB message limit common on public relays.
const DirectSizeThreshold = 50 * 1024

// KindFor selects the delivery kind for a serialized report of the given
// size: KindDirect up to and including the threshold, KindManifest above.
func KindFor(size int) int {
	if size <= DirectSizeThreshold {
		return KindDirect
	}
	return KindManifest
}

// DirectPayload is the content of a kind 10420 event.
type DirectPayload struct {
	V     int             `json:"v"`
	Crash json.RawMessage `json:"crash"`
}

// ManifestPayload is the content of a kind 10421 event. ChunkIDs lists the
// event identifier of every chunk in index order, including chunks that
// could not be published anywhere. ChunkRelays maps a chunk's event ID to
// the relays confirmed to host it; a chunk absent from the map is lost and
// the receiver can report the reconstruction as impossible.
type ManifestPayload struct {
	V           int                 `json:"v"`
	RootHash    string              `json:"root_hash"`
	TotalSize   int64               `json:"total_size"`
	ChunkCount  int                 `json:"chunk_count"`
	ChunkIDs    []string            `json:"chunk_ids"`
	ChunkRelays map[string][]string `json:"chunk_relays,omitempty"`
}

// ChunkPayload is the content of a kind 10422 event. Hash is the hex
// plaintext hash (and decryption key), Data the base64 ciphertext.
type ChunkPayload struct {
	V     int    `json:"v"`
	Index uint32 `json:"index"`
	Hash  string `json:"hash"`
	Data  string `json:"data"`
}
