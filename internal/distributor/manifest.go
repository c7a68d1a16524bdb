package distributor

import (
	"encoding/hex"

	"github.com/alltheseas/bugstr/pkg/chk"
	"github.com/alltheseas/bugstr/pkg/transport"
)

// ManifestBuilder accumulates chunk placements and produces the manifest
// payload once, after every chunk has been attempted. Chunk IDs are kept in
// index order; lost chunks appear in the ID list but get no relay entry,
// which tells the receiver that reconstruction cannot succeed.
type ManifestBuilder struct {
	rootHash    [chk.HashSize]byte
	totalSize   int64
	chunkIDs    []string
	chunkRelays map[string][]string
}

func NewManifestBuilder(rootHash [chk.HashSize]byte, totalSize int) *ManifestBuilder {
	return &ManifestBuilder{
		rootHash:    rootHash,
		totalSize:   int64(totalSize),
		chunkRelays: make(map[string][]string),
	}
}

// Record adds one chunk's placement. Call in chunk index order.
func (b *ManifestBuilder) Record(p Placement) {
	b.chunkIDs = append(b.chunkIDs, p.EventID)
	if !p.Lost && p.RelayURL != "" {
		b.chunkRelays[p.EventID] = append(b.chunkRelays[p.EventID], p.RelayURL)
	}
}

// Build assembles the manifest payload. The manifest must only ever travel
// inside the secure envelope: its chunk hashes are the decryption keys.
func (b *ManifestBuilder) Build() transport.ManifestPayload {
	return transport.ManifestPayload{
		V:           1,
		RootHash:    hex.EncodeToString(b.rootHash[:]),
		TotalSize:   b.totalSize,
		ChunkCount:  len(b.chunkIDs),
		ChunkIDs:    b.chunkIDs,
		ChunkRelays: b.chunkRelays,
	}
}
