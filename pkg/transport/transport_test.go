package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFor(t *testing.T) {
	assert.Equal(t, KindDirect, KindFor(0))
	assert.Equal(t, KindDirect, KindFor(1024))
	assert.Equal(t, KindDirect, KindFor(DirectSizeThreshold))
	assert.Equal(t, KindManifest, KindFor(DirectSizeThreshold+1))
	assert.Equal(t, KindManifest, KindFor(10*DirectSizeThreshold))
}

func TestMaybeCompressSmallPayloadPassesThrough(t *testing.T) {
	raw := []byte(`{"message":"boom"}`)
	out, err := MaybeCompress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestMaybeCompressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("crash report line\n"), 200)
	require.GreaterOrEqual(t, len(raw), CompressionThreshold)

	out, err := MaybeCompress(raw)
	require.NoError(t, err)

	var envelope CompressedEnvelope
	require.NoError(t, json.Unmarshal(out, &envelope))
	assert.Equal(t, 1, envelope.V)
	assert.Equal(t, "gzip", envelope.Compression)
	assert.Less(t, len(out), len(raw))

	back, err := Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, raw, back)
}

func TestMaybeCompressIncompressiblePassesThrough(t *testing.T) {
	raw := make([]byte, 4*CompressionThreshold)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	out, err := MaybeCompress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecompressPassesThroughPlainContent(t *testing.T) {
	raw := []byte(`{"message":"not an envelope"}`)
	out, err := Decompress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestManifestPayloadWireFormat(t *testing.T) {
	manifest := ManifestPayload{
		V:          1,
		RootHash:   "ab12",
		TotalSize:  100000,
		ChunkCount: 2,
		ChunkIDs:   []string{"id0", "id1"},
		ChunkRelays: map[string][]string{
			"id0": {"wss://relay.one"},
		},
	}

	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"root_hash":"ab12"`)
	assert.Contains(t, string(raw), `"chunk_relays"`)

	var parsed ManifestPayload
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, manifest, parsed)
}

func TestPlainEnvelopeContentAddressing(t *testing.T) {
	var env PlainEnvelope

	ev1, err := env.OpenEvent(KindChunk, []byte("chunk data"))
	require.NoError(t, err)
	ev2, err := env.OpenEvent(KindChunk, []byte("chunk data"))
	require.NoError(t, err)
	ev3, err := env.OpenEvent(KindChunk, []byte("other data"))
	require.NoError(t, err)

	assert.Equal(t, ev1.ID, ev2.ID)
	assert.NotEqual(t, ev1.ID, ev3.ID)

	sealed, err := env.SealAndWrap("recipient", KindDirect, []byte("chunk data"))
	require.NoError(t, err)
	assert.NotEqual(t, ev1.ID, sealed.ID)
}

func TestPlainEnvelopeTimestampInPastWindow(t *testing.T) {
	var env PlainEnvelope
	now := time.Now().Unix()

	for i := 0; i < 32; i++ {
		ev, err := env.OpenEvent(KindChunk, []byte{byte(i)})
		require.NoError(t, err)
		assert.LessOrEqual(t, ev.CreatedAt, now+1)
		assert.GreaterOrEqual(t, ev.CreatedAt, now-int64(timestampWindow/time.Second)-1)
	}
}

func TestMemoryRelayPublishAndQuery(t *testing.T) {
	relay := NewMemoryRelay("wss://relay.one")
	dialer := NewMemoryDialer(relay)
	ctx := context.Background()

	ch, err := dialer.Connect(ctx, "wss://relay.one")
	require.NoError(t, err)

	ev := Event{ID: "abc", Kind: KindChunk, Content: "data"}
	require.NoError(t, ch.Publish(ctx, ev))

	found, err := ch.QueryByID(ctx, "abc", KindChunk)
	require.NoError(t, err)
	assert.True(t, found)

	// Wrong kind does not match.
	found, err = ch.QueryByID(ctx, "abc", KindDirect)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = dialer.Connect(ctx, "wss://relay.unknown")
	assert.Error(t, err)
}
