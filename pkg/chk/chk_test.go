package chk

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunkSize = 1024

func sequentialBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestSplitRoundTrip(t *testing.T) {
	sizes := []int{0, 1, testChunkSize - 1, testChunkSize, testChunkSize + 1, 5 * testChunkSize}

	for _, size := range sizes {
		data := sequentialBytes(size)

		result, err := Split(data, testChunkSize)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, ExpectedChunkCount(size, testChunkSize), len(result.Chunks), "size %d", size)
		assert.Equal(t, size, result.TotalSize)

		reassembled, err := Reassemble(result.Chunks, result.RootHash, result.TotalSize)
		require.NoError(t, err, "size %d", size)
		if size == 0 {
			assert.Empty(t, reassembled)
		} else {
			assert.True(t, bytes.Equal(data, reassembled), "size %d", size)
		}
	}
}

func TestSplitChunkSizes(t *testing.T) {
	data := sequentialBytes(5*testChunkSize + 7)
	result, err := Split(data, testChunkSize)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 6)

	for i, c := range result.Chunks {
		assert.Equal(t, uint32(i), c.Index)
	}
	// Every chunk except the last decrypts to exactly testChunkSize bytes.
	for i, c := range result.Chunks[:5] {
		plain, err := Decrypt(c.Ciphertext, c.Hash)
		require.NoError(t, err)
		assert.Len(t, plain, testChunkSize, "chunk %d", i)
	}
	last, err := Decrypt(result.Chunks[5].Ciphertext, result.Chunks[5].Hash)
	require.NoError(t, err)
	assert.Len(t, last, 7)
}

func TestHashIsPlaintextDigest(t *testing.T) {
	data := sequentialBytes(3 * testChunkSize)
	result, err := Split(data, testChunkSize)
	require.NoError(t, err)

	for i, c := range result.Chunks {
		expected := sha256.Sum256(data[i*testChunkSize : (i+1)*testChunkSize])
		assert.Equal(t, expected, c.Hash, "chunk %d", i)
	}
}

func TestRootHashDeterministic(t *testing.T) {
	data := sequentialBytes(4 * testChunkSize)

	r1, err := Split(data, testChunkSize)
	require.NoError(t, err)
	r2, err := Split(data, testChunkSize)
	require.NoError(t, err)

	assert.Equal(t, r1.RootHash, r2.RootHash)
	// The IVs are random, so ciphertexts differ even for identical input.
	assert.NotEqual(t, r1.Chunks[0].Ciphertext, r2.Chunks[0].Ciphertext)
}

func TestRootHashChangesWithContent(t *testing.T) {
	data := sequentialBytes(4 * testChunkSize)
	r1, err := Split(data, testChunkSize)
	require.NoError(t, err)

	data[0], data[len(data)-1] = data[len(data)-1], data[0]
	r2, err := Split(data, testChunkSize)
	require.NoError(t, err)

	assert.NotEqual(t, r1.RootHash, r2.RootHash)
}

func TestRootHashOrderSensitive(t *testing.T) {
	// Two payloads made of the same two chunks in opposite order must not
	// share a root hash.
	a := bytes.Repeat([]byte{'a'}, testChunkSize)
	b := bytes.Repeat([]byte{'b'}, testChunkSize)

	ab, err := Split(append(append([]byte{}, a...), b...), testChunkSize)
	require.NoError(t, err)
	ba, err := Split(append(append([]byte{}, b...), a...), testChunkSize)
	require.NoError(t, err)

	assert.NotEqual(t, ab.RootHash, ba.RootHash)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	result, err := Split(sequentialBytes(testChunkSize), testChunkSize)
	require.NoError(t, err)

	var wrong [HashSize]byte
	_, err = Decrypt(result.Chunks[0].Ciphertext, wrong)
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	result, err := Split(sequentialBytes(testChunkSize), testChunkSize)
	require.NoError(t, err)

	c := result.Chunks[0]
	c.Ciphertext[len(c.Ciphertext)-1] ^= 0xff
	_, err = Decrypt(c.Ciphertext, c.Hash)
	assert.Error(t, err)
}

func TestReassembleDetectsMissingChunk(t *testing.T) {
	result, err := Split(sequentialBytes(3*testChunkSize), testChunkSize)
	require.NoError(t, err)

	_, err = Reassemble(result.Chunks[:2], result.RootHash, result.TotalSize)
	assert.Error(t, err)
}

func TestReassembleAcceptsShuffledOrder(t *testing.T) {
	data := sequentialBytes(3 * testChunkSize)
	result, err := Split(data, testChunkSize)
	require.NoError(t, err)

	shuffled := []Chunk{result.Chunks[2], result.Chunks[0], result.Chunks[1]}
	reassembled, err := Reassemble(shuffled, result.RootHash, result.TotalSize)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, reassembled))
}

func TestReassembleDetectsWrongRootHash(t *testing.T) {
	result, err := Split(sequentialBytes(2*testChunkSize), testChunkSize)
	require.NoError(t, err)

	var wrong [HashSize]byte
	_, err = Reassemble(result.Chunks, wrong, result.TotalSize)
	assert.Error(t, err)
}
