// Package chk implements convergent (content-hash-keyed) chunking for
// payloads that exceed the direct transport size limit.
//
// Each chunk is encrypted with AES-256-CBC keyed by the SHA-256 hash of its
// own plaintext. The hash doubles as the decryption key: anyone holding the
// manifest (which lists the chunk hashes) can decrypt, while the chunks
// themselves are opaque on the open relays. Identical plaintext always
// produces the identical hash/key pair, so equal chunks converge to equal
// ciphertext keys regardless of which payload they belong to.
//
// The root hash is a single-pass SHA-256 over the concatenation of all chunk
// hashes in index order. It binds the ordered hash list together; it is not
// a tree and does not support partial verification.
package chk

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// DefaultMaxChunkSize keeps a base64-encoded chunk plus its JSON envelope
// under the 64 KiB relay message limit.
const DefaultMaxChunkSize = 48 * 1024

// HashSize is the size of chunk hashes and the root hash in bytes.
const HashSize = sha256.Size

// Chunk is a single encrypted piece of a larger payload.
type Chunk struct {
	// Index is the 0-based position of this chunk in the original payload.
	Index uint32
	// Hash is the SHA-256 digest of the chunk's plaintext. It is also the
	// AES-256 decryption key for Ciphertext.
	Hash [HashSize]byte
	// Ciphertext is the random IV followed by the CBC-encrypted,
	// PKCS#7-padded plaintext.
	Ciphertext []byte
}

// Result holds the output of splitting a payload.
type Result struct {
	Chunks    []Chunk
	RootHash  [HashSize]byte
	TotalSize int
}

// Split cuts data into chunks of at most maxChunkSize bytes, encrypts each
// with its content hash, and computes the root hash over the ordered hash
// list. maxChunkSize values below 1 fall back to DefaultMaxChunkSize.
//
// An empty buffer yields zero chunks and the root hash of the empty hash
// list. The caller is expected to route small payloads through the direct
// transport instead, but Split handles any input.
func Split(data []byte, maxChunkSize int) (Result, error) {
	if maxChunkSize < 1 {
		maxChunkSize = DefaultMaxChunkSize
	}

	var chunks []Chunk
	rootHasher := sha256.New()

	for offset, index := 0, uint32(0); offset < len(data); index++ {
		end := offset + maxChunkSize
		if end > len(data) {
			end = len(data)
		}

		key, ciphertext, err := encryptChunk(data[offset:end])
		if err != nil {
			return Result{}, fmt.Errorf("chk: encrypting chunk %d: %w", index, err)
		}

		chunks = append(chunks, Chunk{
			Index:      index,
			Hash:       key,
			Ciphertext: ciphertext,
		})
		rootHasher.Write(key[:])
		offset = end
	}

	var root [HashSize]byte
	copy(root[:], rootHasher.Sum(nil))

	return Result{
		Chunks:    chunks,
		RootHash:  root,
		TotalSize: len(data),
	}, nil
}

// encryptChunk derives the convergent key from the plaintext and encrypts
// with a fresh random IV. The IV is prepended to the returned ciphertext.
func encryptChunk(plain []byte) ([HashSize]byte, []byte, error) {
	key := sha256.Sum256(plain)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return key, nil, err
	}

	padded := pkcs7Pad(plain, aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return key, nil, fmt.Errorf("reading IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return key, out, nil
}

// Decrypt reverses encryptChunk using the chunk's plaintext hash as the key.
// It verifies that the recovered plaintext actually hashes to the key, so a
// wrong key or tampered ciphertext is always detected.
func Decrypt(ciphertext []byte, key [HashSize]byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize || (len(ciphertext)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("chk: ciphertext length %d is not IV plus whole blocks", len(ciphertext))
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]

	padded := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, body)

	plain, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("chk: %w", err)
	}

	if sha256.Sum256(plain) != key {
		return nil, fmt.Errorf("chk: plaintext hash does not match key")
	}
	return plain, nil
}

// Reassemble decrypts chunks in index order, concatenates the plaintext, and
// verifies the root hash and total size. Chunks may be passed in any order;
// missing or duplicate indices are an error.
func Reassemble(chunks []Chunk, rootHash [HashSize]byte, totalSize int) ([]byte, error) {
	ordered := make([]*Chunk, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if int(c.Index) >= len(chunks) {
			return nil, fmt.Errorf("chk: chunk index %d out of range for %d chunks", c.Index, len(chunks))
		}
		if ordered[c.Index] != nil {
			return nil, fmt.Errorf("chk: duplicate chunk index %d", c.Index)
		}
		ordered[c.Index] = c
	}

	out := make([]byte, 0, totalSize)
	rootHasher := sha256.New()

	for i, c := range ordered {
		if c == nil {
			return nil, fmt.Errorf("chk: missing chunk %d", i)
		}
		plain, err := Decrypt(c.Ciphertext, c.Hash)
		if err != nil {
			return nil, fmt.Errorf("chk: chunk %d: %w", i, err)
		}
		rootHasher.Write(c.Hash[:])
		out = append(out, plain...)
	}

	var computed [HashSize]byte
	copy(computed[:], rootHasher.Sum(nil))
	if computed != rootHash {
		return nil, fmt.Errorf("chk: root hash mismatch")
	}
	if len(out) != totalSize {
		return nil, fmt.Errorf("chk: reassembled %d bytes, manifest says %d", len(out), totalSize)
	}
	return out, nil
}

// ExpectedChunkCount returns how many chunks Split will produce for a
// payload of the given size.
func ExpectedChunkCount(payloadSize, maxChunkSize int) int {
	if maxChunkSize < 1 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return (payloadSize + maxChunkSize - 1) / maxChunkSize
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-pad], nil
}
