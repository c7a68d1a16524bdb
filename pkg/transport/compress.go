package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressionThreshold is the serialized size below which payloads are left
// uncompressed. Tiny reports gain nothing from gzip plus envelope overhead.
const CompressionThreshold = 1024

// CompressedEnvelope wraps a gzip-compressed payload for transport.
type CompressedEnvelope struct {
	V           int    `json:"v"`
	Compression string `json:"compression"`
	Payload     string `json:"payload"`
}

// MaybeCompress gzips raw and wraps it in a CompressedEnvelope when raw is
// at least CompressionThreshold bytes and the envelope comes out smaller;
// otherwise the input passes through unchanged.
func MaybeCompress(raw []byte) ([]byte, error) {
	if len(raw) < CompressionThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("transport: compressing payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("transport: compressing payload: %w", err)
	}

	envelope := CompressedEnvelope{
		V:           1,
		Compression: "gzip",
		Payload:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	wrapped, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding compression envelope: %w", err)
	}
	if len(wrapped) >= len(raw) {
		return raw, nil
	}
	return wrapped, nil
}

// Decompress reverses MaybeCompress. Content that is not a compression
// envelope is returned as-is, so receivers can feed it any payload.
func Decompress(content []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, []byte(`"compression"`)) {
		return content, nil
	}

	var envelope CompressedEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil || envelope.Compression != "gzip" {
		return content, nil
	}

	compressed, err := base64.StdEncoding.DecodeString(envelope.Payload)
	if err != nil {
		return nil, fmt.Errorf("transport: decoding compressed payload: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("transport: decompressing payload: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("transport: decompressing payload: %w", err)
	}
	return raw, nil
}
