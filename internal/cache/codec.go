package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const (
	// FallbackSizeBytes is recorded when the codec cannot encode a value.
	// The entry is still cached; the constant keeps tier routing deterministic.
	FallbackSizeBytes int64 = 1024

	// FallbackContentHash is recorded when the codec cannot encode a value.
	FallbackContentHash = "unavailable"
)

// Codec serializes opaque cache values. The serialized form is the source of
// truth for an entry's size and content hash, and is what the remote tier
// stores on the wire.
type Codec interface {
	// Encode serializes a value to bytes.
	Encode(v any) ([]byte, error)

	// Decode reverses Encode. The dynamic type of the result depends on
	// the codec; JSON round-trips strings and maps faithfully.
	Decode(data []byte) (any, error)
}

// JSONCodec encodes values as JSON. It is the default codec.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Fingerprint derives an entry's size and content hash from its serialized
// form. The hash detects no-op rewrites of the same payload.
func Fingerprint(data []byte) (int64, string) {
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:])
}
