package cache

import (
	"testing"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	codec := JSONCodec{}

	data, err := codec.Encode(map[string]any{"name": "alpha", "count": float64(3)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("Expected map after decode, got %T", decoded)
	}
	if m["name"] != "alpha" || m["count"] != float64(3) {
		t.Errorf("Round trip altered value: %v", m)
	}
}

func TestJSONCodec_EncodeFailure(t *testing.T) {
	codec := JSONCodec{}
	if _, err := codec.Encode(make(chan int)); err == nil {
		t.Fatal("Expected encode of a channel to fail")
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	size1, hash1 := Fingerprint([]byte(`{"a":1}`))
	size2, hash2 := Fingerprint([]byte(`{"a":1}`))

	if size1 != 7 {
		t.Errorf("Expected size 7, got %d", size1)
	}
	if size1 != size2 || hash1 != hash2 {
		t.Error("Expected identical fingerprints for identical bytes")
	}

	_, hash3 := Fingerprint([]byte(`{"a":2}`))
	if hash1 == hash3 {
		t.Error("Expected different hashes for different bytes")
	}
}
