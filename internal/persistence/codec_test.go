package persistence

import (
	"testing"

	"github.com/petrijr/stepflow/pkg/api"
)

// The codec must round-trip the composite artifact types the example flows
// produce without extra registration.
func TestCodec_ArtifactsRoundTrip(t *testing.T) {
	artifacts := map[api.Key]any{
		"number":  24,
		"ratio":   0.5,
		"label":   "done",
		"history": []int{5, 15, 12, 24},
		"names":   []string{"a", "b"},
		"mixed":   []any{1, "two"},
		"nested":  map[string]any{"inner": 1},
	}

	data, err := EncodeArtifacts(artifacts)
	if err != nil {
		t.Fatalf("EncodeArtifacts failed: %v", err)
	}

	decoded, err := DecodeArtifacts(data)
	if err != nil {
		t.Fatalf("DecodeArtifacts failed: %v", err)
	}

	if decoded["number"] != 24 || decoded["label"] != "done" {
		t.Fatalf("scalar artifacts mangled: %v", decoded)
	}
	history, ok := decoded["history"].([]int)
	if !ok || len(history) != 4 {
		t.Fatalf("unexpected history: %v", decoded["history"])
	}
	nested, ok := decoded["nested"].(map[string]any)
	if !ok || nested["inner"] != 1 {
		t.Fatalf("unexpected nested map: %v", decoded["nested"])
	}
}

func TestCodec_NilMapsRoundTripAsEmpty(t *testing.T) {
	data, err := EncodeArtifacts(nil)
	if err != nil {
		t.Fatalf("EncodeArtifacts failed: %v", err)
	}
	decoded, err := DecodeArtifacts(data)
	if err != nil {
		t.Fatalf("DecodeArtifacts failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected empty artifacts, got %v", decoded)
	}

	cardData, err := EncodeCards(nil)
	if err != nil {
		t.Fatalf("EncodeCards failed: %v", err)
	}
	cards, err := DecodeCards(cardData)
	if err != nil {
		t.Fatalf("DecodeCards failed: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected empty cards, got %v", cards)
	}
}
