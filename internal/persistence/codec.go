package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/stepflow/pkg/api"
)

func init() {
	// Concrete types that commonly appear inside artifact values. Basic
	// scalars are handled by gob natively; composites must be registered
	// before they can travel inside an any-typed map value.
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(map[api.Key]any{})
	gob.Register([]int{})
	gob.Register([]string{})
	gob.Register([]float64{})
	gob.Register([]map[string]any{})
}

// EncodeArtifacts serializes an artifact snapshot using encoding/gob.
// Callers must ensure artifact values are gob-encodable; composite types
// beyond the ones registered above need a gob.Register call of their own.
func EncodeArtifacts(m map[api.Key]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeArtifacts is the inverse of EncodeArtifacts. Empty input decodes
// to a nil map.
func DecodeArtifacts(data []byte) (map[api.Key]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[api.Key]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeCards serializes a run's rendered cards.
func EncodeCards(m map[api.Name]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCards is the inverse of EncodeCards.
func DecodeCards(data []byte) (map[api.Name]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[api.Name]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
