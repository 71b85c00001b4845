package codec

import (
	"bytes"
	"encoding/json"
)

// NewStructureAsJSON creates a codec for arbitrary JSON-compatible nested
// data. The wire form is the canonical JSON encoding. Decoded numbers follow
// encoding/json conventions (float64), so the round-trip law holds for the
// value space produced by Decode.
func NewStructureAsJSON() ICodec {
	return &structureCodecImpl{}
}

// structureCodecImpl implements the ICodec interface using json encoding
type structureCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *structureCodecImpl) Encode(value any) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, typeErrorf("structure codec: %v", err)
	}
	return b, nil
}

func (c *structureCodecImpl) Decode(b []byte) (any, error) {
	// UseNumber is deliberately not enabled: the decoded value space is the
	// plain encoding/json one, which is what callers hand to Encode.
	dec := json.NewDecoder(bytes.NewReader(b))

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, typeErrorf("structure codec: %v", err)
	}
	return value, nil
}
