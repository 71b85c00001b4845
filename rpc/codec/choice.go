package codec

import "fmt"

// NewChoice creates a codec for an enumerated choice. The table maps every
// legal symbolic name to the byte code it is sent as on the wire. The table
// is copied and inverted at construction so both directions are a single
// lookup.
func NewChoice(table map[string][]byte) (ICodec, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("choice codec requires a non-empty name to byte-code table")
	}

	c := &choiceCodecImpl{
		encodeTable: make(map[string]string, len(table)),
		decodeTable: make(map[string]string, len(table)),
	}

	for name, code := range table {
		if len(code) == 0 {
			return nil, fmt.Errorf("choice codec: byte code for %q must not be empty", name)
		}
		if prev, dup := c.decodeTable[string(code)]; dup {
			return nil, fmt.Errorf("choice codec: byte code %q used by both %q and %q", code, prev, name)
		}
		c.encodeTable[name] = string(code)
		c.decodeTable[string(code)] = name
	}

	return c, nil
}

// choiceCodecImpl implements the ICodec interface for enumerated choices.
// Byte codes are held as strings so they can key the decode table.
type choiceCodecImpl struct {
	encodeTable map[string]string
	decodeTable map[string]string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *choiceCodecImpl) Encode(value any) ([]byte, error) {
	name, ok := value.(string)
	if !ok {
		return nil, typeErrorf("choice codec expects string, got %T", value)
	}

	code, found := c.encodeTable[name]
	if !found {
		return nil, lookupErrorf("choice codec has no byte code for %q", name)
	}
	return []byte(code), nil
}

func (c *choiceCodecImpl) Decode(b []byte) (any, error) {
	name, found := c.decodeTable[string(b)]
	if !found {
		return nil, lookupErrorf("choice codec has no name for byte code %q", b)
	}
	return name, nil
}
