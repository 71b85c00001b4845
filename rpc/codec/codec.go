package codec

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error taxonomy
// --------------------------------------------------------------------------

// ErrType marks input that is outside a codec's domain: a wrong Go type on
// encode, or malformed bytes on decode. Codecs never coerce such input, a
// corrupted wire value is costlier than an early failure.
var ErrType = errors.New("codec: value outside codec domain")

// ErrLookup marks a failed table lookup, e.g. an unknown Choice symbol or an
// unregistered record tag.
var ErrLookup = errors.New("codec: unknown symbol")

// typeErrorf wraps ErrType with call-site context.
func typeErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrType, fmt.Sprintf(format, args...))
}

// lookupErrorf wraps ErrLookup with call-site context.
func lookupErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrLookup, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ICodec is the interface for all wire argument codecs. A codec is a
// stateless encode/decode pair for one kind of RPC call argument. Every
// implementation satisfies the round-trip law Decode(Encode(v)) == v for all
// values in its domain.
type ICodec interface {
	// Encode serializes a value into its wire form
	// It returns an error wrapping ErrType or ErrLookup for out-of-domain input
	Encode(value any) ([]byte, error)
	// Decode parses a wire form back into the value it was encoded from
	// It returns an error wrapping ErrType or ErrLookup for malformed input
	Decode(b []byte) (any, error)
}
