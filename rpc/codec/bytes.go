package codec

// NewBytes creates a codec that passes raw byte strings through untouched.
func NewBytes() ICodec {
	return &bytesCodecImpl{}
}

// bytesCodecImpl implements the ICodec interface for raw byte strings
type bytesCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *bytesCodecImpl) Encode(value any) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, typeErrorf("bytes codec expects []byte, got %T", value)
	}
	return b, nil
}

func (c *bytesCodecImpl) Decode(b []byte) (any, error) {
	return b, nil
}
