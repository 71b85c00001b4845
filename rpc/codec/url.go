package codec

import (
	"net/url"

	"golang.org/x/net/idna"
)

// NewParsedURL creates a codec for parsed URLs. The wire form is the
// canonical external string with the network-location component forced to
// ASCII: a non-ASCII host is punycode-encoded before serialization. Decoding
// therefore yields a URL equivalent in scheme, host and path to the original,
// but not byte-identical when the original host was non-ASCII.
func NewParsedURL() ICodec {
	return &urlCodecImpl{}
}

// urlCodecImpl implements the ICodec interface for parsed URLs
type urlCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *urlCodecImpl) Encode(value any) ([]byte, error) {
	u, ok := value.(*url.URL)
	if !ok {
		return nil, typeErrorf("url codec expects *url.URL, got %T", value)
	}

	host := u.Hostname()
	if !isASCII(host) {
		ascii, err := idna.ToASCII(host)
		if err != nil {
			return nil, typeErrorf("url codec: punycode conversion of %q: %v", host, err)
		}

		// Rebuild the network location with the converted host, keeping the
		// port. The original value is left untouched.
		wire := *u
		if port := u.Port(); port != "" {
			wire.Host = ascii + ":" + port
		} else {
			wire.Host = ascii
		}
		return []byte(wire.String()), nil
	}

	return []byte(u.String()), nil
}

func (c *urlCodecImpl) Decode(b []byte) (any, error) {
	u, err := url.Parse(string(b))
	if err != nil {
		return nil, typeErrorf("url codec: %v", err)
	}
	return u, nil
}

// isASCII reports whether s contains only ASCII bytes.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
