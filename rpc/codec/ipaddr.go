package codec

import (
	"net/netip"
)

// --------------------------------------------------------------------------
// IP address codec
// --------------------------------------------------------------------------

// NewIPAddress creates a codec for binary IP addresses: 4 bytes for IPv4 and
// 16 bytes for IPv6. An IPv4-mapped IPv6 address keeps its full 16-byte form
// on the wire, it is never collapsed to 4 bytes, so the mapped-ness of the
// address survives the round trip.
func NewIPAddress() ICodec {
	return &ipAddressCodecImpl{}
}

// ipAddressCodecImpl implements the ICodec interface for netip.Addr values
type ipAddressCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *ipAddressCodecImpl) Encode(value any) ([]byte, error) {
	addr, ok := value.(netip.Addr)
	if !ok {
		return nil, typeErrorf("ip address codec expects netip.Addr, got %T", value)
	}
	if !addr.IsValid() {
		return nil, typeErrorf("ip address codec: zero netip.Addr")
	}

	// Is4 is false for IPv4-mapped addresses, which therefore take the
	// 16-byte branch.
	if addr.Is4() {
		b := addr.As4()
		return b[:], nil
	}
	b := addr.As16()
	return b[:], nil
}

func (c *ipAddressCodecImpl) Decode(b []byte) (any, error) {
	switch len(b) {
	case 4:
		return netip.AddrFrom4([4]byte(b)), nil
	case 16:
		// AddrFrom16 keeps IPv4-mapped addresses mapped, matching Encode.
		return netip.AddrFrom16([16]byte(b)), nil
	default:
		return nil, typeErrorf("ip address codec: %d bytes, want 4 or 16", len(b))
	}
}

// --------------------------------------------------------------------------
// IP network codec
// --------------------------------------------------------------------------

// NewIPNetwork creates a codec for binary IP networks: the address bytes
// followed by a single prefix-length byte, 5 bytes total for IPv4 and 17 for
// IPv6.
func NewIPNetwork() ICodec {
	return &ipNetworkCodecImpl{}
}

// ipNetworkCodecImpl implements the ICodec interface for netip.Prefix values
type ipNetworkCodecImpl struct {
	addr ipAddressCodecImpl
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *ipNetworkCodecImpl) Encode(value any) ([]byte, error) {
	prefix, ok := value.(netip.Prefix)
	if !ok {
		return nil, typeErrorf("ip network codec expects netip.Prefix, got %T", value)
	}
	if !prefix.IsValid() {
		return nil, typeErrorf("ip network codec: invalid prefix %v", value)
	}

	addrBytes, err := c.addr.Encode(prefix.Addr())
	if err != nil {
		return nil, err
	}
	return append(addrBytes, byte(prefix.Bits())), nil
}

func (c *ipNetworkCodecImpl) Decode(b []byte) (any, error) {
	if len(b) != 5 && len(b) != 17 {
		return nil, typeErrorf("ip network codec: %d bytes, want 5 or 17", len(b))
	}

	addrValue, err := c.addr.Decode(b[:len(b)-1])
	if err != nil {
		return nil, err
	}
	addr := addrValue.(netip.Addr)

	bits := int(b[len(b)-1])
	if bits > addr.BitLen() {
		return nil, typeErrorf("ip network codec: prefix length %d exceeds %d", bits, addr.BitLen())
	}
	return netip.PrefixFrom(addr, bits), nil
}
