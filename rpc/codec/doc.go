// Package codec implements the typed wire codecs used to marshal RPC call
// arguments between rack and region controllers.
//
// Each codec is a stateless encode/decode pair for one value kind: raw bytes,
// enumerated choices, JSON structures, tagged records, parsed URLs, record
// sequences, and binary IP addresses and networks. All codecs obey the
// round-trip law Decode(Encode(v)) == v for values in their domain; the only
// documented exception is the URL codec, which normalizes a non-ASCII host to
// punycode so the wire form is ASCII.
//
// Out-of-domain input is rejected eagerly with an error wrapping ErrType or
// ErrLookup. Nothing is ever coerced: a wrong type caught at the call site is
// much cheaper than a corrupted value on the wire.
//
// Record types are registered once at startup via RegisterRecord, giving
// every record a stable wire tag resolved through an explicit registry rather
// than runtime name lookup.
package codec
