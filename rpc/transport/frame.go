package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// maxFramePayload bounds a single frame. A frame larger than this is treated
// as a protocol violation rather than an allocation request.
const maxFramePayload = 64 << 20

// WriteFrame writes a frame to the connection with the format:
// - 8 bytes: callID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func WriteFrame(conn net.Conn, callID uint64, data []byte) error {
	if len(data) > maxFramePayload {
		return fmt.Errorf("frame payload of %d bytes exceeds the %d byte limit", len(data), maxFramePayload)
	}

	// Create the header (8 bytes for callID + 4 bytes for content length)
	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[:8], callID)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// ReadFrame reads one frame from the connection and returns the call ID and
// payload.
func ReadFrame(conn net.Conn) (uint64, []byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, nil, err
	}

	callID := binary.BigEndian.Uint64(header[:8])
	contentLength := binary.BigEndian.Uint32(header[8:12])
	if contentLength > maxFramePayload {
		return 0, nil, fmt.Errorf("frame payload of %d bytes exceeds the %d byte limit", contentLength, maxFramePayload)
	}

	if contentLength == 0 {
		return callID, []byte{}, nil
	}

	data := make([]byte, contentLength)
	if _, err := io.ReadFull(conn, data); err != nil {
		return 0, nil, err
	}
	return callID, data, nil
}
