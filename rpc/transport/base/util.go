package base

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/ValentinKolb/dFront/rpc/transport"
)

const headerSize = 13

// writeFrame writes a frame to the connection with the format:
// - 1 byte: frame kind
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, kind transport.FrameKind, requestID uint64, data []byte) error {
	header := make([]byte, headerSize)
	header[0] = byte(kind)
	binary.BigEndian.PutUint64(header[1:9], requestID)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn net.Conn, buf []byte) (transport.FrameKind, uint64, []byte, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}

	if _, err := io.ReadFull(conn, buf[:headerSize]); err != nil {
		return 0, 0, nil, err
	}

	kind := transport.FrameKind(buf[0])
	requestID := binary.BigEndian.Uint64(buf[1:9])
	contentLength := binary.BigEndian.Uint32(buf[9:13])

	if contentLength == 0 {
		return kind, requestID, []byte{}, nil
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}

	return kind, requestID, buf[:contentLength], nil
}
