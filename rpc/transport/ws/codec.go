package ws

import (
	"encoding/binary"
	"errors"

	"github.com/ValentinKolb/dFront/rpc/transport"
)

// websocket messages are already delimited, so the frame header carries no length
const headerSize = 9

var errShortMessage = errors.New("websocket message shorter than frame header")

// encodeMessage builds one websocket message with the format:
// - 1 byte: frame kind
// - 8 bytes: requestID (uint64, big endian)
// - N bytes: data payload
func encodeMessage(kind transport.FrameKind, requestID uint64, data []byte) []byte {
	msg := make([]byte, headerSize+len(data))
	msg[0] = byte(kind)
	binary.BigEndian.PutUint64(msg[1:headerSize], requestID)
	copy(msg[headerSize:], data)
	return msg
}

// decodeMessage splits a websocket message into its frame fields. The returned
// data aliases msg.
func decodeMessage(msg []byte) (transport.FrameKind, uint64, []byte, error) {
	if len(msg) < headerSize {
		return 0, 0, nil, errShortMessage
	}
	return transport.FrameKind(msg[0]), binary.BigEndian.Uint64(msg[1:headerSize]), msg[headerSize:], nil
}
