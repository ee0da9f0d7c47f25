// Package discovery serves the framed TCP protocol clients use to list,
// join, and register player-hosted sessions. Hosts registered here surface
// in the session registry as external servers.
package discovery

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message types. 1-5 are client to server, 101-105 server to client.
const (
	MsgRegisterHost   byte = 1
	MsgUnregisterHost byte = 2
	MsgListSessions   byte = 3
	MsgJoinSession    byte = 4
	MsgHeartbeat      byte = 5

	MsgSessionCreated byte = 101
	MsgSessionList    byte = 102
	MsgJoinInfo       byte = 103
	MsgError          byte = 104
	MsgHeartbeatAck   byte = 105
)

// maxFrameSize bounds a frame so one bad length prefix cannot allocate
// arbitrary memory.
const maxFrameSize = 1 << 20

// WriteFrame writes one frame: a little-endian uint32 length covering the
// type byte plus payload, then the type byte, then the payload.
func WriteFrame(w io.Writer, msgType byte, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(1+len(payload)))
	buf[4] = msgType
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame, returning the type byte and payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(hdr[:])
	if length < 1 {
		return 0, nil, fmt.Errorf("frame length %d below minimum", length)
	}
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}
