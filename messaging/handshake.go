package messaging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Protocol is the used protocol in our communications
const Protocol string = "BitTorrent protocol"

// HandshakeSize is the size of a handshake message
// length of protocol + protocol + reserved + info hash + id
const HandshakeSize int = 1 + len(Protocol) + 8 + 20 + 20

// Handshake errors.
var (
	ErrBadProtocol      = errors.New("messaging: handshake does not speak the BitTorrent protocol")
	ErrInfoHashMismatch = errors.New("messaging: handshake info hash does not match")
)

// Handshake is the fixed 68-byte frame exchanged right after the TCP
// connection is established.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize returns the wire form of the handshake. The reserved bytes
// are left zero.
func (h *Handshake) Serialize() []byte {
	res := make([]byte, HandshakeSize)
	res[0] = byte(len(Protocol))
	cursor := 1
	cursor += copy(res[cursor:], Protocol)
	cursor += 8 // reserved
	cursor += copy(res[cursor:], h.InfoHash[:])
	copy(res[cursor:], h.PeerID[:])
	return res
}

// ReadHandshake reads exactly one handshake frame. Anything that does
// not open with the 0x13-prefixed protocol string is ErrBadProtocol.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("messaging: reading handshake: %w", err)
	}
	if buf[0] != byte(len(Protocol)) || !bytes.Equal(buf[1:1+len(Protocol)], []byte(Protocol)) {
		return nil, ErrBadProtocol
	}
	h := &Handshake{}
	cursor := 1 + len(Protocol) + 8
	copy(h.InfoHash[:], buf[cursor:cursor+20])
	copy(h.PeerID[:], buf[cursor+20:])
	return h, nil
}
