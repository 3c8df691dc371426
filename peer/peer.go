// Package peer holds peer addressing and the piece bitfield.
package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// compactSize is the wire size of one peer in a compact peer list:
// a 4-byte IPv4 address followed by a big-endian port.
const compactSize = 6

// ErrBadCompactList reports a compact peer list of invalid length.
var ErrBadCompactList = errors.New("peer: compact list length is not a multiple of 6")

// Peer is the address of a remote peer.
type Peer struct {
	IP   net.IP
	Port uint16
}

// String renders the peer as a dialable host:port.
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Unmarshal parses a compact peer list as returned by a tracker.
func Unmarshal(peersBin []byte) ([]Peer, error) {
	if len(peersBin)%compactSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadCompactList, len(peersBin))
	}
	peers := make([]Peer, len(peersBin)/compactSize)
	for i := range peers {
		offset := i * compactSize
		peers[i].IP = net.IP(peersBin[offset : offset+4])
		peers[i].Port = binary.BigEndian.Uint16(peersBin[offset+4 : offset+6])
	}
	return peers, nil
}
