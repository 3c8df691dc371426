package messaging

import (
	"bytes"
	"errors"
	"testing"
)

func TestHandshakeSerialize(t *testing.T) {
	infoHash := [20]byte{'m', 'e', 't', 'a', 'd', 'a', 't', 'a', ' ', 'f', 'o', 'r', ' ', 't', 'o', 'r', 'r', 'e', 'n', 't'}
	id := [20]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}
	h := &Handshake{InfoHash: infoHash, PeerID: id}
	serialized := h.Serialize()
	expected := append(
		append(
			[]byte{'\x13',
				'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l',
				'\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00'},
			infoHash[:]...),
		id[:]...)
	if len(serialized) != HandshakeSize {
		t.Fatalf("Expected %d bytes, got %d", HandshakeSize, len(serialized))
	}
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Expected handshake\n%v but got\n%v instead", expected, serialized)
	}
}

func TestReadHandshake(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	id := [20]byte{4, 5, 6}
	h := &Handshake{InfoHash: infoHash, PeerID: id}
	parsed, err := ReadHandshake(bytes.NewReader(h.Serialize()))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.InfoHash != infoHash {
		t.Errorf("Expected info hash %v, got %v", infoHash, parsed.InfoHash)
	}
	if parsed.PeerID != id {
		t.Errorf("Expected peer id %v, got %v", id, parsed.PeerID)
	}
}

func TestReadHandshakeBadProtocol(t *testing.T) {
	buf := (&Handshake{}).Serialize()
	buf[0] = 0x14
	if _, err := ReadHandshake(bytes.NewReader(buf)); !errors.Is(err, ErrBadProtocol) {
		t.Errorf("Expected ErrBadProtocol, got %v", err)
	}

	buf = (&Handshake{}).Serialize()
	copy(buf[1:], "BitTorrent Protocol")
	if _, err := ReadHandshake(bytes.NewReader(buf)); !errors.Is(err, ErrBadProtocol) {
		t.Errorf("Expected ErrBadProtocol, got %v", err)
	}
}

func TestReadHandshakeTruncated(t *testing.T) {
	buf := (&Handshake{}).Serialize()
	if _, err := ReadHandshake(bytes.NewReader(buf[:40])); err == nil {
		t.Error("Expected an error for a truncated handshake")
	}
}
