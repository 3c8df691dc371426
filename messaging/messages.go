// Package messaging implements the BitTorrent handshake and the
// length-prefixed peer wire messages.
package messaging

import (
	"encoding/binary"
	"fmt"
)

// MessageType represent the different types of peer messages
type MessageType uint8

// Message types
const (
	MChoke MessageType = iota
	MUnchoke
	MInterested
	MNotInterested
	MHave
	MBitfield
	MRequest
	MPiece
	MCancel
)

// Message represents a Message: its type and payload.
// A nil *Message stands for a keep-alive.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Serialize returns the byte array representing a Message to be sent.
// A nil message serializes to the four zero bytes of a keep-alive.
func (msg *Message) Serialize() []byte {
	if msg == nil {
		return make([]byte, 4)
	}
	// +1 to account for the Message id
	payLen := uint32(len(msg.Payload) + 1)
	serialised := make([]byte, 4+payLen)
	binary.BigEndian.PutUint32(serialised, payLen)
	serialised[4] = byte(msg.Type)
	copy(serialised[5:], msg.Payload)
	return serialised
}

// Interested returns an interested Message
func Interested() *Message {
	return &Message{Type: MInterested}
}

// Unchoke returns an unchoke Message
func Unchoke() *Message {
	return &Message{Type: MUnchoke}
}

// NotInterested returns a not interested Message
func NotInterested() *Message {
	return &Message{Type: MNotInterested}
}

// Have returns a have message for a piece
func Have(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{Type: MHave, Payload: payload}
}

// Bitfield returns a bitfield message
func Bitfield(bf []byte) *Message {
	return &Message{Type: MBitfield, Payload: bf}
}

// Request returns a request message for a block
func Request(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload, uint32(index))
	binary.BigEndian.PutUint32(payload[4:], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:], uint32(length))
	return &Message{Type: MRequest, Payload: payload}
}

// Cancel returns a cancel message for a block
func Cancel(index, begin, length int) *Message {
	msg := Request(index, begin, length)
	msg.Type = MCancel
	return msg
}

// Piece returns a piece message carrying a block
func Piece(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload, uint32(index))
	binary.BigEndian.PutUint32(payload[4:], uint32(begin))
	copy(payload[8:], block)
	return &Message{Type: MPiece, Payload: payload}
}

// ParseHave extracts the piece index of a have message
func ParseHave(msg *Message) (int, error) {
	if msg.Type != MHave {
		return 0, fmt.Errorf("messaging: expected a have got a message of type %d instead", msg.Type)
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("messaging: expected payload length 4 got %d instead", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// ParsePiece extracts the index, begin offset and block of a piece
// message
func ParsePiece(msg *Message) (index, begin int, block []byte, err error) {
	if msg.Type != MPiece {
		return 0, 0, nil, fmt.Errorf("messaging: expected a piece got a message of type %d instead", msg.Type)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("messaging: expected payload of length at least 8 got %d instead", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	block = msg.Payload[8:]
	return index, begin, block, nil
}
