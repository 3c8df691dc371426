// Package client drives the peer wire session: handshake, the
// bitfield/interested/unchoke exchange and the block request loop that
// downloads and verifies pieces.
package client

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tgrigore/goleech/messaging"
	"github.com/tgrigore/goleech/metainfo"
	"github.com/tgrigore/goleech/peer"
)

// BlockSize is the amount of data requested per block message.
const BlockSize = 1 << 14

// Session errors.
var (
	ErrDigestMismatch = errors.New("client: piece digest mismatch")
	ErrPeerClosed     = errors.New("client: peer closed the connection")
	ErrOutOfRange     = errors.New("client: piece index out of range")
)

// Config carries the session parameters.
type Config struct {
	PeerID      [20]byte      // our peer id, sent in the handshake
	DialTimeout time.Duration // TCP connect timeout
	ReadTimeout time.Duration // per-read deadline on the peer socket
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	return c
}

// Session is a connection to a single peer. It is owned by one task
// for its whole lifetime; closing it drops the connection.
type Session struct {
	conn     net.Conn
	reader   *messaging.Reader
	cfg      Config
	infoHash [20]byte
	remoteID [20]byte

	bitfield peer.Bitfield

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	log *log.Entry
}

// Dial connects to a peer and performs the handshake.
func Dial(ctx context.Context, address string, infoHash [20]byte, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("client: connecting to %s: %w", address, err)
	}
	s, err := NewSession(conn, infoHash, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession performs the handshake over an established connection and
// returns the session owning it. The remote's echoed info hash must
// match ours or the session is aborted.
func NewSession(conn net.Conn, infoHash [20]byte, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	ours := &messaging.Handshake{InfoHash: infoHash, PeerID: cfg.PeerID}
	conn.SetDeadline(time.Now().Add(cfg.ReadTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(ours.Serialize()); err != nil {
		return nil, fmt.Errorf("client: sending handshake: %w", err)
	}
	theirs, err := messaging.ReadHandshake(conn)
	if err != nil {
		return nil, err
	}
	if theirs.InfoHash != infoHash {
		return nil, fmt.Errorf("%w: expected %x got %x", messaging.ErrInfoHashMismatch, infoHash, theirs.InfoHash)
	}

	s := &Session{
		conn:        conn,
		reader:      messaging.NewReader(conn),
		cfg:         cfg,
		infoHash:    infoHash,
		remoteID:    theirs.PeerID,
		amChoking:   true,
		peerChoking: true,
		log: log.WithFields(log.Fields{
			"peer":    conn.RemoteAddr(),
			"session": uuid.NewString(),
		}),
	}
	s.log.WithField("id", fmt.Sprintf("%x", theirs.PeerID)).Debug("handshake complete")
	return s, nil
}

// RemoteID returns the peer id the remote sent in its handshake.
func (s *Session) RemoteID() [20]byte {
	return s.remoteID
}

// Close drops the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// next reads one message with the configured read deadline applied.
func (s *Session) next() (*messaging.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	msg, err := s.reader.Next()
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrPeerClosed, err)
	}
	return msg, err
}

// handle applies a message's effect on the session state. Messages the
// state machine does not care about at this point are recorded and
// otherwise ignored.
func (s *Session) handle(msg *messaging.Message) {
	switch msg.Type {
	case messaging.MChoke:
		s.peerChoking = true
	case messaging.MUnchoke:
		s.peerChoking = false
	case messaging.MInterested:
		s.peerInterested = true
	case messaging.MNotInterested:
		s.peerInterested = false
	case messaging.MHave:
		if index, err := messaging.ParseHave(msg); err == nil {
			s.bitfield.Set(index)
		}
	case messaging.MBitfield:
		s.bitfield = peer.Bitfield(msg.Payload)
	}
}

// Start runs the session up to the downloading state: wait for the
// peer's bitfield, declare interest and wait to be unchoked.
func (s *Session) Start() error {
	// the bitfield is the first message after the handshake; anything
	// else is ignored until it arrives
	for s.bitfield == nil {
		msg, err := s.next()
		if err != nil {
			return err
		}
		if msg.Type == messaging.MBitfield {
			s.handle(msg)
		}
	}

	if _, err := s.conn.Write(messaging.Interested().Serialize()); err != nil {
		return fmt.Errorf("client: sending interested: %w", err)
	}
	s.amInterested = true

	for s.peerChoking {
		msg, err := s.next()
		if err != nil {
			return err
		}
		s.handle(msg)
	}
	s.log.Debug("peer unchoked us")
	return nil
}

// DownloadPiece downloads and verifies one piece. The session must
// have been started. Blocks are requested one at a time; the next
// request is only sent once the previous block arrived.
func (s *Session) DownloadPiece(m *metainfo.Metainfo, index int) ([]byte, error) {
	if index < 0 || index >= m.PieceCount() {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, m.PieceCount())
	}
	size := int(m.PieceSize(index))
	assembled := make([]byte, size)

	for offset := 0; offset < size; {
		length := min(BlockSize, size-offset)
		request := messaging.Request(index, offset, length)
		if _, err := s.conn.Write(request.Serialize()); err != nil {
			// a dead connection shows up as a write error as often
			// as a read one
			return nil, fmt.Errorf("%w: sending request: %s", ErrPeerClosed, err)
		}

		begin, block, err := s.awaitBlock(index)
		if err != nil {
			return nil, err
		}
		if begin != offset || len(block) != length {
			return nil, fmt.Errorf("client: expected block %d+%d got %d+%d instead",
				offset, length, begin, len(block))
		}
		copy(assembled[begin:], block)
		offset += length
	}

	digest := sha1.Sum(assembled)
	expected := m.PieceHash(index)
	if !bytes.Equal(digest[:], expected[:]) {
		return nil, fmt.Errorf("%w: piece %d: expected %x got %x", ErrDigestMismatch, index, expected, digest)
	}

	// let the peer know, as a well-behaved client would
	if _, err := s.conn.Write(messaging.Have(index).Serialize()); err != nil {
		return nil, fmt.Errorf("client: sending have: %w", err)
	}
	s.log.WithField("piece", index).Debug("piece verified")
	return assembled, nil
}

// awaitBlock reads messages until the piece block for our in-flight
// request arrives, applying state updates along the way.
func (s *Session) awaitBlock(index int) (int, []byte, error) {
	for {
		msg, err := s.next()
		if err != nil {
			return 0, nil, err
		}
		if msg.Type != messaging.MPiece {
			s.handle(msg)
			continue
		}
		gotIndex, begin, block, err := messaging.ParsePiece(msg)
		if err != nil {
			return 0, nil, err
		}
		if gotIndex != index {
			continue
		}
		return begin, block, nil
	}
}
