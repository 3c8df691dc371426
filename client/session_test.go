package client

import (
	"bytes"
	crand "crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgrigore/goleech/messaging"
	"github.com/tgrigore/goleech/metainfo"
)

// buildTorrent assembles metainfo for the given content split into
// pieces of pieceLength bytes.
func buildTorrent(t *testing.T, content []byte, pieceLength int) *metainfo.Metainfo {
	hashes := ""
	for start := 0; start < len(content); start += pieceLength {
		end := min(start+pieceLength, len(content))
		h := sha1.Sum(content[start:end])
		hashes += string(h[:])
	}
	info := fmt.Sprintf("d6:lengthi%de4:name4:file12:piece lengthi%de6:pieces%d:%se",
		len(content), pieceLength, len(hashes), hashes)
	data := fmt.Sprintf("d8:announce17:http://t/announce4:info%se", info)
	m, err := metainfo.Parse([]byte(data))
	require.NoError(t, err)
	return m
}

// stubPeer is a scripted remote serving blocks of content over conn.
type stubPeer struct {
	conn        net.Conn
	content     []byte
	pieceLength int
	infoHash    [20]byte // echoed in the handshake
	tamper      bool     // corrupt every served block
	hangUpAfter int      // close after serving this many blocks (0: never)
}

// serve implements the remote side of a download session.
func (p *stubPeer) serve() {
	defer p.conn.Close()
	if _, err := messaging.ReadHandshake(p.conn); err != nil {
		return
	}
	reply := &messaging.Handshake{InfoHash: p.infoHash}
	copy(reply.PeerID[:], "-ST0001-remote peer ")
	if _, err := p.conn.Write(reply.Serialize()); err != nil {
		return
	}
	if _, err := p.conn.Write(messaging.Bitfield([]byte{0xC0}).Serialize()); err != nil {
		return
	}

	served := 0
	reader := messaging.NewReader(p.conn)
	for {
		msg, err := reader.Next()
		if err != nil {
			return
		}
		switch msg.Type {
		case messaging.MInterested:
			if _, err := p.conn.Write(messaging.Unchoke().Serialize()); err != nil {
				return
			}
		case messaging.MRequest:
			index := int(binary.BigEndian.Uint32(msg.Payload[:4]))
			begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
			length := int(binary.BigEndian.Uint32(msg.Payload[8:12]))
			start := index*p.pieceLength + begin
			block := make([]byte, length)
			copy(block, p.content[start:start+length])
			if p.tamper {
				block[0] ^= 0xFF
			}
			if _, err := p.conn.Write(messaging.Piece(index, begin, block).Serialize()); err != nil {
				return
			}
			served++
			if p.hangUpAfter > 0 && served >= p.hangUpAfter {
				return
			}
		}
	}
}

// dialStub wires a session to a stub peer over an in-memory pipe.
func dialStub(t *testing.T, m *metainfo.Metainfo, content []byte, mutate func(*stubPeer)) *Session {
	local, remote := net.Pipe()
	stub := &stubPeer{
		conn:        remote,
		content:     content,
		pieceLength: int(m.Info.PieceLength),
		infoHash:    m.InfoHash(),
	}
	if mutate != nil {
		mutate(stub)
	}
	go stub.serve()

	cfg := Config{}
	copy(cfg.PeerID[:], "00112233445566778899")
	s, err := NewSession(local, m.InfoHash(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDownloadPiece(t *testing.T) {
	content := []byte("abcdefghijkl")
	m := buildTorrent(t, content, 6)
	s := dialStub(t, m, content, nil)
	require.NoError(t, s.Start())

	piece, err := s.DownloadPiece(m, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), piece)

	piece, err = s.DownloadPiece(m, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("ghijkl"), piece)
}

// TestDownloadPieceMultiBlock uses pieces larger than one block, so
// the driver has to carve them and trim the final request.
func TestDownloadPieceMultiBlock(t *testing.T) {
	content := make([]byte, 20000)
	_, err := crand.Read(content)
	require.NoError(t, err)
	m := buildTorrent(t, content, 18000)
	s := dialStub(t, m, content, nil)
	require.NoError(t, s.Start())

	piece, err := s.DownloadPiece(m, 0)
	require.NoError(t, err)
	require.Equal(t, content[:18000], piece)
	require.Equal(t, sha1.Sum(content[:18000]), m.PieceHash(0))

	// the last piece is shorter than the piece length
	piece, err = s.DownloadPiece(m, 1)
	require.NoError(t, err)
	require.Equal(t, content[18000:], piece)
}

func TestDownloadPieceTampered(t *testing.T) {
	content := []byte("abcdefghijkl")
	m := buildTorrent(t, content, 6)
	s := dialStub(t, m, content, func(p *stubPeer) { p.tamper = true })
	require.NoError(t, s.Start())

	_, err := s.DownloadPiece(m, 0)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestDownloadPiecePeerClosed(t *testing.T) {
	content := make([]byte, 40000)
	_, err := crand.Read(content)
	require.NoError(t, err)
	m := buildTorrent(t, content, 40000)
	// hang up after the first of three blocks
	s := dialStub(t, m, content, func(p *stubPeer) { p.hangUpAfter = 1 })
	require.NoError(t, s.Start())

	_, err = s.DownloadPiece(m, 0)
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestDownloadPieceOutOfRange(t *testing.T) {
	content := []byte("abcdefghijkl")
	m := buildTorrent(t, content, 6)
	s := dialStub(t, m, content, nil)
	require.NoError(t, s.Start())

	_, err := s.DownloadPiece(m, 2)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = s.DownloadPiece(m, -1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestNewSessionInfoHashMismatch(t *testing.T) {
	content := []byte("abcdefghijkl")
	m := buildTorrent(t, content, 6)

	local, remote := net.Pipe()
	stub := &stubPeer{conn: remote, content: content, pieceLength: 6}
	stub.infoHash = [20]byte{0xBA, 0xD0} // not ours
	go stub.serve()

	cfg := Config{}
	copy(cfg.PeerID[:], "00112233445566778899")
	_, err := NewSession(local, m.InfoHash(), cfg)
	require.ErrorIs(t, err, messaging.ErrInfoHashMismatch)
	local.Close()
}

// TestSessionIgnoresChatter checks that stray messages between the
// expected ones do not derail the state machine.
func TestSessionIgnoresChatter(t *testing.T) {
	content := []byte("abcdefghijkl")
	m := buildTorrent(t, content, 6)

	local, remote := net.Pipe()
	go func() {
		defer remote.Close()
		if _, err := messaging.ReadHandshake(remote); err != nil {
			return
		}
		reply := &messaging.Handshake{InfoHash: m.InfoHash()}
		remote.Write(reply.Serialize())
		// chatter before the bitfield, then more before the unchoke
		remote.Write(messaging.Have(0).Serialize())
		remote.Write((*messaging.Message)(nil).Serialize()) // keep-alive
		remote.Write(messaging.Bitfield([]byte{0xC0}).Serialize())
		reader := messaging.NewReader(remote)
		if _, err := reader.Next(); err != nil { // interested
			return
		}
		remote.Write(messaging.Have(1).Serialize())
		remote.Write(messaging.Unchoke().Serialize())
		for {
			msg, err := reader.Next()
			if err != nil {
				return
			}
			if msg.Type != messaging.MRequest {
				continue
			}
			begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
			length := int(binary.BigEndian.Uint32(msg.Payload[8:12]))
			// an unrelated piece first, then the right one
			remote.Write(messaging.Piece(1, 0, bytes.Repeat([]byte{0}, 6)).Serialize())
			remote.Write(messaging.Piece(0, begin, content[begin:begin+length]).Serialize())
		}
	}()

	cfg := Config{}
	copy(cfg.PeerID[:], "00112233445566778899")
	s, err := NewSession(local, m.InfoHash(), cfg)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start())

	piece, err := s.DownloadPiece(m, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), piece)
}
