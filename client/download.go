package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/tgrigore/goleech/metainfo"
	"github.com/tgrigore/goleech/peer"
	"github.com/tgrigore/goleech/tracker"
)

// ErrNoPeers is returned when no peer from the tracker could serve the
// download.
var ErrNoPeers = errors.New("client: no usable peer")

// connect tries the peers in order and returns the first session that
// completes the handshake and reaches the downloading state.
func connect(ctx context.Context, peers []peer.Peer, infoHash [20]byte, cfg Config) (*Session, error) {
	for _, p := range peers {
		s, err := Dial(ctx, p.String(), infoHash, cfg)
		if err != nil {
			log.WithField("peer", p.String()).WithError(err).Warn("could not connect to peer")
			continue
		}
		if err := s.Start(); err != nil {
			log.WithField("peer", p.String()).WithError(err).Warn("could not start session")
			s.Close()
			continue
		}
		return s, nil
	}
	return nil, ErrNoPeers
}

// DownloadFile downloads the whole torrent to outPath. Pieces are
// fetched in ascending order over a single session and appended to the
// file as each one verifies.
func DownloadFile(ctx context.Context, m *metainfo.Metainfo, outPath string, cfg Config) error {
	res, err := tracker.NewClient(cfg.PeerID).Announce(m)
	if err != nil {
		return err
	}
	log.WithField("peers", len(res.Peers)).Info("received peers from tracker")

	s, err := connect(ctx, res.Peers, m.InfoHash(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	numPieces := m.PieceCount()
	for index := 0; index < numPieces; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		piece, err := s.DownloadPiece(m, index)
		if err != nil {
			return fmt.Errorf("piece %d: %w", index, err)
		}
		if _, err := out.Write(piece); err != nil {
			return err
		}
		log.Infof("Downloaded %d/%d pieces (%.2f%%)", index+1, numPieces,
			float64(index+1)/float64(numPieces)*100)
	}
	return nil
}

// DownloadPieceFile downloads a single piece to outPath.
func DownloadPieceFile(ctx context.Context, m *metainfo.Metainfo, index int, outPath string, cfg Config) error {
	if index < 0 || index >= m.PieceCount() {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, m.PieceCount())
	}
	res, err := tracker.NewClient(cfg.PeerID).Announce(m)
	if err != nil {
		return err
	}
	s, err := connect(ctx, res.Peers, m.InfoHash(), cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	piece, err := s.DownloadPiece(m, index)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, piece, 0644)
}

// DownloadTorrent loads a torrent file and downloads its content to
// outPath.
func DownloadTorrent(ctx context.Context, torrentPath, outPath string, cfg Config) error {
	m, err := metainfo.Load(torrentPath)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = m.Info.Name
	}
	return DownloadFile(ctx, m, outPath, cfg)
}
