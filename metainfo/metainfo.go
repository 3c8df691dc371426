// Package metainfo loads single-file torrent metainfo and computes the
// info hash from the canonical bencoding of the info dictionary.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/tgrigore/goleech/bencode"
)

// HashSize is the size of a SHA-1 digest.
const HashSize = 20

// Validation errors.
var (
	ErrNotADict     = errors.New("metainfo: torrent file is not a dictionary")
	ErrMissingField = errors.New("metainfo: missing or mistyped field")
	ErrBadPieces    = errors.New("metainfo: pieces length is not a multiple of 20")
	ErrPieceCount   = errors.New("metainfo: piece count does not match length")
	ErrBadPieceLen  = errors.New("metainfo: piece length must be positive")
	ErrNegativeLen  = errors.New("metainfo: length must be non-negative")
)

// Info is the typed view of a single-file info dictionary.
type Info struct {
	Name        string
	Length      int64
	PieceLength int64  `mapstructure:"piece length"`
	Pieces      string // concatenated 20-byte piece hashes
}

// Metainfo is a loaded torrent file.
type Metainfo struct {
	Announce string
	Info     Info

	infoHash [HashSize]byte
}

// Load reads and parses a torrent file from disk.
func Load(path string) (*Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes torrent metainfo from its bencoded form.
func Parse(data []byte) (*Metainfo, error) {
	val, _, err := bencode.Decode(data)
	if err != nil {
		return nil, err
	}
	dict, ok := val.(map[string]interface{})
	if !ok {
		return nil, ErrNotADict
	}

	m := &Metainfo{}
	if err := mapstructure.Decode(dict, m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, err)
	}
	if m.Announce == "" {
		return nil, fmt.Errorf("%w: announce", ErrMissingField)
	}

	rawInfo, ok := dict["info"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: info", ErrMissingField)
	}
	if err := mapstructure.Decode(rawInfo, &m.Info); err != nil {
		return nil, fmt.Errorf("%w: info: %s", ErrMissingField, err)
	}
	if err := m.Info.validate(); err != nil {
		return nil, err
	}

	// The decoder enforces canonical input, so re-encoding the info
	// value reproduces the exact byte span the hash is defined over.
	infoBytes, err := bencode.Encode(rawInfo)
	if err != nil {
		return nil, err
	}
	m.infoHash = sha1.Sum(infoBytes)
	return m, nil
}

func (i *Info) validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if i.PieceLength <= 0 {
		return ErrBadPieceLen
	}
	if i.Length < 0 {
		return ErrNegativeLen
	}
	if len(i.Pieces)%HashSize != 0 {
		return fmt.Errorf("%w: %d", ErrBadPieces, len(i.Pieces))
	}
	expected := (i.Length + i.PieceLength - 1) / i.PieceLength
	if int64(len(i.Pieces)/HashSize) != expected {
		return fmt.Errorf("%w: %d hashes for %d pieces", ErrPieceCount, len(i.Pieces)/HashSize, expected)
	}
	return nil
}

// InfoHash returns the SHA-1 of the canonical bencoding of the info
// dictionary.
func (m *Metainfo) InfoHash() [HashSize]byte {
	return m.infoHash
}

// PieceCount returns the number of pieces.
func (m *Metainfo) PieceCount() int {
	return len(m.Info.Pieces) / HashSize
}

// PieceHash returns the expected SHA-1 digest of piece i.
func (m *Metainfo) PieceHash(i int) [HashSize]byte {
	var h [HashSize]byte
	copy(h[:], m.Info.Pieces[i*HashSize:(i+1)*HashSize])
	return h
}

// PieceSize returns the size of piece i. Every piece has the declared
// piece length except the last, which holds the remainder; when the
// total length is an exact multiple the last piece is full-sized.
func (m *Metainfo) PieceSize(i int) int64 {
	if i == m.PieceCount()-1 {
		return m.Info.Length - int64(m.PieceCount()-1)*m.Info.PieceLength
	}
	return m.Info.PieceLength
}
