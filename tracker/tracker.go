// Package tracker announces a torrent to its tracker and collects the
// peer list from the compact response.
package tracker

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"

	"github.com/tgrigore/goleech/bencode"
	"github.com/tgrigore/goleech/metainfo"
	"github.com/tgrigore/goleech/peer"
)

// DefaultPort is the port reported to the tracker (BEP 3 recommends
// 6881-6889).
const DefaultPort = 6881

// httpTimeout is the timeout for HTTP tracker requests
const httpTimeout = 30 * time.Second

// Tracker errors.
var (
	ErrBadStatus       = errors.New("tracker: non 200 response status")
	ErrNotADict        = errors.New("tracker: response is not a dictionary")
	ErrFailure         = errors.New("tracker: announce rejected")
	ErrMissingInterval = errors.New("tracker: response missing interval")
	ErrMissingPeers    = errors.New("tracker: response missing peers")
	ErrBadScheme       = errors.New("tracker: unsupported announce scheme")
)

// DefaultPeerID returns the peer id this client announces as.
func DefaultPeerID() [20]byte {
	var id [20]byte
	copy(id[:], "00112233445566778899")
	return id
}

// Response represents the tracker response to an announce.
type Response struct {
	Interval    int64
	MinInterval int64
	Complete    int64
	Incomplete  int64
	Peers       []peer.Peer
}

// Client announces torrents. The zero value is not usable; NewClient
// fills in the defaults.
type Client struct {
	PeerID [20]byte
	Port   int
	HTTP   *http.Client
}

// NewClient returns a tracker client announcing as the given peer id.
func NewClient(peerID [20]byte) *Client {
	return &Client{
		PeerID: peerID,
		Port:   DefaultPort,
		HTTP:   &http.Client{Timeout: httpTimeout},
	}
}

// Announce contacts the torrent's tracker and returns its peer list.
func (c *Client) Announce(m *metainfo.Metainfo) (*Response, error) {
	u, err := url.Parse(m.Announce)
	if err != nil {
		return nil, fmt.Errorf("tracker: parsing announce url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return c.announceHTTP(u, m)
	case "udp", "udp4", "udp6":
		return c.announceUDP(u, m)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadScheme, u.Scheme)
	}
}

// announceURL builds the url to call the tracker from the announce url
// and the torrent. The raw info hash bytes are percent-encoded by the
// query encoder.
func (c *Client) announceURL(u *url.URL, m *metainfo.Metainfo) string {
	infoHash := m.InfoHash()
	params := url.Values{
		"info_hash":  []string{string(infoHash[:])},
		"peer_id":    []string{string(c.PeerID[:])},
		"port":       []string{strconv.Itoa(c.Port)},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.FormatInt(m.Info.Length, 10)},
		"compact":    []string{"1"},
	}
	announce := *u
	announce.RawQuery = params.Encode()
	return announce.String()
}

func (c *Client) announceHTTP(u *url.URL, m *metainfo.Metainfo) (*Response, error) {
	announce := c.announceURL(u, m)
	log.WithField("url", u.Host).Debug("announcing to tracker")
	res, err := c.HTTP.Get(announce)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: reading response: %w", err)
	}
	return ParseResponse(body)
}

// rawResponse mirrors the bencoded response dictionary.
type rawResponse struct {
	FailureReason string `mapstructure:"failure reason"`
	Interval      int64
	MinInterval   int64 `mapstructure:"min interval"`
	Complete      int64
	Incomplete    int64
	Peers         string
}

// ParseResponse decodes a bencoded announce response body.
func ParseResponse(body []byte) (*Response, error) {
	val, _, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("tracker: decoding response: %w", err)
	}
	dict, ok := val.(map[string]interface{})
	if !ok {
		return nil, ErrNotADict
	}
	var raw rawResponse
	if err := mapstructure.Decode(dict, &raw); err != nil {
		return nil, fmt.Errorf("tracker: decoding response: %s", err)
	}
	if raw.FailureReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrFailure, raw.FailureReason)
	}
	if raw.Interval == 0 {
		return nil, ErrMissingInterval
	}
	if _, ok := dict["peers"]; !ok {
		return nil, ErrMissingPeers
	}
	peers, err := peer.Unmarshal([]byte(raw.Peers))
	if err != nil {
		return nil, err
	}
	return &Response{
		Interval:    raw.Interval,
		MinInterval: raw.MinInterval,
		Complete:    raw.Complete,
		Incomplete:  raw.Incomplete,
		Peers:       peers,
	}, nil
}
