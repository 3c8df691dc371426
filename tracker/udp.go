package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/tgrigore/goleech/metainfo"
	"github.com/tgrigore/goleech/peer"
)

// the actions for a UDP exchange (BEP 15)
const (
	aConnect uint32 = iota
	aAnnounce
)

// udpProtocolID identifies the UDP tracker protocol in connect requests.
const udpProtocolID uint64 = 0x41727101980

// UDP tracker retry policy: the timeout doubles on each attempt.
const (
	udpMaxRetries  = 8
	udpBaseTimeout = 15 * time.Second
)

// connectUDP performs the connect exchange and returns a connection ID
// for the following announce.
func connectUDP(conn *net.UDPConn) (uint64, error) {
	transactionID := rand.Uint32()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req, udpProtocolID)
	binary.BigEndian.PutUint32(req[8:], aConnect)
	binary.BigEndian.PutUint32(req[12:], transactionID)
	if _, err := conn.Write(req); err != nil {
		return 0, err
	}

	// response format is:
	// uint32 action
	// uint32 transaction_id
	// uint64 connection_id
	res := make([]byte, 16)
	n, err := conn.Read(res)
	if err != nil {
		return 0, err
	}
	if n != 16 {
		return 0, fmt.Errorf("tracker: expected connect response of size 16 got %d instead", n)
	}
	if action := binary.BigEndian.Uint32(res[:4]); action != aConnect {
		return 0, fmt.Errorf("tracker: expected action %d got %d instead", aConnect, action)
	}
	if txID := binary.BigEndian.Uint32(res[4:8]); txID != transactionID {
		return 0, errors.New("tracker: received a different transaction_id")
	}
	return binary.BigEndian.Uint64(res[8:]), nil
}

// announceOverUDP sends an announce request on an established
// connection and parses the peer list out of the response.
func (c *Client) announceOverUDP(conn *net.UDPConn, connID uint64, m *metainfo.Metainfo) (*Response, error) {
	transactionID := rand.Uint32()
	infoHash := m.InfoHash()

	// announce request is 98 bytes
	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req, connID)
	binary.BigEndian.PutUint32(req[8:], aAnnounce)
	binary.BigEndian.PutUint32(req[12:], transactionID)
	copy(req[16:], infoHash[:])
	copy(req[36:], c.PeerID[:])
	binary.BigEndian.PutUint64(req[56:], 0)                     // downloaded
	binary.BigEndian.PutUint64(req[64:], uint64(m.Info.Length)) // left
	binary.BigEndian.PutUint64(req[72:], 0)                     // uploaded
	binary.BigEndian.PutUint32(req[80:], 0)                     // event: none
	binary.BigEndian.PutUint32(req[84:], 0)                     // IP address
	binary.BigEndian.PutUint32(req[88:], rand.Uint32())         // key
	binary.BigEndian.PutUint32(req[92:], 0xFFFFFFFF)            // num_want: all
	binary.BigEndian.PutUint16(req[96:], uint16(c.Port))
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}

	// response format is:
	// uint32 action
	// uint32 transaction_id
	// uint32 interval
	// uint32 leechers
	// uint32 seeders
	// 6 bytes per peer: IPv4 address + big-endian port
	res := make([]byte, 508)
	n, err := conn.Read(res)
	if err != nil {
		return nil, err
	}
	if n < 20 {
		return nil, fmt.Errorf("tracker: expected announce response of size >= 20 got %d instead", n)
	}
	res = res[:n]
	if action := binary.BigEndian.Uint32(res); action != aAnnounce {
		return nil, fmt.Errorf("tracker: expected action %d got %d instead", aAnnounce, action)
	}
	if txID := binary.BigEndian.Uint32(res[4:]); txID != transactionID {
		return nil, errors.New("tracker: received a different transaction_id")
	}

	compact := res[20:]
	// a null port marks the end of the peer list
	for i := 0; i+6 <= len(compact); i += 6 {
		if binary.BigEndian.Uint16(compact[i+4:]) == 0 {
			compact = compact[:i]
			break
		}
	}
	peers, err := peer.Unmarshal(compact[:len(compact)/6*6])
	if err != nil {
		return nil, err
	}
	return &Response{
		Interval:   int64(binary.BigEndian.Uint32(res[8:])),
		Incomplete: int64(binary.BigEndian.Uint32(res[12:])),
		Complete:   int64(binary.BigEndian.Uint32(res[16:])),
		Peers:      peers,
	}, nil
}

// announceUDP announces over UDP, retrying with an increasing deadline
// since datagrams may be lost.
func (c *Client) announceUDP(u *url.URL, m *metainfo.Metainfo) (*Response, error) {
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolving %s: %w", u.Host, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	defer conn.Close()

	for try := 0; try < udpMaxRetries; try++ {
		conn.SetDeadline(time.Now().Add(udpBaseTimeout * (1 << try)))
		connID, err := connectUDP(conn)
		if err == nil {
			var res *Response
			res, err = c.announceOverUDP(conn, connID, m)
			if err == nil {
				return res, nil
			}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("tracker: timed out after %d retries", udpMaxRetries)
}
