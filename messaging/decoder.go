package messaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps the announced length of a single frame. The
// largest legitimate message is a piece carrying one 16 KiB block.
const MaxFrameSize = 1 << 20

// Framing errors.
var (
	ErrBadID         = errors.New("messaging: unknown message id")
	ErrFrameTooLarge = errors.New("messaging: frame exceeds size cap")
)

// Decoder is a stateful frame decoder. Bytes are appended with Feed as
// they arrive from the network; Next pops one complete message at a
// time and leaves partial frames buffered, so reads may be fragmented
// at arbitrary boundaries.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes from the wire to the decode buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next decodes the next buffered frame. ok is false when the buffer
// does not yet hold a complete frame; no bytes are consumed in that
// case. A keep-alive decodes to a nil message with ok true.
func (d *Decoder) Next() (msg *Message, ok bool, err error) {
	if len(d.buf) < 4 {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(d.buf[:4])
	if length == 0 {
		d.buf = d.buf[4:]
		return nil, true, nil // keep-alive
	}
	if length > MaxFrameSize {
		return nil, false, fmt.Errorf("%w: %d", ErrFrameTooLarge, length)
	}
	if uint32(len(d.buf)-4) < length {
		return nil, false, nil
	}
	frame := d.buf[4 : 4+length]
	id := frame[0]
	if id > byte(MCancel) {
		return nil, false, fmt.Errorf("%w: %d", ErrBadID, id)
	}
	payload := make([]byte, length-1)
	copy(payload, frame[1:])
	d.buf = d.buf[4+length:]
	return &Message{Type: MessageType(id), Payload: payload}, true, nil
}

// Reader decodes messages from a stream, feeding the Decoder as bytes
// come in. Keep-alives are skipped.
type Reader struct {
	r   io.Reader
	dec Decoder
	tmp []byte
}

// NewReader returns a Reader framing messages from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, tmp: make([]byte, 4096)}
}

// Next returns the next non-keep-alive message. An EOF that cuts a
// frame short is reported as io.ErrUnexpectedEOF.
func (mr *Reader) Next() (*Message, error) {
	for {
		msg, ok, err := mr.dec.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			if msg == nil {
				continue // keep-alive
			}
			return msg, nil
		}
		n, err := mr.r.Read(mr.tmp)
		if n > 0 {
			mr.dec.Feed(mr.tmp[:n])
			continue
		}
		if err == io.EOF {
			if len(mr.dec.buf) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
	}
}
