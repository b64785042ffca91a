package dmi

import "encoding/binary"

// State is the state of a Decoder.
type State uint8

const (
	// StateAwaitingHeader waits for the 6 bytes of a request header.
	StateAwaitingHeader State = iota
	// StateAwaitingWritePayload waits for the 4 byte value of a write.
	StateAwaitingWritePayload
	// StateDispatch holds a complete request.
	StateDispatch
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateAwaitingWritePayload:
		return "awaiting-write-payload"
	case StateDispatch:
		return "dispatch"
	}
	return "unknown"
}

// Decoder turns an arbitrarily fragmented byte stream into requests.
// Partial frames are buffered until complete and are never returned.
type Decoder struct {
	state State
	buf   []byte
	req   Request
}

// NewDecoder returns a decoder waiting for a header.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, HeaderLen+PayloadLen)}
}

// State returns the current state of the decoder.
func (d *Decoder) State() State {
	return d.state
}

// Buffered returns the number of bytes held for the frame in progress.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Feed consumes p and returns every request completed by it, in order.
// Requests with an unknown opcode are returned too, their header has been
// consumed and Err reports the problem.
func (d *Decoder) Feed(p []byte) []Request {
	var reqs []Request
	for len(p) > 0 {
		switch d.state {
		case StateAwaitingHeader:
			p = d.fill(p, HeaderLen)
			if len(d.buf) < HeaderLen {
				return reqs
			}
			d.req = Request{
				Op:      d.buf[0],
				Addr:    binary.BigEndian.Uint32(d.buf[1:5]),
				LenHint: d.buf[5],
			}
			d.buf = d.buf[:0]
			if d.req.Op == OpWrite {
				d.state = StateAwaitingWritePayload
			} else {
				d.state = StateDispatch
			}
		case StateAwaitingWritePayload:
			p = d.fill(p, PayloadLen)
			if len(d.buf) < PayloadLen {
				return reqs
			}
			d.req.Value = binary.BigEndian.Uint32(d.buf)
			d.buf = d.buf[:0]
			d.state = StateDispatch
		}
		if d.state == StateDispatch {
			reqs = append(reqs, d.req)
			d.req = Request{}
			d.state = StateAwaitingHeader
		}
	}
	return reqs
}

// fill moves bytes from p into d.buf until it holds n bytes and returns
// what is left of p.
func (d *Decoder) fill(p []byte, n int) []byte {
	need := n - len(d.buf)
	if need > len(p) {
		need = len(p)
	}
	d.buf = append(d.buf, p[:need]...)
	return p[need:]
}
