// Package dmi implements the framing of the DMI socket protocol spoken by
// socket based debug transport drivers.
//
// Every request starts with a 6 byte header: an opcode, a big endian
// address and a length hint. Writes carry a 4 byte big endian value after
// the header. Every response is 5 bytes: a status and a big endian value.
package dmi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcodes.
const (
	OpRead  byte = 0x00
	OpWrite byte = 0x01
)

// Response status codes.
const (
	StatusOK    byte = 0x00
	StatusError byte = 0x01
)

// Frame sizes.
const (
	HeaderLen   = 6
	PayloadLen  = 4
	ResponseLen = 5
)

// DefaultLenHint is the length hint sent by clients, it is never checked.
const DefaultLenHint uint8 = 4

// ErrMalformedFrame is returned for frames that can not be dispatched.
var ErrMalformedFrame = errors.New("malformed frame")

// UnknownOpcodeError is reported for requests with an opcode other than
// OpRead and OpWrite.
type UnknownOpcodeError struct {
	Op byte
}

func (err *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("%s: unknown opcode %#02x", ErrMalformedFrame, err.Op)
}

func (err *UnknownOpcodeError) Unwrap() error {
	return ErrMalformedFrame
}

// Request is a decoded request frame.
type Request struct {
	Op      byte
	Addr    uint32
	LenHint uint8
	// Value is only meaningful for OpWrite.
	Value uint32
}

// Err returns a non-nil error if r can not be dispatched.
func (r Request) Err() error {
	switch r.Op {
	case OpRead, OpWrite:
		return nil
	}
	return &UnknownOpcodeError{Op: r.Op}
}

func (r Request) String() string {
	switch r.Op {
	case OpRead:
		return fmt.Sprintf("read %#x", r.Addr)
	case OpWrite:
		return fmt.Sprintf("write %#x <- %#08x", r.Addr, r.Value)
	}
	return fmt.Sprintf("opcode %#02x addr %#x", r.Op, r.Addr)
}

// MarshalBinary encodes r as it is sent on the wire.
func (r Request) MarshalBinary() ([]byte, error) {
	n := HeaderLen
	if r.Op == OpWrite {
		n += PayloadLen
	}
	buf := make([]byte, n)
	buf[0] = r.Op
	binary.BigEndian.PutUint32(buf[1:5], r.Addr)
	buf[5] = r.LenHint
	if r.Op == OpWrite {
		binary.BigEndian.PutUint32(buf[6:10], r.Value)
	}
	return buf, nil
}

// Response is a response frame.
type Response struct {
	Status byte
	Value  uint32
}

// OK returns a successful response carrying v.
func OK(v uint32) Response {
	return Response{Status: StatusOK, Value: v}
}

// Error returns an error response.
func Error() Response {
	return Response{Status: StatusError}
}

// AppendTo appends the wire encoding of r to buf.
func (r Response) AppendTo(buf []byte) []byte {
	var b [ResponseLen]byte
	b[0] = r.Status
	binary.BigEndian.PutUint32(b[1:], r.Value)
	return append(buf, b[:]...)
}

// MarshalBinary encodes r as it is sent on the wire.
func (r Response) MarshalBinary() ([]byte, error) {
	return r.AppendTo(make([]byte, 0, ResponseLen)), nil
}

// ReadResponse reads one response frame from rd.
func ReadResponse(rd io.Reader) (Response, error) {
	var b [ResponseLen]byte
	if _, err := io.ReadFull(rd, b[:]); err != nil {
		return Response{}, err
	}
	return Response{Status: b[0], Value: binary.BigEndian.Uint32(b[1:])}, nil
}
