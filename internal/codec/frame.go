// Package codec implements just enough of the CQL native protocol (v4) to
// drive a connection handshake, read a SUPPORTED frame's options, and carry
// query/prepare/execute/batch requests as opaque bodies. Value
// (de)serialization for QUERY/RESULT payloads — encoding bind values,
// decoding result rows — is explicitly out of scope; a caller that needs
// that builds the body itself and hands it to a Session unopened.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode identifies a frame's message kind.
type Opcode byte

const (
	OpError        Opcode = 0x00
	OpStartup      Opcode = 0x01
	OpReady        Opcode = 0x02
	OpAuthenticate Opcode = 0x03
	OpOptions      Opcode = 0x05
	OpSupported    Opcode = 0x06
	OpQuery        Opcode = 0x07
	OpResult       Opcode = 0x08
	OpPrepare      Opcode = 0x09
	OpExecute      Opcode = 0x0A
	OpBatch        Opcode = 0x0D
	OpAuthResponse Opcode = 0x0F
	OpAuthSuccess  Opcode = 0x10
)

const (
	// ProtocolVersion is the native protocol version this codec speaks.
	ProtocolVersion byte = 0x04
	// directionResponse is OR'd into the version byte on frames coming
	// from the server.
	directionResponse byte = 0x80

	headerLen = 9
)

// Header is the 9-byte envelope in front of every frame body.
type Header struct {
	Version byte
	Flags   byte
	Stream  int16
	Opcode  Opcode
	Length  uint32
}

// Frame is a decoded header plus its body.
type Frame struct {
	Header Header
	Body   []byte
}

// EncodeFrame serializes a request frame (version byte without the response
// bit) into a single byte slice, for callers that hand frames to something
// other than an io.Writer — a pool connection's async write buffer, for
// instance.
func EncodeFrame(stream int16, opcode Opcode, body []byte) []byte {
	buf := make([]byte, headerLen+len(body))
	buf[0] = ProtocolVersion
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(stream))
	buf[4] = byte(opcode)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(body)))
	copy(buf[headerLen:], body)
	return buf
}

// WriteFrame serializes a request frame and writes it to w in one call.
func WriteFrame(w io.Writer, stream int16, opcode Opcode, body []byte) error {
	_, err := w.Write(EncodeFrame(stream, opcode, body))
	return err
}

// ReadFrame reads one full frame (header + body) from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	h := Header{
		Version: hdr[0],
		Flags:   hdr[1],
		Stream:  int16(binary.BigEndian.Uint16(hdr[2:4])),
		Opcode:  Opcode(hdr[4]),
		Length:  binary.BigEndian.Uint32(hdr[5:9]),
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("read frame body (opcode %#x, len %d): %w", h.Opcode, h.Length, err)
		}
	}
	return &Frame{Header: h, Body: body}, nil
}

// IsResponse reports whether the version byte carries the response bit.
func (h Header) IsResponse() bool {
	return h.Version&directionResponse != 0
}
