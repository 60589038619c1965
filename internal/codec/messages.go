package codec

import (
	"encoding/binary"
	"fmt"
)

// EncodeStartup builds a STARTUP body: a short [string map] with at
// least CQL_VERSION set. No shard parameters are ever sent by the client —
// shard identity is negotiated purely through the server's SUPPORTED reply.
func EncodeStartup(options map[string]string) []byte {
	return encodeStringMap(options)
}

// EncodeOptionsBody returns the (empty) body of an OPTIONS frame.
func EncodeOptionsBody() []byte { return nil }

// Consistency levels, as carried in a QUERY frame's [short] consistency
// field. Only the one this package actually issues (USE <keyspace> on behalf
// of a newly placed connection) is named; value binding and the rest of the
// level table are out of scope along with the rest of QUERY/RESULT encoding.
const ConsistencyOne uint16 = 0x0001

// EncodeQueryBody builds a QUERY frame body for a query with no bind values:
// a [long string] query text, a [short] consistency level, and a zero flags
// byte. Used only to issue USE <keyspace> against a connection the pool has
// just placed; general value encoding for bound queries is out of scope.
func EncodeQueryBody(query string, consistency uint16) []byte {
	buf := EncodeLongString(query)
	buf = append(buf, byte(consistency>>8), byte(consistency))
	buf = append(buf, 0x00) // flags: no values, no paging, no serial consistency
	return buf
}

// EncodeAuthResponse wraps a SASL token as an AUTH_RESPONSE body ([bytes]).
func EncodeAuthResponse(token []byte) []byte {
	buf := make([]byte, 4+len(token))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(token)))
	copy(buf[4:], token)
	return buf
}

// EncodeLongString encodes a [long string] value: a four-byte length prefix
// followed by the UTF-8 bytes. A PREPARE frame's body is just this, the
// query text with no bind values.
func EncodeLongString(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// EncodeShortBytes encodes a [short bytes] value: a two-byte length prefix
// followed by the raw bytes. This is the wire representation of a prepared
// statement id inside an EXECUTE frame's body.
func EncodeShortBytes(b []byte) []byte {
	buf := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(b)))
	copy(buf[2:], b)
	return buf
}

// DecodeSupported parses a SUPPORTED frame's [string multimap] body into a
// key -> values map, which is handed to the sharding package's Parse.
func DecodeSupported(body []byte) (map[string][]string, error) {
	r := &reader{buf: body}
	n, err := r.readUint16()
	if err != nil {
		return nil, fmt.Errorf("decode supported: %w", err)
	}
	out := make(map[string][]string, n)
	for i := 0; i < int(n); i++ {
		key, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("decode supported key %d: %w", i, err)
		}
		count, err := r.readUint16()
		if err != nil {
			return nil, fmt.Errorf("decode supported value-count for %q: %w", key, err)
		}
		values := make([]string, count)
		for j := range values {
			v, err := r.readString()
			if err != nil {
				return nil, fmt.Errorf("decode supported value %d for %q: %w", j, key, err)
			}
			values[j] = v
		}
		out[key] = values
	}
	return out, nil
}

// DecodeErrorBody parses an ERROR frame body into (code, message).
func DecodeErrorBody(body []byte) (code uint32, message string, err error) {
	r := &reader{buf: body}
	code, err = r.readUint32()
	if err != nil {
		return 0, "", fmt.Errorf("decode error code: %w", err)
	}
	message, err = r.readString()
	if err != nil {
		return 0, "", fmt.Errorf("decode error message: %w", err)
	}
	return code, message, nil
}

// DecodeAuthenticate parses an AUTHENTICATE frame body into the authenticator
// class name the server wants.
func DecodeAuthenticate(body []byte) (string, error) {
	r := &reader{buf: body}
	return r.readString()
}

func encodeStringMap(m map[string]string) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(m)))
	for k, v := range m {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(s)))
	buf = append(buf, lenBuf...)
	buf = append(buf, s...)
	return buf
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("buffer underrun reading uint16 at %d/%d", r.pos, len(r.buf))
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("buffer underrun reading uint32 at %d/%d", r.pos, len(r.buf))
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint16()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("buffer underrun reading string of length %d at %d/%d", n, r.pos, len(r.buf))
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
