package codec

import "github.com/klauspost/compress/s2"

// CompressionSnappy is the STARTUP COMPRESSION option value for this codec's
// compression. s2 is a Snappy-compatible block format, so the wire bytes
// decode with any standard Snappy decoder on the server side. The connector's
// STARTUP sends only CQL_VERSION, so compression is never negotiated on a
// connection.
const CompressionSnappy = "snappy"

// CompressBody compresses a frame body when the FlagCompression bit will be
// set on the header.
func CompressBody(body []byte) []byte {
	return s2.EncodeSnappy(nil, body)
}

// DecompressBody reverses CompressBody.
func DecompressBody(body []byte) ([]byte, error) {
	return s2.Decode(nil, body)
}

// FlagCompression is OR'd into a Header's Flags byte when the body that
// follows is compressed.
const FlagCompression byte = 0x01
