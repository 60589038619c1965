package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeSupportedRoundTrip(t *testing.T) {
	buf := encodeStringMultimap(map[string][]string{
		"SCYLLA_SHARD":      {"3"},
		"SCYLLA_NR_SHARDS":  {"8"},
		"CQL_VERSION":       {"3.0.0", "3.1.0"},
	})
	got, err := DecodeSupported(buf)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, got["SCYLLA_SHARD"])
	require.Equal(t, []string{"8"}, got["SCYLLA_NR_SHARDS"])
	require.ElementsMatch(t, []string{"3.0.0", "3.1.0"}, got["CQL_VERSION"])
}

func TestDecodeErrorBody(t *testing.T) {
	buf := appendString(append([]byte{0, 0, 0, 42}), "bad thing")
	code, msg, err := DecodeErrorBody(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(42), code)
	require.Equal(t, "bad thing", msg)
}

func TestDecodeSupportedTruncatedBufferErrors(t *testing.T) {
	_, err := DecodeSupported([]byte{0, 1}) // claims one key, no bytes follow
	require.Error(t, err)
}

func TestEncodeQueryBodyShape(t *testing.T) {
	buf := EncodeQueryBody("USE my_keyspace", ConsistencyOne)

	n := binary.BigEndian.Uint32(buf[:4])
	require.Equal(t, "USE my_keyspace", string(buf[4:4+n]))

	rest := buf[4+n:]
	require.Len(t, rest, 3, "two consistency bytes plus one flags byte")
	require.Equal(t, ConsistencyOne, binary.BigEndian.Uint16(rest[:2]))
	require.Equal(t, byte(0x00), rest[2])
}

// encodeStringMultimap is the test-only inverse of DecodeSupported, used to
// build fixtures without hand-assembling byte slices.
func encodeStringMultimap(m map[string][]string) []byte {
	buf := make([]byte, 2)
	n := uint16(len(m))
	buf[0] = byte(n >> 8)
	buf[1] = byte(n)
	for k, vs := range m {
		buf = appendString(buf, k)
		cnt := make([]byte, 2)
		cnt[0] = byte(uint16(len(vs)) >> 8)
		cnt[1] = byte(uint16(len(vs)))
		buf = append(buf, cnt...)
		for _, v := range vs {
			buf = appendString(buf, v)
		}
	}
	return buf
}
