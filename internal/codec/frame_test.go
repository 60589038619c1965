package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello frame")
	require.NoError(t, WriteFrame(&buf, 7, OpQuery, body))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, int16(7), f.Header.Stream)
	require.Equal(t, OpQuery, f.Header.Opcode)
	require.Equal(t, body, f.Body)
	require.Equal(t, uint32(len(body)), f.Header.Length)
}

func TestWriteFrameEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 0, OpOptions, nil))
	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, f.Body)
}

func TestIsResponse(t *testing.T) {
	h := Header{Version: ProtocolVersion | 0x80}
	require.True(t, h.IsResponse())
	h2 := Header{Version: ProtocolVersion}
	require.False(t, h2.IsResponse())
}
