package dial

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/scylladb-go/shardpool/config/mocks"
	"github.com/scylladb-go/shardpool/internal/codec"
)

// fakeAuthServer plays the server side of OPTIONS/STARTUP/AUTHENTICATE/
// AUTH_RESPONSE/AUTH_SUCCESS over conn, reporting any mismatch on errCh.
func fakeAuthServer(conn net.Conn, errCh chan<- error) {
	options, err := codec.ReadFrame(conn)
	if err != nil {
		errCh <- err
		return
	}
	if options.Header.Opcode != codec.OpOptions {
		errCh <- nil
		return
	}
	if err := codec.WriteFrame(conn, 0, codec.OpSupported, []byte{0, 0}); err != nil { // empty [string multimap]
		errCh <- err
		return
	}

	startup, err := codec.ReadFrame(conn)
	if err != nil {
		errCh <- err
		return
	}
	if startup.Header.Opcode != codec.OpStartup {
		errCh <- nil
		return
	}
	if err := codec.WriteFrame(conn, 1, codec.OpAuthenticate, codec.EncodeLongString("PasswordAuthenticator")); err != nil {
		errCh <- err
		return
	}

	authResp, err := codec.ReadFrame(conn)
	if err != nil {
		errCh <- err
		return
	}
	if authResp.Header.Opcode != codec.OpAuthResponse {
		errCh <- nil
		return
	}
	if err := codec.WriteFrame(conn, 2, codec.OpAuthSuccess, nil); err != nil {
		errCh <- err
		return
	}
	errCh <- nil
}

func TestHandshakeAuthenticateSucceedsWithMockAuthenticator(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	auth := mocks.NewMockAuthenticator(ctrl)
	auth.EXPECT().InitialResponse().Return([]byte("secret"), nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errCh := make(chan error, 1)
	go fakeAuthServer(serverConn, errCh)

	c := &Connector{
		settings:     Settings{Authenticator: auth},
		desiredShard: -1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	shard, descriptor, err := c.handshake(ctx, clientConn)
	require.NoError(t, err)
	require.Equal(t, uint32(0), shard)
	require.Nil(t, descriptor)
	require.NoError(t, <-errCh)
}

func TestHandshakeAuthenticateRejectedWithoutAuthenticator(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errCh := make(chan error, 1)
	go func() {
		options, err := codec.ReadFrame(serverConn)
		if err != nil || options.Header.Opcode != codec.OpOptions {
			errCh <- err
			return
		}
		if err := codec.WriteFrame(serverConn, 0, codec.OpSupported, []byte{0, 0}); err != nil { // empty [string multimap]
			errCh <- err
			return
		}
		startup, err := codec.ReadFrame(serverConn)
		if err != nil || startup.Header.Opcode != codec.OpStartup {
			errCh <- err
			return
		}
		errCh <- codec.WriteFrame(serverConn, 1, codec.OpAuthenticate, codec.EncodeLongString("PasswordAuthenticator"))
	}()

	c := &Connector{desiredShard: -1}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := c.handshake(ctx, clientConn)
	require.ErrorIs(t, err, ErrAuthRejected)
	require.NoError(t, <-errCh)
}
