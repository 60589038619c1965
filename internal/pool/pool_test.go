package pool

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scylladb-go/shardpool/internal/codec"
	"github.com/scylladb-go/shardpool/internal/dial"
	"github.com/scylladb-go/shardpool/internal/sharding"
)

type fakeListener struct {
	up, down, closed chan struct{}
	critical         chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		up:       make(chan struct{}, 8),
		down:     make(chan struct{}, 8),
		closed:   make(chan struct{}, 1),
		critical: make(chan struct{}, 1),
	}
}

func (f *fakeListener) OnPoolUp(string)                       { f.up <- struct{}{} }
func (f *fakeListener) OnPoolDown(string)                     { f.down <- struct{}{} }
func (f *fakeListener) OnPoolCriticalError(string, uint32, string) { f.critical <- struct{}{} }
func (f *fakeListener) OnRequiresFlush(*Pool)                 {}
func (f *fakeListener) OnClose(*Pool)                         { f.closed <- struct{}{} }

// syncFlushListener calls Flush synchronously from OnRequiresFlush, the way
// session.Session does in production. A pool that notified this listener
// from inside its own loop goroutine would deadlock right here.
type syncFlushListener struct {
	fakeListener
	flushed chan struct{}
}

func newSyncFlushListener() *syncFlushListener {
	return &syncFlushListener{fakeListener: *newFakeListener(), flushed: make(chan struct{}, 1)}
}

func (f *syncFlushListener) OnRequiresFlush(p *Pool) {
	p.Flush()
	f.flushed <- struct{}{}
}

// fakeConnPair returns the two ends of an in-memory net.Pipe, good enough to
// exercise Close and writes without a real socket. Writes on a pipe block
// until the other end reads.
func fakeConnPair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func basicSettings() Settings {
	return Settings{
		NumConnectionsPerHost: 1,
		ReconnectBaseDelay:    10 * time.Millisecond,
		ReconnectMaxDelay:     100 * time.Millisecond,
		ConnectSettings:       dial.Settings{Host: "127.0.0.1", Port: 9042},
	}
}

func TestPoolDispatchPrefersCorrectShard(t *testing.T) {
	listener := newFakeListener()
	descriptor := &sharding.Descriptor{ShardsCount: 4, IgnoreMSB: 0}

	seeds := make([]*Conn, 4)
	for i := range seeds {
		client, _ := fakeConnPair()
		seeds[i] = newConn(client, uint32(i), nil, nil)
	}
	settings := basicSettings()
	settings.NumConnectionsPerHost = 4
	p := New("127.0.0.1", descriptor, seeds, listener, nil, nil, settings)
	defer p.Close()

	p.connsByShard[2][0].inflight.Store(5)
	p.connsByShard[1][0].inflight.Store(0)

	var tok int64 = 1234567890
	shard := descriptor.ShardID(tok)
	require.Equal(t, uint32(2), shard, "fixture assumes token 1234567890 maps to shard 2")

	got := p.FindLeastBusy(&tok)
	require.NotNil(t, got)
	assert.Equal(t, uint32(2), got.ShardID())
}

func TestPoolDispatchFallsBackWhenShardEmpty(t *testing.T) {
	listener := newFakeListener()
	descriptor := &sharding.Descriptor{ShardsCount: 4, IgnoreMSB: 0}

	seeds := make([]*Conn, 0, 4)
	for i := 0; i < 4; i++ {
		if i == 2 {
			continue // leave shard 2 empty
		}
		client, _ := fakeConnPair()
		seeds = append(seeds, newConn(client, uint32(i), nil, nil))
	}
	settings := basicSettings()
	settings.NumConnectionsPerHost = 4
	p := New("127.0.0.1", descriptor, seeds, listener, nil, nil, settings)
	defer p.Close()

	var tok int64 = 1234567890
	require.Equal(t, uint32(2), descriptor.ShardID(tok))

	got := p.FindLeastBusy(&tok)
	require.NotNil(t, got)
	assert.NotEqual(t, uint32(2), got.ShardID())
}

func TestPoolUpOnConstructionWithLiveSeeds(t *testing.T) {
	listener := newFakeListener()
	client, _ := fakeConnPair()
	seed := newConn(client, 0, nil, nil)

	settings := basicSettings()
	p := New("127.0.0.1", nil, []*Conn{seed}, listener, nil, nil, settings)
	defer p.Close()

	select {
	case <-listener.up:
	case <-time.After(time.Second):
		t.Fatal("expected OnPoolUp")
	}
	assert.Equal(t, NotifyUp, p.NotifyState())
}

func TestPoolCloseDuringReconnectCancelsAndReachesClosed(t *testing.T) {
	listener := newFakeListener()
	settings := basicSettings()
	settings.ReconnectBaseDelay = time.Hour // never fires before we cancel
	settings.ReconnectMaxDelay = time.Hour
	settings.ConnectSettings.Port = 1 // unroutable-ish, but delay means it never dials anyway

	p := New("127.0.0.1", nil, nil, listener, nil, nil, settings)
	p.Close()

	select {
	case <-listener.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnClose after closing a pool with only pending (delayed) reconnects")
	}
	assert.Equal(t, StateClosed, p.CloseState())
}

func TestWriteTriggersFlushWithoutDeadlockWhenListenerFlushesSynchronously(t *testing.T) {
	listener := newSyncFlushListener()
	client, server := fakeConnPair()
	seed := newConn(client, 0, nil, nil)

	settings := basicSettings()
	p := New("127.0.0.1", nil, []*Conn{seed}, listener, nil, nil, settings)
	defer p.Close()

	// The pipe's write blocks until this side reads, so the reader must
	// already be running when Write triggers the synchronous Flush.
	type readResult struct {
		data string
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 5)
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := server.Read(buf)
		readCh <- readResult{data: string(buf[:n]), err: err}
	}()

	seed.Write([]byte("hello"))

	select {
	case <-listener.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnRequiresFlush -> Flush deadlocked instead of completing")
	}

	res := <-readCh
	require.NoError(t, res.err)
	assert.Equal(t, "hello", res.data)
}

func TestIssueUseKeyspaceWritesUseFrame(t *testing.T) {
	listener := newSyncFlushListener()
	client, server := fakeConnPair()
	seed := newConn(client, 0, nil, nil)

	settings := basicSettings()
	p := New("127.0.0.1", nil, nil, listener, nil, nil, settings)
	defer p.Close()
	p.SetKeyspace("my_keyspace")

	var placed bool
	p.run(func() { placed = p.place(seed) })
	require.True(t, placed)

	// As above: the pipe's write blocks until this side reads.
	type readResult struct {
		frame *codec.Frame
		err   error
	}
	readCh := make(chan readResult, 1)
	go func() {
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		f, err := codec.ReadFrame(server)
		readCh <- readResult{frame: f, err: err}
	}()

	p.issueUseKeyspace(seed)

	select {
	case <-listener.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnRequiresFlush after issuing USE keyspace")
	}

	res := <-readCh
	frame, err := res.frame, res.err
	require.NoError(t, err)
	assert.Equal(t, codec.OpQuery, frame.Header.Opcode)
	assert.Equal(t, "USE my_keyspace", decodeQueryText(t, frame.Body))
}

// decodeQueryText pulls the [long string] query text back out of a QUERY
// body for assertion purposes; codec's own decoder for this shape is
// unexported since real value-bound QUERY bodies are out of this package's
// scope.
func decodeQueryText(t *testing.T, body []byte) string {
	t.Helper()
	require.GreaterOrEqual(t, len(body), 4)
	n := binary.BigEndian.Uint32(body[:4])
	require.GreaterOrEqual(t, uint32(len(body)-4), n)
	return string(body[4 : 4+n])
}

func TestPoolClosingAllSeedConnectionsReachesClosed(t *testing.T) {
	listener := newFakeListener()
	client, _ := fakeConnPair()
	seed := newConn(client, 0, nil, nil)

	settings := basicSettings()
	settings.ReconnectBaseDelay = time.Hour
	settings.ReconnectMaxDelay = time.Hour
	p := New("127.0.0.1", nil, []*Conn{seed}, listener, nil, nil, settings)

	p.Close()

	select {
	case <-listener.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnClose")
	}
	assert.Equal(t, StateClosed, p.CloseState())
}

// countingSchedule counts calls for zeroDelayOnce's test below without
// pulling in dial's real jittered backoff math.
type countingSchedule struct{ calls int }

func (c *countingSchedule) NextDelay() time.Duration {
	c.calls++
	return time.Duration(c.calls) * time.Second
}

func TestZeroDelayOnceOnlyZeroesFirstCall(t *testing.T) {
	inner := &countingSchedule{}
	z := &zeroDelayOnce{inner: inner}

	assert.Equal(t, time.Duration(0), z.NextDelay())
	assert.Equal(t, 1, inner.calls, "first call must still advance the wrapped schedule")

	first := z.NextDelay()
	second := z.NextDelay()
	assert.NotZero(t, first, "later calls must defer to inner instead of staying zero forever")
	assert.NotZero(t, second)
	assert.NotEqual(t, first, second, "each later call should advance inner's own state")
}
