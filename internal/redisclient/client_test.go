package redisclient

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"cart-service/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	c := NewClient(Options{
		Addr:           addr,
		DialTimeout:    200 * time.Millisecond,
		CommandTimeout: 200 * time.Millisecond,
		ConnectWait:    2 * time.Second,
		MaxBackoff:     50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnBecomesReady(t *testing.T) {
	s := miniredis.RunT(t)
	c := newTestClient(t, s.Addr())

	assert.Equal(t, StateDisconnected, c.State())

	rdb, err := c.Conn(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rdb)
	assert.Equal(t, StateReady, c.State())

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnAfterCloseFails(t *testing.T) {
	s := miniredis.RunT(t)
	c := newTestClient(t, s.Addr())

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	_, err := c.Conn(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close())
}

func TestConnWaitTimesOut(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	c := NewClient(Options{
		Addr:        addr,
		DialTimeout: 50 * time.Millisecond,
		ConnectWait: 100 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	})
	defer c.Close()

	start := time.Now()
	_, err := c.Conn(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotEqual(t, StateReady, c.State())
}

func TestConnRespectsCallerContext(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	c := newTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Conn(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconnectAfterServerRestart(t *testing.T) {
	s := miniredis.RunT(t)
	c := newTestClient(t, s.Addr())

	_, err := c.Conn(context.Background())
	require.NoError(t, err)

	s.Close()
	err = c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())

	require.NoError(t, s.Restart())

	require.Eventually(t, func() bool {
		return c.Ping(context.Background()) == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, StateReady, c.State())
}

func TestMarkBrokenIgnoresNonConnectionErrors(t *testing.T) {
	s := miniredis.RunT(t)
	c := newTestClient(t, s.Addr())
	_, err := c.Conn(context.Background())
	require.NoError(t, err)

	assert.False(t, c.MarkBroken(redis.Nil))
	assert.False(t, c.MarkBroken(errors.New("WRONGTYPE")))
	assert.Equal(t, StateReady, c.State())

	assert.True(t, c.MarkBroken(io.EOF))
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.MarkBroken(io.EOF))
}

func TestIsConnError(t *testing.T) {
	assert.True(t, IsConnError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, IsConnError(redis.ErrClosed))
	assert.False(t, IsConnError(nil))
	assert.False(t, IsConnError(redis.Nil))
}

// tcpRelay forwards connections to a target and counts how many it accepted.
// While down it drops live connections and closes new ones at once.
type tcpRelay struct {
	ln     net.Listener
	target string

	mu    sync.Mutex
	dials int
	down  bool
	conns []net.Conn
}

func newTCPRelay(t *testing.T, target string) *tcpRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &tcpRelay{ln: ln, target: target}
	go r.serve()
	t.Cleanup(func() {
		_ = r.ln.Close()
		r.SetDown(true)
	})
	return r
}

func (r *tcpRelay) Addr() string { return r.ln.Addr().String() }

func (r *tcpRelay) Dials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func (r *tcpRelay) SetDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
	if down {
		for _, c := range r.conns {
			_ = c.Close()
		}
		r.conns = nil
	}
}

func (r *tcpRelay) serve() {
	for {
		in, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.dials++
		down := r.down
		r.mu.Unlock()
		if down {
			_ = in.Close()
			continue
		}

		out, err := net.Dial("tcp", r.target)
		if err != nil {
			_ = in.Close()
			continue
		}
		r.mu.Lock()
		r.conns = append(r.conns, in, out)
		r.mu.Unlock()

		go func() {
			_, _ = io.Copy(out, in)
			_ = out.Close()
		}()
		go func() {
			_, _ = io.Copy(in, out)
			_ = in.Close()
		}()
	}
}

func TestConcurrentFirstCallersShareOneConnect(t *testing.T) {
	s := miniredis.RunT(t)
	relay := newTCPRelay(t, s.Addr())
	c := newTestClient(t, relay.Addr())

	cyclesBefore := testutil.ToFloat64(util.RedisConnectCyclesTotal)

	const callers = 50
	start := make(chan struct{})
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Conn(context.Background())
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, relay.Dials(), "one handshake reaches the server")
	assert.Equal(t, 1.0, testutil.ToFloat64(util.RedisConnectCyclesTotal)-cyclesBefore)
}

func TestPingAndConnJoinSameReconnect(t *testing.T) {
	s := miniredis.RunT(t)
	relay := newTCPRelay(t, s.Addr())
	c := NewClient(Options{
		Addr:           relay.Addr(),
		DialTimeout:    200 * time.Millisecond,
		CommandTimeout: 200 * time.Millisecond,
		ConnectWait:    5 * time.Second,
		MaxBackoff:     50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Conn(context.Background())
	require.NoError(t, err)

	relay.SetDown(true)
	require.True(t, c.MarkBroken(io.EOF))

	cyclesBefore := testutil.ToFloat64(util.RedisConnectCyclesTotal)

	pingErr := make(chan error, 1)
	connErr := make(chan error, 1)
	go func() { pingErr <- c.Ping(context.Background()) }()
	go func() {
		_, err := c.Conn(context.Background())
		connErr <- err
	}()

	require.Eventually(t, func() bool {
		return c.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	relay.SetDown(false)

	require.NoError(t, <-pingErr)
	require.NoError(t, <-connErr)
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(util.RedisConnectCyclesTotal)-cyclesBefore)
}
