package gocbmcx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/couchbase/gocbmcx/memdx"
	"github.com/couchbase/gocbmcx/testutils"
	"github.com/couchbase/gocbmcx/testutils/memdserver"
)

func startTestServer(t *testing.T) *memdserver.Server {
	srv, err := memdserver.Start(&memdserver.Options{
		Logger: testutils.MakeTestLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
	})

	return srv
}

func newTestClient(t *testing.T, addr string, opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = testutils.MakeTestLogger(t)
	}

	cli, err := NewClient(context.Background(), &ClientConfig{
		Address:     addr,
		DialTimeout: 2 * time.Second,
	}, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cli.Close()
	})

	return cli
}

func TestClientBasicOps(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)
	ctx := context.Background()
	key := testutils.MakeTestKey(t, "basic")

	_, found, err := cli.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	stored, err := cli.Set(ctx, key, []byte("bar"), 0)
	require.NoError(t, err)
	assert.True(t, stored)

	value, found, err := cli.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("bar"), value)

	_, err = cli.Add(ctx, key, []byte("baz"), 0)
	assert.ErrorIs(t, err, ErrKeyExists)

	stored, err = cli.Replace(ctx, key, []byte("baz"), 0)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = cli.Append(ctx, key, []byte("-tail"))
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = cli.Prepend(ctx, key, []byte("head-"))
	require.NoError(t, err)
	assert.True(t, stored)

	value, _, err = cli.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("head-baz-tail"), value)

	deleted, err := cli.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = cli.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, deleted)

	stored, err = cli.Replace(ctx, key, []byte("nope"), 0)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestClientCounters(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)
	ctx := context.Background()
	key := testutils.MakeTestKey(t, "counter")

	// a missing counter is created with the initial value
	val, found, err := cli.Increment(ctx, key, 10, 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(1), val)

	val, _, err = cli.Increment(ctx, key, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), val)

	val, _, err = cli.Decrement(ctx, key, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), val)

	val, _, err = cli.Decrement(ctx, key, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), val)

	textKey := testutils.MakeTestKey(t, "text")
	_, err = cli.Set(ctx, textKey, []byte("hello"), 0)
	require.NoError(t, err)

	_, _, err = cli.Increment(ctx, textKey, 1, 0)
	assert.ErrorIs(t, err, ErrBadDelta)
}

func TestClientFlushAndStats(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cli.Set(ctx, testutils.MakeTestKey(t, fmt.Sprintf("item-%d", i)), []byte("v"), 0)
		require.NoError(t, err)
	}

	stats, err := cli.GeneralStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.PidParsed)
	assert.True(t, stats.CurrItemsParsed)
	assert.Equal(t, uint64(3), stats.CurrItems)
	assert.Equal(t, memdserver.DefaultVersion, stats.Version)

	entries, err := cli.Stats(ctx, "items")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, memdx.StatsEntry{Key: "items:1:number", Value: "3"}, entries[0])

	entries, err = cli.Stats(ctx, "no-such-group")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, cli.Flush(ctx, 0))

	stats, err = cli.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.CurrItems)
}

func TestClientVersionAndNoop(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)
	ctx := context.Background()

	require.NoError(t, cli.Noop(ctx))

	version, err := cli.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, memdserver.DefaultVersion, version)

	serverVersion, err := cli.ServerVersion(ctx)
	require.NoError(t, err)
	assert.True(t, serverVersion.AtLeast("1.6.0"))
}

func TestClientReconnectsAfterConnectionLoss(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)
	ctx := context.Background()
	key := testutils.MakeTestKey(t, "reconnect")

	_, err := cli.Set(ctx, key, []byte("before"), 0)
	require.NoError(t, err)

	oldConn := cli.currentConn()
	require.NotNil(t, oldConn)

	require.NoError(t, srv.CloseConnections())

	require.Eventually(t, func() bool {
		return cli.currentConn() == nil
	}, 5*time.Second, 10*time.Millisecond)

	value, found, err := cli.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("before"), value)

	assert.NotSame(t, oldConn, cli.currentConn())
}

func TestClientRetriesDispatchOnDeadConnection(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)
	ctx := context.Background()

	// close the underlying client without the wrapper noticing, so the next
	// dispatch fails before anything is written
	cc := cli.currentConn()
	require.NotNil(t, cc)
	cli.lock.Lock()
	cli.conn = &clientConn{cli: cc.cli, telem: cc.telem}
	cli.lock.Unlock()
	require.NoError(t, cc.cli.Close())

	require.NoError(t, cli.Noop(ctx))
}

func TestClientReconnectBreaker(t *testing.T) {
	srv := startTestServer(t)

	var stateChanges []gobreaker.State
	cli := newTestClient(t, srv.Addr(), &ClientOptions{
		ReconnectBreaker: &gobreaker.Settings{
			Name:        "test-breaker",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				stateChanges = append(stateChanges, to)
			},
		},
	})
	ctx := context.Background()

	require.NoError(t, srv.Close())
	require.Eventually(t, func() bool {
		return cli.currentConn() == nil
	}, 5*time.Second, 10*time.Millisecond)

	err := cli.Noop(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReconnectBlocked)

	err = cli.Noop(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReconnectBlocked)

	err = cli.Noop(ctx)
	assert.ErrorIs(t, err, ErrReconnectBlocked)

	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, stateChanges)
}

func TestClientAuthenticateHook(t *testing.T) {
	srv := startTestServer(t)

	var numAuths int
	authenticate := func(ctx context.Context, d memdx.Dispatcher) error {
		numAuths++
		_, err := memdx.OpsKv{}.Noop(d, &memdx.NoopRequest{}, func(resp *memdx.NoopResponse, err error) {})
		return err
	}

	cli, err := NewClient(context.Background(), &ClientConfig{
		Address:      srv.Addr(),
		Authenticate: authenticate,
	}, &ClientOptions{
		Logger: testutils.MakeTestLogger(t),
	})
	require.NoError(t, err)
	defer cli.Close()

	assert.Equal(t, 1, numAuths)

	require.NoError(t, srv.CloseConnections())
	require.Eventually(t, func() bool {
		return cli.currentConn() == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, cli.Noop(context.Background()))
	assert.Equal(t, 2, numAuths)
}

func TestClientAuthenticateFailure(t *testing.T) {
	srv := startTestServer(t)

	authErr := errors.New("bad credentials")
	_, err := NewClient(context.Background(), &ClientConfig{
		Address: srv.Addr(),
		Authenticate: func(ctx context.Context, d memdx.Dispatcher) error {
			return authErr
		},
	}, &ClientOptions{
		Logger: testutils.MakeTestLogger(t),
	})
	assert.ErrorIs(t, err, authErr)

	require.Eventually(t, func() bool {
		return srv.NumConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClientConnectFailure(t *testing.T) {
	srv := startTestServer(t)
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	_, err := NewClient(context.Background(), &ClientConfig{
		Address:     addr,
		DialTimeout: time.Second,
	}, nil)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), &ClientConfig{}, nil)
	assert.Error(t, err)
}

func TestClientClosed(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)

	require.NoError(t, cli.Close())
	assert.ErrorIs(t, cli.Close(), ErrClientClosed)

	_, _, err := cli.Get(context.Background(), []byte("foo"))
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClientContextCancelled(t *testing.T) {
	srv := startTestServer(t)
	cli := newTestClient(t, srv.Addr(), nil)

	// swallow the request so the operation can only finish by cancellation
	srv.SetHandler(memdx.OpCodeNoop, func(req *memdx.Packet) []*memdx.Packet {
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := cli.Noop(ctx)
	assert.ErrorIs(t, err, memdx.ErrRequestCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), cli.PendingOperations())
}

func TestClientTelemetry(t *testing.T) {
	srv := startTestServer(t)

	spanRecorder := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	defer func() {
		_ = tracerProvider.Shutdown(context.Background())
	}()

	cli := newTestClient(t, srv.Addr(), &ClientOptions{
		TracerProvider: tracerProvider,
		MeterProvider:  metricnoop.NewMeterProvider(),
	})
	ctx := context.Background()

	require.NoError(t, cli.Noop(ctx))

	_, err := cli.Add(ctx, []byte("telem"), []byte("v"), 0)
	require.NoError(t, err)
	_, err = cli.Add(ctx, []byte("telem"), []byte("v"), 0)
	require.Error(t, err)

	spans := spanRecorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "memcached/NOOP", spans[0].Name())
	assert.Equal(t, "memcached/ADD", spans[1].Name())
	assert.Equal(t, "memcached/ADD", spans[2].Name())

	spanEventNames := func(span sdktrace.ReadOnlySpan) []string {
		var names []string
		for _, event := range span.Events() {
			names = append(names, event.Name)
		}
		return names
	}

	// the response can be handled before the send is marked
	assert.ElementsMatch(t, []string{"SENT", "RECEIVED"}, spanEventNames(spans[0]))
	assert.ElementsMatch(t, []string{"SENT", "RECEIVED", "exception"}, spanEventNames(spans[2]))
}
