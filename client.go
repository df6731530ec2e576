package gocbmcx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/couchbase/gocbmcx/memdx"
)

const (
	DefaultPort        = 11211
	DefaultDialTimeout = 10 * time.Second
)

type ClientConfig struct {
	Address         string
	DialTimeout     time.Duration
	WriteBufferSize int

	// Authenticate is run against every new connection before it is used.
	Authenticate func(ctx context.Context, d memdx.Dispatcher) error
}

type ClientOptions struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// ReconnectBreaker overrides the circuit breaker settings used to hold back
	// reconnect attempts while the server keeps refusing connections.
	ReconnectBreaker *gobreaker.Settings
}

// Client is a synchronous memcached client over a single pipelined
// connection.  A lost connection is replaced on the next operation.
type Client struct {
	logger         *zap.Logger
	config         ClientConfig
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	breaker *gobreaker.CircuitBreaker[*clientConn]

	connectLock sync.Mutex
	lock        sync.Mutex
	conn        *clientConn

	pendingOperations atomic.Int64
	closed            atomic.Bool
}

type clientConn struct {
	cli   *memdx.Client
	telem *clientTelem
}

func defaultReconnectBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "gocbmcx-reconnect",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// NewClient connects to config.Address and returns once the connection is
// ready for use.
func NewClient(ctx context.Context, config *ClientConfig, opts *ClientOptions) (*Client, error) {
	if config == nil || config.Address == "" {
		return nil, errors.New("an address must be specified")
	}
	if opts == nil {
		opts = &ClientOptions{}
	}

	logger := loggerOrNop(opts.Logger).With(
		zap.String("clientId", uuid.NewString()[:8]),
	)

	c := &Client{
		logger:         logger,
		config:         *config,
		tracerProvider: opts.TracerProvider,
		meterProvider:  opts.MeterProvider,
	}

	breakerSettings := defaultReconnectBreakerSettings()
	if opts.ReconnectBreaker != nil {
		breakerSettings = *opts.ReconnectBreaker
	}
	userStateChange := breakerSettings.OnStateChange
	breakerSettings.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
		logger.Info("reconnect breaker changed state",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))

		if userStateChange != nil {
			userStateChange(name, from, to)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker[*clientConn](breakerSettings)

	logger.Debug("id assigned for " + config.Address)

	_, err := c.getConn(ctx)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) currentConn() *clientConn {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn
}

func (c *Client) getConn(ctx context.Context) (*clientConn, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	if cc := c.currentConn(); cc != nil {
		return cc, nil
	}

	c.connectLock.Lock()
	defer c.connectLock.Unlock()

	if cc := c.currentConn(); cc != nil {
		return cc, nil
	}

	cc, err := c.breaker.Execute(func() (*clientConn, error) {
		return c.connect(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, pkgerrors.Wrapf(ErrReconnectBlocked, "connecting to %s", c.config.Address)
		}
		return nil, err
	}

	c.lock.Lock()
	if c.closed.Load() {
		c.lock.Unlock()
		_ = cc.cli.Close()
		return nil, ErrClientClosed
	}
	c.conn = cc
	c.lock.Unlock()

	return cc, nil
}

func (c *Client) connect(ctx context.Context) (*clientConn, error) {
	dialTimeout := c.config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	c.logger.Debug("connecting", zap.String("address", c.config.Address))

	conn, err := memdx.DialConn(connectCtx, c.config.Address, &memdx.DialConnOptions{
		WriteBufferSize: c.config.WriteBufferSize,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to %s", c.config.Address)
	}

	cc := &clientConn{}
	cc.cli = memdx.NewClient(conn, &memdx.ClientOptions{
		CloseHandler: func(err error) {
			c.handleConnClose(cc, err)
		},
		Logger: c.logger,
	})
	cc.telem = newClientTelem(c.tracerProvider, c.meterProvider, cc.cli.LocalAddr(), cc.cli.RemoteAddr())

	if c.config.Authenticate != nil {
		err := c.config.Authenticate(connectCtx, cc.cli)
		if err != nil {
			_ = cc.cli.Close()
			return nil, pkgerrors.Wrapf(err, "failed to authenticate to %s", c.config.Address)
		}
	}

	c.logger.Debug("connected",
		zap.Stringer("localAddr", cc.cli.LocalAddr()),
		zap.Stringer("remoteAddr", cc.cli.RemoteAddr()))

	return cc, nil
}

func (c *Client) handleConnClose(cc *clientConn, err error) {
	c.lock.Lock()
	lost := c.conn == cc
	if lost {
		c.conn = nil
	}
	c.lock.Unlock()

	if lost && !c.closed.Load() {
		c.logger.Warn("connection lost, will reconnect on next operation", zap.Error(err))
	}
}

// invalidateConn drops cc so that the next operation dials a new connection.
func (c *Client) invalidateConn(cc *clientConn) {
	c.lock.Lock()
	if c.conn == cc {
		c.conn = nil
	}
	c.lock.Unlock()

	_ = cc.cli.Close()
}

// PendingOperations returns the number of operations currently waiting on a
// response.
func (c *Client) PendingOperations() int64 {
	return c.pendingOperations.Load()
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.lock.Lock()
	cc := c.conn
	c.conn = nil
	c.lock.Unlock()

	if cc == nil {
		return nil
	}

	return cc.cli.Close()
}
