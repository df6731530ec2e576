package gocbmcx

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/couchbase/gocbmcx/memdx"
)

type syncCallResult struct {
	Result interface{}
	Err    error
}

type syncCallResulter struct {
	Ch chan syncCallResult
}

var syncCallResulterPool sync.Pool

func allocSyncCallResulter() *syncCallResulter {
	resulter := syncCallResulterPool.Get()
	if resulter == nil {
		return &syncCallResulter{
			Ch: make(chan syncCallResult, 1),
		}
	}
	return resulter.(*syncCallResulter)
}

func releaseSyncCallResulter(v *syncCallResulter) {
	syncCallResulterPool.Put(v)
}

func clientConn_SimpleCall[Encoder any, ReqT memdx.OpRequest, RespT any](
	ctx context.Context,
	cc *clientConn,
	o Encoder,
	execFn func(o Encoder, d memdx.Dispatcher, req ReqT, cb func(RespT, error)) (memdx.PendingOp, error),
	req ReqT,
) (RespT, error) {
	ctx, telemOp := cc.telem.BeginOp(ctx, req.OpName())

	resulter := allocSyncCallResulter()

	pendingOp, err := execFn(o, cc.cli, req, func(resp RespT, err error) {
		telemOp.MarkReceived()

		resulter.Ch <- syncCallResult{
			Result: resp,
			Err:    err,
		}
	})
	if err != nil {
		releaseSyncCallResulter(resulter)
		telemOp.End(ctx, err)

		if errors.Is(err, memdx.ErrDispatch) {
			err = &ClientDispatchError{err}
		}

		var emptyResp RespT
		return emptyResp, err
	}

	telemOp.MarkSent()

	select {
	case res := <-resulter.Ch:
		releaseSyncCallResulter(resulter)
		telemOp.End(ctx, res.Err)

		return res.Result.(RespT), res.Err
	case <-ctx.Done():
		pendingOp.Cancel(ctx.Err())
		res := <-resulter.Ch

		releaseSyncCallResulter(resulter)
		telemOp.End(ctx, ctx.Err())

		return res.Result.(RespT), res.Err
	}
}

func client_SimpleCall[ReqT memdx.OpRequest, RespT any](
	ctx context.Context,
	c *Client,
	execFn func(o memdx.OpsKv, d memdx.Dispatcher, req ReqT, cb func(RespT, error)) (memdx.PendingOp, error),
	req ReqT,
) (RespT, error) {
	c.pendingOperations.Inc()
	defer c.pendingOperations.Dec()

	for attempt := 0; ; attempt++ {
		cc, err := c.getConn(ctx)
		if err != nil {
			var emptyResp RespT
			return emptyResp, err
		}

		resp, err := clientConn_SimpleCall(ctx, cc, memdx.OpsKv{}, execFn, req)
		if err != nil && attempt == 0 && !c.closed.Load() {
			var dispatchErr *ClientDispatchError
			if errors.As(err, &dispatchErr) {
				// nothing was written, so the request can go out on a new
				// connection
				c.logger.Debug("retrying operation on a new connection",
					zap.String("opName", req.OpName()),
					zap.Error(err))
				c.invalidateConn(cc)
				continue
			}
		}

		return resp, err
	}
}

// Get returns the value stored under key.  found is false when the key does
// not exist, which is not an error.
func (c *Client) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Get, &memdx.GetRequest{
		Key: key,
	})
	if err != nil {
		return nil, false, err
	}

	return resp.Value, resp.Found, nil
}

// Set stores value under key unconditionally.
func (c *Client) Set(ctx context.Context, key []byte, value []byte, expiry uint32) (bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Set, &memdx.SetRequest{
		Key:    key,
		Value:  value,
		Expiry: expiry,
	})
	if err != nil {
		return false, err
	}

	return resp.Stored, nil
}

// Add stores value only if key does not exist yet.  An existing key fails with
// ErrKeyExists.
func (c *Client) Add(ctx context.Context, key []byte, value []byte, expiry uint32) (bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Add, &memdx.AddRequest{
		Key:    key,
		Value:  value,
		Expiry: expiry,
	})
	if err != nil {
		return false, err
	}

	return resp.Stored, nil
}

// Replace stores value only if key already exists.  It returns false when the
// key is missing.
func (c *Client) Replace(ctx context.Context, key []byte, value []byte, expiry uint32) (bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Replace, &memdx.ReplaceRequest{
		Key:    key,
		Value:  value,
		Expiry: expiry,
	})
	if err != nil {
		return false, err
	}

	return resp.Stored, nil
}

func (c *Client) Append(ctx context.Context, key []byte, value []byte) (bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Append, &memdx.AppendRequest{
		Key:   key,
		Value: value,
	})
	if err != nil {
		return false, err
	}

	return resp.Stored, nil
}

func (c *Client) Prepend(ctx context.Context, key []byte, value []byte) (bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Prepend, &memdx.PrependRequest{
		Key:   key,
		Value: value,
	})
	if err != nil {
		return false, err
	}

	return resp.Stored, nil
}

// Delete removes key, returning false if it did not exist.
func (c *Client) Delete(ctx context.Context, key []byte) (bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Delete, &memdx.DeleteRequest{
		Key: key,
	})
	if err != nil {
		return false, err
	}

	return resp.Deleted, nil
}

// Increment adds amount to the counter stored under key and returns the new
// value.  A missing key is created with an initial value of 1.
func (c *Client) Increment(ctx context.Context, key []byte, amount uint64, expiry uint32) (uint64, bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Increment, &memdx.IncrementRequest{
		Key:    key,
		Delta:  amount,
		Expiry: expiry,
	})
	if err != nil {
		return 0, false, err
	}

	return resp.Value, resp.Found, nil
}

// Decrement subtracts amount from the counter stored under key, stopping at 0.
func (c *Client) Decrement(ctx context.Context, key []byte, amount uint64, expiry uint32) (uint64, bool, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Decrement, &memdx.DecrementRequest{
		Key:    key,
		Delta:  amount,
		Expiry: expiry,
	})
	if err != nil {
		return 0, false, err
	}

	return resp.Value, resp.Found, nil
}

// Flush invalidates every item on the server, after expiry seconds when
// expiry is non-zero.
func (c *Client) Flush(ctx context.Context, expiry uint32) error {
	_, err := client_SimpleCall(ctx, c, memdx.OpsKv.Flush, &memdx.FlushRequest{
		Expiry: expiry,
	})
	return err
}

func (c *Client) Noop(ctx context.Context) error {
	_, err := client_SimpleCall(ctx, c, memdx.OpsKv.Noop, &memdx.NoopRequest{})
	return err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Version, &memdx.VersionRequest{})
	if err != nil {
		return "", err
	}

	return resp.Version, nil
}

func (c *Client) ServerVersion(ctx context.Context) (ServerVersion, error) {
	version, err := c.Version(ctx)
	if err != nil {
		return ServerVersion{}, err
	}

	return ParseServerVersion(version)
}

// Stats returns the statistics for group, or the general statistics when
// group is empty.  An unknown group returns no entries.
func (c *Client) Stats(ctx context.Context, group string) ([]memdx.StatsEntry, error) {
	resp, err := client_SimpleCall(ctx, c, memdx.OpsKv.Stats, &memdx.StatsRequest{
		GroupName: group,
	})
	if err != nil {
		return nil, err
	}

	return resp.Entries, nil
}

// GeneralStats returns the general statistics in their typed form.
func (c *Client) GeneralStats(ctx context.Context) (*memdx.GeneralStatsParser, error) {
	entries, err := c.Stats(ctx, "")
	if err != nil {
		return nil, err
	}

	parser := &memdx.GeneralStatsParser{}
	memdx.ParseStatsEntries(entries, parser)
	return parser, nil
}
