package memdx

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opResult[T any] struct {
	Resp T
	Err  error
	N    int
}

func captureResult[T any](res *opResult[T]) func(T, error) {
	return func(resp T, err error) {
		res.Resp = resp
		res.Err = err
		res.N++
	}
}

func TestOpsKvSetEncoding(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*StoreResponse]
	_, err := OpsKv{}.Set(d, &SetRequest{
		Key:   []byte("foo"),
		Value: []byte("bar"),
	}, captureResult(&res))
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x80, 0x01, 0x00, 0x03, 0x08, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x0e, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0x00, 0x00,
		'f', 'o', 'o', 'b', 'a', 'r',
	}, d.frames[0])

	cmd, _ := d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{OpCode: OpCodeSet, Cas: 7}), nil)

	require.Equal(t, 1, res.N)
	require.NoError(t, res.Err)
	assert.Equal(t, &StoreResponse{Stored: true, Cas: 7}, res.Resp)
}

func TestOpsKvStoreOpCodes(t *testing.T) {
	d := &testDispatcher{}
	cb := func(*StoreResponse, error) {}

	_, err := OpsKv{}.Add(d, &AddRequest{Key: []byte("k"), Value: []byte("v"), Expiry: 30}, cb)
	require.NoError(t, err)
	_, pak := d.last(t)
	assert.Equal(t, OpCodeAdd, pak.OpCode)
	assert.Equal(t, uint8(0x02), uint8(pak.OpCode))
	extras, err := DecodeStoreExtras(pak.Extras)
	require.NoError(t, err)
	assert.Equal(t, StoreExtras{Flags: DefaultStoreFlags, Expiry: 30}, extras)

	_, err = OpsKv{}.Replace(d, &ReplaceRequest{Key: []byte("k"), Value: []byte("v")}, cb)
	require.NoError(t, err)
	_, pak = d.last(t)
	assert.Equal(t, OpCodeReplace, pak.OpCode)
	assert.Len(t, pak.Extras, 8)

	_, err = OpsKv{}.Append(d, &AppendRequest{Key: []byte("k"), Value: []byte("tail")}, cb)
	require.NoError(t, err)
	_, pak = d.last(t)
	assert.Equal(t, OpCodeAppend, pak.OpCode)
	assert.Nil(t, pak.Extras)
	assert.Equal(t, []byte("tail"), pak.Value)

	_, err = OpsKv{}.Prepend(d, &PrependRequest{Key: []byte("k"), Value: []byte("head")}, cb)
	require.NoError(t, err)
	_, pak = d.last(t)
	assert.Equal(t, OpCodePrepend, pak.OpCode)
	assert.Nil(t, pak.Extras)
}

func TestOpsKvStoreNegative(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*StoreResponse]
	_, err := OpsKv{}.Replace(d, &ReplaceRequest{Key: []byte("missing")}, captureResult(&res))
	require.NoError(t, err)

	cmd, _ := d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeReplace,
		Status: StatusKeyNotFound,
	}), nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Resp.Stored)
}

func TestOpsKvGet(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*GetResponse]
	_, err := OpsKv{}.Get(d, &GetRequest{Key: []byte("foo")}, captureResult(&res))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, OpCodeGet, pak.OpCode)
	assert.Equal(t, []byte("foo"), pak.Key)
	assert.Nil(t, pak.Extras)
	assert.Nil(t, pak.Value)

	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeGet,
		Extras: []byte{0xde, 0xad, 0xbe, 0xef},
		Value:  []byte("bar"),
	}), nil)

	require.NoError(t, res.Err)
	assert.Equal(t, &GetResponse{
		Found: true,
		Flags: DefaultStoreFlags,
		Value: []byte("bar"),
	}, res.Resp)
}

func TestOpsKvGetMissing(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*GetResponse]
	_, err := OpsKv{}.Get(d, &GetRequest{Key: []byte("foo")}, captureResult(&res))
	require.NoError(t, err)

	cmd, _ := d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeGet,
		Status: StatusKeyNotFound,
		Value:  []byte("Not found"),
	}), nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Resp.Found)
	assert.Nil(t, res.Resp.Value)
}

func TestOpsKvGetBadExtras(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*GetResponse]
	_, err := OpsKv{}.Get(d, &GetRequest{Key: []byte("foo")}, captureResult(&res))
	require.NoError(t, err)

	cmd, _ := d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeGet,
		Value:  []byte("bar"),
	}), nil)

	assert.ErrorIs(t, res.Err, ErrProtocol)
}

func TestOpsKvDelete(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*DeleteResponse]
	_, err := OpsKv{}.Delete(d, &DeleteRequest{Key: []byte("foo")}, captureResult(&res))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, OpCodeDelete, pak.OpCode)
	assert.Nil(t, pak.Extras)

	cmd.Resolve(makeResponseFrame(t, &Packet{OpCode: OpCodeDelete}), nil)
	require.NoError(t, res.Err)
	assert.True(t, res.Resp.Deleted)

	_, err = OpsKv{}.Delete(d, &DeleteRequest{Key: []byte("foo")}, captureResult(&res))
	require.NoError(t, err)

	cmd, _ = d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{OpCode: OpCodeDelete, Status: StatusKeyNotFound}), nil)
	require.NoError(t, res.Err)
	assert.False(t, res.Resp.Deleted)
}

func TestOpsKvIncrement(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*CounterResponse]
	_, err := OpsKv{}.Increment(d, &IncrementRequest{
		Key:   []byte("counter"),
		Delta: 4,
	}, captureResult(&res))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, OpCodeIncrement, pak.OpCode)
	extras, err := DecodeCounterExtras(pak.Extras)
	require.NoError(t, err)
	assert.Equal(t, CounterExtras{Delta: 4, Initial: 1, Expiry: 0}, extras)

	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeIncrement,
		Value:  binary.BigEndian.AppendUint64(nil, 5),
	}), nil)

	require.NoError(t, res.Err)
	assert.Equal(t, &CounterResponse{Found: true, Value: 5}, res.Resp)
}

func TestOpsKvDecrementNegative(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*CounterResponse]
	_, err := OpsKv{}.Decrement(d, &DecrementRequest{
		Key:    []byte("counter"),
		Delta:  1,
		Expiry: 60,
	}, captureResult(&res))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, OpCodeDecrement, pak.OpCode)
	assert.Equal(t, uint32(60), binary.BigEndian.Uint32(pak.Extras[16:]))

	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeDecrement,
		Status: StatusKeyNotFound,
	}), nil)

	require.NoError(t, res.Err)
	assert.Equal(t, &CounterResponse{}, res.Resp)
}

func TestOpsKvCounterBadValue(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*CounterResponse]
	_, err := OpsKv{}.Increment(d, &IncrementRequest{Key: []byte("counter"), Delta: 1}, captureResult(&res))
	require.NoError(t, err)

	cmd, _ := d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeIncrement,
		Value:  []byte{0x05},
	}), nil)

	assert.ErrorIs(t, res.Err, ErrProtocol)
}

func TestOpsKvCounterBadDelta(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*CounterResponse]
	_, err := OpsKv{}.Increment(d, &IncrementRequest{Key: []byte("text"), Delta: 1}, captureResult(&res))
	require.NoError(t, err)

	cmd, _ := d.last(t)
	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeIncrement,
		Status: StatusBadDelta,
		Value:  []byte("Non-numeric server-side value for incr or decr"),
	}), nil)

	assert.ErrorIs(t, res.Err, ErrBadDelta)
	assert.Nil(t, res.Resp)
}

func TestOpsKvFlushExtras(t *testing.T) {
	d := &testDispatcher{}
	cb := func(*FlushResponse, error) {}

	_, err := OpsKv{}.Flush(d, &FlushRequest{}, cb)
	require.NoError(t, err)
	_, pak := d.last(t)
	assert.Equal(t, OpCodeFlush, pak.OpCode)
	assert.Nil(t, pak.Extras)
	assert.Len(t, d.frames[0], HeaderLen)

	_, err = OpsKv{}.Flush(d, &FlushRequest{Expiry: 10}, cb)
	require.NoError(t, err)
	_, pak = d.last(t)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x0a}, pak.Extras)
}

func TestOpsKvNoopAndVersion(t *testing.T) {
	d := &testDispatcher{}

	var noopRes opResult[*NoopResponse]
	_, err := OpsKv{}.Noop(d, &NoopRequest{}, captureResult(&noopRes))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, OpCodeNoop, pak.OpCode)
	cmd.Resolve(makeResponseFrame(t, &Packet{OpCode: OpCodeNoop}), nil)
	require.NoError(t, noopRes.Err)
	assert.NotNil(t, noopRes.Resp)

	var versionRes opResult[*VersionResponse]
	_, err = OpsKv{}.Version(d, &VersionRequest{}, captureResult(&versionRes))
	require.NoError(t, err)

	cmd, pak = d.last(t)
	assert.Equal(t, OpCodeVersion, pak.OpCode)
	cmd.Resolve(makeResponseFrame(t, &Packet{OpCode: OpCodeVersion, Value: []byte("1.6.21")}), nil)
	require.NoError(t, versionRes.Err)
	assert.Equal(t, "1.6.21", versionRes.Resp.Version)
}

func TestOpsKvStats(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*StatsResponse]
	_, err := OpsKv{}.Stats(d, &StatsRequest{}, captureResult(&res))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, OpCodeStat, pak.OpCode)
	assert.Nil(t, pak.Key)

	cmd.Resolve(makeStatsFrame(t,
		StatsEntry{Key: "pid", Value: "123"},
		StatsEntry{Key: "version", Value: "1.6.21"},
	), nil)

	require.NoError(t, res.Err)
	assert.True(t, res.Resp.Found)
	assert.Equal(t, map[string]string{
		"pid":     "123",
		"version": "1.6.21",
	}, res.Resp.Map())
}

func TestOpsKvStatsGroup(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*StatsResponse]
	_, err := OpsKv{}.Stats(d, &StatsRequest{GroupName: "items"}, captureResult(&res))
	require.NoError(t, err)

	cmd, pak := d.last(t)
	assert.Equal(t, []byte("items"), pak.Key)

	cmd.Resolve(makeResponseFrame(t, &Packet{
		OpCode: OpCodeStat,
		Status: StatusKeyNotFound,
	}), nil)

	require.NoError(t, res.Err)
	assert.False(t, res.Resp.Found)
	assert.Empty(t, res.Resp.Entries)
}

func TestOpsKvDispatchError(t *testing.T) {
	expectedErr := errors.New("dispatch failed")
	d := &testDispatcher{err: expectedErr}

	var res opResult[*GetResponse]
	op, err := OpsKv{}.Get(d, &GetRequest{Key: []byte("foo")}, captureResult(&res))
	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, op)
	assert.Equal(t, 0, res.N)
}

func TestOpsKvCancel(t *testing.T) {
	d := &testDispatcher{}

	var res opResult[*GetResponse]
	op, err := OpsKv{}.Get(d, &GetRequest{Key: []byte("foo")}, captureResult(&res))
	require.NoError(t, err)

	expectedErr := errors.New("gave up")
	assert.True(t, op.Cancel(expectedErr))

	require.Equal(t, 1, res.N)
	assert.ErrorIs(t, res.Err, ErrRequestCancelled)
	assert.ErrorIs(t, res.Err, expectedErr)
}

func TestOpsKvSyncHelper(t *testing.T) {
	d := &autoRespondDispatcher{
		respond: func(cmd *Command) []byte {
			return makeResponseFrame(t, &Packet{
				OpCode: OpCodeVersion,
				Value:  []byte("1.4.5"),
			})
		},
	}

	resp, err := syncUnaryCall(OpsKv{}, OpsKv.Version, d, &VersionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "1.4.5", resp.Version)
}

// autoRespondDispatcher resolves every command immediately with a canned frame.
type autoRespondDispatcher struct {
	respond func(cmd *Command) []byte
}

func (d *autoRespondDispatcher) Dispatch(cmd *Command) error {
	_, err := cmd.Encode()
	if err != nil {
		return err
	}

	cmd.Resolve(d.respond(cmd), nil)
	return nil
}
