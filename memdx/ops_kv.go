package memdx

import (
	"encoding/binary"
)

// OpRequest is implemented by every typed request so callers can name the
// operation in logs and traces.
type OpRequest interface {
	OpName() string
}

type OpsKv struct {
}

func (o OpsKv) dispatch(d Dispatcher, req *Request, cb func(*Response, error)) (PendingOp, error) {
	cmd := NewCommand(req, cb)

	err := d.Dispatch(cmd)
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

type GetRequest struct {
	Key []byte
}

func (r GetRequest) OpName() string { return OpCodeGet.String() }

type GetResponse struct {
	Found bool
	Flags uint32
	Value []byte
}

func (o OpsKv) Get(d Dispatcher, req *GetRequest, cb func(*GetResponse, error)) (PendingOp, error) {
	return o.dispatch(d, &Request{
		OpCode: OpCodeGet,
		Key:    req.Key,
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		if resp.Negative() {
			cb(&GetResponse{}, nil)
			return
		}

		if len(resp.Extras) != 4 {
			cb(nil, protocolError{"invalid get extras length"})
			return
		}

		cb(&GetResponse{
			Found: true,
			Flags: binary.BigEndian.Uint32(resp.Extras),
			Value: resp.Value,
		}, nil)
	})
}

// StoreResponse is the result of set, add, replace, append and prepend.
// Stored is false when the server declined to store the value because the
// key did or did not exist.
type StoreResponse struct {
	Stored bool
	Cas    uint64
}

func (o OpsKv) store(d Dispatcher, req *Request, cb func(*StoreResponse, error)) (PendingOp, error) {
	return o.dispatch(d, req, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		if resp.Negative() {
			cb(&StoreResponse{}, nil)
			return
		}

		cb(&StoreResponse{
			Stored: true,
			Cas:    resp.Cas,
		}, nil)
	})
}

type SetRequest struct {
	Key    []byte
	Value  []byte
	Expiry uint32
}

func (r SetRequest) OpName() string { return OpCodeSet.String() }

func (o OpsKv) Set(d Dispatcher, req *SetRequest, cb func(*StoreResponse, error)) (PendingOp, error) {
	return o.store(d, &Request{
		OpCode: OpCodeSet,
		Key:    req.Key,
		Value:  req.Value,
		Extras: StoreExtras{
			Flags:  DefaultStoreFlags,
			Expiry: req.Expiry,
		},
	}, cb)
}

type AddRequest struct {
	Key    []byte
	Value  []byte
	Expiry uint32
}

func (r AddRequest) OpName() string { return OpCodeAdd.String() }

func (o OpsKv) Add(d Dispatcher, req *AddRequest, cb func(*StoreResponse, error)) (PendingOp, error) {
	return o.store(d, &Request{
		OpCode: OpCodeAdd,
		Key:    req.Key,
		Value:  req.Value,
		Extras: StoreExtras{
			Flags:  DefaultStoreFlags,
			Expiry: req.Expiry,
		},
	}, cb)
}

type ReplaceRequest struct {
	Key    []byte
	Value  []byte
	Expiry uint32
}

func (r ReplaceRequest) OpName() string { return OpCodeReplace.String() }

func (o OpsKv) Replace(d Dispatcher, req *ReplaceRequest, cb func(*StoreResponse, error)) (PendingOp, error) {
	return o.store(d, &Request{
		OpCode: OpCodeReplace,
		Key:    req.Key,
		Value:  req.Value,
		Extras: StoreExtras{
			Flags:  DefaultStoreFlags,
			Expiry: req.Expiry,
		},
	}, cb)
}

type AppendRequest struct {
	Key   []byte
	Value []byte
}

func (r AppendRequest) OpName() string { return OpCodeAppend.String() }

func (o OpsKv) Append(d Dispatcher, req *AppendRequest, cb func(*StoreResponse, error)) (PendingOp, error) {
	return o.store(d, &Request{
		OpCode: OpCodeAppend,
		Key:    req.Key,
		Value:  req.Value,
	}, cb)
}

type PrependRequest struct {
	Key   []byte
	Value []byte
}

func (r PrependRequest) OpName() string { return OpCodePrepend.String() }

func (o OpsKv) Prepend(d Dispatcher, req *PrependRequest, cb func(*StoreResponse, error)) (PendingOp, error) {
	return o.store(d, &Request{
		OpCode: OpCodePrepend,
		Key:    req.Key,
		Value:  req.Value,
	}, cb)
}

type DeleteRequest struct {
	Key []byte
}

func (r DeleteRequest) OpName() string { return OpCodeDelete.String() }

type DeleteResponse struct {
	Deleted bool
}

func (o OpsKv) Delete(d Dispatcher, req *DeleteRequest, cb func(*DeleteResponse, error)) (PendingOp, error) {
	return o.dispatch(d, &Request{
		OpCode: OpCodeDelete,
		Key:    req.Key,
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		cb(&DeleteResponse{
			Deleted: !resp.Negative(),
		}, nil)
	})
}

// CounterResponse is the result of increment and decrement.  Found is false
// when the server reported the key as missing, in which case Value is 0.
type CounterResponse struct {
	Found bool
	Value uint64
}

func (o OpsKv) counter(d Dispatcher, opCode OpCode, key []byte, delta uint64, expiry uint32, cb func(*CounterResponse, error)) (PendingOp, error) {
	return o.dispatch(d, &Request{
		OpCode: opCode,
		Key:    key,
		Extras: CounterExtras{
			Delta:   delta,
			Initial: 1,
			Expiry:  expiry,
		},
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		if resp.Negative() {
			cb(&CounterResponse{}, nil)
			return
		}

		if len(resp.Value) != 8 {
			cb(nil, protocolError{"invalid counter value length"})
			return
		}

		cb(&CounterResponse{
			Found: true,
			Value: binary.BigEndian.Uint64(resp.Value),
		}, nil)
	})
}

type IncrementRequest struct {
	Key    []byte
	Delta  uint64
	Expiry uint32
}

func (r IncrementRequest) OpName() string { return OpCodeIncrement.String() }

func (o OpsKv) Increment(d Dispatcher, req *IncrementRequest, cb func(*CounterResponse, error)) (PendingOp, error) {
	return o.counter(d, OpCodeIncrement, req.Key, req.Delta, req.Expiry, cb)
}

type DecrementRequest struct {
	Key    []byte
	Delta  uint64
	Expiry uint32
}

func (r DecrementRequest) OpName() string { return OpCodeDecrement.String() }

func (o OpsKv) Decrement(d Dispatcher, req *DecrementRequest, cb func(*CounterResponse, error)) (PendingOp, error) {
	return o.counter(d, OpCodeDecrement, req.Key, req.Delta, req.Expiry, cb)
}

type FlushRequest struct {
	// Expiry delays the flush.  Zero flushes immediately, in which case no
	// extras are sent at all.
	Expiry uint32
}

func (r FlushRequest) OpName() string { return OpCodeFlush.String() }

type FlushResponse struct {
}

func (o OpsKv) Flush(d Dispatcher, req *FlushRequest, cb func(*FlushResponse, error)) (PendingOp, error) {
	var extras Extras
	if req.Expiry != 0 {
		extras = FlushExtras{
			Expiry: req.Expiry,
		}
	}

	return o.dispatch(d, &Request{
		OpCode: OpCodeFlush,
		Extras: extras,
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		cb(&FlushResponse{}, nil)
	})
}

type NoopRequest struct {
}

func (r NoopRequest) OpName() string { return OpCodeNoop.String() }

type NoopResponse struct {
}

func (o OpsKv) Noop(d Dispatcher, req *NoopRequest, cb func(*NoopResponse, error)) (PendingOp, error) {
	return o.dispatch(d, &Request{
		OpCode: OpCodeNoop,
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		cb(&NoopResponse{}, nil)
	})
}

type VersionRequest struct {
}

func (r VersionRequest) OpName() string { return OpCodeVersion.String() }

type VersionResponse struct {
	Version string
}

func (o OpsKv) Version(d Dispatcher, req *VersionRequest, cb func(*VersionResponse, error)) (PendingOp, error) {
	return o.dispatch(d, &Request{
		OpCode: OpCodeVersion,
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		cb(&VersionResponse{
			Version: string(resp.Value),
		}, nil)
	})
}

type StatsRequest struct {
	// GroupName selects a stats group such as "items" or "slabs".  Empty
	// requests the general stats.
	GroupName string
}

func (r StatsRequest) OpName() string { return OpCodeStat.String() }

type StatsResponse struct {
	Found   bool
	Entries []StatsEntry
}

// Map returns the entries keyed by name.  Later duplicates win.
func (r *StatsResponse) Map() map[string]string {
	out := make(map[string]string, len(r.Entries))
	for _, entry := range r.Entries {
		out[entry.Key] = entry.Value
	}
	return out
}

func (o OpsKv) Stats(d Dispatcher, req *StatsRequest, cb func(*StatsResponse, error)) (PendingOp, error) {
	var key []byte
	if req.GroupName != "" {
		key = []byte(req.GroupName)
	}

	return o.dispatch(d, &Request{
		OpCode: OpCodeStat,
		Key:    key,
	}, func(resp *Response, err error) {
		if err != nil {
			cb(nil, err)
			return
		}

		if resp.Negative() {
			cb(&StatsResponse{}, nil)
			return
		}

		cb(&StatsResponse{
			Found:   true,
			Entries: resp.Stats,
		}, nil)
	})
}
