// Package memdserver implements a small in-process memcached server speaking
// the binary protocol, for exercising clients without a real server.
package memdserver

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/couchbase/gocbmcx/memdx"
)

const DefaultVersion = "1.6.21"

// HandlerFunc produces the response packets for a request.  Returning no
// packets sends nothing back for the request.
type HandlerFunc func(req *memdx.Packet) []*memdx.Packet

type Options struct {
	Logger  *zap.Logger
	Version string
}

type item struct {
	flags uint32
	value []byte
	cas   uint64
}

type Server struct {
	logger   *zap.Logger
	version  string
	listener net.Listener
	started  time.Time

	lock      sync.Mutex
	items     map[string]*item
	casCtr    uint64
	conns     map[net.Conn]struct{}
	handlers  map[memdx.OpCode]HandlerFunc
	closed    bool
	numTotal  uint64
	numHits   uint64
	numMisses uint64

	wg sync.WaitGroup
}

// Start listens on a random loopback port and begins serving.
func Start(opts *Options) (*Server, error) {
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to listen")
	}

	s := &Server{
		logger:   logger,
		version:  version,
		listener: listener,
		started:  time.Now(),
		items:    make(map[string]*item),
		conns:    make(map[net.Conn]struct{}),
		handlers: make(map[memdx.OpCode]HandlerFunc),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// SetHandler replaces the built-in behaviour for an opcode.  A nil handler
// restores it.
func (s *Server) SetHandler(opCode memdx.OpCode, handler HandlerFunc) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if handler == nil {
		delete(s.handlers, opCode)
		return
	}

	s.handlers[opCode] = handler
}

// NumConnections returns the number of currently open client connections.
func (s *Server) NumConnections() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.conns)
}

// CloseConnections drops every open client connection while continuing to
// accept new ones.
func (s *Server) CloseConnections() error {
	s.lock.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.lock.Unlock()

	var result error
	for _, conn := range conns {
		err := conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}

	return result
}

func (s *Server) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	s.lock.Unlock()

	var result error
	err := s.listener.Close()
	if err != nil {
		result = multierror.Append(result, pkgerrors.Wrap(err, "failed to close listener"))
	}

	err = s.CloseConnections()
	if err != nil {
		result = multierror.Append(result, pkgerrors.Wrap(err, "failed to close connections"))
	}

	s.wg.Wait()

	return result
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("accept failed", zap.Error(err))
			}
			return
		}

		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.lock.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.lock.Lock()
		delete(s.conns, conn)
		s.lock.Unlock()
		_ = conn.Close()
	}()

	var reader memdx.PacketReader
	var writeBuf []byte
	for {
		req := &memdx.Packet{}
		err := reader.ReadPacket(conn, req)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("failed to read request", zap.Error(err))
			}
			return
		}

		if !req.Magic.IsRequest() {
			s.logger.Debug("received non-request packet", zap.Stringer("magic", req.Magic))
			return
		}

		resps := s.handle(req)

		writeBuf = writeBuf[:0]
		for _, resp := range resps {
			writeBuf, err = memdx.AppendPacket(writeBuf, resp)
			if err != nil {
				s.logger.Debug("failed to encode response", zap.Error(err))
				return
			}
		}

		if len(writeBuf) > 0 {
			_, err = conn.Write(writeBuf)
			if err != nil {
				return
			}
		}

		if req.OpCode == memdx.OpCodeQuit {
			return
		}
	}
}

func (s *Server) handle(req *memdx.Packet) []*memdx.Packet {
	s.lock.Lock()
	handler := s.handlers[req.OpCode]
	s.lock.Unlock()

	if handler != nil {
		return handler(req)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch req.OpCode {
	case memdx.OpCodeGet:
		return s.handleGet(req)
	case memdx.OpCodeSet, memdx.OpCodeAdd, memdx.OpCodeReplace:
		return s.handleStore(req)
	case memdx.OpCodeAppend, memdx.OpCodePrepend:
		return s.handleConcat(req)
	case memdx.OpCodeDelete:
		return s.handleDelete(req)
	case memdx.OpCodeIncrement, memdx.OpCodeDecrement:
		return s.handleCounter(req)
	case memdx.OpCodeFlush:
		return s.handleFlush(req)
	case memdx.OpCodeNoop, memdx.OpCodeQuit:
		return []*memdx.Packet{Response(req, memdx.StatusSuccess)}
	case memdx.OpCodeVersion:
		resp := Response(req, memdx.StatusSuccess)
		resp.Value = []byte(s.version)
		return []*memdx.Packet{resp}
	case memdx.OpCodeStat:
		return s.handleStats(req)
	}

	return []*memdx.Packet{ErrorResponse(req, memdx.StatusUnknownCommand, "Unknown command")}
}

// Response builds an empty response packet answering req.
func Response(req *memdx.Packet, status memdx.Status) *memdx.Packet {
	return &memdx.Packet{
		Magic:  memdx.MagicRes,
		OpCode: req.OpCode,
		Status: status,
		Opaque: req.Opaque,
	}
}

// ErrorResponse builds a response carrying status and a textual message body,
// the way memcached reports failures.
func ErrorResponse(req *memdx.Packet, status memdx.Status, message string) *memdx.Packet {
	resp := Response(req, status)
	resp.Value = []byte(message)
	return resp
}

func (s *Server) nextCas() uint64 {
	s.casCtr++
	return s.casCtr
}

func (s *Server) handleGet(req *memdx.Packet) []*memdx.Packet {
	it, ok := s.items[string(req.Key)]
	if !ok {
		s.numMisses++
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusKeyNotFound, "Not found")}
	}
	s.numHits++

	resp := Response(req, memdx.StatusSuccess)
	resp.Extras = binary.BigEndian.AppendUint32(nil, it.flags)
	resp.Value = it.value
	resp.Cas = it.cas
	return []*memdx.Packet{resp}
}

func (s *Server) handleStore(req *memdx.Packet) []*memdx.Packet {
	extras, err := memdx.DecodeStoreExtras(req.Extras)
	if err != nil {
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusInvalidArgs, "Invalid arguments")}
	}

	key := string(req.Key)
	_, exists := s.items[key]

	switch req.OpCode {
	case memdx.OpCodeAdd:
		if exists {
			return []*memdx.Packet{ErrorResponse(req, memdx.StatusKeyExists, "Data exists for key.")}
		}
	case memdx.OpCodeReplace:
		if !exists {
			return []*memdx.Packet{ErrorResponse(req, memdx.StatusKeyNotFound, "Not found")}
		}
	}

	it := &item{
		flags: extras.Flags,
		value: slices.Clone(req.Value),
		cas:   s.nextCas(),
	}
	s.items[key] = it
	s.numTotal++

	resp := Response(req, memdx.StatusSuccess)
	resp.Cas = it.cas
	return []*memdx.Packet{resp}
}

func (s *Server) handleConcat(req *memdx.Packet) []*memdx.Packet {
	it, ok := s.items[string(req.Key)]
	if !ok {
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusNotStored, "Not stored.")}
	}

	var value []byte
	if req.OpCode == memdx.OpCodeAppend {
		value = append(slices.Clone(it.value), req.Value...)
	} else {
		value = append(slices.Clone(req.Value), it.value...)
	}
	it.value = value
	it.cas = s.nextCas()

	resp := Response(req, memdx.StatusSuccess)
	resp.Cas = it.cas
	return []*memdx.Packet{resp}
}

func (s *Server) handleDelete(req *memdx.Packet) []*memdx.Packet {
	key := string(req.Key)
	if _, ok := s.items[key]; !ok {
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusKeyNotFound, "Not found")}
	}

	delete(s.items, key)
	return []*memdx.Packet{Response(req, memdx.StatusSuccess)}
}

func (s *Server) handleCounter(req *memdx.Packet) []*memdx.Packet {
	extras, err := memdx.DecodeCounterExtras(req.Extras)
	if err != nil {
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusInvalidArgs, "Invalid arguments")}
	}

	key := string(req.Key)
	it, ok := s.items[key]

	var newValue uint64
	if !ok {
		// an expiry of all ones asks the server not to create the item
		if extras.Expiry == 0xffffffff {
			return []*memdx.Packet{ErrorResponse(req, memdx.StatusKeyNotFound, "Not found")}
		}

		newValue = extras.Initial
		it = &item{}
		s.items[key] = it
		s.numTotal++
	} else {
		curValue, err := strconv.ParseUint(string(it.value), 10, 64)
		if err != nil {
			return []*memdx.Packet{ErrorResponse(req, memdx.StatusBadDelta,
				"Non-numeric server-side value for incr or decr")}
		}

		if req.OpCode == memdx.OpCodeIncrement {
			newValue = curValue + extras.Delta
		} else if extras.Delta > curValue {
			newValue = 0
		} else {
			newValue = curValue - extras.Delta
		}
	}

	it.value = []byte(strconv.FormatUint(newValue, 10))
	it.cas = s.nextCas()

	resp := Response(req, memdx.StatusSuccess)
	resp.Cas = it.cas
	resp.Value = binary.BigEndian.AppendUint64(nil, newValue)
	return []*memdx.Packet{resp}
}

func (s *Server) handleFlush(req *memdx.Packet) []*memdx.Packet {
	_, err := memdx.DecodeFlushExtras(req.Extras)
	if err != nil {
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusInvalidArgs, "Invalid arguments")}
	}

	s.items = make(map[string]*item)
	return []*memdx.Packet{Response(req, memdx.StatusSuccess)}
}

func (s *Server) handleStats(req *memdx.Packet) []*memdx.Packet {
	var stats map[string]string
	switch string(req.Key) {
	case "":
		stats = s.generalStats()
	case "items":
		stats = map[string]string{
			"items:1:number": strconv.Itoa(len(s.items)),
		}
	default:
		return []*memdx.Packet{ErrorResponse(req, memdx.StatusKeyNotFound, "Not found")}
	}

	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	resps := make([]*memdx.Packet, 0, len(keys)+1)
	for _, key := range keys {
		resp := Response(req, memdx.StatusSuccess)
		resp.Key = []byte(key)
		resp.Value = []byte(stats[key])
		resps = append(resps, resp)
	}

	return append(resps, Response(req, memdx.StatusSuccess))
}

func (s *Server) generalStats() map[string]string {
	var numBytes int
	for key, it := range s.items {
		numBytes += len(key) + len(it.value)
	}

	return map[string]string{
		"pid":              strconv.Itoa(os.Getpid()),
		"uptime":           strconv.FormatInt(int64(time.Since(s.started)/time.Second), 10),
		"version":          s.version,
		"curr_items":       strconv.Itoa(len(s.items)),
		"total_items":      strconv.FormatUint(s.numTotal, 10),
		"bytes":            strconv.Itoa(numBytes),
		"curr_connections": strconv.Itoa(len(s.conns)),
		"get_hits":         strconv.FormatUint(s.numHits, 10),
		"get_misses":       strconv.FormatUint(s.numMisses, 10),
	}
}
