// Package control is the local control plane: a newline-framed JSON
// protocol over a Unix domain socket through which other processes
// (CLI, skills, the agent service) inspect and manage jobs and shared
// state.
//
// One JSON object per line in each direction. Requests on a single
// connection are processed strictly in order; independent connections
// interleave freely. A bad request never crashes the server or closes
// the socket.
package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"

	"github.com/danitrap/ambrogio-agent-sub000/internal/convo"
	"github.com/danitrap/ambrogio-agent-sub000/internal/fault"
	"github.com/danitrap/ambrogio-agent-sub000/internal/memory"
	"github.com/danitrap/ambrogio-agent-sub000/internal/runtime/supervisor"
	"github.com/danitrap/ambrogio-agent-sub000/internal/store"
	"github.com/danitrap/ambrogio-agent-sub000/internal/transport"
	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

type Config struct {
	SocketPath string

	// MediaRoot bounds media-dispatch paths; anything resolving outside
	// it is rejected.
	MediaRoot string
	// Per-kind byte ceilings. Zero means the default.
	MaxPhotoBytes    int64 // default 10 MiB
	MaxAudioBytes    int64 // default 50 MiB
	MaxDocumentBytes int64 // default 50 MiB

	// MaxLineBytes caps a single request line (default 1 MiB).
	MaxLineBytes int
}

func (c Config) withDefaults() Config {
	if c.MaxPhotoBytes <= 0 {
		c.MaxPhotoBytes = 10 << 20
	}
	if c.MaxAudioBytes <= 0 {
		c.MaxAudioBytes = 50 << 20
	}
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = 50 << 20
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 1 << 20
	}
	return c
}

type Server struct {
	cfg  Config
	log  logx.Logger
	st   *store.Store
	conv *convo.Log
	mem  *memory.Store
	msgr transport.Messenger

	ops map[string]handlerFunc

	mu      sync.Mutex
	running bool
	ln      net.Listener
	sup     *supervisor.Supervisor
}

func NewServer(cfg Config, st *store.Store, conv *convo.Log, mem *memory.Store, msgr transport.Messenger, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg.withDefaults(), log: log, st: st, conv: conv, mem: mem, msgr: msgr}
	s.ops = s.buildOps()
	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// A previous crash may have left a stale socket file behind.
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return err
	}

	s.running = true
	s.ln = ln
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go("control.accept", s.acceptLoop)
	s.log.Info("control server listening", logx.String("socket", s.cfg.SocketPath))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	ln := s.ln
	sup := s.sup
	s.ln = nil
	s.sup = nil
	s.running = false
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if sup != nil {
		sup.Stop(ctx)
	}
	_ = os.Remove(s.cfg.SocketPath)
	s.log.Info("control server stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	s.mu.Lock()
	ln := s.ln
	sup := s.sup
	s.mu.Unlock()
	if ln == nil || sup == nil {
		return
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Closed listener on shutdown, or a transient accept error.
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", logx.Err(err))
			continue
		}
		sup.Go("control.conn", func(ctx context.Context) {
			s.serveConn(ctx, conn)
		})
	}
}

// serveConn pipelines requests on one connection, strictly in order.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		// Unblock reads when the server shuts down.
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(conn)
	// The scanner caps tokens at the larger of max and cap(buf), so the
	// initial buffer must not exceed the configured line limit.
	bufSize := 64 << 10
	if bufSize > s.cfg.MaxLineBytes {
		bufSize = s.cfg.MaxLineBytes
	}
	sc.Buffer(make([]byte, bufSize), s.cfg.MaxLineBytes)
	w := bufio.NewWriter(conn)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		b, err := json.Marshal(resp)
		if err != nil {
			b, _ = json.Marshal(errorResponse(fault.New(fault.Internal, "response marshalling failed")))
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			// Tell the client why the connection is about to drop.
			b, _ := json.Marshal(errorResponse(fault.New(fault.PayloadTooLarge,
				"request line exceeds %d bytes", s.cfg.MaxLineBytes)))
			_, _ = w.Write(append(b, '\n'))
			_ = w.Flush()
			return
		}
		if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug("connection read ended", logx.Err(err))
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in control handler", logx.Any("panic", r))
			resp = errorResponse(fault.New(fault.Internal, "internal error"))
		}
	}()

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fault.New(fault.BadRequest, "malformed request JSON: %v", err))
	}
	if req.Op == "" {
		return errorResponse(fault.New(fault.BadRequest, "missing op"))
	}

	op := req.Op
	if current, ok := legacyOps[op]; ok {
		op = current
	}
	h, ok := s.ops[op]
	if !ok {
		return errorResponse(fault.New(fault.BadRequest, "unknown op %q", req.Op))
	}

	result, err := h(ctx, req.Args)
	if err != nil {
		return errorResponse(err)
	}
	return response{OK: true, Result: result}
}
