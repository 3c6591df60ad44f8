// Package supervisor owns long-lived goroutines: named starts, panic
// recovery, and a graceful, timeout-aware stop.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	wg     sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go starts a named goroutine bound to the supervisor context. Panics are
// recovered and logged rather than crashing the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in goroutine",
					logx.String("goroutine", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.log.Debug("goroutine started", logx.String("goroutine", name))
		fn(s.ctx)
		s.log.Debug("goroutine stopped", logx.String("goroutine", name))
	}()
}

// Stop cancels the supervisor context and waits for goroutines to exit,
// giving up when ctx expires.
func (s *Supervisor) Stop(ctx context.Context) {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for goroutines")
	}
}
