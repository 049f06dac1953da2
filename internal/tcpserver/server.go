// Package tcpserver accepts client connections and hands each one to a
// Handler on its own goroutine.
package tcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/semaphore"

	"github.com/angeloszaimis/tcp-router/internal/netutil"
)

const maxAcceptBackoff = time.Second

// Handler serves a single accepted connection. It owns conn and must close it.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
}

type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) Handle(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

type Server struct {
	addr     string
	handler  Handler
	logger   *slog.Logger
	sem      *semaphore.Weighted
	maxConns int

	mutex    sync.Mutex
	listener net.Listener
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// New validates addr and creates a server. maxConns of 0 means every
// accepted connection is dispatched immediately; a positive value caps the
// number of connections being handled at once and pauses accepting at the cap.
func New(addr string, handler Handler, maxConns int, logger *slog.Logger) (*Server, error) {
	if err := validation.Validate(addr, netutil.ListenAddress); err != nil {
		return nil, err
	}
	if maxConns < 0 {
		return nil, errors.New("max connections must not be negative")
	}

	s := &Server{
		addr:     addr,
		handler:  handler,
		logger:   logger,
		maxConns: maxConns,
	}
	if maxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(maxConns))
	}

	return s, nil
}

// Listen binds the listening socket. The accept backlog is whatever the
// operating system grants.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.listener = ln
	s.mutex.Unlock()

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Shutdown is called,
// binding first if Listen was not called. Accept errors other than a closed
// listener are logged and retried with backoff. Handlers outlive ctx; use
// Shutdown to wait for them.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	s.mutex.Lock()
	ln := s.listener
	s.mutex.Unlock()

	if s.closing.Load() {
		_ = ln.Close()
		return nil
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.closeListener()
		case <-stop:
		}
	}()

	s.logger.Info("Router listening",
		slog.String("address", ln.Addr().String()),
		slog.Int("max_connections", s.maxConns))

	handlerCtx := context.WithoutCancel(ctx)
	var backoff time.Duration

	for {
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()

			if s.closing.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			backoff = nextBackoff(backoff)
			s.logger.Error("Accept failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))

			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		// Adding under the mutex orders every Add before Shutdown's Wait.
		s.mutex.Lock()
		if s.closing.Load() {
			s.mutex.Unlock()
			_ = conn.Close()
			s.release()
			return nil
		}
		s.wg.Add(1)
		s.mutex.Unlock()

		go func() {
			defer s.wg.Done()
			defer s.release()
			s.handler.Handle(handlerCtx, conn)
		}()
	}
}

// Shutdown stops accepting and waits for in-flight handlers until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListener()

	// Wait for a dispatch that saw closing == false to finish its Add.
	s.mutex.Lock()
	s.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Router drained")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Router drain timed out")
		return ctx.Err()
	}
}

func (s *Server) closeListener() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}

	s.mutex.Lock()
	ln := s.listener
	s.mutex.Unlock()

	if ln == nil {
		return
	}
	if err := ln.Close(); err != nil {
		s.logger.Debug("Error closing listener", slog.String("error", err.Error()))
	}
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	return min(current*2, maxAcceptBackoff)
}
