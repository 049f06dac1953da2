package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/loadbalancer"
	"github.com/angeloszaimis/tcp-router/internal/metrics"
)

// UnavailableResponse is written to the client when no backend is active.
const UnavailableResponse = "503 Service Unavailable"

// lingerTimeout bounds how long an unavailable client is drained after the
// 503 response so that closing does not reset the connection.
const lingerTimeout = 500 * time.Millisecond

var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrExchange           = errors.New("exchange failed")
	ErrEmptyRequest       = errors.New("empty request")
)

// Framing selects how a message boundary is detected.
type Framing string

const (
	// FramingSingleRead forwards whatever one read returns, up to BufferSize.
	FramingSingleRead Framing = "single-read"
	// FramingEOF reads until the peer half-closes, up to MaxMessageSize.
	FramingEOF Framing = "eof"
)

type Options struct {
	BufferSize     int
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Framing        Framing
	MaxMessageSize int64
}

type ConnectionHandler struct {
	balancer  *loadbalancer.LoadBalancer
	opts      Options
	collector *metrics.Collector
	logger    *slog.Logger
	dialer    *net.Dialer
}

func NewConnectionHandler(
	lb *loadbalancer.LoadBalancer,
	opts Options,
	collector *metrics.Collector,
	logger *slog.Logger,
) *ConnectionHandler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Framing == "" {
		opts.Framing = FramingSingleRead
	}

	return &ConnectionHandler{
		balancer:  lb,
		opts:      opts,
		collector: collector,
		logger:    logger,
		dialer:    &net.Dialer{Timeout: opts.ConnectTimeout},
	}
}

// Handle serves one client connection and closes it before returning.
// Failures are logged, never returned or panicked.
func (h *ConnectionHandler) Handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	start := time.Now()
	logger := h.logger.With(
		slog.String("conn_id", uuid.NewString()),
		slog.String("client", client.RemoteAddr().String()))

	logger.Info("Connection accepted")
	h.collector.Emit(metrics.MetricEvent{Type: metrics.EventConnectionAccepted})

	addr, err := h.balancer.Acquire()
	if err != nil {
		logger.Warn("No backend available")
		h.collector.Emit(metrics.MetricEvent{Type: metrics.EventUnavailable})
		h.writeUnavailable(client, logger)
		return
	}
	defer h.balancer.Release(addr)

	logger = logger.With(slog.String("backend", addr.String()))
	logger.Info("Forwarding request")
	h.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		Backend: addr.String(),
	})

	relayed, err := h.exchange(ctx, client, addr)
	duration := time.Since(start)
	outcome := outcomeOf(err)

	h.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventExchangeCompleted,
		Backend:  addr.String(),
		Duration: duration,
		Outcome:  outcome,
	})

	if err != nil {
		logger.Error("Exchange aborted",
			slog.String("kind", string(outcome)),
			slog.String("error", err.Error()),
			slog.Duration("duration", duration))
		return
	}

	logger.Info("Response relayed",
		slog.Int("bytes", relayed),
		slog.Duration("duration", duration))
}

func (h *ConnectionHandler) writeUnavailable(client net.Conn, logger *slog.Logger) {
	if h.opts.IOTimeout > 0 {
		_ = client.SetWriteDeadline(time.Now().Add(h.opts.IOTimeout))
	}

	if _, err := io.WriteString(client, UnavailableResponse); err != nil {
		logger.Debug("Failed to write unavailable response", slog.String("error", err.Error()))
		return
	}

	cw, ok := client.(interface{ CloseWrite() error })
	if !ok || cw.CloseWrite() != nil {
		return
	}
	_ = client.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(client, int64(h.opts.BufferSize)))
}

// exchange dials the backend, forwards one request and relays one response.
// It returns the number of response bytes written to the client.
func (h *ConnectionHandler) exchange(ctx context.Context, client net.Conn, addr backend.Address) (int, error) {
	server, err := h.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrBackendUnreachable, addr, err)
	}
	defer server.Close()

	if h.opts.IOTimeout > 0 {
		deadline := time.Now().Add(h.opts.IOTimeout)
		_ = client.SetDeadline(deadline)
		_ = server.SetDeadline(deadline)
	}

	request, err := h.readMessage(client)
	if err != nil {
		return 0, fmt.Errorf("%w: reading request: %w", ErrExchange, err)
	}
	if len(request) == 0 {
		return 0, ErrEmptyRequest
	}

	if _, err := server.Write(request); err != nil {
		return 0, fmt.Errorf("%w: writing request: %w", ErrExchange, err)
	}

	if h.opts.Framing == FramingEOF {
		if cw, ok := server.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err != nil {
				return 0, fmt.Errorf("%w: half-closing backend: %w", ErrExchange, err)
			}
		}
	}

	response, err := h.readMessage(server)
	if err != nil {
		return 0, fmt.Errorf("%w: reading response: %w", ErrExchange, err)
	}
	if len(response) == 0 {
		return 0, fmt.Errorf("%w: backend closed without a response", ErrExchange)
	}

	n, err := client.Write(response)
	if err != nil {
		return n, fmt.Errorf("%w: writing response: %w", ErrExchange, err)
	}

	return n, nil
}

// readMessage reads one message according to the configured framing. A peer
// that closes before sending anything yields an empty message and no error.
func (h *ConnectionHandler) readMessage(conn net.Conn) ([]byte, error) {
	if h.opts.Framing == FramingEOF {
		return readToEOF(conn, h.opts.MaxMessageSize)
	}

	buf := make([]byte, h.opts.BufferSize)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return nil, nil
}

func readToEOF(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("message exceeds %d bytes", limit)
	}
	return data, nil
}

func outcomeOf(err error) metrics.Outcome {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrBackendUnreachable):
		return metrics.OutcomeUnreachable
	case errors.Is(err, ErrEmptyRequest):
		return metrics.OutcomeEmptyRequest
	default:
		return metrics.OutcomeIOError
	}
}
