package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-router/config"
)

// markerBackend answers every request with "Hello from Server <port>!" after
// holding it for a while, and tracks how many requests it serves at once.
type markerBackend struct {
	hold time.Duration

	mutex    sync.Mutex
	listener net.Listener
	port     int
	wg       sync.WaitGroup

	inFlight atomic.Int32
	peak     atomic.Int32
	served   atomic.Int32
}

func (b *markerBackend) marker() string {
	return fmt.Sprintf("Hello from Server %d!", b.port)
}

// start listens on port, or on a random port when port is 0.
func (b *markerBackend) start(port int) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	Expect(err).NotTo(HaveOccurred())

	b.mutex.Lock()
	b.listener = ln
	b.port = ln.Addr().(*net.TCPAddr).Port
	b.mutex.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.serve(conn)
			}()
		}
	}()
}

func (b *markerBackend) serve(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 1024)
	n, _ := conn.Read(buf)
	if n == 0 {
		// health probe
		return
	}

	current := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if current <= peak || b.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	time.Sleep(b.hold)
	b.served.Add(1)
	_, _ = io.WriteString(conn, b.marker())
}

func (b *markerBackend) stop() {
	b.mutex.Lock()
	ln := b.listener
	b.mutex.Unlock()

	_ = ln.Close()
	b.wg.Wait()
}

func (b *markerBackend) address() string {
	return fmt.Sprintf("127.0.0.1:%d", b.port)
}

// send performs one exchange through the router and returns the reply, or
// "" when the connection failed or was closed without a response.
func send(addr net.Addr, payload string) string {
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		return ""
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, payload); err != nil {
		return ""
	}

	response, _ := io.ReadAll(conn)
	return string(response)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(backends ...string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1:0", Environment: config.EnvDev},
		Router: config.RouterConfig{
			BufferSize:     1024,
			ConnectTimeout: "500ms",
			IOTimeout:      "5s",
			Framing:        config.FramingSingleRead,
			MaxMessageSize: 1 << 20,
		},
		HealthCheck: config.HealthCheckConfig{
			Interval:    "100ms",
			Timeout:     "50ms",
			Host:        "127.0.0.1",
			PortRange:   config.PortRangeConfig{Start: 9001, End: 9009},
			Backends:    backends,
			Concurrency: 16,
		},
		Strategy: config.StrategyConfig{Type: config.StrategyLeastConn},
		Logging:  config.LoggingConfig{Level: config.LogLevelInfo},
		Metrics:  config.MetricsConfig{Enabled: true, Address: "127.0.0.1:0"},
	}
}

// startApp builds and runs the router; the returned channel yields run's
// result once ctx is cancelled.
func startApp(ctx context.Context, cfg *config.Config) (*app, <-chan error) {
	Expect(cfg.Validate()).To(Succeed())

	a, err := newApp(cfg, discardLogger())
	Expect(err).NotTo(HaveOccurred())
	Expect(a.listen(ctx)).To(Succeed())

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	return a, done
}
