// Backend is a minimal TCP backend for trying out the router. It reads one
// request per connection and answers "Hello from Server <port>!".
//
// Usage:
//
//	go run ./scripts/backend --port 9001
//	go run ./scripts/backend --port 9002 --delay 200ms
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tcp-router/pkg/logger"
)

func main() {
	host := pflag.String("host", "127.0.0.1", "host to listen on")
	port := pflag.Int("port", 9001, "port to listen on")
	delay := pflag.Duration("delay", 0, "time to wait before answering")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	log := logger.New(*level, false, "dev").With(slog.Int("port", *port))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := net.JoinHostPort(*host, fmt.Sprint(*port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to listen", slog.String("address", addr), slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info("backend listening", slog.String("address", addr))
	response := fmt.Sprintf("Hello from Server %d!", *port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("backend stopped")
				return
			}
			log.Error("accept failed", slog.Any("err", err))
			continue
		}

		go serve(conn, response, *delay, log)
	}
}

func serve(conn net.Conn, response string, delay time.Duration, log *slog.Logger) {
	defer conn.Close()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if n == 0 {
		// health probes connect and close without sending anything
		if err != nil && err != io.EOF {
			log.Debug("read failed", slog.Any("err", err))
		}
		return
	}

	log.Info("request received",
		slog.String("from", conn.RemoteAddr().String()),
		slog.String("body", string(buf[:n])))

	if delay > 0 {
		time.Sleep(delay)
	}

	if _, err := io.WriteString(conn, response); err != nil {
		log.Warn("write failed", slog.Any("err", err))
	}
}
