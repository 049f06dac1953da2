// Client sends a message through the router and prints each reply.
//
// Usage:
//
//	go run ./scripts/client --addr localhost:8000 --count 5
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.String("addr", "localhost:8000", "router address")
	message := pflag.String("message", "Hello Load Balancer!", "payload to send")
	count := pflag.Int("count", 1, "number of requests")
	timeout := pflag.Duration("timeout", 5*time.Second, "per-request timeout")
	pflag.Parse()

	failures := 0
	for i := 1; i <= *count; i++ {
		reply, err := send(*addr, *message, *timeout)
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "[%d] error: %v\n", i, err)
			continue
		}
		fmt.Printf("[%d] %s\n", i, reply)
	}

	if failures > 0 {
		os.Exit(2)
	}
}

func send(addr, message string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}

	if _, err := io.WriteString(conn, message); err != nil {
		return "", err
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("connection closed without a response")
	}

	return string(reply), nil
}
