// Loadtest is a concurrent TCP load testing tool for the router. It measures
// throughput, latency percentiles and how replies are spread across backends.
//
// Usage:
//
//	go run ./scripts/loadtest --addr localhost:8000 --concurrency 10 --requests 1000
//	go run ./scripts/loadtest --concurrency 50 --requests 5000 --csv results.csv --out summary.json
//
// Backends are told apart by their reply text. A "503 Service Unavailable"
// reply is counted as unavailable, an empty reply or a network error as error.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/pflag"
)

const unavailableReply = "503 Service Unavailable"

const (
	outcomeOK          = "ok"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

// backendStats tracks statistics for replies carrying the same marker.
type backendStats struct {
	Count     int32
	Latencies []time.Duration
}

type backendSummary struct {
	Total int32   `json:"total"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

func main() {
	var (
		addr        = pflag.String("addr", "localhost:8000", "router address")
		concurrency = pflag.Int("concurrency", 10, "number of concurrent workers")
		requests    = pflag.Int("requests", 100, "total number of requests to send")
		message     = pflag.String("message", "", "fixed payload; random sentences when empty")
		timeout     = pflag.Duration("timeout", 10*time.Second, "per-request timeout")
		outJSON     = pflag.String("out", "", "write JSON summary to this file (optional)")
		outCSV      = pflag.String("csv", "", "write per-request CSV to this file (optional)")
		verbose     = pflag.BoolP("verbose", "v", false, "verbose per-request logging to stdout")
	)
	pflag.Parse()

	faker := gofakeit.New(0)
	var fakerMu sync.Mutex
	payload := func() string {
		if *message != "" {
			return *message
		}
		fakerMu.Lock()
		defer fakerMu.Unlock()
		return faker.Sentence(8)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total, success, unavailable, failure int32

	stats := make(map[string]*backendStats)
	var statsMu sync.Mutex

	var allLatencies []time.Duration
	var latMu sync.Mutex

	var csvFile *os.File
	var csvWriter *csv.Writer
	var csvMu sync.Mutex
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		csvFile = f
		csvWriter = csv.NewWriter(f)
		_ = csvWriter.Write([]string{"idx", "timestamp", "backend", "outcome", "duration_ms"})
	}

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				reply, err := exchange(*addr, payload(), *timeout)
				dur := time.Since(start)

				outcome := outcomeOK
				backend := reply
				switch {
				case err != nil:
					outcome = outcomeError
					backend = "(error)"
					atomic.AddInt32(&failure, 1)
				case reply == unavailableReply:
					outcome = outcomeUnavailable
					backend = "(unavailable)"
					atomic.AddInt32(&unavailable, 1)
				default:
					atomic.AddInt32(&success, 1)

					latMu.Lock()
					allLatencies = append(allLatencies, dur)
					latMu.Unlock()
				}

				statsMu.Lock()
				bs, ok := stats[backend]
				if !ok {
					bs = &backendStats{}
					stats[backend] = bs
				}
				bs.Count++
				bs.Latencies = append(bs.Latencies, dur)
				statsMu.Unlock()

				if csvWriter != nil {
					csvMu.Lock()
					_ = csvWriter.Write([]string{
						fmt.Sprintf("%d", idx),
						time.Now().Format(time.RFC3339Nano),
						backend,
						outcome,
						fmt.Sprintf("%.3f", float64(dur.Microseconds())/1000.0),
					})
					csvMu.Unlock()
				}

				if *verbose {
					fmt.Printf("[%d] idx=%d backend=%q outcome=%s dur=%v err=%v\n", workerID, idx, backend, outcome, dur, err)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	totalDuration := time.Since(testStart)

	if csvWriter != nil {
		csvWriter.Flush()
		_ = csvFile.Close()
	}

	throughput := float64(total) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *addr)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Total sent: %d  Success: %d  Unavailable: %d  Failure: %d\n", total, success, unavailable, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, throughput)

	fmt.Println("\nBackend distribution:")
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	summaries := make(map[string]backendSummary, len(stats))
	for _, k := range keys {
		bs := stats[k]
		sorted := sortedCopy(bs.Latencies)
		s := backendSummary{
			Total: bs.Count,
			P50:   millis(percentile(sorted, 0.50)),
			P90:   millis(percentile(sorted, 0.90)),
			P95:   millis(percentile(sorted, 0.95)),
			P99:   millis(percentile(sorted, 0.99)),
		}
		summaries[k] = s

		fmt.Printf("  %s -> total=%d\n", k, bs.Count)
		if len(sorted) > 0 {
			fmt.Printf("    latencies: samples=%d min=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
				len(sorted), sorted[0], sorted[len(sorted)-1],
				percentile(sorted, 0.50), percentile(sorted, 0.90),
				percentile(sorted, 0.95), percentile(sorted, 0.99))
		}
	}

	if len(allLatencies) > 0 {
		sorted := sortedCopy(allLatencies)
		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		fmt.Println("\nSuccessful exchange latencies:")
		fmt.Printf("  samples=%d min=%v avg=%v max=%v p50=%v p99=%v\n",
			len(sorted), sorted[0], sum/time.Duration(len(sorted)), sorted[len(sorted)-1],
			percentile(sorted, 0.50), percentile(sorted, 0.99))
	}

	fmt.Printf("\nGOMAXPROCS=%d  NumGoroutine=%d\n", runtime.GOMAXPROCS(0), runtime.NumGoroutine())

	if *outJSON != "" {
		report := map[string]any{
			"target":         *addr,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"total_sent":     total,
			"success":        success,
			"unavailable":    unavailable,
			"failure":        failure,
			"duration_ms":    totalDuration.Milliseconds(),
			"throughput_rps": throughput,
			"backends":       summaries,
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		_ = f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}

func exchange(addr, payload string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := io.WriteString(conn, payload); err != nil {
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

func sortedCopy(in []time.Duration) []time.Duration {
	out := make([]time.Duration, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
