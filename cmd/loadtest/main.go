package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
	"github.com/awmpietro/golang-cascade-escalation/internal/transport/cascadedto"
)

// The first tier resolves high scores; everything else escalates to the human queue,
// so both paths get load.
const defaultPipeline = `digraph LoadTest {
  code  [kind="expr", expr="score > 700 ? {approved: true} : nil"]
  human [kind="human"]
  code -> human
}`

type result struct {
	latency time.Duration
	status  int
	tier    string
	err     error
}

func main() {
	url := flag.String("url", "http://localhost:8080/cascade", "cascade endpoint URL")
	pipelineFile := flag.String("pipeline", "", "DOT pipeline file (default: built-in two-tier cascade)")
	rps := flag.Int("rps", 50, "target requests per second")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	workers := flag.Int("workers", 50, "number of concurrent workers")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP client timeout")
	escalateEvery := flag.Int("escalate-every", 4, "send an escalating input every N requests, 0 never")
	p90Target := flag.Duration("p90", 30*time.Millisecond, "P90 latency target")
	flag.Parse()

	if *rps <= 0 || *duration <= 0 || *workers <= 0 {
		fmt.Fprintln(os.Stderr, "rps, duration and workers must be > 0")
		os.Exit(2)
	}

	dot := defaultPipeline
	if *pipelineFile != "" {
		b, err := os.ReadFile(*pipelineFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read pipeline: %v\n", err)
			os.Exit(1)
		}
		dot = string(b)
	}
	resolving, err := payload(dot, 720)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal payload: %v\n", err)
		os.Exit(1)
	}
	escalating, err := payload(dot, 500)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal payload: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	jobs := make(chan []byte, *workers)

	var mu sync.Mutex
	results := make([]result, 0, *rps*int(duration.Seconds())+1)
	record := func(r result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			for body := range jobs {
				record(send(ctx, client, *url, body))
			}
			return nil
		})
	}

	// An interrupt fails the producer, which cancels in-flight requests.
	g.Go(func() error {
		return produce(ctx, jobs, *rps, *duration, func(n int) []byte {
			if *escalateEvery > 0 && n%*escalateEvery == *escalateEvery-1 {
				return escalating
			}
			return resolving
		})
	})
	interrupted := g.Wait()
	if interrupted != nil {
		fmt.Fprintf(os.Stderr, "load test interrupted: %v\n", interrupted)
	}

	latencies := make([]time.Duration, 0, len(results))
	success2xx := 0
	non2xx := 0
	errs := 0
	byTier := map[string]int{}

	for _, r := range results {
		latencies = append(latencies, r.latency)
		if r.err != nil {
			errs++
			continue
		}
		if r.status >= 200 && r.status < 300 {
			success2xx++
			byTier[r.tier]++
		} else {
			non2xx++
		}
	}

	if len(latencies) == 0 {
		fmt.Fprintln(os.Stderr, "no requests executed")
		os.Exit(1)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := percentile(latencies, 50)
	p90 := percentile(latencies, 90)
	p99 := percentile(latencies, 99)
	avg := average(latencies)
	achievedRPS := float64(len(latencies)) / duration.Seconds()

	fmt.Printf("Load test finished\n")
	fmt.Printf("- target_rps: %d\n", *rps)
	fmt.Printf("- achieved_rps: %.2f\n", achievedRPS)
	fmt.Printf("- duration: %s\n", duration.String())
	fmt.Printf("- requests: %d\n", len(latencies))
	fmt.Printf("- 2xx: %d\n", success2xx)
	fmt.Printf("- non_2xx: %d\n", non2xx)
	fmt.Printf("- errors: %d\n", errs)
	tiers := make([]string, 0, len(byTier))
	for name := range byTier {
		tiers = append(tiers, name)
	}
	sort.Strings(tiers)
	for _, name := range tiers {
		fmt.Printf("- resolved_by_%s: %d\n", name, byTier[name])
	}
	fmt.Printf("- avg_ms: %.3f\n", ms(avg))
	fmt.Printf("- p50_ms: %.3f\n", ms(p50))
	fmt.Printf("- p90_ms: %.3f\n", ms(p90))
	fmt.Printf("- p99_ms: %.3f\n", ms(p99))

	minRPS := float64(*rps) * 0.98
	if interrupted == nil && achievedRPS >= minRPS && p90 < *p90Target && errs == 0 && non2xx == 0 {
		fmt.Printf("PASS: meets %d RPS and P90 < %s\n", *rps, *p90Target)
		return
	}

	fmt.Println("FAIL: does not meet target (or has request errors)")
	os.Exit(1)
}

// produce paces bodies onto jobs at rps until d elapses, then closes jobs. It fails
// with the context's cause when ctx ends first.
func produce(ctx context.Context, jobs chan<- []byte, rps int, d time.Duration, body func(n int) []byte) error {
	defer close(jobs)
	ticker := time.NewTicker(time.Second / time.Duration(rps))
	defer ticker.Stop()
	deadline := time.Now().Add(d)
	launched := 0
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("after %d requests: %w", launched, context.Cause(ctx))
		case now := <-ticker.C:
			if now.After(deadline) {
				return nil
			}
			select {
			case jobs <- body(launched):
				launched++
			case <-ctx.Done():
			}
		}
	}
}

func payload(dot string, score int) ([]byte, error) {
	return json.Marshal(cascadedto.RunRequest{
		PipelineDOT: dot,
		Input:       map[string]any{"score": score},
	})
}

func send(ctx context.Context, client *http.Client, url string, body []byte) result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result{latency: time.Since(start), err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// Each request starts its own trace so runs do not share an event stream.
	if tc, err := trace.NewRoot("loadtest").ToTraceContext(); err == nil {
		req.Header.Set(cascadedto.TraceparentHeader, tc.Traceparent)
	}

	resp, err := client.Do(req)
	lat := time.Since(start)
	if err != nil {
		return result{latency: lat, err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	var out struct {
		Tier string `json:"tier"`
	}
	if resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return result{latency: lat, status: resp.StatusCode, tier: out.Tier}
}

func percentile(items []time.Duration, p int) time.Duration {
	if len(items) == 0 {
		return 0
	}
	idx := (len(items) - 1) * p / 100
	return items[idx]
}

func average(items []time.Duration) time.Duration {
	if len(items) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range items {
		total += d
	}
	return total / time.Duration(len(items))
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
