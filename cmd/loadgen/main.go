// loadgen drives POST /costs at a fixed rate and reports latency
// percentiles. Point it at a server started with ENABLE_MOCK_PROVIDERS=true
// to measure the router without touching real billing APIs.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

type costReq struct {
	CloudProvider string `json:"cloudProvider"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	Granularity   string `json:"granularity,omitempty"`
}

type costResp struct {
	Success bool `json:"success"`
	Costs   struct {
		Total decimal.Decimal `json:"total"`
	} `json:"costs"`
}

type result struct {
	Ts        time.Time
	LatencyMs int64
	Success   bool
	Provider  string
	Total     decimal.Decimal
	Code      int
}

type summary struct {
	TargetQPS   float64         `json:"target_qps"`
	AchievedQPS float64         `json:"achieved_qps"`
	Requests    int             `json:"requests"`
	Failures    int             `json:"failures"`
	SuccessRate float64         `json:"success_rate"`
	ErrorRate   float64         `json:"error_rate"`
	P50         float64         `json:"p50_ms"`
	P90         float64         `json:"p90_ms"`
	P95         float64         `json:"p95_ms"`
	P99         float64         `json:"p99_ms"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

func percentile(vals []int64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return float64(sorted[idx])
}

func summarize(results []result, targetQPS float64, elapsed time.Duration) summary {
	s := summary{TargetQPS: targetQPS, Requests: len(results), TotalCost: decimal.Zero}
	latencies := make([]int64, 0, len(results))
	for _, r := range results {
		if !r.Success {
			s.Failures++
		}
		latencies = append(latencies, r.LatencyMs)
		s.TotalCost = s.TotalCost.Add(r.Total)
	}
	s.AchievedQPS = float64(s.Requests) / math.Max(1e-9, elapsed.Seconds())
	s.SuccessRate = float64(s.Requests-s.Failures) / math.Max(1, float64(s.Requests))
	s.ErrorRate = float64(s.Failures) / math.Max(1, float64(s.Requests))
	s.P50 = percentile(latencies, 0.50)
	s.P90 = percentile(latencies, 0.90)
	s.P95 = percentile(latencies, 0.95)
	s.P99 = percentile(latencies, 0.99)
	return s
}

// fire sends one request. Any non-200, transport error or unparsable body
// counts as a failure.
func fire(ctx context.Context, client *http.Client, url string, body costReq) result {
	start := time.Now()
	b, _ := json.Marshal(body)
	r := result{Provider: body.CloudProvider, Total: decimal.Zero}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		r.Ts = time.Now()
		return r
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	r.LatencyMs = time.Since(start).Milliseconds()
	r.Ts = time.Now()
	if err != nil {
		return r
	}
	defer resp.Body.Close()
	r.Code = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return r
	}
	var cr costResp
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil || !cr.Success {
		return r
	}
	r.Success = true
	r.Total = cr.Costs.Total
	return r
}

func waitReady(client *http.Client, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func main() {
	app := &cli.App{
		Name:  "loadgen",
		Usage: "Generate cost request load against the router",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Value: "http://localhost:8080", Usage: "server base URL"},
			&cli.DurationFlag{Name: "duration", Value: 60 * time.Second, Usage: "test duration"},
			&cli.Float64Flag{Name: "qps", Value: 50, Usage: "target QPS"},
			&cli.IntFlag{Name: "concurrency", Value: 32, Usage: "number of workers"},
			&cli.StringSliceFlag{Name: "provider", Value: cli.NewStringSlice("aws", "azure"), Usage: "providers to rotate through"},
			&cli.StringFlag{Name: "start-date", Usage: "startDate sent with every request"},
			&cli.StringFlag{Name: "end-date", Usage: "endDate sent with every request"},
			&cli.StringFlag{Name: "granularity", Usage: "granularity sent with every request"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "per-request timeout"},
			&cli.DurationFlag{Name: "warmup", Value: 5 * time.Second, Usage: "readiness wait before the run"},
			&cli.StringFlag{Name: "csv-out", Usage: "path to write CSV results"},
			&cli.StringFlag{Name: "json-summary", Usage: "path to write JSON summary"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	qps := c.Float64("qps")
	if qps <= 0 {
		return cli.Exit("--qps must be positive", 2)
	}
	providers := c.StringSlice("provider")
	if len(providers) == 0 {
		return cli.Exit("at least one --provider is required", 2)
	}

	client := &http.Client{Timeout: c.Duration("timeout")}
	base := strings.TrimRight(c.String("base-url"), "/")
	waitReady(client, base+"/v1/readyz", c.Duration("warmup"))

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("duration"))
	defer cancel()

	jobs := make(chan costReq)
	resCh := make(chan result, c.Int("concurrency")*16)
	var wg sync.WaitGroup
	for i := 0; i < c.Int("concurrency"); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for body := range jobs {
				resCh <- fire(ctx, client, base+"/costs", body)
			}
		}()
	}

	// Pacing: one job per tick; ticks are dropped while every worker is busy.
	go func() {
		defer close(jobs)
		ticker := time.NewTicker(time.Duration(float64(time.Second) / qps))
		defer ticker.Stop()
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			body := costReq{
				CloudProvider: providers[n%len(providers)],
				StartDate:     c.String("start-date"),
				EndDate:       c.String("end-date"),
				Granularity:   c.String("granularity"),
			}
			select {
			case jobs <- body:
			default:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(resCh)
	}()

	var csvWriter *csv.Writer
	if path := c.String("csv-out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		csvWriter = csv.NewWriter(f)
		defer csvWriter.Flush()
		_ = csvWriter.Write([]string{"ts", "latency_ms", "success", "provider", "total", "code"})
	}

	t0 := time.Now()
	progress := time.NewTicker(time.Second)
	defer progress.Stop()
	var results []result
	failures := 0
collect:
	for {
		select {
		case r, ok := <-resCh:
			if !ok {
				break collect
			}
			results = append(results, r)
			if !r.Success {
				failures++
			}
			if csvWriter != nil {
				_ = csvWriter.Write([]string{r.Ts.Format(time.RFC3339Nano), strconv.FormatInt(r.LatencyMs, 10), strconv.FormatBool(r.Success), r.Provider, r.Total.String(), strconv.Itoa(r.Code)})
			}
		case <-progress.C:
			achieved := float64(len(results)) / math.Max(1e-9, time.Since(t0).Seconds())
			fmt.Printf("qps=%.1f reqs=%d fails=%d\n", achieved, len(results), failures)
		}
	}

	s := summarize(results, qps, time.Since(t0))
	fmt.Println(renderSummary(s))
	if path := c.String("json-summary"); path != "" {
		b, _ := json.MarshalIndent(s, "", "  ")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return err
		}
	}
	if s.ErrorRate > 0.01 || s.AchievedQPS < 0.90*qps {
		return cli.Exit(fmt.Sprintf("error rate %.2f%% or qps %.1f below target", s.ErrorRate*100, s.AchievedQPS), 1)
	}
	return nil
}

func renderSummary(s summary) string {
	tw := table.Table{}
	tw.AppendHeader(table.Row{"Requests", "Failures", "QPS", "p50 ms", "p95 ms", "p99 ms", "Total cost"})
	tw.AppendRow(table.Row{s.Requests, s.Failures, fmt.Sprintf("%.1f/%.1f", s.AchievedQPS, s.TargetQPS), s.P50, s.P95, s.P99, s.TotalCost.StringFixed(2)})
	tw.SetStyle(table.StyleRounded)
	return tw.Render()
}
