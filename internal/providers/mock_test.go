package providers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMockLatencyDistribution(t *testing.T) {
	mp := NewMockProvider(AWS, 40, 120, 0.0, decimal.Zero)
	var xs []int64
	for i := 0; i < 5000; i++ {
		xs = append(xs, int64(mp.sampleLatency()/time.Millisecond))
	}
	var sum float64
	for _, v := range xs {
		sum += float64(v)
	}
	mean := sum / float64(len(xs))
	copyVals := append([]int64(nil), xs...)
	// insertion sort
	for i := 1; i < len(copyVals); i++ {
		j := i
		for j > 0 && copyVals[j-1] > copyVals[j] {
			copyVals[j-1], copyVals[j] = copyVals[j], copyVals[j-1]
			j--
		}
	}
	p95 := float64(copyVals[int(float64(len(copyVals))*0.95)-1])
	if mean < 30 || mean > 60 {
		t.Fatalf("mean out of expected range: %.2f", mean)
	}
	if p95 < 90 || p95 > 160 {
		t.Fatalf("p95 out of expected range: %.2f", p95)
	}
}

func TestMockFetchCosts(t *testing.T) {
	mp := NewMockProvider(Azure, 0, 0, 0, decimal.RequireFromString("1.25"))
	out, err := mp.FetchCosts(context.Background(), json.RawMessage(`{"cloudProvider":"azure","startDate":"2024-02-01","endDate":"2024-02-05"}`))
	if err != nil {
		t.Fatalf("FetchCosts: %v", err)
	}
	report := out.(*CostReport)
	if report.Provider != Azure {
		t.Errorf("expected provider azure, got %q", report.Provider)
	}
	if len(report.Periods) != 4 {
		t.Fatalf("expected 4 daily periods, got %d", len(report.Periods))
	}
	if !report.Total.Equal(decimal.RequireFromString("5")) {
		t.Errorf("expected total 5, got %s", report.Total)
	}
}

func TestMockFetchCostsCancelled(t *testing.T) {
	mp := NewMockProvider(AWS, 500, 600, 0, decimal.Zero)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mp.FetchCosts(ctx, nil); err == nil {
		t.Fatal("expected context error")
	}
}

func TestMockFetchCostsWindowLimit(t *testing.T) {
	mp := NewMockProvider(AWS, 0, 0, 0, decimal.NewFromInt(1))
	tests := []struct {
		name    string
		params  string
		periods int
		wantErr bool
	}{
		{"full leap year", `{"startDate":"2024-01-01","endDate":"2025-01-01"}`, 366, false},
		{"one day over", `{"startDate":"2024-01-01","endDate":"2025-01-02"}`, 0, true},
		{"whole calendar", `{"startDate":"0001-01-01","endDate":"9999-12-31"}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := mp.FetchCosts(context.Background(), json.RawMessage(tt.params))
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "date window longer than 366 days") {
					t.Fatalf("expected window error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchCosts: %v", err)
			}
			if n := len(out.(*CostReport).Periods); n != tt.periods {
				t.Errorf("expected %d periods, got %d", tt.periods, n)
			}
		})
	}
}
