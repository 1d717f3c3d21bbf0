package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// maxMockDays bounds the window a mock report covers, one period per day.
const maxMockDays = 366

// MockProvider fabricates cost reports for local runs without cloud
// credentials. It answers under any name so it can stand in for aws or azure.
type MockProvider struct {
	name      string
	meanMs    float64
	p95Ms     float64
	errorRate float64
	dailyCost decimal.Decimal
	now       func() time.Time
}

func NewMockProvider(name string, meanMs, p95Ms, errorRate float64, dailyCost decimal.Decimal) *MockProvider {
	return &MockProvider{
		name:      name,
		meanMs:    meanMs,
		p95Ms:     p95Ms,
		errorRate: errorRate,
		dailyCost: dailyCost,
		now:       time.Now,
	}
}

func (m *MockProvider) Name() string { return m.name }

// sampleLatency samples from a lognormal distribution configured to approximate given mean and p95
func (m *MockProvider) sampleLatency() time.Duration {
	if m.meanMs <= 0 {
		return 0
	}
	// For lognormal X ~ logN(mu, sigma), mean = exp(mu + sigma^2/2)
	// p95 = exp(mu + z* sigma), z = 1.64485362695
	mean := m.meanMs
	p95 := m.p95Ms
	if p95 < mean {
		p95 = mean
	}
	z := 1.64485362695
	// Solve p95/mean = exp(sigma*(z - sigma/2)) for sigma by bisection
	f := func(s float64) float64 { return math.Exp(s*(z-s/2)) - p95/mean }
	lo, hi := 1e-6, 3.0
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		if f(mid) > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	sigma := (lo + hi) / 2
	mu := math.Log(mean) - sigma*sigma/2
	x := math.Exp(mu + sigma*rand.NormFloat64())
	// clamp to 3*p95 to avoid extreme outliers
	if x > 3*p95 {
		x = 3 * p95
	}
	return time.Duration(x * float64(time.Millisecond))
}

// FetchCosts returns one daily period per day in the requested window, each
// costing dailyCost.
func (m *MockProvider) FetchCosts(ctx context.Context, params json.RawMessage) (any, error) {
	var mp struct {
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	}
	if err := decodeParams(params, &mp); err != nil {
		return nil, err
	}
	start, end, err := dateRange(mp.StartDate, mp.EndDate, m.now())
	if err != nil {
		return nil, err
	}
	if end.After(start.AddDate(0, 0, maxMockDays)) {
		return nil, fmt.Errorf("date window longer than %d days", maxMockDays)
	}

	if d := m.sampleLatency(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if rand.Float64() < m.errorRate {
		return nil, errors.New("mock error")
	}

	report := &CostReport{
		Provider:    m.name,
		Start:       start.Format(dateLayout),
		End:         end.Format(dateLayout),
		Granularity: "DAILY",
		Currency:    "USD",
		Total:       decimal.Zero,
		Periods:     []PeriodCost{},
	}
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		report.Periods = append(report.Periods, PeriodCost{
			Start: day.Format(dateLayout),
			End:   day.AddDate(0, 0, 1).Format(dateLayout),
			Total: m.dailyCost,
		})
		report.Total = report.Total.Add(m.dailyCost)
	}
	return report, nil
}
