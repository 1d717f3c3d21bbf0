package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AWS   = "aws"
	Azure = "azure"
)

const dateLayout = "2006-01-02"

// Provider is the capability every billing backend implements. params is the
// caller's request body, untouched; each provider decodes the fields it
// understands.
type Provider interface {
	Name() string
	FetchCosts(ctx context.Context, params json.RawMessage) (any, error)
}

// Set is the closed collection of providers the router dispatches over.
type Set struct {
	byName map[string]Provider
	order  []string
}

func NewSet(ps ...Provider) *Set {
	s := &Set{byName: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		if _, dup := s.byName[p.Name()]; !dup {
			s.order = append(s.order, p.Name())
		}
		s.byName[p.Name()] = p
	}
	return s
}

// Lookup matches the name exactly; "AWS" is not "aws".
func (s *Set) Lookup(name string) (Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// All returns providers in registration order.
func (s *Set) All() []Provider {
	out := make([]Provider, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byName[n])
	}
	return out
}

// Configured reports whether p can actually reach its backend.
func Configured(p Provider) bool {
	_, down := p.(*Unavailable)
	return !down
}

// Unavailable stands in for a provider whose SDK could not be initialised at
// startup, so the name stays routable and fails per request.
type Unavailable struct {
	name  string
	cause error
}

func NewUnavailable(name string, cause error) *Unavailable {
	return &Unavailable{name: name, cause: cause}
}

func (u *Unavailable) Name() string { return u.name }

func (u *Unavailable) FetchCosts(context.Context, json.RawMessage) (any, error) {
	return nil, fmt.Errorf("%s provider is not configured: %w", u.name, u.cause)
}

// CostReport is the normalized result both cloud providers return.
type CostReport struct {
	Provider    string          `json:"provider"`
	Start       string          `json:"start"`
	End         string          `json:"end"`
	Granularity string          `json:"granularity"`
	Currency    string          `json:"currency,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Periods     []PeriodCost    `json:"periods"`
}

type PeriodCost struct {
	Start  string          `json:"start"`
	End    string          `json:"end,omitempty"`
	Total  decimal.Decimal `json:"total"`
	Groups []GroupCost     `json:"groups,omitempty"`
}

type GroupCost struct {
	Keys   []string        `json:"keys"`
	Amount decimal.Decimal `json:"amount"`
	Unit   string          `json:"unit,omitempty"`
}

// sortGroups orders groups by amount, largest first, then by keys.
func sortGroups(gs []GroupCost) {
	sort.SliceStable(gs, func(i, j int) bool {
		if c := gs[i].Amount.Cmp(gs[j].Amount); c != 0 {
			return c > 0
		}
		return fmt.Sprint(gs[i].Keys) < fmt.Sprint(gs[j].Keys)
	})
}

// dateRange resolves the requested window. Both dates empty means the
// current month to date; a single empty date is an error.
func dateRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	if start == "" && end == "" {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if !today.After(first) {
			today = first.AddDate(0, 0, 1)
		}
		return first, today, nil
	}
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, errors.New("startDate and endDate must be given together")
	}
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid startDate %q: expected YYYY-MM-DD", start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid endDate %q: expected YYYY-MM-DD", end)
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("endDate %s must be after startDate %s", end, start)
	}
	return s, e, nil
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid request parameters: %w", err)
	}
	return nil
}
