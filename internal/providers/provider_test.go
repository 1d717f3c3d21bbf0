package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider string

func (n namedProvider) Name() string { return string(n) }
func (n namedProvider) FetchCosts(context.Context, json.RawMessage) (any, error) {
	return string(n), nil
}

func TestSetLookup(t *testing.T) {
	s := NewSet(namedProvider(AWS), namedProvider(Azure))

	p, ok := s.Lookup("aws")
	require.True(t, ok)
	assert.Equal(t, AWS, p.Name())

	_, ok = s.Lookup("AWS")
	assert.False(t, ok, "lookup is case sensitive")
	_, ok = s.Lookup("")
	assert.False(t, ok)

	names := []string{}
	for _, p := range s.All() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{AWS, Azure}, names)
}

func TestSetLaterRegistrationWins(t *testing.T) {
	down := NewUnavailable(AWS, errors.New("no credentials"))
	s := NewSet(down, namedProvider(AWS))
	require.Len(t, s.All(), 1)
	p, _ := s.Lookup(AWS)
	assert.True(t, Configured(p))
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("no credentials")
	u := NewUnavailable(Azure, cause)
	assert.False(t, Configured(u))

	_, err := u.FetchCosts(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, "azure provider is not configured: no credentials", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestDateRangeMonthStart(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	start, end, err := dateRange("", "", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", start.Format(dateLayout))
	assert.Equal(t, "2024-05-02", end.Format(dateLayout), "first of month still yields a one-day window")
}
