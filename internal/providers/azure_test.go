package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCostQuery struct {
	result armcostmanagement.QueryResult
	err    error
	scopes []string
	defs   []armcostmanagement.QueryDefinition
}

func (f *fakeCostQuery) Usage(_ context.Context, scope string, def armcostmanagement.QueryDefinition, _ *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error) {
	f.scopes = append(f.scopes, scope)
	f.defs = append(f.defs, def)
	if f.err != nil {
		return armcostmanagement.QueryClientUsageResponse{}, f.err
	}
	return armcostmanagement.QueryClientUsageResponse{QueryResult: f.result}, nil
}

func columns(names ...string) []*armcostmanagement.QueryColumn {
	cols := make([]*armcostmanagement.QueryColumn, 0, len(names))
	for _, n := range names {
		cols = append(cols, &armcostmanagement.QueryColumn{Name: to.Ptr(n)})
	}
	return cols
}

func TestAzureFetchCostsTotal(t *testing.T) {
	fake := &fakeCostQuery{result: armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: columns("totalCost", "Currency"),
			Rows:    [][]any{{12.5, "EUR"}},
		},
	}}
	p := newAzureProvider("sub-1", fake)

	out, err := p.FetchCosts(context.Background(), json.RawMessage(`{"cloudProvider":"azure","startDate":"2024-01-01","endDate":"2024-02-01"}`))
	require.NoError(t, err)

	report := out.(*CostReport)
	assert.Equal(t, Azure, report.Provider)
	assert.Equal(t, "2024-01-01", report.Start)
	assert.Equal(t, "2024-02-01", report.End)
	assert.Equal(t, "None", report.Granularity)
	assert.Equal(t, "EUR", report.Currency)
	assert.True(t, report.Total.Equal(decimal.RequireFromString("12.5")), "total %s", report.Total)

	require.Len(t, fake.scopes, 1)
	assert.Equal(t, "/subscriptions/sub-1", fake.scopes[0])
	def := fake.defs[0]
	assert.Equal(t, armcostmanagement.ExportTypeActualCost, *def.Type)
	assert.Nil(t, def.Dataset.Granularity)
	assert.True(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC).Equal(*def.TimePeriod.To))
}

func TestAzureFetchCostsDailyGrouped(t *testing.T) {
	fake := &fakeCostQuery{result: armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: columns("totalCost", "UsageDate", "ServiceName", "Currency"),
			Rows: [][]any{
				{1.5, float64(20240101), "Storage", "USD"},
				{2.5, float64(20240101), "Virtual Machines", "USD"},
				{0.5, float64(20240101), "Storage", "USD"},
				{4.0, float64(20240102), "Virtual Machines", "USD"},
				{0.0, float64(20240102), "Bandwidth", "USD"},
			},
		},
	}}
	p := newAzureProvider("", fake)

	out, err := p.FetchCosts(context.Background(), json.RawMessage(`{"subscriptionId":"sub-2","startDate":"2024-01-01","endDate":"2024-01-03","granularity":"daily","groupBy":["ServiceName"]}`))
	require.NoError(t, err)

	assert.Equal(t, "/subscriptions/sub-2", fake.scopes[0])
	def := fake.defs[0]
	require.NotNil(t, def.Dataset.Granularity)
	assert.Equal(t, armcostmanagement.GranularityTypeDaily, *def.Dataset.Granularity)
	require.Len(t, def.Dataset.Grouping, 1)
	assert.Equal(t, "ServiceName", *def.Dataset.Grouping[0].Name)

	report := out.(*CostReport)
	assert.Equal(t, "Daily", report.Granularity)
	require.Len(t, report.Periods, 2)

	day1 := report.Periods[0]
	assert.Equal(t, "2024-01-01", day1.Start)
	assert.True(t, day1.Total.Equal(decimal.RequireFromString("4.5")))
	require.Len(t, day1.Groups, 2)
	assert.Equal(t, []string{"Virtual Machines"}, day1.Groups[0].Keys)
	assert.Equal(t, []string{"Storage"}, day1.Groups[1].Keys)
	assert.True(t, day1.Groups[1].Amount.Equal(decimal.NewFromInt(2)), "same key aggregates")
	assert.Equal(t, "USD", day1.Groups[1].Unit)

	day2 := report.Periods[1]
	assert.Equal(t, "2024-01-02", day2.Start)
	assert.Len(t, day2.Groups, 1, "zero rows are not grouped")

	assert.True(t, report.Total.Equal(decimal.RequireFromString("8.5")))
}

func TestAzureFetchCostsTagGrouped(t *testing.T) {
	fake := &fakeCostQuery{result: armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: columns("Cost", "ServiceName", "TagKey", "TagValue", "Currency"),
			Rows: [][]any{
				{10.0, "Storage", "env", "prod", "USD"},
				{3.0, "Storage", "env", "dev", "USD"},
				{2.0, "Storage", "env", "prod", "USD"},
			},
		},
	}}
	p := newAzureProvider("sub-1", fake)

	out, err := p.FetchCosts(context.Background(), json.RawMessage(`{"startDate":"2024-01-01","endDate":"2024-02-01","groupBy":["ServiceName","TAG:env"]}`))
	require.NoError(t, err)

	grouping := fake.defs[0].Dataset.Grouping
	require.Len(t, grouping, 2)
	assert.Equal(t, armcostmanagement.QueryColumnTypeDimension, *grouping[0].Type)
	assert.Equal(t, armcostmanagement.QueryColumnTypeTag, *grouping[1].Type)
	assert.Equal(t, "env", *grouping[1].Name)

	report := out.(*CostReport)
	require.Len(t, report.Periods, 1)
	groups := report.Periods[0].Groups
	require.Len(t, groups, 2, "tag values stay separate")
	assert.Equal(t, []string{"Storage", "env=prod"}, groups[0].Keys)
	assert.True(t, groups[0].Amount.Equal(decimal.NewFromInt(12)), "amount %s", groups[0].Amount)
	assert.Equal(t, []string{"Storage", "env=dev"}, groups[1].Keys)
	assert.True(t, groups[1].Amount.Equal(decimal.NewFromInt(3)), "amount %s", groups[1].Amount)
}

func TestAzureFetchCostsScopeOverride(t *testing.T) {
	fake := &fakeCostQuery{}
	p := newAzureProvider("sub-1", fake)

	out, err := p.FetchCosts(context.Background(), json.RawMessage(`{"scope":"/providers/Microsoft.Billing/billingAccounts/42","startDate":"2024-01-01","endDate":"2024-01-02"}`))
	require.NoError(t, err)
	assert.Equal(t, "/providers/Microsoft.Billing/billingAccounts/42", fake.scopes[0])

	report := out.(*CostReport)
	assert.Empty(t, report.Periods)
	assert.Equal(t, "USD", report.Currency)
	assert.True(t, report.Total.IsZero())
}

func TestAzureFetchCostsErrors(t *testing.T) {
	tests := []struct {
		name   string
		sub    string
		params string
		err    error
		want   string
	}{
		{name: "sdk error", sub: "s", params: `{}`, err: errors.New("AuthorizationFailed"), want: "failed to query costs: AuthorizationFailed"},
		{name: "no subscription", params: `{}`, want: "azure subscription is not set"},
		{name: "granularity", sub: "s", params: `{"granularity":"hourly"}`, want: `unsupported granularity "hourly"`},
		{name: "only end", sub: "s", params: `{"endDate":"2024-01-01"}`, want: "startDate and endDate must be given together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCostQuery{err: tt.err}
			p := newAzureProvider(tt.sub, fake)
			_, err := p.FetchCosts(context.Background(), json.RawMessage(tt.params))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestColumnLayout(t *testing.T) {
	l := newColumnLayout(columns("PreTaxCost", "ResourceGroup", "Currency", "Extra"), 1)
	assert.Equal(t, 0, l.cost)
	assert.Equal(t, 2, l.currency)
	assert.Equal(t, -1, l.date)
	assert.Equal(t, []int{1}, l.groups)
	assert.False(t, newColumnLayout(columns("Cost", "Currency"), 0).grouped())

	l = newColumnLayout(columns("Cost", "TagKey", "TagValue"), 0)
	assert.Empty(t, l.groups)
	assert.Equal(t, 1, l.tagKey)
	assert.Equal(t, 2, l.tagValue)
	assert.True(t, l.grouped())
	assert.Equal(t, []string{"team=core"}, l.groupKeys([]any{1.0, "team", "core"}))
}

func TestCellDate(t *testing.T) {
	assert.Equal(t, "2024-01-15", cellDate([]any{float64(20240115)}, 0))
	assert.Equal(t, "2024-01-01", cellDate([]any{"2024-01-01T00:00:00"}, 0))
}
