package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/shopspring/decimal"
)

// Azure Cost Management reports costs in the billing currency; USD unless a
// Currency column says otherwise.
const defaultAzureCurrency = "USD"

type costQueryAPI interface {
	Usage(ctx context.Context, scope string, parameters armcostmanagement.QueryDefinition, options *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error)
}

// AzureProvider reads costs from Azure Cost Management.
type AzureProvider struct {
	subscriptionID string
	client         costQueryAPI
	now            func() time.Time
}

// NewAzureProvider authenticates with DefaultAzureCredential: environment
// variables, managed identity or the az CLI login.
func NewAzureProvider(subscriptionID string) (*AzureProvider, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := armcostmanagement.NewQueryClient(credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client: %w", err)
	}
	return newAzureProvider(subscriptionID, client), nil
}

func newAzureProvider(subscriptionID string, client costQueryAPI) *AzureProvider {
	return &AzureProvider{subscriptionID: subscriptionID, client: client, now: time.Now}
}

func (p *AzureProvider) Name() string { return Azure }

type azureCostParams struct {
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	SubscriptionID string   `json:"subscriptionId"`
	Scope          string   `json:"scope"`
	Granularity    string   `json:"granularity"`
	GroupBy        []string `json:"groupBy"`
}

func (p *AzureProvider) buildQuery(params json.RawMessage) (string, armcostmanagement.QueryDefinition, string, error) {
	var zp azureCostParams
	if err := decodeParams(params, &zp); err != nil {
		return "", armcostmanagement.QueryDefinition{}, "", err
	}
	start, end, err := dateRange(zp.StartDate, zp.EndDate, p.now())
	if err != nil {
		return "", armcostmanagement.QueryDefinition{}, "", err
	}

	scope := zp.Scope
	if scope == "" {
		sub := zp.SubscriptionID
		if sub == "" {
			sub = p.subscriptionID
		}
		if sub == "" {
			return "", armcostmanagement.QueryDefinition{}, "", errors.New("azure subscription is not set: pass subscriptionId or scope")
		}
		scope = fmt.Sprintf("/subscriptions/%s", sub)
	}

	dataset := &armcostmanagement.QueryDataset{
		Aggregation: map[string]*armcostmanagement.QueryAggregation{
			"totalCost": {
				Name:     to.Ptr("Cost"),
				Function: to.Ptr(armcostmanagement.FunctionTypeSum),
			},
		},
	}
	granularity := "None"
	switch strings.ToLower(zp.Granularity) {
	case "", "none":
	case "daily":
		granularity = "Daily"
		dataset.Granularity = to.Ptr(armcostmanagement.GranularityTypeDaily)
	case "monthly":
		granularity = "Monthly"
		dataset.Granularity = to.Ptr(armcostmanagement.GranularityType("Monthly"))
	default:
		return "", armcostmanagement.QueryDefinition{}, "", fmt.Errorf("unsupported granularity %q", zp.Granularity)
	}
	for _, name := range zp.GroupBy {
		g := &armcostmanagement.QueryGrouping{
			Type: to.Ptr(armcostmanagement.QueryColumnTypeDimension),
			Name: to.Ptr(name),
		}
		if tag, ok := strings.CutPrefix(name, "TAG:"); ok {
			g.Type = to.Ptr(armcostmanagement.QueryColumnTypeTag)
			g.Name = to.Ptr(tag)
		}
		dataset.Grouping = append(dataset.Grouping, g)
	}

	// The query end is inclusive; stop one second before endDate so both
	// providers treat endDate as exclusive.
	def := armcostmanagement.QueryDefinition{
		Type:      to.Ptr(armcostmanagement.ExportTypeActualCost),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: to.Ptr(start),
			To:   to.Ptr(end.Add(-time.Second)),
		},
		Dataset: dataset,
	}
	return scope, def, granularity, nil
}

func (p *AzureProvider) FetchCosts(ctx context.Context, params json.RawMessage) (any, error) {
	scope, def, granularity, err := p.buildQuery(params)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Usage(ctx, scope, def, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query costs: %w", err)
	}

	start := def.TimePeriod.From.Format(dateLayout)
	end := def.TimePeriod.To.Add(time.Second).Format(dateLayout)
	report := &CostReport{
		Provider:    Azure,
		Start:       start,
		End:         end,
		Granularity: granularity,
		Total:       decimal.Zero,
		Periods:     []PeriodCost{},
	}
	props := resp.Properties
	if props == nil {
		props = &armcostmanagement.QueryProperties{}
	}

	dimensions := 0
	for _, g := range def.Dataset.Grouping {
		if *g.Type == armcostmanagement.QueryColumnTypeDimension {
			dimensions++
		}
	}
	cols := newColumnLayout(props.Columns, dimensions)
	index := map[string]int{}
	type groupKey struct{ period, keys string }
	groupIndex := map[groupKey]int{}

	for _, row := range props.Rows {
		amount, err := cellDecimal(row, cols.cost)
		if err != nil {
			return nil, err
		}
		if c := cellString(row, cols.currency); c != "" {
			setCurrency(report, c)
		}

		periodStart := start
		periodEnd := end
		if cols.date >= 0 {
			periodStart = cellDate(row, cols.date)
			periodEnd = ""
		}
		i, ok := index[periodStart]
		if !ok {
			report.Periods = append(report.Periods, PeriodCost{Start: periodStart, End: periodEnd, Total: decimal.Zero})
			i = len(report.Periods) - 1
			index[periodStart] = i
		}
		period := &report.Periods[i]
		period.Total = period.Total.Add(amount)

		if !cols.grouped() || amount.IsZero() {
			continue
		}
		keys := cols.groupKeys(row)
		gk := groupKey{periodStart, strings.Join(keys, "\x00")}
		if gi, ok := groupIndex[gk]; ok {
			period.Groups[gi].Amount = period.Groups[gi].Amount.Add(amount)
			continue
		}
		period.Groups = append(period.Groups, GroupCost{Keys: keys, Amount: amount})
		groupIndex[gk] = len(period.Groups) - 1
	}

	if report.Currency == "" {
		report.Currency = defaultAzureCurrency
	}
	for i := range report.Periods {
		for j := range report.Periods[i].Groups {
			report.Periods[i].Groups[j].Unit = report.Currency
		}
		sortGroups(report.Periods[i].Groups)
		report.Total = report.Total.Add(report.Periods[i].Total)
	}
	return report, nil
}

// columnLayout locates the interesting columns of a query result by name.
// Tag groupings come back as a TagKey/TagValue column pair.
type columnLayout struct {
	cost     int
	currency int
	date     int
	tagKey   int
	tagValue int
	groups   []int
}

func newColumnLayout(columns []*armcostmanagement.QueryColumn, groupCount int) columnLayout {
	l := columnLayout{cost: -1, currency: -1, date: -1, tagKey: -1, tagValue: -1}
	var rest []int
	for i, c := range columns {
		if c == nil || c.Name == nil {
			rest = append(rest, i)
			continue
		}
		switch strings.ToLower(*c.Name) {
		case "totalcost", "cost", "pretaxcost", "costusd":
			if l.cost < 0 {
				l.cost = i
			}
		case "currency":
			l.currency = i
		case "usagedate", "billingmonth":
			l.date = i
		case "tagkey":
			l.tagKey = i
		case "tagvalue":
			l.tagValue = i
		default:
			rest = append(rest, i)
		}
	}
	if l.cost < 0 {
		l.cost = 0
	}
	if len(rest) > groupCount {
		rest = rest[:groupCount]
	}
	l.groups = rest
	return l
}

func (l columnLayout) grouped() bool {
	return len(l.groups) > 0 || l.tagKey >= 0
}

// groupKeys returns the dimension values of a row followed by "key=value"
// for its tag, if any.
func (l columnLayout) groupKeys(row []any) []string {
	keys := make([]string, 0, len(l.groups)+1)
	for _, gi := range l.groups {
		keys = append(keys, cellString(row, gi))
	}
	if l.tagKey >= 0 {
		keys = append(keys, cellString(row, l.tagKey)+"="+cellString(row, l.tagValue))
	}
	return keys
}

func cellDecimal(row []any, i int) (decimal.Decimal, error) {
	if i < 0 || i >= len(row) || row[i] == nil {
		return decimal.Zero, nil
	}
	switch v := row[i].(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse cost %q: %w", v, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected cost value %v (%T)", v, v)
	}
}

func cellString(row []any, i int) string {
	if i < 0 || i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// cellDate normalizes UsageDate (20240115) and BillingMonth
// ("2024-01-01T00:00:00") values to YYYY-MM-DD.
func cellDate(row []any, i int) string {
	s := cellString(row, i)
	if t, err := time.Parse("20060102", s); err == nil {
		return t.Format(dateLayout)
	}
	if len(s) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return t.Format(dateLayout)
		}
	}
	return s
}
