package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/shopspring/decimal"
)

const defaultAWSMetric = "UnblendedCost"

type costExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// AWSProvider reads costs from AWS Cost Explorer.
type AWSProvider struct {
	client costExplorerAPI
	now    func() time.Time
}

func NewAWSProvider(ctx context.Context, region string) (*AWSProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return newAWSProvider(costexplorer.NewFromConfig(awsCfg)), nil
}

func newAWSProvider(client costExplorerAPI) *AWSProvider {
	return &AWSProvider{client: client, now: time.Now}
}

func (p *AWSProvider) Name() string { return AWS }

type awsCostParams struct {
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	Granularity string   `json:"granularity"`
	Metrics     []string `json:"metrics"`
	GroupBy     []string `json:"groupBy"`
}

func (p *AWSProvider) buildInput(params json.RawMessage) (*costexplorer.GetCostAndUsageInput, string, error) {
	var ap awsCostParams
	if err := decodeParams(params, &ap); err != nil {
		return nil, "", err
	}
	start, end, err := dateRange(ap.StartDate, ap.EndDate, p.now())
	if err != nil {
		return nil, "", err
	}

	granularity := types.GranularityMonthly
	if ap.Granularity != "" {
		granularity = types.Granularity(strings.ToUpper(ap.Granularity))
		if !validGranularity(granularity) {
			return nil, "", fmt.Errorf("unsupported granularity %q", ap.Granularity)
		}
	}

	metrics := ap.Metrics
	if len(metrics) == 0 {
		metrics = []string{defaultAWSMetric}
	}

	input := &costexplorer.GetCostAndUsageInput{
		Granularity: granularity,
		TimePeriod: &types.DateInterval{
			Start: aws.String(start.Format(dateLayout)),
			End:   aws.String(end.Format(dateLayout)),
		},
		Metrics: metrics,
	}
	for _, key := range ap.GroupBy {
		gd := types.GroupDefinition{Type: types.GroupDefinitionTypeDimension, Key: aws.String(key)}
		if tag, ok := strings.CutPrefix(key, "TAG:"); ok {
			gd = types.GroupDefinition{Type: types.GroupDefinitionTypeTag, Key: aws.String(tag)}
		}
		input.GroupBy = append(input.GroupBy, gd)
	}
	return input, metrics[0], nil
}

func validGranularity(g types.Granularity) bool {
	for _, v := range g.Values() {
		if v == g {
			return true
		}
	}
	return false
}

// FetchCosts runs GetCostAndUsage over every result page. Totals use the
// first requested metric.
func (p *AWSProvider) FetchCosts(ctx context.Context, params json.RawMessage) (any, error) {
	input, metric, err := p.buildInput(params)
	if err != nil {
		return nil, err
	}

	report := &CostReport{
		Provider:    AWS,
		Start:       aws.ToString(input.TimePeriod.Start),
		End:         aws.ToString(input.TimePeriod.End),
		Granularity: string(input.Granularity),
		Total:       decimal.Zero,
		Periods:     []PeriodCost{},
	}
	index := map[string]int{}

	for {
		out, err := p.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("aws cost explorer: %w", err)
		}
		for _, r := range out.ResultsByTime {
			if err := p.addResult(report, index, r, metric); err != nil {
				return nil, err
			}
		}
		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	for i := range report.Periods {
		sortGroups(report.Periods[i].Groups)
		report.Total = report.Total.Add(report.Periods[i].Total)
	}
	return report, nil
}

// addResult merges one ResultByTime into the report. Grouped results for the
// same period may be split across pages, so periods are keyed by start date.
func (p *AWSProvider) addResult(report *CostReport, index map[string]int, r types.ResultByTime, metric string) error {
	var start, end string
	if r.TimePeriod != nil {
		start, end = aws.ToString(r.TimePeriod.Start), aws.ToString(r.TimePeriod.End)
	}
	i, ok := index[start]
	if !ok {
		report.Periods = append(report.Periods, PeriodCost{Start: start, End: end, Total: decimal.Zero})
		i = len(report.Periods) - 1
		index[start] = i
	}
	period := &report.Periods[i]

	if len(r.Groups) == 0 {
		amount, unit, err := metricAmount(r.Total, metric)
		if err != nil {
			return err
		}
		period.Total = period.Total.Add(amount)
		setCurrency(report, unit)
		return nil
	}

	for _, g := range r.Groups {
		amount, unit, err := metricAmount(g.Metrics, metric)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			continue
		}
		period.Groups = append(period.Groups, GroupCost{Keys: g.Keys, Amount: amount, Unit: unit})
		period.Total = period.Total.Add(amount)
		setCurrency(report, unit)
	}
	return nil
}

func metricAmount(values map[string]types.MetricValue, metric string) (decimal.Decimal, string, error) {
	mv, ok := values[metric]
	if !ok || mv.Amount == nil {
		return decimal.Zero, "", nil
	}
	amount, err := decimal.NewFromString(*mv.Amount)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("parse %s amount %q: %w", metric, *mv.Amount, err)
	}
	return amount, aws.ToString(mv.Unit), nil
}

func setCurrency(report *CostReport, unit string) {
	if report.Currency == "" && unit != "" {
		report.Currency = unit
	}
}
