package provision

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderSummary draws one row per completed step.
func RenderSummary(results []Result) string {
	tw := table.Table{}
	tw.AppendHeader(table.Row{"Resource", "Name", "Action"})
	for _, r := range results {
		action := r.Action
		switch action {
		case ActionCreated:
			action = text.FgGreen.Sprint(action)
		case ActionUpdated:
			action = text.FgYellow.Sprint(action)
		}
		tw.AppendRow(table.Row{r.Resource, r.Name, action})
	}
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignCenter},
	})
	return tw.Render()
}
