package usage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/taskpilot/internal/tools"
)

// RegisterTools adds cost_summary to the registry.
func RegisterTools(reg *tools.Registry, store *Store) {
	reg.MustRegister(&tools.Tool{
		Name:        "cost_summary",
		Description: "Report model token usage and cost over the last N days, broken down by model.",
		Parameters: tools.Object(map[string]any{
			"days": tools.Prop("integer", "How many days to look back (default 7)"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			days := tools.IntArg(args, "days", 7)
			if days <= 0 {
				days = 7
			}
			end := time.Now().Add(time.Minute)
			start := end.AddDate(0, 0, -days)
			return FormatSummary(ctx, store, start, end, days)
		},
	})
}

// FormatSummary renders the totals and per-model breakdown for a window.
func FormatSummary(ctx context.Context, store *Store, start, end time.Time, days int) (string, error) {
	total, err := store.Summary(ctx, start, end)
	if err != nil {
		return "", err
	}
	if total.TotalRecords == 0 {
		return fmt.Sprintf("No model calls in the last %d day(s).", days), nil
	}
	byModel, err := store.SummaryByModel(ctx, start, end)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d day(s): %d calls, %d input / %d output tokens, $%.4f\n",
		days, total.TotalRecords, total.TotalInputTokens, total.TotalOutputTokens, total.TotalCostUSD)

	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		a, b := byModel[models[i]], byModel[models[j]]
		if a.TotalCostUSD != b.TotalCostUSD {
			return a.TotalCostUSD > b.TotalCostUSD
		}
		return models[i] < models[j]
	})
	for _, m := range models {
		s := byModel[m]
		fmt.Fprintf(&sb, "- %s: %d calls, %d in / %d out, $%.4f\n",
			m, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUSD)
	}
	return sb.String(), nil
}
