package progress

import (
	"math"

	"github.com/caseflow-io/caseflow/model"
)

// CompletionMode selects the algorithm used to derive a case's completion
// percentage from its ledger. Each transition operation declares its mode
// explicitly so the choice is visible at the call site.
type CompletionMode string

const (
	// ModeByStageOrder counts the distinct sequence positions that have a
	// completed entry against the total distinct positions. Used when
	// stages complete strictly in order.
	ModeByStageOrder CompletionMode = "by_stage_order"

	// ModeByCompletedCount counts completed entries against total entries.
	// Used when stages may complete non-sequentially.
	ModeByCompletedCount CompletionMode = "by_completed_count"
)

// CompletionRate computes the 0-100 completion percentage of a ledger using
// the given mode, rounded to two decimals half away from zero. An empty
// ledger yields 0. Both modes agree once every stage is completed in order:
// each returns 100.
func CompletionRate(mode CompletionMode, entries []model.StageProgress) float64 {
	if len(entries) == 0 {
		return 0
	}

	switch mode {
	case ModeByCompletedCount:
		completed := 0
		for i := range entries {
			if entries[i].IsCompleted {
				completed++
			}
		}
		return round2(float64(completed) / float64(len(entries)) * 100)
	default:
		orders := make(map[int]struct{}, len(entries))
		completedOrders := make(map[int]struct{})
		for i := range entries {
			orders[entries[i].StageOrder] = struct{}{}
			if entries[i].IsCompleted {
				completedOrders[entries[i].StageOrder] = struct{}{}
			}
		}
		if len(orders) == 0 {
			return 0
		}
		return round2(float64(len(completedOrders)) / float64(len(orders)) * 100)
	}
}

// round2 rounds to two decimal places, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
