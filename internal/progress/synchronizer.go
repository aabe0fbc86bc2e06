package progress

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/model"
)

// Synchronizer brings a case's ledger into structural agreement with the
// authoritative ordered stage definitions of its workflow. It repairs
// sequence drift, inserts entries for stages added after the case started,
// and drops entries for removed stages — but never removes or rewinds a
// completed entry.
type Synchronizer struct {
	logger *zap.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{logger: logger}
}

// Build creates a fresh ledger from the stage definitions: one entry per
// stage in definition order with positions 1..N. The first entry starts
// InProgress and current, the rest Pending.
func (s *Synchronizer) Build(defs []model.StageDefinition, now time.Time) []model.StageProgress {
	entries := make([]model.StageProgress, 0, len(defs))
	for i, def := range defs {
		entry := model.StageProgress{
			StageID:    def.ID,
			StageOrder: i + 1,
			Status:     model.StageStatusPending,
		}
		if i == 0 {
			entry.Status = model.StageStatusInProgress
			entry.IsCurrent = true
			t := now
			entry.StartTime = &t
		}
		entries = append(entries, entry)
	}
	return entries
}

// Sync reconciles an existing ledger with the current stage definitions.
// Entries matching a definition keep their status, timestamps and actor
// fields; only their sequence position is reassigned to the definition's
// rank. Definitions without a ledger entry gain a Pending entry at their
// rank. Entries whose stage no longer exists in the definitions are dropped
// when uncompleted and retained at the tail when completed, so completed
// history survives workflow edits.
//
// The returned flag reports whether the ledger changed. An empty input
// ledger is rebuilt via Build. Sync is idempotent: a second run over its own
// output is a no-op.
func (s *Synchronizer) Sync(caseID string, entries []model.StageProgress, defs []model.StageDefinition, now time.Time) ([]model.StageProgress, bool) {
	if len(entries) == 0 {
		if len(defs) == 0 {
			return entries, false
		}
		s.logger.Info("building ledger from stage definitions",
			zap.String("case_id", caseID),
			zap.Int("stages", len(defs)),
		)
		return s.Build(defs, now), true
	}

	byStage := make(map[string]int, len(entries))
	for i := range entries {
		byStage[entries[i].StageID] = i
	}
	defined := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		defined[def.ID] = struct{}{}
	}

	changed := false
	result := make([]model.StageProgress, 0, len(defs))

	for i, def := range defs {
		rank := i + 1
		if idx, ok := byStage[def.ID]; ok {
			entry := entries[idx]
			if entry.StageOrder != rank {
				entry.StageOrder = rank
				changed = true
			}
			result = append(result, entry)
			continue
		}
		t := now
		result = append(result, model.StageProgress{
			StageID:         def.ID,
			StageOrder:      rank,
			Status:          model.StageStatusPending,
			LastUpdatedTime: &t,
		})
		changed = true
		s.logger.Info("inserted ledger entry for new stage",
			zap.String("case_id", caseID),
			zap.String("stage_id", def.ID),
			zap.Int("stage_order", rank),
		)
	}

	// Orphaned entries: completed history is kept at the tail, anything
	// uncompleted for a removed stage is dropped.
	for i := range entries {
		if _, ok := defined[entries[i].StageID]; ok {
			continue
		}
		if entries[i].IsCompleted {
			entry := entries[i]
			entry.StageOrder = len(result) + 1
			entry.IsCurrent = false
			result = append(result, entry)
			changed = true
			continue
		}
		changed = true
		s.logger.Warn("dropped ledger entry for removed stage",
			zap.String("case_id", caseID),
			zap.String("stage_id", entries[i].StageID),
		)
	}

	return result, changed
}

// FixOrderSequence repairs sequence drift in place: entries are sorted by
// their current position and positions reassigned to the contiguous run
// 1..N. Returns whether any position changed. Running it twice never changes
// a value after the first correction.
func (s *Synchronizer) FixOrderSequence(entries []model.StageProgress) bool {
	if len(entries) == 0 {
		return false
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StageOrder < entries[j].StageOrder
	})

	changed := false
	for i := range entries {
		if entries[i].StageOrder != i+1 {
			entries[i].StageOrder = i + 1
			changed = true
		}
	}
	return changed
}

// Enrich joins configuration-derived fields from the stage definitions into
// the ledger entries for read-side convenience. The enriched fields are
// excluded from serialization, so nothing written here can reach storage.
func Enrich(entries []model.StageProgress, defs []model.StageDefinition) {
	byID := make(map[string]model.StageDefinition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	for i := range entries {
		def, ok := byID[entries[i].StageID]
		if !ok {
			continue
		}
		entries[i].StageName = def.Name
		entries[i].Description = def.Description
		entries[i].EstimatedDays = def.EstimatedDays
		entries[i].VisibleInPortal = def.VisibleInPortal
		entries[i].ComponentsJSON = def.ComponentsJSON
	}
}

// RemoveStage removes the ledger entry for an explicitly deleted stage and
// closes the resulting position gap. Completed entries are removable here —
// this is the deliberate deletion path, unlike Sync which preserves them.
func (s *Synchronizer) RemoveStage(entries []model.StageProgress, stageID string) ([]model.StageProgress, bool) {
	result := entries[:0:0]
	removed := false
	for i := range entries {
		if entries[i].StageID == stageID {
			removed = true
			continue
		}
		result = append(result, entries[i])
	}
	if removed {
		s.FixOrderSequence(result)
	}
	return result, removed
}
