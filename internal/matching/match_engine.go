package matching

import (
	"rendiciones-service/internal/models"
	"rendiciones-service/internal/normalize"
)

// MatchEngine assigns receipt records to statement rows through the
// line-to-row mapping built by the plan stage. Records are processed strictly
// in input order: the first source key to claim a row wins it, later distinct
// claimants become duplicate_match conflicts, and claims by the winning key
// merge as continuations of a multi-part receipt.
type MatchEngine struct {
	lineToSheetRow map[int]int
}

func NewMatchEngine(lineToSheetRow map[int]int) *MatchEngine {
	return &MatchEngine{lineToSheetRow: lineToSheetRow}
}

// Assign runs one reconciliation pass. Every input record lands in exactly one
// of: an assigned row patch, a conflict entry, or the orphan list.
func (m *MatchEngine) Assign(records []models.ReceiptRecord) *models.Assignment {
	out := &models.Assignment{
		AssignedBySheetRow: make(map[int]string),
		RowPatches:         make(map[int]map[string]interface{}),
		RowStatus:          make(map[int]string),
		Orphans:            []models.Orphan{},
		Conflicts:          []models.Conflict{},
		OrderList:          normalize.BuildOrderList(records),
	}

	for _, rec := range records {
		targetRow := 0
		if rec.MatchIndex > 0 {
			targetRow = m.lineToSheetRow[rec.MatchIndex]
		}

		if targetRow == 0 {
			out.Orphans = append(out.Orphans, models.Orphan{
				Source:      rec.SourceKey,
				MatchIndex:  rec.MatchIndex,
				Observation: rec.Observation,
				Fields:      rec.Fields,
			})
			continue
		}

		owner, claimed := out.AssignedBySheetRow[targetRow]
		if claimed && owner != rec.SourceKey {
			// Sticky: a row in conflict stays in conflict.
			out.RowStatus[targetRow] = models.StatusConflict
			out.Conflicts = append(out.Conflicts, models.Conflict{
				Type:       models.ConflictDuplicateMatch,
				Source:     rec.SourceKey,
				MatchIndex: rec.MatchIndex,
				TargetRow:  targetRow,
				Fields:     rec.Fields,
			})
			continue
		}

		out.AssignedBySheetRow[targetRow] = rec.SourceKey
		mergePatch(out.RowPatches, targetRow, rec.Fields)
		if out.RowStatus[targetRow] != models.StatusConflict {
			out.RowStatus[targetRow] = models.StatusMatched
		}
	}

	return out
}

// mergePatch folds record fields into the row patch, first non-empty value
// wins per field.
func mergePatch(patches map[int]map[string]interface{}, row int, fields map[string]interface{}) {
	patch := patches[row]
	if patch == nil {
		patch = make(map[string]interface{})
		patches[row] = patch
	}
	for k, v := range fields {
		if existing, ok := patch[k]; ok && !isEmpty(existing) {
			continue
		}
		if isEmpty(v) {
			continue
		}
		patch[k] = v
	}
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
