package plan

import (
	"errors"
	"math"
	"strings"

	"rendiciones-service/internal/models"
)

// reductionMarker flags IVA reduction lines in the statement detail text. The
// match is a case-insensitive substring, exactly as the statements word it.
const reductionMarker = "reduc. iva ley"

// ErrEmptyStatement is returned when the parsed statement has no lines.
var ErrEmptyStatement = errors.New("no transactions in statement")

// Result is the complete output of the plan builder: the ordered row plan, the
// statement-line to row mapping (reduction lines map to the row they were
// folded into) and the reduction audit trail.
type Result struct {
	Rows           []*models.BaseRow
	LineToSheetRow map[int]int
	Reductions     []models.ReductionAudit
}

// BuildRowsPlan converts the parsed statement into the base row plan. Row
// numbers are 1-based and assigned in statement order; reduction lines fold
// their absolute amount into the preceding row's discounts instead of creating
// a row. A reduction with no preceding row is audited as an orphan, never
// silently dropped.
func BuildRowsPlan(data *models.StatementData) (*Result, error) {
	if data == nil || len(data.Transacciones) == 0 {
		return nil, ErrEmptyStatement
	}

	res := &Result{
		LineToSheetRow: make(map[int]int),
	}

	for i, tx := range data.Transacciones {
		lineIndex := i + 1
		amount, currency, warnings := mapAmount(tx)

		if isReductionLine(tx.Detalle) {
			add := 0.0
			if amount != nil {
				add = math.Abs(*amount)
			}
			if len(res.Rows) == 0 {
				res.Reductions = append(res.Reductions, models.ReductionAudit{
					LineIndex: lineIndex,
					Amount:    add,
					Detail:    tx.Detalle,
					Orphan:    true,
				})
				continue
			}
			last := res.Rows[len(res.Rows)-1]
			last.Discounts += add
			res.LineToSheetRow[lineIndex] = last.Row
			res.Reductions = append(res.Reductions, models.ReductionAudit{
				LineIndex: lineIndex,
				AppliedTo: last.Row,
				Amount:    add,
				Detail:    tx.Detalle,
			})
			continue
		}

		row := &models.BaseRow{
			Row:         len(res.Rows) + 1,
			InvoiceDate: tx.Fecha,
			Provider:    tx.Detalle,
			Amount:      amount,
			Currency:    currency,
			Status:      models.StatusMissing,
			Warnings:    warnings,
		}
		res.Rows = append(res.Rows, row)
		res.LineToSheetRow[lineIndex] = row.Row
	}

	return res, nil
}

func isReductionLine(detail string) bool {
	if detail == "" {
		return false
	}
	return strings.Contains(strings.ToLower(detail), reductionMarker)
}

// mapAmount resolves the transaction amount by priority: local currency, then
// foreign, then origin (reported as USD). An unresolvable amount yields nil
// plus a warning instead of a failure.
func mapAmount(tx models.StatementTransaction) (*float64, string, []models.Warning) {
	switch {
	case tx.ImporteUYU != nil:
		return tx.ImporteUYU, "UYU", nil
	case tx.ImporteUSD != nil:
		return tx.ImporteUSD, "USD", nil
	case tx.ImporteOrigen != nil:
		return tx.ImporteOrigen, "USD", nil
	}
	return nil, "", []models.Warning{{
		Field:   models.FieldAmount,
		Message: "Importe no identificado en estado de cuenta.",
	}}
}
