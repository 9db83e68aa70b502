package patching

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"rendiciones-service/internal/models"
)

// numericTolerance bounds what still counts as the same amount after the
// extraction round-trips a value through text.
const numericTolerance = 0.01

// Result summarizes one patch application pass.
type Result struct {
	PatchedRows    int
	FieldConflicts []models.FieldConflict
}

// Apply merges the assignment's row patches and statuses onto the row plan.
// The statement-sourced amount and currency are never overwritten, manual
// fields are filled only while empty, and any other disagreement with a
// stored value is recorded as a field conflict instead of an overwrite. The
// merge is idempotent: applying the same patches twice changes nothing and
// yields no new conflicts.
func Apply(rows []*models.BaseRow, patches map[int]map[string]interface{}, status map[int]string) *Result {
	res := &Result{FieldConflicts: []models.FieldConflict{}}

	// Row-plan order, not patch-map order, drives the pass.
	for _, row := range rows {
		patch, ok := patches[row.Row]
		if !ok {
			continue
		}
		res.PatchedRows++
		// Field order inside one patch does not affect the outcome: every
		// field is judged against the stored value, not against the patch.
		for field, incoming := range patch {
			applyField(row, field, incoming, res)
		}
	}

	for _, row := range rows {
		st, ok := status[row.Row]
		if !ok {
			continue
		}
		if row.Status == models.StatusConflict {
			continue
		}
		row.Status = st
	}

	return res
}

func applyField(row *models.BaseRow, field string, incoming interface{}, res *Result) {
	if isLocked(field) {
		return
	}

	existing := storedValue(row, field)
	if isEmptyValue(existing) {
		setValue(row, field, incoming)
		return
	}
	if isManual(field) {
		// A human already wrote this; automation never overwrites it.
		return
	}
	if valuesEqual(existing, incoming) {
		return
	}
	res.FieldConflicts = append(res.FieldConflicts, models.FieldConflict{
		Row:      row.Row,
		Field:    field,
		Existing: existing,
		Incoming: incoming,
	})
}

func isLocked(field string) bool {
	for _, f := range models.LockedFields {
		if f == field {
			return true
		}
	}
	return false
}

func isManual(field string) bool {
	for _, f := range models.ManualFields {
		if f == field {
			return true
		}
	}
	return false
}

// storedValue resolves a field against the row's fixed columns first, then
// its free-form field bag.
func storedValue(row *models.BaseRow, field string) interface{} {
	switch field {
	case models.FieldInvoiceDate:
		if row.InvoiceDate == "" {
			return nil
		}
		return row.InvoiceDate
	case models.FieldProvider:
		if row.Provider == "" {
			return nil
		}
		return row.Provider
	case models.FieldAmount:
		if row.Amount == nil {
			return nil
		}
		return *row.Amount
	case models.FieldCurrency:
		if row.Currency == "" {
			return nil
		}
		return row.Currency
	case models.FieldDiscounts:
		return row.Discounts
	}
	if row.Fields == nil {
		return nil
	}
	return row.Fields[field]
}

func setValue(row *models.BaseRow, field string, value interface{}) {
	switch field {
	case models.FieldInvoiceDate:
		if s, ok := value.(string); ok {
			row.InvoiceDate = s
			return
		}
	case models.FieldProvider:
		if s, ok := value.(string); ok {
			row.Provider = s
			return
		}
	}
	if row.Fields == nil {
		row.Fields = make(map[string]interface{})
	}
	row.Fields[field] = value
}

func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// valuesEqual compares after normalization: numbers within tolerance, strings
// trimmed and case-folded.
func valuesEqual(a, b interface{}) bool {
	na, aNum := asNumber(a)
	nb, bNum := asNumber(b)
	if aNum && bNum {
		return math.Abs(na-nb) <= numericTolerance
	}
	return normalizeString(a) == normalizeString(b)
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func normalizeString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(s))
	case bool:
		if s {
			return "si"
		}
		return "no"
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}
