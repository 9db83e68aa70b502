package normalize

import (
	"sort"
	"time"

	"rendiciones-service/internal/models"
)

// invoiceDate pulls the record's invoice date, tolerating both the canonical
// sheet field and the raw extraction key.
func invoiceDate(rec models.ReceiptRecord) (time.Time, bool) {
	for _, key := range []string{models.FieldInvoiceDate, "fecha"} {
		if s, ok := rec.Fields[key].(string); ok {
			if t, ok := parseDate(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortByInvoiceDate orders records by invoice date, keeping undated records
// last and preserving input order on ties. Used for the cash pipeline, where
// no statement dictates an order.
func SortByInvoiceDate(records []models.ReceiptRecord) []models.ReceiptRecord {
	type entry struct {
		rec   models.ReceiptRecord
		idx   int
		date  time.Time
		dated bool
	}
	entries := make([]entry, len(records))
	for i, rec := range records {
		d, ok := invoiceDate(rec)
		entries[i] = entry{rec: rec, idx: i, date: d, dated: ok}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.dated && !b.dated {
			return a.idx < b.idx
		}
		if !a.dated {
			return false
		}
		if !b.dated {
			return true
		}
		if a.date.Equal(b.date) {
			return a.idx < b.idx
		}
		return a.date.Before(b.date)
	})
	out := make([]models.ReceiptRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

// BuildOrderList returns the source keys ordered by each document's earliest
// invoice date. Keys without a parseable date are omitted.
func BuildOrderList(records []models.ReceiptRecord) []string {
	firstDate := make(map[string]time.Time)
	var keys []string
	for _, rec := range records {
		if rec.SourceKey == "" {
			continue
		}
		d, ok := invoiceDate(rec)
		if !ok {
			continue
		}
		prev, seen := firstDate[rec.SourceKey]
		if !seen {
			firstDate[rec.SourceKey] = d
			keys = append(keys, rec.SourceKey)
		} else if d.Before(prev) {
			firstDate[rec.SourceKey] = d
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return firstDate[keys[i]].Before(firstDate[keys[j]])
	})
	return keys
}
