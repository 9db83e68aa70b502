package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"rendiciones-service/internal/models"
)

// The extraction service is loosely typed: batch rows may wrap their payload
// under "data" (object or array), and field names arrive under several
// aliases. Everything is canonicalized here so downstream code only ever sees
// models.ReceiptRecord.

var (
	driveIDPattern   = regexp.MustCompile(`(?i)drive_([A-Za-z0-9_-]+)`)
	leadIdxPattern   = regexp.MustCompile(`(^|/)(\d{4})_`)
	bareIdxPattern   = regexp.MustCompile(`(?i)f(\d{4})`)
	statementAliases = []string{"Estado de cuenta", "estadoCuenta", "estado_cuenta", "Estado_de_cuenta"}
)

type batchRow struct {
	Data json.RawMessage `json:"data"`
	Meta *struct {
		Docs []string `json:"docs"`
	} `json:"meta"`
}

// Flatten turns raw extraction batch rows into an ordered flat list of
// canonical receipt records. Order is preserved exactly; it later decides
// which claimant wins a row.
func Flatten(rows []json.RawMessage) []models.ReceiptRecord {
	var out []models.ReceiptRecord
	for _, raw := range rows {
		if len(raw) == 0 {
			continue
		}

		var wrapper batchRow
		var docs []string
		payload := raw
		if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Data != nil {
			payload = wrapper.Data
			if wrapper.Meta != nil {
				docs = wrapper.Meta.Docs
			}
		}

		var items []map[string]interface{}
		var arr []map[string]interface{}
		if err := json.Unmarshal(payload, &arr); err == nil {
			items = arr
		} else {
			var obj map[string]interface{}
			if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
				continue
			}
			items = []map[string]interface{}{obj}
		}

		for _, item := range items {
			out = append(out, canonicalize(item, docs))
		}
	}
	return out
}

func canonicalize(item map[string]interface{}, docs []string) models.ReceiptRecord {
	rec := models.ReceiptRecord{
		DocNames: docs,
		Fields:   make(map[string]interface{}),
	}

	rec.MatchIndex = extractMatchIndex(item)
	rec.Observation = extractObservation(item)
	rec.Warnings = extractWarnings(item)
	rec.SourceKey = SourceKey(docs)

	for k, v := range item {
		if skipKey(k) {
			continue
		}
		rec.Fields[k] = v
	}
	return rec
}

func skipKey(k string) bool {
	if strings.HasPrefix(k, "__") {
		return true
	}
	switch k {
	case "Warnings", "warnings", "observacion", "observation":
		return true
	}
	for _, alias := range statementAliases {
		if k == alias {
			return true
		}
	}
	return false
}

func statementRef(item map[string]interface{}) map[string]interface{} {
	for _, alias := range statementAliases {
		if v, ok := item[alias].(map[string]interface{}); ok {
			return v
		}
	}
	return nil
}

func extractMatchIndex(item map[string]interface{}) int {
	st := statementRef(item)
	if st == nil {
		return 0
	}
	switch v := st["idx"].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func extractObservation(item map[string]interface{}) string {
	if st := statementRef(item); st != nil {
		if s, ok := st["observacion"].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"observacion", "observation"} {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func extractWarnings(item map[string]interface{}) []models.Warning {
	var raw []interface{}
	for _, key := range []string{"Warnings", "warnings"} {
		if l, ok := item[key].([]interface{}); ok {
			raw = l
			break
		}
	}
	if raw == nil {
		return nil
	}

	out := make([]models.Warning, 0, len(raw))
	for _, entry := range raw {
		switch w := entry.(type) {
		case map[string]interface{}:
			out = append(out, models.Warning{
				Field:   firstString(w, "campo", "field", "field_id", "fieldName"),
				Message: firstString(w, "mensaje", "message", "msg"),
			})
		case string:
			out = append(out, models.Warning{Message: w})
		}
	}
	return out
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// SourceKey derives the stable per-document identity from provenance doc
// names: an embedded drive file id wins, then the normalized basename, then a
// 4-digit index, then the raw name. Without any provenance the key is empty.
func SourceKey(docs []string) string {
	if len(docs) == 0 {
		return ""
	}
	name := strings.TrimSpace(docs[0])
	if name == "" {
		return ""
	}
	base := basename(name)
	if m := driveIDPattern.FindStringSubmatch(base); m != nil {
		return m[1]
	}
	if base != "" {
		return base
	}
	if idx := indexFromName(name); idx != "" {
		return idx
	}
	return name
}

func basename(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) == 0 {
		return name
	}
	return parts[len(parts)-1]
}

func indexFromName(name string) string {
	if m := leadIdxPattern.FindStringSubmatch(name); m != nil {
		return "f" + m[2]
	}
	if m := bareIdxPattern.FindStringSubmatch(name); m != nil {
		return "f" + m[1]
	}
	return ""
}
