package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ExportFormatVersion identifies the export document layout.
const ExportFormatVersion = "1.0"

// ImportError describes why an import was rejected. Index is the offending
// array element, or -1 when the document itself is malformed.
type ImportError struct {
	Field  string
	Reason string
	Index  int
}

func (e *ImportError) Error() string {
	if e.Index < 0 {
		return "import: " + e.Reason
	}
	if e.Field != "" {
		return fmt.Sprintf("import: template %d: %s %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("import: template %d: %s", e.Index, e.Reason)
}

// importFields are the keys an imported template may carry.
var importFields = map[string]bool{
	"id": true, "label": true, "text": true, "category": true,
	"status": true, "version": true, "effectiveness": true, "history": true,
	"useCount": true, "lastUsed": true, "archived": true, "originalId": true,
	"createdAt": true, "updatedAt": true, "forecast": true,
}

var requiredFields = []string{"id", "label", "text", "category"}

// ParseImport validates data, a JSON array of templates, and decodes it.
// It never touches a registry.
func ParseImport(data []byte, now time.Time) ([]NoteTemplate, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ImportError{Index: -1, Reason: "malformed JSON"}
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, &ImportError{Index: -1, Reason: "expected a JSON array of templates"}
	}

	elems := doc.Array()
	out := make([]NoteTemplate, 0, len(elems))
	seen := make(map[string]int, len(elems))
	for i, el := range elems {
		if !el.IsObject() {
			return nil, &ImportError{Index: i, Reason: "not an object"}
		}
		var unknown string
		el.ForEach(func(k, _ gjson.Result) bool {
			if !importFields[k.String()] {
				unknown = k.String()
				return false
			}
			return true
		})
		if unknown != "" {
			return nil, &ImportError{Index: i, Field: unknown, Reason: "is not a template field"}
		}
		for _, f := range requiredFields {
			v := el.Get(f)
			if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
				return nil, &ImportError{Index: i, Field: f, Reason: "must be a non-empty string"}
			}
		}

		var t NoteTemplate
		dec := json.NewDecoder(bytes.NewReader([]byte(el.Raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, &ImportError{Index: i, Reason: err.Error()}
		}
		if prev, dup := seen[t.ID]; dup {
			return nil, &ImportError{Index: i, Field: "id", Reason: fmt.Sprintf("duplicates template %d", prev)}
		}
		seen[t.ID] = i

		if t.Status == "" {
			t.Status = StatusDraft
		}
		if !t.Status.Valid() {
			return nil, &ImportError{Index: i, Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
		}
		t.Archived = t.Status == StatusArchived
		if t.Version < 1 {
			t.Version = 1
		}
		if t.Effectiveness.TotalCount < 0 || t.Effectiveness.SuccessCount < 0 || t.Effectiveness.SuccessCount > t.Effectiveness.TotalCount {
			return nil, &ImportError{Index: i, Field: "effectiveness", Reason: "successCount must be between 0 and totalCount"}
		}
		if len(t.History) > historyLimit {
			t.History = t.History[len(t.History)-historyLimit:]
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		out = append(out, t)
	}
	return out, nil
}

// Import replaces or adds every template in data. Any invalid element
// aborts the whole import and leaves the registry unchanged.
func (r *Registry) Import(ctx context.Context, data []byte) ([]NoteTemplate, error) {
	ts, err := ParseImport(data, r.now())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ts) == 0 {
		return ts, nil
	}
	if err := r.commit(ctx, ts...); err != nil {
		return nil, err
	}
	return ts, nil
}

// ExportMetadata describes an export document.
type ExportMetadata struct {
	ExportedAt time.Time `json:"exportedAt"`
	Version    string    `json:"version"`
	Categories []string  `json:"categories"`
	Stats      Stats     `json:"stats"`
}

// ExportDocument is the serialized catalogue.
type ExportDocument struct {
	Templates []NoteTemplate `json:"templates"`
	Metadata  ExportMetadata `json:"metadata"`
}

// Export snapshots every template, archived ones included.
func (r *Registry) Export() ExportDocument {
	r.mu.RLock()
	stats := computeStats(r.items)
	r.mu.RUnlock()

	ts := r.List(ListOptions{IncludeArchived: true})
	cats := map[string]struct{}{}
	for _, t := range ts {
		cats[t.Category] = struct{}{}
	}
	return ExportDocument{
		Templates: ts,
		Metadata: ExportMetadata{
			ExportedAt: r.now(),
			Version:    ExportFormatVersion,
			Categories: append([]string{}, slices.Sorted(maps.Keys(cats))...),
			Stats:      stats,
		},
	}
}
