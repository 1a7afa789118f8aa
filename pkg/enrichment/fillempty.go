// Package enrichment implements the deterministic, identity-driven
// reconciliation engine over the intake repository port: fill-empty
// payload enrichment, merge-candidate scoring across the corpus, and
// bidirectional family-link maintenance between person records.
package enrichment

import (
	"strings"

	"github.com/timofeymelnik/gestoria/pkg/payload"
)

// Skip reasons recorded when a suggested value is not applied.
const (
	SkipReasonEqual    = "equal"
	SkipReasonConflict = "conflict"
)

// FieldReport describes one enrichment decision for a single dotted
// path. Applied rows carry no Reason; skipped rows carry "equal" or
// "conflict".
type FieldReport struct {
	Field          string `json:"field" mapstructure:"field"`
	CurrentValue   string `json:"current_value" mapstructure:"current_value"`
	SuggestedValue string `json:"suggested_value" mapstructure:"suggested_value"`
	Source         string `json:"source" mapstructure:"source"`
	Reason         string `json:"reason,omitempty" mapstructure:"reason,omitempty"`
}

// FillEmpty copies values from sourcePayload into empty fields of p,
// restricted to the fixed enrichment paths. The input payload is never
// mutated; the returned map is a deep copy with the applied fields
// written. Non-empty fields are never overwritten: a differing
// suggestion is recorded as a conflict, an equal one (case-insensitive)
// as equal, and both are skipped.
//
// When selectedFields is non-nil, only the listed paths participate.
func FillEmpty(p, sourcePayload map[string]interface{}, sourceDocumentID string, selectedFields []string) (out map[string]interface{}, applied, skipped []FieldReport) {
	out = payload.DeepCopy(p)

	var selected map[string]bool
	if selectedFields != nil {
		selected = make(map[string]bool, len(selectedFields))
		for _, field := range selectedFields {
			selected[field] = true
		}
	}

	for _, path := range payload.EnrichmentPaths {
		if selected != nil && !selected[path] {
			continue
		}

		suggested := payload.SafeGet(sourcePayload, path)
		if suggested == "" {
			continue
		}

		current := payload.SafeGet(out, path)
		if current == "" {
			payload.SafeSet(out, path, suggested)
			applied = append(applied, FieldReport{
				Field:          path,
				CurrentValue:   "",
				SuggestedValue: suggested,
				Source:         sourceDocumentID,
			})
			continue
		}

		reason := SkipReasonConflict
		if strings.EqualFold(current, suggested) {
			reason = SkipReasonEqual
		}
		skipped = append(skipped, FieldReport{
			Field:          path,
			CurrentValue:   current,
			SuggestedValue: suggested,
			Source:         sourceDocumentID,
			Reason:         reason,
		})
	}

	return out, applied, skipped
}

// reportMaps converts field reports to generic maps for persistence in
// the record's enrichment_preview / enrichment_log columns.
func reportMaps(reports []FieldReport) []map[string]interface{} {
	if reports == nil {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(reports))
	for _, r := range reports {
		m := map[string]interface{}{
			"field":           r.Field,
			"current_value":   r.CurrentValue,
			"suggested_value": r.SuggestedValue,
			"source":          r.Source,
		}
		if r.Reason != "" {
			m["reason"] = r.Reason
		}
		out = append(out, m)
	}
	return out
}
