// Package intake defines the repository port for person-centric intake
// records: the record shape, the capability contract storage backends
// implement, and the shared record-level helpers. The enrichment
// service depends only on this package, never on a concrete backend.
package intake

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"

	"github.com/timofeymelnik/gestoria/pkg/payload"
)

// Identifiers are the display identifiers derived from the effective
// payload.
type Identifiers struct {
	DocumentNumber string `json:"document_number" mapstructure:"document_number"`
	Name           string `json:"name" mapstructure:"name"`
}

// FamilyLink is a directed, typed edge between two intake records.
// Links carry ids, never embedded records, so cycles are benign.
type FamilyLink struct {
	Relation             string `json:"relation" mapstructure:"relation"`
	RelatedDocumentID    string `json:"related_document_id" mapstructure:"related_document_id"`
	DocumentNumber       string `json:"document_number" mapstructure:"document_number"`
	CreatedFromReference bool   `json:"created_from_reference" mapstructure:"created_from_reference"`
}

// Relation tags for family links.
const (
	RelationFamiliarQueDaDerecho       = "familiar_que_da_derecho"
	RelationTitularFamiliarDependiente = "titular_familiar_dependiente"
)

func (l FamilyLink) key() string {
	return l.RelatedDocumentID + "\x00" + l.Relation + "\x00" + l.DocumentNumber
}

// MergeFamilyLinks merges incoming links into existing ones, set-like
// under the key (related_document_id, relation, document_number).
// Existing order is preserved; new links append in input order.
func MergeFamilyLinks(existing, incoming []FamilyLink) []FamilyLink {
	merged := make([]FamilyLink, 0, len(existing)+len(incoming))
	seen := map[string]bool{}

	for _, l := range existing {
		if seen[l.key()] {
			continue
		}
		seen[l.key()] = true
		merged = append(merged, l)
	}
	for _, l := range incoming {
		if seen[l.key()] {
			continue
		}
		seen[l.key()] = true
		merged = append(merged, l)
	}
	return merged
}

// Record statuses.
const (
	StatusUploaded  = "uploaded"
	StatusConfirmed = "confirmed"
	StatusMerged    = "merged"
	StatusUnknown   = "unknown"
)

// SourceKind tags are opaque markers assigned by the intake pipeline.
// The first two spellings are historical and preserved verbatim so
// that existing corpora keep matching.
const (
	SourceKindAnketa              = "anketa"
	SourceKindFamiliar            = "fmiliar"
	SourceKindFamilyReferenceAuto = "family_reference_auto"
)

// Record is a person-centric intake artifact as seen through the
// repository port. Timestamps are ISO-8601 UTC strings.
type Record struct {
	DocumentID  string      `json:"document_id"`
	Status      string      `json:"status"`
	Identifiers Identifiers `json:"identifiers"`

	OCRPayload    map[string]interface{} `json:"ocr_payload,omitempty"`
	EditedPayload map[string]interface{} `json:"edited_payload,omitempty"`

	Source      map[string]interface{} `json:"source,omitempty"`
	OCRDocument string                 `json:"ocr_document,omitempty"`

	IdentityMatchFound       bool                     `json:"identity_match_found"`
	IdentitySourceDocumentID string                   `json:"identity_source_document_id,omitempty"`
	EnrichmentPreview        []map[string]interface{} `json:"enrichment_preview,omitempty"`
	EnrichmentLog            []map[string]interface{} `json:"enrichment_log,omitempty"`
	FamilyLinks              []FamilyLink             `json:"family_links,omitempty"`

	MissingFields       []string `json:"missing_fields,omitempty"`
	ManualStepsRequired []string `json:"manual_steps_required,omitempty"`
	FormURL             string   `json:"form_url,omitempty"`
	TargetURL           string   `json:"target_url,omitempty"`
	BrowserSessionID    string   `json:"browser_session_id,omitempty"`

	MergedIntoDocumentID string `json:"merged_into_document_id,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// EffectivePayload is the current best view of the record: the edited
// payload when present, the OCR payload otherwise.
func (r *Record) EffectivePayload() map[string]interface{} {
	if r.EditedPayload != nil {
		return r.EditedPayload
	}
	return r.OCRPayload
}

// RefreshIdentifiers recomputes the derived display identifiers from
// the effective payload.
func (r *Record) RefreshIdentifiers() {
	number, name := payload.DeriveIdentifiers(r.EffectivePayload())
	r.Identifiers = Identifiers{DocumentNumber: number, Name: name}
}

// IdentityKey is the normalized join key of the stored identifier.
func (r *Record) IdentityKey() string {
	return payload.NormalizeIdentity(r.Identifiers.DocumentNumber)
}

// Summary is the search projection of a record.
type Summary struct {
	DocumentID     string `json:"document_id"`
	Name           string `json:"name"`
	DocumentNumber string `json:"document_number"`
	Status         string `json:"status"`
	UpdatedAt      string `json:"updated_at"`
}

// TimeLayout is the stored timestamp format: ISO-8601 UTC with a
// fixed-width fraction, so lexicographic order is chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NowUTC formats the current instant the way record timestamps are
// stored.
func NowUTC() string {
	return time.Now().UTC().Format(TimeLayout)
}

// ApplyFieldUpdates shallow-merges the partial updates into the record.
// Unknown keys and unconvertible values are reported together; known
// good fields are applied regardless. The caller bumps updated_at.
func (r *Record) ApplyFieldUpdates(updates map[string]interface{}) error {
	var result *multierror.Error

	for key, value := range updates {
		var err error
		switch key {
		case "status":
			r.Status, err = toString(value)
		case "identity_match_found":
			r.IdentityMatchFound, err = toBool(value)
		case "identity_source_document_id":
			r.IdentitySourceDocumentID, err = toString(value)
		case "enrichment_preview":
			r.EnrichmentPreview, err = toMapSlice(value)
		case "enrichment_log":
			r.EnrichmentLog, err = toMapSlice(value)
		case "family_links":
			r.FamilyLinks, err = toFamilyLinks(value)
		case "missing_fields":
			r.MissingFields, err = toStringSlice(value)
		case "manual_steps_required":
			r.ManualStepsRequired, err = toStringSlice(value)
		case "form_url":
			r.FormURL, err = toString(value)
		case "target_url":
			r.TargetURL, err = toString(value)
		case "browser_session_id":
			r.BrowserSessionID, err = toString(value)
		case "merged_into_document_id":
			r.MergedIntoDocumentID, err = toString(value)
		case "ocr_document":
			r.OCRDocument, err = toString(value)
		case "source":
			r.Source, err = toMap(value)
		default:
			err = fmt.Errorf("unknown document field %q", key)
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("field %q: %w", key, err))
		}
	}

	return result.ErrorOrNil()
}

func toString(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func toBool(v interface{}) (bool, error) {
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map, got %T", v)
	}
	return m, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return s, nil
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", v)
	}
}

func toMapSlice(v interface{}) ([]map[string]interface{}, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []map[string]interface{}:
		return s, nil
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(s))
		for _, item := range s {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("expected map element, got %T", item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected map list, got %T", v)
	}
}

func toFamilyLinks(v interface{}) ([]FamilyLink, error) {
	switch links := v.(type) {
	case nil:
		return nil, nil
	case []FamilyLink:
		return links, nil
	default:
		var out []FamilyLink
		if err := mapstructure.Decode(v, &out); err != nil {
			return nil, fmt.Errorf("expected family link list: %w", err)
		}
		return out, nil
	}
}
