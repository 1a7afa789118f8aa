package intake

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrNotFound marks lookups of records that do not exist where the
// caller required one. Wrapped by backends; test with errors.Is.
var ErrNotFound = errors.New("intake record not found")

// RecordReader provides lookups over stored intake records.
type RecordReader interface {
	// GetDocument returns the record with the given id, or nil when it
	// does not exist.
	GetDocument(ctx context.Context, documentID string) (*Record, error)

	// SearchDocuments returns up to limit record summaries, newest
	// first. A non-empty query filters case-insensitively by substring
	// against the derived name and document number. Records sharing a
	// non-empty identity key are deduplicated to the most recent one.
	SearchDocuments(ctx context.Context, query string, limit int) ([]Summary, error)

	// FindLatestByIdentities returns the most recent record whose
	// stored identifier matches any of the normalized identity keys,
	// excluding excludeDocumentID. Returns nil when nothing matches.
	FindLatestByIdentities(ctx context.Context, identities []string, excludeDocumentID string) (*Record, error)
}

// RecordWriter mutates stored intake records. Each call is atomic with
// respect to other port calls and always bumps the record's updated_at.
type RecordWriter interface {
	// UpsertFromUpload creates or overwrites an intake record from an
	// upload: the payload becomes the OCR payload, prior edits and
	// enrichment reports are discarded, family links survive, and
	// created_at is preserved for existing records.
	UpsertFromUpload(ctx context.Context, params UpsertParams) (*Record, error)

	// SaveEditedPayload persists a confirmed payload as the record's
	// edited payload, refreshing the derived identifiers.
	SaveEditedPayload(ctx context.Context, documentID string, payload map[string]interface{}, missingFields []string) (*Record, error)

	// UpdateDocumentFields shallow-merges the partial updates into the
	// record.
	UpdateDocumentFields(ctx context.Context, documentID string, updates map[string]interface{}) (*Record, error)
}

// Repository is the full capability contract the enrichment service
// depends on. Backends must honor the semantics atomically per call;
// the technology behind them is deliberately unspecified.
type Repository interface {
	RecordReader
	RecordWriter
}

// UpsertParams carries one upload into the repository.
type UpsertParams struct {
	DocumentID          string
	Payload             map[string]interface{}
	OCRDocument         string
	Source              map[string]interface{}
	MissingFields       []string
	ManualStepsRequired []string
	FormURL             string
	TargetURL           string
	BrowserSessionID    string

	// Status overrides the default "uploaded" status.
	Status string
}

// Validate checks the parameters before any storage work.
func (p UpsertParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DocumentID, validation.Required),
	)
}
