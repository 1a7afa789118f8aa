package enrichment

import (
	"context"
	"fmt"

	"github.com/timofeymelnik/gestoria/pkg/intake"
	"github.com/timofeymelnik/gestoria/pkg/payload"
)

// EnrichParams drives one identity-driven enrichment pass.
type EnrichParams struct {
	// DocumentID identifies the record being enriched. Required.
	DocumentID string

	// Payload is the payload to enrich. When nil the record's stored
	// effective payload is used.
	Payload map[string]interface{}

	// Persist writes the enriched payload and the enrichment report
	// back through the repository port.
	Persist bool

	// SourceDocumentID pins the enrichment source explicitly instead of
	// resolving it by identity. Self-references are rejected.
	SourceDocumentID string

	// SelectedFields restricts enrichment to the listed dotted paths.
	// Nil means every enrichment path participates.
	SelectedFields []string
}

// EnrichResult is the outcome of one identity-driven enrichment pass.
// A missing identity or source is reported as IdentityMatchFound=false,
// never as an error.
type EnrichResult struct {
	IdentityMatchFound bool                   `json:"identity_match_found"`
	IdentityKey        string                 `json:"identity_key,omitempty"`
	SourceDocumentID   string                 `json:"source_document_id,omitempty"`
	Payload            map[string]interface{} `json:"payload"`
	Applied            []FieldReport          `json:"applied"`
	Skipped            []FieldReport          `json:"skipped"`
}

func noMatchResult(p map[string]interface{}) *EnrichResult {
	return &EnrichResult{
		IdentityMatchFound: false,
		Payload:            payload.DeepCopy(p),
		Applied:            []FieldReport{},
		Skipped:            []FieldReport{},
	}
}

// EnrichRecordPayloadByIdentity fills empty payload fields from the
// most recent prior record sharing the same natural identity (or from
// an explicitly pinned source record). With Persist set, the enriched
// payload and the per-field report are written back, and an explicit
// source record is marked merged into the enriched one.
func (s *Service) EnrichRecordPayloadByIdentity(ctx context.Context, params EnrichParams) (*EnrichResult, error) {
	if params.DocumentID == "" {
		return nil, fmt.Errorf("document_id is required")
	}
	if params.SourceDocumentID == params.DocumentID && params.SourceDocumentID != "" {
		return nil, fmt.Errorf("source document must differ from the enriched document")
	}

	p, err := s.effectivePayload(ctx, params.DocumentID, params.Payload)
	if err != nil {
		return nil, err
	}

	candidates := payload.IdentityCandidates(p)
	if len(candidates) == 0 && params.SourceDocumentID == "" {
		return noMatchResult(p), nil
	}

	source, err := s.resolveSource(ctx, params, candidates)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return noMatchResult(p), nil
	}

	sourcePayload := source.EffectivePayload()
	identityKey := chooseIdentityKey(candidates, payload.IdentityCandidates(sourcePayload))

	out, applied, skipped := FillEmpty(p, sourcePayload, source.DocumentID, params.SelectedFields)

	result := &EnrichResult{
		IdentityMatchFound: true,
		IdentityKey:        identityKey,
		SourceDocumentID:   source.DocumentID,
		Payload:            out,
		Applied:            applied,
		Skipped:            skipped,
	}

	s.logger.Info("identity enrichment computed",
		"document_id", params.DocumentID,
		"source_document_id", source.DocumentID,
		"identity_key", identityKey,
		"applied", len(applied),
		"skipped", len(skipped),
	)

	if !params.Persist {
		return result, nil
	}
	if err := s.persistEnrichment(ctx, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// resolveSource finds the record to enrich from: the explicitly pinned
// one when given, the latest identity match otherwise.
func (s *Service) resolveSource(ctx context.Context, params EnrichParams, candidates []string) (*intake.Record, error) {
	if params.SourceDocumentID != "" {
		source, err := s.repo.GetDocument(ctx, params.SourceDocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load source document %s: %w", params.SourceDocumentID, err)
		}
		return source, nil
	}

	source, err := s.repo.FindLatestByIdentities(ctx, candidates, params.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	return source, nil
}

// chooseIdentityKey prefers the first local candidate the source also
// carries, falling back to the first local candidate.
func chooseIdentityKey(local, source []string) string {
	set := make(map[string]bool, len(source))
	for _, key := range source {
		set[key] = true
	}
	for _, key := range local {
		if set[key] {
			return key
		}
	}
	if len(local) > 0 {
		return local[0]
	}
	return ""
}

// persistEnrichment writes the enriched payload and report back through
// the port, bootstrapping the record when it does not exist yet, and
// marks an explicitly pinned source as merged into the enriched record.
func (s *Service) persistEnrichment(ctx context.Context, params EnrichParams, result *EnrichResult) error {
	record, err := s.repo.GetDocument(ctx, params.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", params.DocumentID, err)
	}
	if record == nil {
		record, err = s.repo.UpsertFromUpload(ctx, intake.UpsertParams{
			DocumentID: params.DocumentID,
			Payload:    params.Payload,
		})
		if err != nil {
			return fmt.Errorf("failed to bootstrap document %s: %w", params.DocumentID, err)
		}
	}

	if _, err := s.repo.SaveEditedPayload(ctx, params.DocumentID, result.Payload, record.MissingFields); err != nil {
		return fmt.Errorf("failed to save enriched payload: %w", err)
	}

	updates := map[string]interface{}{
		"identity_match_found":        true,
		"identity_source_document_id": result.SourceDocumentID,
		"enrichment_preview":          reportMaps(result.Applied),
		"enrichment_log":              reportMaps(result.Skipped),
	}
	if _, err := s.repo.UpdateDocumentFields(ctx, params.DocumentID, updates); err != nil {
		return fmt.Errorf("failed to record enrichment report: %w", err)
	}

	if params.SourceDocumentID != "" && params.SourceDocumentID != params.DocumentID {
		_, err := s.repo.UpdateDocumentFields(ctx, params.SourceDocumentID, map[string]interface{}{
			"status":                  intake.StatusMerged,
			"merged_into_document_id": params.DocumentID,
		})
		if err != nil {
			return fmt.Errorf("failed to mark source document merged: %w", err)
		}
		s.logger.Info("source document merged",
			"source_document_id", params.SourceDocumentID,
			"document_id", params.DocumentID,
		)
	}
	return nil
}
