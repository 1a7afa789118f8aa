package enrichment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/timofeymelnik/gestoria/pkg/taskqueue"
)

// Task types served by the enrichment engine.
const (
	TaskTypeEnrichDocument         = "enrich_document"
	TaskTypeSyncFamilyReference    = "sync_family_reference"
	TaskTypeRescoreMergeCandidates = "rescore_merge_candidates"
)

// RegisterHandlers binds the enrichment task handlers to the queue.
func RegisterHandlers(q *taskqueue.Queue, svc *Service) error {
	handlers := map[string]taskqueue.Handler{
		TaskTypeEnrichDocument:         svc.HandleEnrichDocument,
		TaskTypeSyncFamilyReference:    svc.HandleSyncFamilyReference,
		TaskTypeRescoreMergeCandidates: svc.HandleRescoreMergeCandidates,
	}
	for taskType, handler := range handlers {
		if err := q.RegisterHandler(taskType, handler); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", taskType, err)
		}
	}
	return nil
}

// EnrichDocumentArgs are the task arguments for enrich_document.
type EnrichDocumentArgs struct {
	DocumentID       string                 `mapstructure:"document_id"`
	Payload          map[string]interface{} `mapstructure:"payload"`
	SourceDocumentID string                 `mapstructure:"source_document_id"`
	SelectedFields   []string               `mapstructure:"selected_fields"`
	Persist          *bool                  `mapstructure:"persist"`
}

// HandleEnrichDocument runs identity-driven enrichment for a submitted
// document. Persistence defaults to on.
func (s *Service) HandleEnrichDocument(ctx context.Context, raw map[string]interface{}) (map[string]interface{}, error) {
	var args EnrichDocumentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, taskqueue.PayloadError(fmt.Errorf("document_id is required"))
	}

	persist := true
	if args.Persist != nil {
		persist = *args.Persist
	}

	result, err := s.EnrichRecordPayloadByIdentity(ctx, EnrichParams{
		DocumentID:       args.DocumentID,
		Payload:          args.Payload,
		Persist:          persist,
		SourceDocumentID: args.SourceDocumentID,
		SelectedFields:   args.SelectedFields,
	})
	if err != nil {
		return nil, err
	}
	return resultMap(result)
}

// SyncFamilyReferenceArgs are the task arguments for
// sync_family_reference.
type SyncFamilyReferenceArgs struct {
	DocumentID string                 `mapstructure:"document_id"`
	Payload    map[string]interface{} `mapstructure:"payload"`
	Source     string                 `mapstructure:"source"`
}

// HandleSyncFamilyReference reconciles a document's family reference
// block into the corpus.
func (s *Service) HandleSyncFamilyReference(ctx context.Context, raw map[string]interface{}) (map[string]interface{}, error) {
	var args SyncFamilyReferenceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, taskqueue.PayloadError(fmt.Errorf("document_id is required"))
	}

	result, err := s.SyncFamilyReference(ctx, args.DocumentID, args.Payload, args.Source)
	if err != nil {
		return nil, err
	}
	return resultMap(result)
}

// RescoreMergeCandidatesArgs are the task arguments for
// rescore_merge_candidates.
type RescoreMergeCandidatesArgs struct {
	DocumentID string                 `mapstructure:"document_id"`
	Payload    map[string]interface{} `mapstructure:"payload"`
	Limit      int                    `mapstructure:"limit"`
}

// HandleRescoreMergeCandidates recomputes the merge candidate scores
// for a document against the recent corpus.
func (s *Service) HandleRescoreMergeCandidates(ctx context.Context, raw map[string]interface{}) (map[string]interface{}, error) {
	var args RescoreMergeCandidatesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, taskqueue.PayloadError(fmt.Errorf("document_id is required"))
	}

	candidates, err := s.MergeCandidatesForPayload(ctx, args.DocumentID, args.Payload, args.Limit)
	if err != nil {
		return nil, err
	}
	return resultMap(map[string]interface{}{
		"document_id": args.DocumentID,
		"candidates":  candidates,
	})
}

// decodeArgs decodes the queue's opaque payload into typed task
// arguments. Decode failures are structural: retrying cannot make the
// stored payload decodable.
func decodeArgs(raw map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build payload decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return taskqueue.PayloadError(fmt.Errorf("invalid task arguments: %w", err))
	}
	return nil
}

// resultMap projects a result value onto the queue's JSON map contract.
func resultMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("result is not JSON serializable: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("result is not a JSON map: %w", err)
	}
	return out, nil
}
