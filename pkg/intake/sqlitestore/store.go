// Package sqlitestore implements the intake repository port on the
// embedded relational store.
package sqlitestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timofeymelnik/gestoria/pkg/intake"
	"github.com/timofeymelnik/gestoria/pkg/models"
	"github.com/timofeymelnik/gestoria/pkg/payload"
)

// Search overfetch bound: rows sharing an identity key collapse during
// deduplication, so more rows than the requested limit are read.
const overfetchFactor = 5

// Store is the gorm-backed repository adapter. A process-wide mutex
// serializes read-modify-write cycles so each port call stays atomic.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
	mu     sync.Mutex
}

var _ intake.Repository = (*Store)(nil)

// New wraps an open database handle. The caller owns the handle's
// lifecycle; schema migrations must already be applied.
func New(db *gorm.DB, log hclog.Logger) *Store {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Store{
		db:     db,
		logger: log.Named("sqlite-store"),
	}
}

// GetDocument implements intake.RecordReader.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*intake.Record, error) {
	row, err := models.GetDocumentRow(s.db.WithContext(ctx), documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if row == nil {
		return nil, nil
	}
	return recordFromRow(row)
}

// SearchDocuments implements intake.RecordReader.
func (s *Store) SearchDocuments(ctx context.Context, query string, limit int) ([]intake.Summary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := models.ListRecentDocuments(s.db.WithContext(ctx), query, limit*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}

	summaries := make([]intake.Summary, 0, limit)
	seenIdentity := map[string]bool{}
	for _, row := range rows {
		if row.IdentityKey != "" {
			if seenIdentity[row.IdentityKey] {
				continue
			}
			seenIdentity[row.IdentityKey] = true
		}

		summaries = append(summaries, intake.Summary{
			DocumentID:     row.DocumentID,
			Name:           row.Name,
			DocumentNumber: row.DocumentNumber,
			Status:         row.Status,
			UpdatedAt:      row.UpdatedAt,
		})
		if len(summaries) >= limit {
			break
		}
	}
	return summaries, nil
}

// FindLatestByIdentities implements intake.RecordReader.
func (s *Store) FindLatestByIdentities(ctx context.Context, identities []string, excludeDocumentID string) (*intake.Record, error) {
	keys := make([]string, 0, len(identities))
	for _, identity := range identities {
		if key := payload.NormalizeIdentity(identity); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	row, err := models.FindLatestDocumentByIdentityKeys(s.db.WithContext(ctx), keys, excludeDocumentID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return recordFromRow(row)
}

// UpsertFromUpload implements intake.RecordWriter.
func (s *Store) UpsertFromUpload(ctx context.Context, params intake.UpsertParams) (*intake.Record, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upsert parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.WithContext(ctx)
	existing, err := models.GetDocumentRow(db, params.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", params.DocumentID, err)
	}

	now := intake.NowUTC()
	status := params.Status
	if status == "" {
		status = intake.StatusUploaded
	}

	record := &intake.Record{
		DocumentID:          params.DocumentID,
		Status:              status,
		OCRPayload:          payload.DeepCopy(params.Payload),
		Source:              params.Source,
		OCRDocument:         params.OCRDocument,
		MissingFields:       params.MissingFields,
		ManualStepsRequired: params.ManualStepsRequired,
		FormURL:             params.FormURL,
		TargetURL:           params.TargetURL,
		BrowserSessionID:    params.BrowserSessionID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
		if links, err := linksFromList(existing.FamilyLinks); err == nil {
			record.FamilyLinks = links
		}
	}
	record.RefreshIdentifiers()

	if err := s.save(db, record); err != nil {
		return nil, err
	}

	s.logger.Debug("document upserted",
		"document_id", record.DocumentID,
		"status", record.Status,
		"created", existing == nil,
	)
	return record, nil
}

// SaveEditedPayload implements intake.RecordWriter.
func (s *Store) SaveEditedPayload(ctx context.Context, documentID string, edited map[string]interface{}, missingFields []string) (*intake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.WithContext(ctx)
	record, err := s.load(db, documentID)
	if err != nil {
		return nil, err
	}

	record.EditedPayload = payload.DeepCopy(edited)
	record.MissingFields = missingFields
	record.RefreshIdentifiers()
	record.UpdatedAt = intake.NowUTC()

	if err := s.save(db, record); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateDocumentFields implements intake.RecordWriter.
func (s *Store) UpdateDocumentFields(ctx context.Context, documentID string, updates map[string]interface{}) (*intake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.WithContext(ctx)
	record, err := s.load(db, documentID)
	if err != nil {
		return nil, err
	}

	if err := record.ApplyFieldUpdates(updates); err != nil {
		return nil, fmt.Errorf("invalid field updates for %s: %w", documentID, err)
	}
	record.UpdatedAt = intake.NowUTC()

	if err := s.save(db, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) load(db *gorm.DB, documentID string) (*intake.Record, error) {
	row, err := models.GetDocumentRow(db, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", intake.ErrNotFound, documentID)
	}
	return recordFromRow(row)
}

func (s *Store) save(db *gorm.DB, record *intake.Record) error {
	row := rowFromRecord(record)
	err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to store document %s: %w", record.DocumentID, err)
	}
	return nil
}

func recordFromRow(row *models.Document) (*intake.Record, error) {
	links, err := linksFromList(row.FamilyLinks)
	if err != nil {
		return nil, fmt.Errorf("document %s carries corrupt family links: %w", row.DocumentID, err)
	}

	return &intake.Record{
		DocumentID: row.DocumentID,
		Status:     row.Status,
		Identifiers: intake.Identifiers{
			DocumentNumber: row.DocumentNumber,
			Name:           row.Name,
		},
		OCRPayload:               row.OCRPayload,
		EditedPayload:            row.EditedPayload,
		Source:                   row.Source,
		OCRDocument:              row.OCRDocument,
		IdentityMatchFound:       row.IdentityMatchFound,
		IdentitySourceDocumentID: row.IdentitySourceDocumentID,
		EnrichmentPreview:        mapSliceFromList(row.EnrichmentPreview),
		EnrichmentLog:            mapSliceFromList(row.EnrichmentLog),
		FamilyLinks:              links,
		MissingFields:            stringSliceFromList(row.MissingFields),
		ManualStepsRequired:      stringSliceFromList(row.ManualStepsRequired),
		FormURL:                  row.FormURL,
		TargetURL:                row.TargetURL,
		BrowserSessionID:         row.BrowserSessionID,
		MergedIntoDocumentID:     row.MergedIntoDocumentID,
		CreatedAt:                row.CreatedAt,
		UpdatedAt:                row.UpdatedAt,
	}, nil
}

func rowFromRecord(record *intake.Record) *models.Document {
	return &models.Document{
		DocumentID:               record.DocumentID,
		Status:                   record.Status,
		Name:                     record.Identifiers.Name,
		DocumentNumber:           record.Identifiers.DocumentNumber,
		IdentityKey:              record.IdentityKey(),
		OCRPayload:               models.JSONMap(record.OCRPayload),
		EditedPayload:            models.JSONMap(record.EditedPayload),
		Source:                   models.JSONMap(record.Source),
		OCRDocument:              record.OCRDocument,
		IdentityMatchFound:       record.IdentityMatchFound,
		IdentitySourceDocumentID: record.IdentitySourceDocumentID,
		EnrichmentPreview:        listFromMapSlice(record.EnrichmentPreview),
		EnrichmentLog:            listFromMapSlice(record.EnrichmentLog),
		FamilyLinks:              listFromLinks(record.FamilyLinks),
		MissingFields:            listFromStringSlice(record.MissingFields),
		ManualStepsRequired:      listFromStringSlice(record.ManualStepsRequired),
		FormURL:                  record.FormURL,
		TargetURL:                record.TargetURL,
		BrowserSessionID:         record.BrowserSessionID,
		MergedIntoDocumentID:     record.MergedIntoDocumentID,
		CreatedAt:                record.CreatedAt,
		UpdatedAt:                record.UpdatedAt,
	}
}

func mapSliceFromList(list models.JSONList) []map[string]interface{} {
	if list == nil {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func listFromMapSlice(maps []map[string]interface{}) models.JSONList {
	if maps == nil {
		return nil
	}
	out := make(models.JSONList, 0, len(maps))
	for _, m := range maps {
		out = append(out, m)
	}
	return out
}

func stringSliceFromList(list models.JSONList) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func listFromStringSlice(strings []string) models.JSONList {
	if strings == nil {
		return nil
	}
	out := make(models.JSONList, 0, len(strings))
	for _, s := range strings {
		out = append(out, s)
	}
	return out
}

func linksFromList(list models.JSONList) ([]intake.FamilyLink, error) {
	if list == nil {
		return nil, nil
	}
	var links []intake.FamilyLink
	if err := mapstructure.Decode([]interface{}(list), &links); err != nil {
		return nil, err
	}
	return links, nil
}

func listFromLinks(links []intake.FamilyLink) models.JSONList {
	if links == nil {
		return nil
	}
	out := make(models.JSONList, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]interface{}{
			"relation":               l.Relation,
			"related_document_id":    l.RelatedDocumentID,
			"document_number":        l.DocumentNumber,
			"created_from_reference": l.CreatedFromReference,
		})
	}
	return out
}
