// Package jsonstore implements the intake repository port on a
// directory of per-record JSON files. It is the zero-dependency
// fallback backend for installations without the embedded relational
// store; semantics match the sqlite backend.
package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/timofeymelnik/gestoria/pkg/intake"
	"github.com/timofeymelnik/gestoria/pkg/payload"
)

// Store keeps one JSON file per record under a directory. A mutex
// serializes read-modify-write cycles so each port call stays atomic
// within the process.
type Store struct {
	fs     afero.Fs
	dir    string
	logger hclog.Logger
	mu     sync.Mutex
}

var _ intake.Repository = (*Store)(nil)

// New opens (and creates when missing) the record directory on fs.
func New(fs afero.Fs, dir string, log hclog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("record directory is required")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	return &Store{
		fs:     fs,
		dir:    dir,
		logger: log.Named("json-store"),
	}, nil
}

// GetDocument implements intake.RecordReader.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*intake.Record, error) {
	return s.read(documentID)
}

// SearchDocuments implements intake.RecordReader.
func (s *Store) SearchDocuments(ctx context.Context, query string, limit int) ([]intake.Summary, error) {
	if limit <= 0 {
		limit = 50
	}

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	summaries := make([]intake.Summary, 0, limit)
	seenIdentity := map[string]bool{}
	for _, record := range records {
		if query != "" &&
			!strings.Contains(strings.ToLower(record.Identifiers.Name), query) &&
			!strings.Contains(strings.ToLower(record.Identifiers.DocumentNumber), query) {
			continue
		}

		if key := record.IdentityKey(); key != "" {
			if seenIdentity[key] {
				continue
			}
			seenIdentity[key] = true
		}

		summaries = append(summaries, intake.Summary{
			DocumentID:     record.DocumentID,
			Name:           record.Identifiers.Name,
			DocumentNumber: record.Identifiers.DocumentNumber,
			Status:         record.Status,
			UpdatedAt:      record.UpdatedAt,
		})
		if len(summaries) >= limit {
			break
		}
	}
	return summaries, nil
}

// FindLatestByIdentities implements intake.RecordReader.
func (s *Store) FindLatestByIdentities(ctx context.Context, identities []string, excludeDocumentID string) (*intake.Record, error) {
	keys := map[string]bool{}
	for _, identity := range identities {
		if key := payload.NormalizeIdentity(identity); key != "" {
			keys[key] = true
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if record.DocumentID == excludeDocumentID {
			continue
		}
		if keys[record.IdentityKey()] {
			return record, nil
		}
	}
	return nil, nil
}

// UpsertFromUpload implements intake.RecordWriter.
func (s *Store) UpsertFromUpload(ctx context.Context, params intake.UpsertParams) (*intake.Record, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upsert parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(params.DocumentID)
	if err != nil {
		return nil, err
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
		record.FamilyLinks = existing.FamilyLinks
	}
	record.RefreshIdentifiers()

	if err := s.write(record); err != nil {
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

	record, err := s.load(documentID)
	if err != nil {
		return nil, err
	}

	record.EditedPayload = payload.DeepCopy(edited)
	record.MissingFields = missingFields
	record.RefreshIdentifiers()
	record.UpdatedAt = intake.NowUTC()

	if err := s.write(record); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateDocumentFields implements intake.RecordWriter.
func (s *Store) UpdateDocumentFields(ctx context.Context, documentID string, updates map[string]interface{}) (*intake.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.load(documentID)
	if err != nil {
		return nil, err
	}

	if err := record.ApplyFieldUpdates(updates); err != nil {
		return nil, fmt.Errorf("invalid field updates for %s: %w", documentID, err)
	}
	record.UpdatedAt = intake.NowUTC()

	if err := s.write(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) path(documentID string) string {
	return filepath.Join(s.dir, documentID+".json")
}

func (s *Store) load(documentID string) (*intake.Record, error) {
	record, err := s.read(documentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", intake.ErrNotFound, documentID)
	}
	return record, nil
}

func (s *Store) read(documentID string) (*intake.Record, error) {
	data, err := afero.ReadFile(s.fs, s.path(documentID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", documentID, err)
	}

	var record intake.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("record %s is corrupt: %w", documentID, err)
	}
	return &record, nil
}

func (s *Store) write(record *intake.Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.DocumentID, err)
	}
	if err := afero.WriteFile(s.fs, s.path(record.DocumentID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", record.DocumentID, err)
	}
	return nil
}

// readAll loads every record, newest first. Unreadable files are
// skipped with a warning so one corrupt record never takes down
// corpus-wide operations.
func (s *Store) readAll() ([]*intake.Record, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list record directory: %w", err)
	}

	records := make([]*intake.Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable record file",
				"file", entry.Name(),
				"error", err,
			)
			continue
		}
		if record != nil {
			records = append(records, record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := storedTime(records[i].UpdatedAt), storedTime(records[j].UpdatedAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].DocumentID < records[j].DocumentID
	})
	return records, nil
}

// storedTime parses a stored timestamp for ordering. ISO-8601 is
// expected; legacy formats are tolerated, unparseable values order
// last.
func storedTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
