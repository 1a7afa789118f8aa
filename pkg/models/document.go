package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Document is the relational row behind a person-centric intake record.
// Payloads are nested JSON maps; the identity_key column carries the
// uppercase-alphanumeric projection of the stored document number so
// identity lookups stay indexed.
type Document struct {
	DocumentID string `gorm:"column:document_id;primaryKey" json:"documentId"`
	Status     string `gorm:"column:status;not null;default:'uploaded'" json:"status"`

	// Derived identifiers, denormalized for search and identity joins.
	Name           string `gorm:"column:name;index:idx_documents_name" json:"name"`
	DocumentNumber string `gorm:"column:document_number;index:idx_documents_number" json:"documentNumber"`
	IdentityKey    string `gorm:"column:identity_key;index:idx_documents_identity" json:"identityKey"`

	OCRPayload    JSONMap `gorm:"column:ocr_payload" json:"ocrPayload,omitempty"`
	EditedPayload JSONMap `gorm:"column:edited_payload" json:"editedPayload,omitempty"`
	Source        JSONMap `gorm:"column:source" json:"source,omitempty"`
	OCRDocument   string  `gorm:"column:ocr_document" json:"ocrDocument,omitempty"`

	IdentityMatchFound       bool     `gorm:"column:identity_match_found;not null;default:false" json:"identityMatchFound"`
	IdentitySourceDocumentID string   `gorm:"column:identity_source_document_id" json:"identitySourceDocumentId,omitempty"`
	EnrichmentPreview        JSONList `gorm:"column:enrichment_preview" json:"enrichmentPreview,omitempty"`
	EnrichmentLog            JSONList `gorm:"column:enrichment_log" json:"enrichmentLog,omitempty"`
	FamilyLinks              JSONList `gorm:"column:family_links" json:"familyLinks,omitempty"`

	MissingFields       JSONList `gorm:"column:missing_fields" json:"missingFields,omitempty"`
	ManualStepsRequired JSONList `gorm:"column:manual_steps_required" json:"manualStepsRequired,omitempty"`
	FormURL             string   `gorm:"column:form_url" json:"formUrl,omitempty"`
	TargetURL           string   `gorm:"column:target_url" json:"targetUrl,omitempty"`
	BrowserSessionID    string   `gorm:"column:browser_session_id" json:"browserSessionId,omitempty"`

	MergedIntoDocumentID string `gorm:"column:merged_into_document_id" json:"mergedIntoDocumentId,omitempty"`

	// ISO-8601 UTC text, lexicographically ordered.
	CreatedAt string `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt string `gorm:"column:updated_at;not null;index:idx_documents_updated" json:"updatedAt"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// DocumentStatus constants
const (
	DocumentStatusUploaded  = "uploaded"
	DocumentStatusConfirmed = "confirmed"
	DocumentStatusMerged    = "merged"
	DocumentStatusUnknown   = "unknown"
)

// BeforeSave hook to ensure required fields.
func (d *Document) BeforeSave(tx *gorm.DB) error {
	if d.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if d.Status == "" {
		d.Status = DocumentStatusUploaded
	}
	return nil
}

// GetDocumentRow retrieves a document row by id. Returns (nil, nil) when absent.
func GetDocumentRow(db *gorm.DB, id string) (*Document, error) {
	var doc Document
	err := db.Where("document_id = ?", id).First(&doc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListRecentDocuments returns up to limit rows ordered newest first.
// When query is non-empty it is matched case-insensitively as a
// substring of the derived name or document number.
func ListRecentDocuments(db *gorm.DB, query string, limit int) ([]Document, error) {
	tx := db.Model(&Document{})
	if query != "" {
		pattern := "%" + query + "%"
		tx = tx.Where("name LIKE ? COLLATE NOCASE OR document_number LIKE ? COLLATE NOCASE",
			pattern, pattern)
	}

	var docs []Document
	err := tx.
		Order("updated_at DESC, document_id ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// FindLatestDocumentByIdentityKeys returns the most recently updated row
// whose identity key matches any of keys, excluding excludeID.
// Returns (nil, nil) when nothing matches.
func FindLatestDocumentByIdentityKeys(db *gorm.DB, keys []string, excludeID string) (*Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	tx := db.Where("identity_key IN ?", keys)
	if excludeID != "" {
		tx = tx.Where("document_id <> ?", excludeID)
	}

	var doc Document
	err := tx.Order("updated_at DESC, document_id ASC").First(&doc).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
