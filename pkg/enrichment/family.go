package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/timofeymelnik/gestoria/pkg/intake"
	"github.com/timofeymelnik/gestoria/pkg/payload"
	"github.com/timofeymelnik/gestoria/pkg/recordid"
)

// Path of the family reference block inside a payload.
const familyReferencePath = "referencias.familiar_que_da_derecho"

// Manual follow-up steps attached to auto-created family records.
var familyAutoManualSteps = []string{
	"verify_filled_fields",
	"submit_or_download_manually",
}

// FamilyReference is the extracted family block of a payload: the
// person whose status grants the declarant a derived right.
type FamilyReference struct {
	NIFNIE          string
	Pasaporte       string
	NombreApellidos string
}

// Identities returns the normalized identity keys of the reference,
// NIF/NIE first, empties dropped.
func (f FamilyReference) Identities() []string {
	var ids []string
	for _, raw := range []string{f.NIFNIE, f.Pasaporte} {
		if key := payload.NormalizeIdentity(raw); key != "" {
			ids = append(ids, key)
		}
	}
	return ids
}

// DocumentNumber is the display identifier of the referenced family
// member: the normalized NIF/NIE when present, the passport otherwise.
func (f FamilyReference) DocumentNumber() string {
	if key := payload.NormalizeIdentity(f.NIFNIE); key != "" {
		return key
	}
	return payload.NormalizeIdentity(f.Pasaporte)
}

// FamilyReferenceFromPayload extracts the family reference block.
// Returns nil when the block carries no usable identity: a reference
// without a normalized NIF/NIE or passport cannot be resolved or
// minted, so it is treated as absent.
func FamilyReferenceFromPayload(p map[string]interface{}) *FamilyReference {
	ref := FamilyReference{
		NIFNIE:          payload.SafeGet(p, familyReferencePath+".nif_nie"),
		Pasaporte:       payload.SafeGet(p, familyReferencePath+".pasaporte"),
		NombreApellidos: payload.SafeGet(p, familyReferencePath+".nombre_apellidos"),
	}
	if len(ref.Identities()) == 0 {
		return nil
	}
	return &ref
}

// familyPayload synthesizes an intake payload for the referenced family
// member from the reference block alone.
func (f FamilyReference) familyPayload() map[string]interface{} {
	p := map[string]interface{}{}
	if f.NIFNIE != "" {
		payload.SafeSet(p, payload.PathNIFNIE, strings.ToUpper(strings.TrimSpace(f.NIFNIE)))
	}
	if f.Pasaporte != "" {
		payload.SafeSet(p, payload.PathPasaporte, strings.ToUpper(strings.TrimSpace(f.Pasaporte)))
	}
	if f.NombreApellidos != "" {
		payload.SafeSet(p, "identificacion.nombre_apellidos", f.NombreApellidos)
		firstSurname, secondSurname, firstName := payload.SplitFullName(f.NombreApellidos)
		if firstSurname != "" {
			payload.SafeSet(p, "identificacion.primer_apellido", firstSurname)
		}
		if secondSurname != "" {
			payload.SafeSet(p, "identificacion.segundo_apellido", secondSurname)
		}
		if firstName != "" {
			payload.SafeSet(p, "identificacion.nombre", firstName)
		}
	}
	return p
}

// FamilySyncResult reports the outcome of one family reference sync.
type FamilySyncResult struct {
	Linked            bool                `json:"linked"`
	RelatedDocumentID string              `json:"related_document_id,omitempty"`
	CreatedRelated    bool                `json:"created_related"`
	FamilyLinks       []intake.FamilyLink `json:"family_links"`
	AppliedFields     []FieldReport       `json:"applied_fields,omitempty"`
}

// SyncFamilyReference reconciles the payload's family reference block
// into the corpus: it resolves the referenced person by identity,
// enriches or mints their record, and maintains the forward and
// backward family links on both records. A payload without a usable
// reference is a no-op, not an error.
func (s *Service) SyncFamilyReference(ctx context.Context, documentID string, p map[string]interface{}, source string) (*FamilySyncResult, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document_id is required")
	}

	p, err := s.effectivePayload(ctx, documentID, p)
	if err != nil {
		return nil, err
	}

	ref := FamilyReferenceFromPayload(p)
	if ref == nil {
		return &FamilySyncResult{Linked: false, FamilyLinks: []intake.FamilyLink{}}, nil
	}

	related, err := s.repo.FindLatestByIdentities(ctx, ref.Identities(), documentID)
	if err != nil {
		return nil, fmt.Errorf("family identity lookup failed: %w", err)
	}

	result := &FamilySyncResult{Linked: true}
	familyPayload := ref.familyPayload()

	if related != nil {
		result.RelatedDocumentID = related.DocumentID

		merged, applied, _ := FillEmpty(related.EffectivePayload(), familyPayload, documentID, nil)
		if len(applied) > 0 {
			if _, err := s.repo.SaveEditedPayload(ctx, related.DocumentID, merged, related.MissingFields); err != nil {
				return nil, fmt.Errorf("failed to enrich related document %s: %w", related.DocumentID, err)
			}
			result.AppliedFields = applied
			s.logger.Info("enriched related family document",
				"document_id", documentID,
				"related_document_id", related.DocumentID,
				"applied", len(applied),
			)
		}
	} else {
		relatedID := recordid.New().String()
		created, err := s.repo.UpsertFromUpload(ctx, intake.UpsertParams{
			DocumentID: relatedID,
			Payload:    familyPayload,
			Source: map[string]interface{}{
				"source_kind":        intake.SourceKindFamilyReferenceAuto,
				"origin_document_id": documentID,
			},
			ManualStepsRequired: familyAutoManualSteps,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create family document: %w", err)
		}
		related = created
		result.RelatedDocumentID = relatedID
		result.CreatedRelated = true
		s.logger.Info("created family document from reference",
			"document_id", documentID,
			"related_document_id", relatedID,
		)
	}

	primaryNumber := ""
	if candidates := payload.IdentityCandidates(p); len(candidates) > 0 {
		primaryNumber = candidates[0]
	}

	forward := intake.FamilyLink{
		Relation:             intake.RelationFamiliarQueDaDerecho,
		RelatedDocumentID:    related.DocumentID,
		DocumentNumber:       ref.DocumentNumber(),
		CreatedFromReference: result.CreatedRelated,
	}
	backward := intake.FamilyLink{
		Relation:             intake.RelationTitularFamiliarDependiente,
		RelatedDocumentID:    documentID,
		DocumentNumber:       primaryNumber,
		CreatedFromReference: false,
	}

	// Both sides are written independently so one failed side never
	// hides the other.
	var writeErrs *multierror.Error

	primaryLinks, err := s.appendFamilyLink(ctx, documentID, p, source, forward)
	if err != nil {
		writeErrs = multierror.Append(writeErrs, fmt.Errorf("primary link write: %w", err))
	} else {
		result.FamilyLinks = primaryLinks
	}

	if _, err := s.appendFamilyLink(ctx, related.DocumentID, nil, source, backward); err != nil {
		writeErrs = multierror.Append(writeErrs, fmt.Errorf("related link write: %w", err))
	}

	if err := writeErrs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return result, nil
}

// appendFamilyLink merges one link into the record's family_links,
// bootstrapping the record when it does not exist yet (the primary may
// be synced before its own upload is persisted).
func (s *Service) appendFamilyLink(ctx context.Context, documentID string, bootstrapPayload map[string]interface{}, source string, link intake.FamilyLink) ([]intake.FamilyLink, error) {
	record, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record, err = s.repo.UpsertFromUpload(ctx, intake.UpsertParams{
			DocumentID: documentID,
			Payload:    bootstrapPayload,
			Source:     map[string]interface{}{"source_kind": source},
		})
		if err != nil {
			return nil, err
		}
	}

	merged := intake.MergeFamilyLinks(record.FamilyLinks, []intake.FamilyLink{link})
	updated, err := s.repo.UpdateDocumentFields(ctx, documentID, map[string]interface{}{
		"family_links": merged,
	})
	if err != nil {
		return nil, err
	}
	return updated.FamilyLinks, nil
}
