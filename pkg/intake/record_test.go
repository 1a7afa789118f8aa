package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFamilyLinks(t *testing.T) {
	forward := FamilyLink{
		Relation:          RelationFamiliarQueDaDerecho,
		RelatedDocumentID: "doc-b",
		DocumentNumber:    "X123",
	}
	backward := FamilyLink{
		Relation:          RelationTitularFamiliarDependiente,
		RelatedDocumentID: "doc-a",
		DocumentNumber:    "Y456",
	}

	t.Run("appends new links in input order", func(t *testing.T) {
		merged := MergeFamilyLinks([]FamilyLink{forward}, []FamilyLink{backward})
		require.Len(t, merged, 2)
		assert.Equal(t, forward, merged[0])
		assert.Equal(t, backward, merged[1])
	})

	t.Run("merging an identical link leaves the list unchanged", func(t *testing.T) {
		existing := []FamilyLink{forward, backward}
		merged := MergeFamilyLinks(existing, []FamilyLink{forward})
		assert.Equal(t, existing, merged)
	})

	t.Run("set-like under the triple key", func(t *testing.T) {
		sameKeyDifferentFlag := forward
		sameKeyDifferentFlag.CreatedFromReference = true

		merged := MergeFamilyLinks([]FamilyLink{forward}, []FamilyLink{sameKeyDifferentFlag})
		require.Len(t, merged, 1)
		assert.False(t, merged[0].CreatedFromReference)
	})

	t.Run("same related id with different relation is kept", func(t *testing.T) {
		other := forward
		other.Relation = RelationTitularFamiliarDependiente

		merged := MergeFamilyLinks([]FamilyLink{forward}, []FamilyLink{other})
		assert.Len(t, merged, 2)
	})

	t.Run("deduplicates the existing side too", func(t *testing.T) {
		merged := MergeFamilyLinks([]FamilyLink{forward, forward}, nil)
		assert.Len(t, merged, 1)
	})
}

func TestEffectivePayload(t *testing.T) {
	ocr := map[string]interface{}{"identificacion": map[string]interface{}{"nombre": "OCR"}}
	edited := map[string]interface{}{"identificacion": map[string]interface{}{"nombre": "EDITED"}}

	t.Run("edited wins when present", func(t *testing.T) {
		r := &Record{OCRPayload: ocr, EditedPayload: edited}
		assert.Equal(t, edited, r.EffectivePayload())
	})

	t.Run("falls back to OCR", func(t *testing.T) {
		r := &Record{OCRPayload: ocr}
		assert.Equal(t, ocr, r.EffectivePayload())
	})
}

func TestRefreshIdentifiers(t *testing.T) {
	r := &Record{
		OCRPayload: map[string]interface{}{
			"identificacion": map[string]interface{}{
				"nif_nie":          "x-123-l",
				"nombre_apellidos": "GARCIA, MARIA",
			},
		},
	}
	r.RefreshIdentifiers()

	assert.Equal(t, "X123L", r.Identifiers.DocumentNumber)
	assert.Equal(t, "GARCIA, MARIA", r.Identifiers.Name)
	assert.Equal(t, "X123L", r.IdentityKey())
}

func TestApplyFieldUpdates(t *testing.T) {
	t.Run("applies known fields", func(t *testing.T) {
		r := &Record{}
		err := r.ApplyFieldUpdates(map[string]interface{}{
			"status":                      StatusMerged,
			"merged_into_document_id":     "doc-primary",
			"identity_match_found":        true,
			"identity_source_document_id": "doc-src",
			"missing_fields":              []interface{}{"extra.email"},
		})
		require.NoError(t, err)

		assert.Equal(t, StatusMerged, r.Status)
		assert.Equal(t, "doc-primary", r.MergedIntoDocumentID)
		assert.True(t, r.IdentityMatchFound)
		assert.Equal(t, "doc-src", r.IdentitySourceDocumentID)
		assert.Equal(t, []string{"extra.email"}, r.MissingFields)
	})

	t.Run("decodes family links from generic maps", func(t *testing.T) {
		r := &Record{}
		err := r.ApplyFieldUpdates(map[string]interface{}{
			"family_links": []interface{}{
				map[string]interface{}{
					"relation":               RelationFamiliarQueDaDerecho,
					"related_document_id":    "doc-b",
					"document_number":        "X123",
					"created_from_reference": true,
				},
			},
		})
		require.NoError(t, err)
		require.Len(t, r.FamilyLinks, 1)
		assert.Equal(t, "doc-b", r.FamilyLinks[0].RelatedDocumentID)
		assert.True(t, r.FamilyLinks[0].CreatedFromReference)
	})

	t.Run("collects every bad field, applies the good ones", func(t *testing.T) {
		r := &Record{}
		err := r.ApplyFieldUpdates(map[string]interface{}{
			"status":        StatusConfirmed,
			"no_such_field": "x",
			"form_url":      123,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no_such_field")
		assert.Contains(t, err.Error(), "form_url")
		assert.Equal(t, StatusConfirmed, r.Status)
	})
}
