package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timofeymelnik/gestoria/internal/migrate"
	"github.com/timofeymelnik/gestoria/pkg/database"
	"github.com/timofeymelnik/gestoria/pkg/intake"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(database.Config{
		Path: filepath.Join(t.TempDir(), "intake.db"),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, migrate.Apply(db, nil))
	t.Cleanup(func() { _ = database.Close(db) })
	return New(db, nil)
}

func personPayload(nif, fullName string) map[string]interface{} {
	return map[string]interface{}{
		"identificacion": map[string]interface{}{
			"nif_nie":          nif,
			"nombre_apellidos": fullName,
		},
	}
}

func upsert(t *testing.T, store *Store, id string, payload map[string]interface{}) *intake.Record {
	t.Helper()
	record, err := store.UpsertFromUpload(context.Background(), intake.UpsertParams{
		DocumentID: id,
		Payload:    payload,
	})
	require.NoError(t, err)
	return record
}

func TestUpsertFromUpload(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	t.Run("creates with derived identifiers", func(t *testing.T) {
		record := upsert(t, store, "doc-1", personPayload("x-123-l", "GARCIA, MARIA"))

		assert.Equal(t, intake.StatusUploaded, record.Status)
		assert.Equal(t, "X123L", record.Identifiers.DocumentNumber)
		assert.Equal(t, "GARCIA, MARIA", record.Identifiers.Name)
		assert.NotEmpty(t, record.CreatedAt)
		assert.Equal(t, record.CreatedAt, record.UpdatedAt)
	})

	t.Run("rejects missing document id", func(t *testing.T) {
		_, err := store.UpsertFromUpload(ctx, intake.UpsertParams{})
		assert.Error(t, err)
	})

	t.Run("overwrite preserves created_at and family links", func(t *testing.T) {
		upsert(t, store, "doc-2", personPayload("Y1", "UNO"))
		link := intake.FamilyLink{
			Relation:          intake.RelationFamiliarQueDaDerecho,
			RelatedDocumentID: "doc-9",
			DocumentNumber:    "Z9",
		}
		_, err := store.UpdateDocumentFields(ctx, "doc-2", map[string]interface{}{
			"family_links": []intake.FamilyLink{link},
		})
		require.NoError(t, err)

		first, err := store.GetDocument(ctx, "doc-2")
		require.NoError(t, err)

		again := upsert(t, store, "doc-2", personPayload("Y1", "UNO ACTUALIZADO"))
		assert.Equal(t, first.CreatedAt, again.CreatedAt)
		assert.Equal(t, []intake.FamilyLink{link}, again.FamilyLinks)
		assert.Nil(t, again.EditedPayload, "prior edits discarded")
	})
}

func TestGetDocument(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	t.Run("missing returns nil, nil", func(t *testing.T) {
		record, err := store.GetDocument(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("round-trips payloads", func(t *testing.T) {
		upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))

		record, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "GARCIA, MARIA", record.Identifiers.Name)
		assert.Equal(t, record.OCRPayload, record.EffectivePayload())
	})
}

func TestSaveEditedPayload(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))

	edited := personPayload("X1", "GARCIA LOPEZ, MARIA")
	record, err := store.SaveEditedPayload(ctx, "doc-1", edited, []string{"extra.email"})
	require.NoError(t, err)

	assert.Equal(t, edited, record.EditedPayload)
	assert.Equal(t, edited, record.EffectivePayload())
	assert.Equal(t, "GARCIA LOPEZ, MARIA", record.Identifiers.Name)
	assert.Equal(t, []string{"extra.email"}, record.MissingFields)

	t.Run("missing record", func(t *testing.T) {
		_, err := store.SaveEditedPayload(ctx, "nope", edited, nil)
		assert.ErrorIs(t, err, intake.ErrNotFound)
	})
}

func TestUpdateDocumentFields(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))

	record, err := store.UpdateDocumentFields(ctx, "doc-1", map[string]interface{}{
		"status":                  intake.StatusMerged,
		"merged_into_document_id": "doc-2",
	})
	require.NoError(t, err)
	assert.Equal(t, intake.StatusMerged, record.Status)
	assert.Equal(t, "doc-2", record.MergedIntoDocumentID)

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := store.UpdateDocumentFields(ctx, "doc-1", map[string]interface{}{
			"bogus": 1,
		})
		assert.Error(t, err)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := store.UpdateDocumentFields(ctx, "nope", map[string]interface{}{
			"status": intake.StatusConfirmed,
		})
		assert.ErrorIs(t, err, intake.ErrNotFound)
	})
}

func TestSearchDocuments(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))
	upsert(t, store, "doc-2", personPayload("X2", "LOPEZ, JUAN"))
	upsert(t, store, "doc-3", personPayload("X1", "GARCIA, MARIA J"))

	t.Run("identity duplicates collapse to the newest", func(t *testing.T) {
		summaries, err := store.SearchDocuments(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		ids := []string{summaries[0].DocumentID, summaries[1].DocumentID}
		assert.Contains(t, ids, "doc-3")
		assert.Contains(t, ids, "doc-2")
		assert.NotContains(t, ids, "doc-1")
	})

	t.Run("substring filter is case-insensitive", func(t *testing.T) {
		summaries, err := store.SearchDocuments(ctx, "garcia", 10)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, "doc-3", summaries[0].DocumentID)
	})

	t.Run("matches document numbers too", func(t *testing.T) {
		summaries, err := store.SearchDocuments(ctx, "x2", 10)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, "doc-2", summaries[0].DocumentID)
	})

	t.Run("limit bounds the output", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			upsert(t, store, fmt.Sprintf("bulk-%d", i), personPayload(fmt.Sprintf("B%d", i), "BULK"))
		}
		summaries, err := store.SearchDocuments(ctx, "", 3)
		require.NoError(t, err)
		assert.Len(t, summaries, 3)
	})
}

func TestFindLatestByIdentities(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X123", "GARCIA, MARIA"))
	upsert(t, store, "doc-2", personPayload("P999", "LOPEZ, JUAN"))

	t.Run("matches normalized identity", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, []string{"x-123"}, "")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "doc-1", record.DocumentID)
	})

	t.Run("excludes the given document", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, []string{"X123"}, "doc-1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("any of the identities matches", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, []string{"NOPE", "P999"}, "")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "doc-2", record.DocumentID)
	})

	t.Run("empty identities yield nil", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, []string{"", " - "}, "")
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}
