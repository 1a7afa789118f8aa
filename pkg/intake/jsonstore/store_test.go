package jsonstore

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timofeymelnik/gestoria/pkg/intake"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(afero.NewMemMapFs(), "records", nil)
	require.NoError(t, err)
	return store
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

func TestNew(t *testing.T) {
	t.Run("requires a directory", func(t *testing.T) {
		_, err := New(afero.NewMemMapFs(), "", nil)
		assert.Error(t, err)
	})

	t.Run("creates the directory", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		_, err := New(fs, "records", nil)
		require.NoError(t, err)

		ok, err := afero.DirExists(fs, "records")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	created := upsert(t, store, "doc-1", personPayload("x-1", "GARCIA, MARIA"))
	assert.Equal(t, "X1", created.Identifiers.DocumentNumber)

	loaded, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, created.Identifiers, loaded.Identifiers)
	assert.Equal(t, created.CreatedAt, loaded.CreatedAt)

	missing, err := store.GetDocument(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertPreservesLineage(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "UNO"))
	link := intake.FamilyLink{
		Relation:          intake.RelationFamiliarQueDaDerecho,
		RelatedDocumentID: "doc-9",
		DocumentNumber:    "Z9",
	}
	_, err := store.UpdateDocumentFields(ctx, "doc-1", map[string]interface{}{
		"family_links": []intake.FamilyLink{link},
	})
	require.NoError(t, err)

	first, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)

	again := upsert(t, store, "doc-1", personPayload("X1", "UNO NUEVO"))
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
	assert.Equal(t, []intake.FamilyLink{link}, again.FamilyLinks)
}

func TestSaveEditedPayload(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))

	edited := personPayload("X1", "GARCIA LOPEZ, MARIA")
	record, err := store.SaveEditedPayload(ctx, "doc-1", edited, nil)
	require.NoError(t, err)
	assert.Equal(t, edited, record.EffectivePayload())
	assert.Equal(t, "GARCIA LOPEZ, MARIA", record.Identifiers.Name)

	_, err = store.SaveEditedPayload(ctx, "nope", edited, nil)
	assert.ErrorIs(t, err, intake.ErrNotFound)
}

func TestSearchDocuments(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))
	upsert(t, store, "doc-2", personPayload("X2", "LOPEZ, JUAN"))
	upsert(t, store, "doc-3", personPayload("X1", "GARCIA, MARIA J"))

	t.Run("newest first with identity dedupe", func(t *testing.T) {
		summaries, err := store.SearchDocuments(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "doc-3", summaries[0].DocumentID)
		assert.Equal(t, "doc-2", summaries[1].DocumentID)
	})

	t.Run("case-insensitive substring on name and number", func(t *testing.T) {
		byName, err := store.SearchDocuments(ctx, "lopez", 10)
		require.NoError(t, err)
		require.Len(t, byName, 1)
		assert.Equal(t, "doc-2", byName[0].DocumentID)

		byNumber, err := store.SearchDocuments(ctx, "x2", 10)
		require.NoError(t, err)
		require.Len(t, byNumber, 1)
		assert.Equal(t, "doc-2", byNumber[0].DocumentID)
	})
}

func TestFindLatestByIdentities(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X123", "GARCIA, MARIA"))
	upsert(t, store, "doc-2", personPayload("X123", "GARCIA, MARIA J"))

	t.Run("newest match wins", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, []string{"x-123"}, "")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "doc-2", record.DocumentID)
	})

	t.Run("exclusion falls back to the older match", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, []string{"X123"}, "doc-2")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "doc-1", record.DocumentID)
	})

	t.Run("no identities", func(t *testing.T) {
		record, err := store.FindLatestByIdentities(ctx, nil, "")
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestCorruptRecordIsSkippedInScans(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	upsert(t, store, "doc-1", personPayload("X1", "GARCIA, MARIA"))
	require.NoError(t, afero.WriteFile(store.fs, "records/broken.json", []byte("{nope"), 0o644))

	summaries, err := store.SearchDocuments(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	_, err = store.GetDocument(ctx, "broken")
	assert.Error(t, err)
}
