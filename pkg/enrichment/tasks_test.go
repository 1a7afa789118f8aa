package enrichment

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timofeymelnik/gestoria/pkg/payload"
	"github.com/timofeymelnik/gestoria/pkg/taskqueue"
)

func TestHandleEnrichDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document_id is structural", func(t *testing.T) {
		svc, _ := testService(t)
		_, err := svc.HandleEnrichDocument(ctx, map[string]interface{}{})

		var structural *taskqueue.StructuralError
		require.True(t, errors.As(err, &structural))
	})

	t.Run("undecodable arguments are structural", func(t *testing.T) {
		svc, _ := testService(t)
		_, err := svc.HandleEnrichDocument(ctx, map[string]interface{}{
			"document_id": "doc-1",
			"payload":     "not a map",
		})

		var structural *taskqueue.StructuralError
		require.True(t, errors.As(err, &structural))
	})

	t.Run("enriches and persists by default", func(t *testing.T) {
		svc, repo := testService(t)
		seedDocument(t, repo, "doc-old", map[string]interface{}{
			"identificacion": map[string]interface{}{
				"nif_nie":         "X123",
				"primer_apellido": "GARCIA",
			},
		})
		seedDocument(t, repo, "doc-new", map[string]interface{}{
			"identificacion": map[string]interface{}{"nif_nie": "X123"},
		})

		result, err := svc.HandleEnrichDocument(ctx, map[string]interface{}{
			"document_id": "doc-new",
		})
		require.NoError(t, err)
		assert.Equal(t, true, result["identity_match_found"])
		assert.Equal(t, "doc-old", result["source_document_id"])

		record, err := repo.GetDocument(ctx, "doc-new")
		require.NoError(t, err)
		assert.Equal(t, "GARCIA", payload.SafeGet(record.EffectivePayload(), "identificacion.primer_apellido"))
	})

	t.Run("persist can be disabled", func(t *testing.T) {
		svc, repo := testService(t)
		seedDocument(t, repo, "doc-old", map[string]interface{}{
			"identificacion": map[string]interface{}{
				"nif_nie":         "X123",
				"primer_apellido": "GARCIA",
			},
		})

		result, err := svc.HandleEnrichDocument(ctx, map[string]interface{}{
			"document_id": "doc-new",
			"persist":     false,
			"payload": map[string]interface{}{
				"identificacion": map[string]interface{}{"nif_nie": "X123"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, true, result["identity_match_found"])

		record, err := repo.GetDocument(ctx, "doc-new")
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestHandleSyncFamilyReference(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document_id is structural", func(t *testing.T) {
		svc, _ := testService(t)
		_, err := svc.HandleSyncFamilyReference(ctx, map[string]interface{}{})

		var structural *taskqueue.StructuralError
		require.True(t, errors.As(err, &structural))
	})

	t.Run("links through the stored payload", func(t *testing.T) {
		svc, repo := testService(t)
		seedDocument(t, repo, "doc-primary", primaryWithReference("P999"))

		result, err := svc.HandleSyncFamilyReference(ctx, map[string]interface{}{
			"document_id": "doc-primary",
		})
		require.NoError(t, err)
		assert.Equal(t, true, result["linked"])
		assert.Equal(t, true, result["created_related"])
		assert.NotEmpty(t, result["related_document_id"])
	})
}

func TestHandleRescoreMergeCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document_id is structural", func(t *testing.T) {
		svc, _ := testService(t)
		_, err := svc.HandleRescoreMergeCandidates(ctx, map[string]interface{}{})

		var structural *taskqueue.StructuralError
		require.True(t, errors.As(err, &structural))
	})

	t.Run("returns scored candidates", func(t *testing.T) {
		svc, repo := testService(t)
		seedDocument(t, repo, "doc-match", map[string]interface{}{
			"identificacion": map[string]interface{}{"nif_nie": "X123"},
		})

		result, err := svc.HandleRescoreMergeCandidates(ctx, map[string]interface{}{
			"document_id": "doc-self",
			"payload": map[string]interface{}{
				"identificacion": map[string]interface{}{"pasaporte": "X123"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "doc-self", result["document_id"])

		candidates, ok := result["candidates"].([]interface{})
		require.True(t, ok)
		require.Len(t, candidates, 1)

		first, ok := candidates[0].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "doc-match", first["document_id"])
		assert.Equal(t, float64(scoreIdentityMatch), first["score"])
	})
}

func TestRegisterHandlers(t *testing.T) {
	svc, _ := testService(t)

	settings := taskqueue.DefaultSettings(filepath.Join(t.TempDir(), "queue.db"))
	queue, err := taskqueue.New(settings, nil)
	require.NoError(t, err)
	defer queue.Close()

	require.NoError(t, RegisterHandlers(queue, svc))
}
