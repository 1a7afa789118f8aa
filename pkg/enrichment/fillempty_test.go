package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timofeymelnik/gestoria/pkg/payload"
)

func TestFillEmpty(t *testing.T) {
	base := map[string]interface{}{
		"identificacion": map[string]interface{}{"nombre": "ALFA"},
	}
	source := map[string]interface{}{
		"identificacion": map[string]interface{}{
			"nombre":          "BETA",
			"primer_apellido": "TEST",
		},
	}

	t.Run("fills empty, observes conflicts", func(t *testing.T) {
		out, applied, skipped := FillEmpty(base, source, "doc-src", nil)

		assert.Equal(t, "ALFA", payload.SafeGet(out, "identificacion.nombre"))
		assert.Equal(t, "TEST", payload.SafeGet(out, "identificacion.primer_apellido"))

		require.Len(t, applied, 1)
		assert.Equal(t, FieldReport{
			Field:          "identificacion.primer_apellido",
			SuggestedValue: "TEST",
			Source:         "doc-src",
		}, applied[0])

		require.Len(t, skipped, 1)
		assert.Equal(t, "identificacion.nombre", skipped[0].Field)
		assert.Equal(t, SkipReasonConflict, skipped[0].Reason)
		assert.Equal(t, "ALFA", skipped[0].CurrentValue)
		assert.Equal(t, "BETA", skipped[0].SuggestedValue)
	})

	t.Run("input payload is never mutated", func(t *testing.T) {
		_, _, _ = FillEmpty(base, source, "doc-src", nil)
		assert.Equal(t, "", payload.SafeGet(base, "identificacion.primer_apellido"))
	})

	t.Run("equal values skip with reason equal", func(t *testing.T) {
		same := map[string]interface{}{
			"identificacion": map[string]interface{}{"nombre": "beta"},
		}
		_, applied, skipped := FillEmpty(same, source, "doc-src", []string{"identificacion.nombre"})

		assert.Empty(t, applied)
		require.Len(t, skipped, 1)
		assert.Equal(t, SkipReasonEqual, skipped[0].Reason)
	})

	t.Run("empty suggestions are silent", func(t *testing.T) {
		_, applied, skipped := FillEmpty(base, map[string]interface{}{}, "doc-src", nil)
		assert.Empty(t, applied)
		assert.Empty(t, skipped)
	})

	t.Run("selected fields restrict the domain", func(t *testing.T) {
		out, applied, skipped := FillEmpty(base, source, "doc-src", []string{"identificacion.nombre"})

		assert.Equal(t, "", payload.SafeGet(out, "identificacion.primer_apellido"))
		assert.Empty(t, applied)
		require.Len(t, skipped, 1)
	})

	t.Run("unknown selected fields select nothing", func(t *testing.T) {
		_, applied, skipped := FillEmpty(base, source, "doc-src", []string{"no.such.path"})
		assert.Empty(t, applied)
		assert.Empty(t, skipped)
	})

	t.Run("never overwrites any non-empty field", func(t *testing.T) {
		full := map[string]interface{}{}
		for _, path := range payload.EnrichmentPaths {
			payload.SafeSet(full, path, "KEEP")
		}
		override := map[string]interface{}{}
		for _, path := range payload.EnrichmentPaths {
			payload.SafeSet(override, path, "STOMP")
		}

		out, applied, skipped := FillEmpty(full, override, "doc-src", nil)
		assert.Empty(t, applied)
		assert.Len(t, skipped, len(payload.EnrichmentPaths))
		for _, path := range payload.EnrichmentPaths {
			assert.Equal(t, "KEEP", payload.SafeGet(out, path), path)
		}
	})
}
