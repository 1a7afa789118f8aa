package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeGet(t *testing.T) {
	p := map[string]interface{}{
		"identificacion": map[string]interface{}{
			"nombre":  "  MARIA ",
			"nif_nie": "X1234567L",
			"nested": map[string]interface{}{
				"deep": "value",
			},
		},
		"numero": 42.0,
		"flag":   true,
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"trims string leaves", "identificacion.nombre", "MARIA"},
		{"descends two levels", "identificacion.nested.deep", "value"},
		{"missing leaf", "identificacion.pasaporte", ""},
		{"missing section", "domicilio.cp", ""},
		{"non-map intermediate", "identificacion.nombre.sub", ""},
		{"numeric leaf", "numero", "42"},
		{"bool leaf", "flag", "true"},
		{"empty path", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeGet(p, tt.path))
		})
	}

	t.Run("nil payload", func(t *testing.T) {
		assert.Equal(t, "", SafeGet(nil, "a.b"))
	})
}

func TestSafeSet(t *testing.T) {
	t.Run("creates intermediate maps", func(t *testing.T) {
		p := map[string]interface{}{}
		SafeSet(p, "domicilio.municipio", "MADRID")
		assert.Equal(t, "MADRID", SafeGet(p, "domicilio.municipio"))
	})

	t.Run("set then get round-trips trimmed", func(t *testing.T) {
		p := map[string]interface{}{}
		SafeSet(p, "extra.email", " a@b.es ")
		assert.Equal(t, "a@b.es", SafeGet(p, "extra.email"))
	})

	t.Run("replaces non-map intermediate", func(t *testing.T) {
		p := map[string]interface{}{"domicilio": "not a map"}
		SafeSet(p, "domicilio.cp", "28001")
		assert.Equal(t, "28001", SafeGet(p, "domicilio.cp"))
	})

	t.Run("keeps sibling values", func(t *testing.T) {
		p := map[string]interface{}{
			"domicilio": map[string]interface{}{"cp": "28001"},
		}
		SafeSet(p, "domicilio.municipio", "MADRID")
		assert.Equal(t, "28001", SafeGet(p, "domicilio.cp"))
		assert.Equal(t, "MADRID", SafeGet(p, "domicilio.municipio"))
	})
}

func TestDeepCopy(t *testing.T) {
	t.Run("mutations never leak into the source", func(t *testing.T) {
		src := map[string]interface{}{
			"identificacion": map[string]interface{}{"nombre": "ALFA"},
		}
		dst := DeepCopy(src)
		SafeSet(dst, "identificacion.nombre", "BETA")

		assert.Equal(t, "ALFA", SafeGet(src, "identificacion.nombre"))
		assert.Equal(t, "BETA", SafeGet(dst, "identificacion.nombre"))
	})

	t.Run("nil copies to empty map", func(t *testing.T) {
		dst := DeepCopy(nil)
		assert.NotNil(t, dst)
		assert.Empty(t, dst)
	})
}
