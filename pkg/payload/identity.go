package payload

import "strings"

// Identity field paths. A record's natural identity is carried by the
// NIF/NIE when present, the passport number otherwise.
const (
	PathNIFNIE    = "identificacion.nif_nie"
	PathPasaporte = "identificacion.pasaporte"
)

// NormalizeIdentity projects a personal identifier onto its natural
// join key: uppercase with every non-[A-Z0-9] byte stripped.
func NormalizeIdentity(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	return b.String()
}

// IdentityCandidates returns the deduplicated, order-preserving list of
// normalized identity keys derived from the payload: NIF/NIE first,
// then passport, empties dropped.
func IdentityCandidates(payload map[string]interface{}) []string {
	var candidates []string
	seen := map[string]bool{}

	for _, path := range []string{PathNIFNIE, PathPasaporte} {
		key := NormalizeIdentity(SafeGet(payload, path))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		candidates = append(candidates, key)
	}
	return candidates
}

// NameTokens returns the deduplicated uppercase alphanumeric tokens of
// length >= 2 drawn from the payload's name fields. Used for fuzzy
// person matching when identities disagree or are missing.
func NameTokens(payload map[string]interface{}) []string {
	var tokens []string
	seen := map[string]bool{}

	for _, path := range []string{
		"identificacion.nombre_apellidos",
		"identificacion.primer_apellido",
		"identificacion.segundo_apellido",
		"identificacion.nombre",
	} {
		for _, field := range strings.Fields(SafeGet(payload, path)) {
			token := NormalizeIdentity(field)
			if len(token) < 2 || seen[token] {
				continue
			}
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	return tokens
}
