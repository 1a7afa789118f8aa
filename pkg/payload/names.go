package payload

import "strings"

// SplitFullName breaks a raw full name into Spanish name parts
// (first surname, second surname, given name).
//
// A comma splits surnames from the given name: "GARCIA LOPEZ, MARIA"
// yields ("GARCIA", "LOPEZ", "MARIA"). Without a comma the tokens are
// read positionally: one token is a bare surname, two are surname plus
// given name, three or more are both surnames followed by the rest as
// the given name.
func SplitFullName(raw string) (firstSurname, secondSurname, firstName string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ""
	}

	if left, right, found := strings.Cut(raw, ","); found {
		surnames := strings.Fields(left)
		if len(surnames) > 0 {
			firstSurname = surnames[0]
			secondSurname = strings.Join(surnames[1:], " ")
		}
		firstName = strings.TrimSpace(right)
		return firstSurname, secondSurname, firstName
	}

	tokens := strings.Fields(raw)
	switch len(tokens) {
	case 1:
		return tokens[0], "", ""
	case 2:
		return tokens[0], "", tokens[1]
	default:
		return tokens[0], tokens[1], strings.Join(tokens[2:], " ")
	}
}

// DeriveIdentifiers projects the payload onto its display identifiers:
// the document number (NIF/NIE preferred over passport, uppercased) and
// the person name (full-name field preferred, assembled from the name
// parts otherwise).
func DeriveIdentifiers(p map[string]interface{}) (documentNumber, name string) {
	documentNumber = strings.ToUpper(SafeGet(p, PathNIFNIE))
	if documentNumber == "" {
		documentNumber = strings.ToUpper(SafeGet(p, PathPasaporte))
	}

	name = SafeGet(p, "identificacion.nombre_apellidos")
	if name == "" {
		var parts []string
		for _, path := range []string{
			"identificacion.nombre",
			"identificacion.primer_apellido",
			"identificacion.segundo_apellido",
		} {
			if v := SafeGet(p, path); v != "" {
				parts = append(parts, v)
			}
		}
		name = strings.Join(parts, " ")
	}
	return documentNumber, name
}
