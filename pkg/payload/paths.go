package payload

// EnrichmentPaths is the fixed, ordered domain of dotted paths that
// participate in fill-empty reconciliation. The payload schema is open
// for unknown keys, but enrichment never reads or writes outside this
// list.
var EnrichmentPaths = []string{
	"identificacion.nif_nie",
	"identificacion.pasaporte",
	"identificacion.documento_tipo",
	"identificacion.nombre_apellidos",
	"identificacion.primer_apellido",
	"identificacion.segundo_apellido",
	"identificacion.nombre",

	"domicilio.tipo_via",
	"domicilio.nombre_via",
	"domicilio.numero",
	"domicilio.escalera",
	"domicilio.piso",
	"domicilio.puerta",
	"domicilio.telefono",
	"domicilio.municipio",
	"domicilio.provincia",
	"domicilio.cp",

	"declarante.localidad",
	"declarante.fecha",
	"declarante.fecha_dia",
	"declarante.fecha_mes",
	"declarante.fecha_anio",

	"ingreso.forma_pago",
	"ingreso.iban",

	"extra.email",
	"extra.fecha_nacimiento",
	"extra.fecha_nacimiento_dia",
	"extra.fecha_nacimiento_mes",
	"extra.fecha_nacimiento_anio",
	"extra.nacionalidad",
	"extra.pais_nacimiento",
	"extra.sexo",
	"extra.estado_civil",
	"extra.lugar_nacimiento",
	"extra.nombre_padre",
	"extra.nombre_madre",
	"extra.representante_legal",
	"extra.representante_documento",
	"extra.titulo_representante",
	"extra.hijos_escolarizacion_espana",
}
