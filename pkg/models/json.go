package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONMap is a custom map type that implements driver.Valuer and sql.Scanner.
// It stores nested document payloads and task payloads as JSON text columns
// without pulling in gorm.io/datatypes (which causes SQLite driver conflicts).
type JSONMap map[string]interface{}

// Value implements driver.Valuer interface for database writes.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON map: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner interface for database reads.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSON map value: unsupported type")
	}

	if len(bytes) == 0 {
		*m = nil
		return nil
	}

	parsed := map[string]interface{}{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		return fmt.Errorf("invalid JSON in database: %w", err)
	}

	*m = parsed
	return nil
}

// DeepCopy returns a value-semantic copy via a JSON round-trip.
// Mutations of the copy never leak into the receiver.
func (m JSONMap) DeepCopy() JSONMap {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return JSONMap{}
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return JSONMap{}
	}
	return out
}

// String returns the map as compact JSON, or "{}" when empty.
func (m JSONMap) String() string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// JSONList is the array counterpart of JSONMap, used for ordered JSON
// columns such as family links and per-field enrichment reports.
type JSONList []interface{}

// Value implements driver.Valuer interface for database writes.
func (l JSONList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner interface for database reads.
func (l *JSONList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSON list value: unsupported type")
	}

	if len(bytes) == 0 {
		*l = nil
		return nil
	}

	parsed := []interface{}{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		return fmt.Errorf("invalid JSON in database: %w", err)
	}

	*l = parsed
	return nil
}
