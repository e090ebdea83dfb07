package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/mutate/internal/ir"
)

// marshalObject converts an Object to canonical JSON TEXT for storage.
func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		obj = ir.Object{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses JSON TEXT into an Object. Integers stay exact.
func unmarshalObject(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	obj, err := ir.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

// marshalMeta stores the flattened meta, including resource and fetch, so a
// row is self-describing.
func marshalMeta(m ir.Meta) (string, error) {
	data, err := ir.MarshalCanonical(m.Object())
	if err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	return string(data), nil
}

func unmarshalMeta(data string) (ir.Meta, error) {
	var m ir.Meta
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return ir.Meta{}, fmt.Errorf("unmarshal meta: %w", err)
	}
	return m, nil
}

// nullableResource maps the empty (undefined) resource to SQL NULL.
func nullableResource(resource string) sql.NullString {
	return sql.NullString{String: resource, Valid: resource != ""}
}
