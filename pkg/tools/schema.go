package tools

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// MustSchemaFor derives the JSON schema for T, panicking on failure. Tool
// parameter types are fixed at compile time, so a failure here is a
// programming error.
func MustSchemaFor[T any]() any {
	schema, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

func SchemaFor[T any]() (any, error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// SchemaToMap normalizes any schema value into a plain map document. Providers
// and contracts both consume schemas in map form, and some require every
// object to carry an explicit type, so the map is patched up accordingly.
func SchemaToMap(params any) (map[string]any, error) {
	m := map[string]any{}
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(buf, &m); err != nil {
			return nil, err
		}
	}

	normalizeObjectSchema(m)
	return m, nil
}

// normalizeObjectSchema guarantees an object schema shape: a type, a
// properties map, no empty required list, and a type on every nested property
// (defaulting to object), descending through properties and array items.
func normalizeObjectSchema(schema map[string]any) {
	if schema["type"] == nil {
		schema["type"] = "object"
	}
	if schema["properties"] == nil {
		schema["properties"] = map[string]any{}
	}
	if schema["required"] == nil {
		delete(schema, "required")
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	for _, v := range props {
		prop, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if prop["type"] == nil {
			prop["type"] = "object"
		}
		if _, nested := prop["properties"]; nested {
			normalizeObjectSchema(prop)
		}
		if items, ok := prop["items"].(map[string]any); ok {
			if items["type"] == nil {
				items["type"] = "object"
			}
			if _, nested := items["properties"]; nested {
				normalizeObjectSchema(items)
			}
		}
	}
}

// ConvertSchema re-encodes a schema value into the destination type v, going
// through the normalized map form.
func ConvertSchema(params, v any) error {
	m, err := SchemaToMap(params)
	if err != nil {
		return err
	}

	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}

	return json.Unmarshal(buf, v)
}
