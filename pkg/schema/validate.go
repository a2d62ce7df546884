package schema

import (
	"github.com/xeipuuv/gojsonschema"
)

// MaxDepth is the deepest nesting allowed in a tool input schema. Schemas
// nested beyond this are replaced wholesale with the canonical empty schema
// rather than truncated, so agents never see a partial schema.
const MaxDepth = 5

// Canonical returns the canonical empty-object schema:
// {"type":"object","properties":{}}. It is returned whenever a registered
// schema is missing or fails validation.
func Canonical() Value {
	return Object(map[string]Value{
		"type":       String("object"),
		"properties": Object(nil),
	})
}

// Validate sanitizes a JSON-Schema-like input schema for exposure to agents.
// Missing or empty schemas, schemas nested deeper than MaxDepth, and schemas
// containing a $ref key at any depth all collapse to the canonical empty
// schema. Anything else passes through with empty properties/items arrays
// normalized to empty objects, since several agent runtimes reject [] where
// a JSON object is expected.
//
// Validate is pure and idempotent: Validate(Validate(s)) == Validate(s).
func Validate(v Value) Value {
	if v.Kind != KindObject || len(v.Fields) == 0 {
		return Canonical()
	}
	if depth(v, 1) > MaxDepth {
		return Canonical()
	}
	if hasRef(v) {
		return Canonical()
	}
	return normalize(v)
}

// depth computes the maximum nesting depth of object/array structures,
// counting the top level as 1. Scalars do not add depth.
func depth(v Value, d int) int {
	max := d
	switch v.Kind {
	case KindObject:
		for _, f := range v.Fields {
			if f.Kind == KindObject || f.Kind == KindArray {
				if child := depth(f, d+1); child > max {
					max = child
				}
			}
		}
	case KindArray:
		for _, item := range v.Items {
			if item.Kind == KindObject || item.Kind == KindArray {
				if child := depth(item, d+1); child > max {
					max = child
				}
			}
		}
	}
	return max
}

// hasRef reports whether any object node contains a $ref key.
// Cross-schema references are not supported.
func hasRef(v Value) bool {
	switch v.Kind {
	case KindObject:
		if _, ok := v.Fields["$ref"]; ok {
			return true
		}
		for _, f := range v.Fields {
			if hasRef(f) {
				return true
			}
		}
	case KindArray:
		for _, item := range v.Items {
			if hasRef(item) {
				return true
			}
		}
	}
	return false
}

// normalize rewrites empty "properties" values (and those nested under
// property values and "items") into empty objects.
func normalize(v Value) Value {
	if v.Kind != KindObject {
		return v
	}

	out := Value{Kind: KindObject, Fields: make(map[string]Value, len(v.Fields))}
	for k, f := range v.Fields {
		out.Fields[k] = f
	}

	if props, ok := out.Fields["properties"]; ok {
		switch {
		case props.Kind == KindArray && len(props.Items) == 0:
			out.Fields["properties"] = Object(nil)
		case props.Kind == KindObject && len(props.Fields) == 0:
			out.Fields["properties"] = Object(nil)
		case props.Kind == KindObject:
			fixed := Value{Kind: KindObject, Fields: make(map[string]Value, len(props.Fields))}
			for name, prop := range props.Fields {
				if prop.Kind == KindObject {
					fixed.Fields[name] = normalize(prop)
				} else {
					fixed.Fields[name] = prop
				}
			}
			out.Fields["properties"] = fixed
		}
	}

	if items, ok := out.Fields["items"]; ok && items.Kind == KindObject {
		out.Fields["items"] = normalize(items)
	}

	return out
}

// Compile checks that a schema compiles as a real JSON Schema. The registry
// uses it at registration time to warn about malformed schemas; it never
// affects what Validate returns.
func Compile(v Value) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	return err
}
