// Package validate implements the Input Validator and its security-critical
// Path Validator sub-component (spec §4.5).
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
	"github.com/snapback-ai/coprocessor/mcp"
)

// SchemaValidator compiles a tool's declared input schema once and enforces
// it against raw call_tool arguments thereafter. Grounded on
// davidahmann-gait's core/schema/validate package, which wraps the same
// kaptinlin/jsonschema compiler.
type SchemaValidator struct {
	compiled *jsonschema.Schema
}

// NewSchemaValidator compiles schema into an enforceable validator.
func NewSchemaValidator(schema mcp.ToolInputSchema) (*SchemaValidator, error) {
	doc, err := toJSONSchemaDocument(schema)
	if err != nil {
		return nil, fmt.Errorf("validate: encode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("validate: compile schema: %w", err)
	}

	return &SchemaValidator{compiled: compiled}, nil
}

// FieldError names the first schema field that failed validation, per the
// error-handling table's requirement (spec §7: "Error response with first
// failing field").
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks raw arguments against the compiled schema, returning a
// *FieldError naming the first failing field on violation.
func (v *SchemaValidator) Validate(raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	result := v.compiled.ValidateJSON([]byte(raw))
	if result.IsValid() {
		return nil
	}

	for field, errs := range result.Errors {
		if errs != nil {
			return &FieldError{Field: field, Message: errs.Error()}
		}
		return &FieldError{Field: field, Message: "validation failed"}
	}
	return &FieldError{Field: "", Message: "validation failed"}
}

// toJSONSchemaDocument renders our typed-tree ToolInputSchema into a plain
// JSON Schema document the compiler understands, applying spec §4.5's
// strictness rule: extra properties are rejected unless the descriptor
// explicitly opts in.
func toJSONSchemaDocument(s mcp.ToolInputSchema) ([]byte, error) {
	doc := map[string]any{
		"type":                 nonEmptyOr(s.Type, "object"),
		"additionalProperties": s.AdditionalProperties,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = propertyToDocument(p)
		}
		doc["properties"] = props
	}
	return json.Marshal(doc)
}

func propertyToDocument(p mcp.SchemaProperty) map[string]any {
	out := map[string]any{}
	if p.Type != "" {
		out["type"] = p.Type
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.MaxLength > 0 {
		out["maxLength"] = p.MaxLength
	}
	if p.Minimum != 0 {
		out["minimum"] = p.Minimum
	}
	if p.Maximum != 0 {
		out["maximum"] = p.Maximum
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = propertyToDocument(*p.Items)
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, sub := range p.Properties {
			props[name] = propertyToDocument(sub)
		}
		out["properties"] = props
	}
	return out
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
