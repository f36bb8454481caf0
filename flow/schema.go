package flow

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// declarationSchema is the JSON Schema for the workflow declaration wire
// format. It covers the structural rules: required fields, field types,
// and enum membership. Referential and graph-shape rules are checked
// semantically by Validate.
const declarationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes", "edges", "start_node"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["input", "router", "llm", "image", "db", "aggregator"]},
          "metadata": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {
            "oneOf": [
              {"type": "string", "minLength": 1},
              {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1}
            ]
          },
          "queue": {"type": "string"},
          "condition": {"type": "string"}
        }
      }
    },
    "queues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "from", "to"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "bandwidth": {
            "type": "object",
            "properties": {
              "max_messages_per_second": {"type": "integer", "minimum": 1},
              "max_requests_per_minute": {"type": "integer", "minimum": 1},
              "max_tokens_per_minute": {"type": "integer", "minimum": 1},
              "burst_size": {"type": "integer", "minimum": 1}
            }
          },
          "sub_queues": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "weight"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "weight": {"type": "number", "minimum": 0, "maximum": 1}
              }
            }
          }
        }
      }
    },
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "config"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["llm", "image", "db", "api"]},
          "config": {"type": "object"}
        }
      }
    },
    "start_node": {"type": "string", "minLength": 1}
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(declarationSchema)

// ValidateDocument runs the structural schema pass over a raw
// declaration. Malformed JSON yields a single E001; schema violations
// map to E002 (missing required field), E003 (wrong type or enum), or
// E001 otherwise, each carrying the offending field path.
func ValidateDocument(data []byte) []ValidationError {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []ValidationError{{
			Code:    CodeMalformed,
			Message: "malformed JSON: " + err.Error(),
			Path:    "$",
		}}
	}
	if result.Valid() {
		return nil
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{
			Code:    schemaErrorCode(re.Type()),
			Message: re.Description(),
			Path:    schemaErrorPath(re.Field()),
		})
	}
	return errs
}

func schemaErrorCode(violation string) string {
	switch violation {
	case "required":
		return CodeMissingField
	case "invalid_type", "enum", "one_of", "number_one_of":
		return CodeInvalidType
	case "number_gte", "number_lte", "number_gt", "number_lt":
		return CodeBadBandwidth
	}
	return CodeMalformed
}

func schemaErrorPath(field string) string {
	if field == "(root)" {
		return "$"
	}
	return "$." + strings.ReplaceAll(field, "(root).", "")
}

// fieldPath builds a dotted path like "nodes[3].metadata.source".
func fieldPath(parts ...any) string {
	var b strings.Builder
	b.WriteString("$")
	for _, p := range parts {
		switch v := p.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		case string:
			b.WriteString(".")
			b.WriteString(v)
		}
	}
	return b.String()
}
