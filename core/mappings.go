package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// MappingsSchema is the JSON Schema every mapping snapshot must satisfy.
const MappingsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["fieldMappings", "tableMappings"],
  "properties": {
    "fieldMappings": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {
          "type": "object",
          "additionalProperties": {"type": "integer", "minimum": 1}
        }
      }
    },
    "tableMappings": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var mappingsSchema = mustCompileSchema(MappingsSchema)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid mappings schema: %v", err))
	}
	return schema
}

// MappingsValidationError lists every violation found in a snapshot.
type MappingsValidationError struct {
	Source     string
	Violations []string
}

func (e *MappingsValidationError) Error() string {
	return fmt.Sprintf("invalid mappings %s: %s", e.Source, strings.Join(e.Violations, "; "))
}

// ValidateMappings checks a decoded document against MappingsSchema.
func ValidateMappings(doc any, source string) error {
	result, err := mappingsSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating mappings %s: %w", source, err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &MappingsValidationError{Source: source, Violations: violations}
}

// ParseMappings decodes and validates a JSON mapping snapshot.
func ParseMappings(data []byte) (Mappings, error) {
	return parseMappings(data, "json", "<input>")
}

// LoadMappingsFile reads a snapshot from disk. Files ending in .yaml or .yml
// are decoded as YAML, everything else as JSON.
func LoadMappingsFile(path string) (Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mappings{}, fmt.Errorf("reading mappings file %s: %w", path, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return parseMappings(data, format, path)
}

func parseMappings(data []byte, format, source string) (Mappings, error) {
	var generic any
	var m Mappings

	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return Mappings{}, fmt.Errorf("parsing mappings %s: %w", source, err)
		}
		if err := ValidateMappings(generic, source); err != nil {
			return Mappings{}, err
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Mappings{}, fmt.Errorf("parsing mappings %s: %w", source, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return Mappings{}, fmt.Errorf("parsing mappings %s: %w", source, err)
		}
		if err := ValidateMappings(generic, source); err != nil {
			return Mappings{}, err
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return Mappings{}, fmt.Errorf("parsing mappings %s: %w", source, err)
		}
	}

	return m, nil
}
