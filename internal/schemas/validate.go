// Package schemas provides JSON Schema validation functionality for structured data artifacts.
package schemas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	artifactschemas "github.com/jonathan/protein-minimizer/schemas"
)

// Schema names
const (
	RunMetadata = "run_metadata"
	BatchReport = "batch_report"
)

// commonSchema is loaded alongside every named schema so $ref into it resolves.
const commonSchema = "common.schema.json"

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	if ve.Schema != "" {
		sb.WriteString(fmt.Sprintf("validation against %s failed:\n", ve.Schema))
	} else {
		sb.WriteString("validation failed:\n")
	}
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*gojsonschema.Schema{}
)

// Load compiles the embedded schema with the given name, e.g. RunMetadata.
// Compiled schemas are cached.
func Load(name string) (*gojsonschema.Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if schema, ok := cache[name]; ok {
		return schema, nil
	}

	file := name + ".schema.json"
	content, err := artifactschemas.FS.ReadFile(file)
	if err != nil {
		return nil, &SchemaLoadError{Path: file, Message: "schema not found", Cause: err}
	}
	common, err := artifactschemas.FS.ReadFile(commonSchema)
	if err != nil {
		return nil, &SchemaLoadError{Path: commonSchema, Message: "schema not found", Cause: err}
	}

	loader := gojsonschema.NewSchemaLoader()
	if err := loader.AddSchemas(gojsonschema.NewBytesLoader(common)); err != nil {
		return nil, &SchemaLoadError{Path: commonSchema, Message: "failed to register schema", Cause: err}
	}
	schema, err := loader.Compile(gojsonschema.NewBytesLoader(content))
	if err != nil {
		return nil, &SchemaLoadError{Path: file, Message: "failed to compile schema", Cause: err}
	}
	cache[name] = schema
	return schema, nil
}

// ValidateDocument marshals doc to JSON and validates it against the named schema.
func ValidateDocument(name string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document for %s: %w", name, err)
	}
	return validateBytes(name, data)
}

// ValidateFile validates a JSON file on disk against the named schema.
func ValidateFile(name, jsonPath string) error {
	absPath, err := filepath.Abs(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to resolve JSON path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("JSON file not found: %s", absPath)
		}
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	return validateBytes(name, data)
}

func validateBytes(name string, data []byte) error {
	schema, err := Load(name)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to load document for %s: %w", name, err)
	}
	return resultError(name, result)
}

// ValidateJSONString validates JSON string content against schema string content
func ValidateJSONString(schemaContent, jsonContent string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(jsonContent)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &SchemaLoadError{
			Path:    "(string schema)",
			Message: "schema validation failed during load",
			Cause:   err,
		}
	}
	return resultError("", result)
}

func resultError(name string, result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Schema: name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
