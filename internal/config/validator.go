package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/robfig/cron/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/config-schema.json
var embeddedSchema []byte

const schemaURL = "https://datos.gob.ar/schemas/georef-etl/v1/config-schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// GetEmbeddedSchema returns the embedded configuration schema.
func GetEmbeddedSchema() []byte {
	return embeddedSchema
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc interface{}
		if err := json.Unmarshal(embeddedSchema, &doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, schemaInitErr = compiler.Compile(schemaURL)
		if schemaInitErr != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", schemaInitErr)
		}
	})
	return compiledSchema, schemaInitErr
}

// ValidateConfig validates decoded configuration data against the schema,
// then checks what a schema cannot express: cron syntax and patch
// expression syntax.
func ValidateConfig(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}
	fail := func(e ValidationError) {
		result.Valid = false
		result.Errors = append(result.Errors, e)
	}

	if data == nil {
		fail(ValidationError{Path: "/", Type: "required", Message: "configuration data is nil"})
		return result
	}

	schema, err := getCompiledSchema()
	if err != nil {
		fail(ValidationError{Path: "/", Type: "schema", Message: fmt.Sprintf("failed to load schema: %v", err)})
		return result
	}

	if err := schema.Validate(data); err != nil {
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			for _, e := range convertValidationErrors(detailed) {
				fail(e)
			}
		} else {
			fail(ValidationError{Path: "/", Type: "validation", Message: err.Error()})
		}
		return result
	}

	for _, e := range semanticErrors(data) {
		fail(e)
	}
	return result
}

func semanticErrors(data map[string]interface{}) []ValidationError {
	var errs []ValidationError

	if schedule, ok := data["schedule"].(map[string]interface{}); ok {
		if expr, ok := schedule["cron"].(string); ok {
			if _, err := cron.ParseStandard(expr); err != nil {
				errs = append(errs, ValidationError{
					Path:     "/schedule/cron",
					Type:     "format",
					Expected: "5-field cron expression or descriptor",
					Actual:   expr,
					Message:  fmt.Sprintf("invalid cron expression: %v", err),
				})
			}
		}
	}

	patches, _ := data["patches"].(map[string]interface{})
	for _, process := range sortedKeys(patches) {
		rules, _ := patches[process].([]interface{})
		for i, raw := range rules {
			rule, _ := raw.(map[string]interface{})
			set, _ := rule["set"].(map[string]interface{})
			for _, field := range sortedKeys(set) {
				src, _ := set[field].(string)
				if _, err := expr.Compile(src, expr.AllowUndefinedVariables()); err != nil {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("/patches/%s/%d/set/%s", process, i, field),
						Type:    "expression",
						Actual:  src,
						Message: fmt.Sprintf("invalid expression: %v", err),
					})
				}
			}
		}
	}
	return errs
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// convertValidationErrors flattens a jsonschema error tree into leaf errors.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		}}
	}

	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

func extractErrorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required") || strings.Contains(msg, "missing propert"):
		return "required"
	case strings.Contains(msg, "additional"):
		return "additionalProperties"
	case strings.Contains(msg, "pattern"):
		return "pattern"
	case strings.Contains(msg, "enum") || strings.Contains(msg, "value must be"):
		return "enum"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum") ||
		strings.Contains(msg, "must be >") || strings.Contains(msg, "must be <"):
		return "range"
	case strings.Contains(msg, "type") || strings.Contains(msg, "got "):
		return "type"
	default:
		return "validation"
	}
}
