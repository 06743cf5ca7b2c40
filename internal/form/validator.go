// Package form validates submitted value bags against declarative
// field schemas. Validation is a pure function: no I/O, deterministic,
// and it accumulates every violation instead of short-circuiting so a
// form can highlight all problems in one round trip.
package form

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// Result is the outcome of validating one value bag.
// Valid is true exactly when Errors is empty.
type Result struct {
	Valid  bool
	Errors []string
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate checks values against schema in declaration order.
// A schema with no fields is vacuously valid for any input.
func Validate(values map[string]interface{}, schema []entity.FieldSchema) Result {
	errs := validateFields(values, schema, "")
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func validateFields(values map[string]interface{}, schema []entity.FieldSchema, prefix string) []string {
	var errs []string

	for _, field := range schema {
		value, present := values[field.Name]
		if !present || isEmpty(value) {
			if field.Required {
				errs = append(errs, fmt.Sprintf("%sfield %s is required", prefix, field.Label))
			}
			continue
		}
		errs = append(errs, validateValue(value, field, prefix)...)
	}

	return errs
}

func validateValue(value interface{}, field entity.FieldSchema, prefix string) []string {
	switch field.Type {
	case entity.FieldNumber:
		if !isNumeric(value) {
			return []string{fmt.Sprintf("%sfield %s must be a number", prefix, field.Label)}
		}

	case entity.FieldDate:
		s, ok := value.(string)
		if !ok || !dateRe.MatchString(s) {
			return []string{fmt.Sprintf("%sfield %s must be a date in YYYY-MM-DD format", prefix, field.Label)}
		}

	case entity.FieldSelect:
		s, ok := value.(string)
		if !ok || !contains(field.Options, s) {
			return []string{fmt.Sprintf("%sinvalid value for field %s", prefix, field.Label)}
		}

	case entity.FieldFile:
		if !isFileReference(value) {
			return []string{fmt.Sprintf("%sfield %s must be a file reference", prefix, field.Label)}
		}

	case entity.FieldArray:
		return validateArray(value, field, prefix)
	}

	return nil
}

// validateArray recurses into every element, prefixing errors with the
// parent label and the element's 1-based index.
func validateArray(value interface{}, field entity.FieldSchema, prefix string) []string {
	elems, ok := value.([]interface{})
	if !ok {
		return []string{fmt.Sprintf("%sfield %s must be a list", prefix, field.Label)}
	}
	if field.Required && len(elems) == 0 {
		return []string{fmt.Sprintf("%sfield %s is required", prefix, field.Label)}
	}
	if len(field.Subfields) == 0 {
		return nil
	}

	var errs []string
	for i, elem := range elems {
		item, ok := elem.(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Sprintf("%s%s[%d]: element must be an object", prefix, field.Label, i+1))
			continue
		}
		elemPrefix := fmt.Sprintf("%s%s[%d]: ", prefix, field.Label, i+1)
		errs = append(errs, validateFields(item, field.Subfields, elemPrefix)...)
	}
	return errs
}

// isEmpty treats nil and the empty string as absent. Zero numbers and
// empty lists are present values; arrays handle their own emptiness
// rule.
func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func isNumeric(v interface{}) bool {
	switch n := v.(type) {
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	default:
		return false
	}
}

// isFileReference accepts a structured object carrying either an
// already-persisted reference (url or path) or a raw upload payload
// marker. Bare primitives are rejected.
func isFileReference(v interface{}) bool {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	for _, key := range []string{"url", "path"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return true
		}
	}
	_, hasUpload := obj["upload"]
	return hasUpload
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
