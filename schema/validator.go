package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/mmate-bgmq/contracts"
)

// ValidationError describes one field that broke its schema
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Value   any    `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is returned when a body breaks its schema
type ValidationErrors struct {
	MessageType string
	Errors      []ValidationError
}

func (e *ValidationErrors) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.Error()
	}
	return fmt.Sprintf("%s failed validation with %d errors: %s", e.MessageType, len(e.Errors), strings.Join(parts, "; "))
}

// Rule is a custom check run against the whole body after the properties
type Rule func(ctx context.Context, body any) *ValidationError

// Schema describes the JSON form of one message type
type Schema struct {
	Properties map[string]*Property
	Required   []string
	Rules      []Rule
}

// Property constrains one JSON field. Nil bounds are not checked.
type Property struct {
	Type       string // string, number, integer, boolean, array, object
	Format     string // email, uuid, date, date-time
	Pattern    string
	MinLength  *int
	MaxLength  *int
	Minimum    *float64
	Maximum    *float64
	Enum       []any
	Items      *Property
	Properties map[string]*Property
	Required   []string
}

// Validator checks envelope bodies against per-type schemas. Types without a
// schema always pass.
type Validator struct {
	mu       sync.RWMutex
	schemas  map[string]*Schema
	patterns map[string]*regexp.Regexp
}

func NewValidator() *Validator {
	return &Validator{
		schemas:  make(map[string]*Schema),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Register sets the schema of messageType. Patterns are compiled up front.
func (v *Validator) Register(messageType string, schema *Schema) error {
	if messageType == "" {
		return errors.New("message type cannot be empty")
	}
	if schema == nil {
		return errors.New("schema cannot be nil")
	}

	patterns := make(map[string]*regexp.Regexp)
	if err := collectPatterns(schema.Properties, patterns); err != nil {
		return fmt.Errorf("schema for %s: %w", messageType, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[messageType] = schema
	for pattern, re := range patterns {
		v.patterns[pattern] = re
	}
	return nil
}

// RegisterFor sets the schema of T
func RegisterFor[T any](v *Validator, schema *Schema) error {
	return v.Register(contracts.TypeNameFor[T](), schema)
}

func collectPatterns(props map[string]*Property, into map[string]*regexp.Regexp) error {
	for name, prop := range props {
		if prop == nil {
			return fmt.Errorf("property %s is nil", name)
		}
		if prop.Pattern != "" {
			re, err := regexp.Compile(prop.Pattern)
			if err != nil {
				return fmt.Errorf("property %s: invalid pattern: %w", name, err)
			}
			into[prop.Pattern] = re
		}
		if err := collectPatterns(prop.Properties, into); err != nil {
			return err
		}
		if prop.Items != nil {
			if err := collectPatterns(map[string]*Property{name + "[]": prop.Items}, into); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate implements interceptors.MessageValidator
func (v *Validator) Validate(ctx context.Context, env *contracts.Envelope) error {
	if env == nil {
		return errors.New("envelope cannot be nil")
	}

	messageType := env.TypeName()
	v.mu.RLock()
	schema, ok := v.schemas[messageType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	if errs := v.ValidateBody(ctx, schema, env.Body); len(errs) > 0 {
		return &ValidationErrors{MessageType: messageType, Errors: errs}
	}
	return nil
}

// ValidateBody checks body against schema and returns every violation,
// ordered by field
func (v *Validator) ValidateBody(ctx context.Context, schema *Schema, body any) []ValidationError {
	data, err := toMap(body)
	if err != nil {
		return []ValidationError{{Field: "body", Message: err.Error(), Code: "CONVERSION_ERROR"}}
	}

	var errs []ValidationError
	v.validateObject("", data, schema.Properties, schema.Required, &errs)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })

	for _, rule := range schema.Rules {
		if ve := rule(ctx, body); ve != nil {
			errs = append(errs, *ve)
		}
	}
	return errs
}

func (v *Validator) validateObject(path string, data map[string]any, props map[string]*Property, required []string, errs *[]ValidationError) {
	for _, name := range required {
		if _, ok := data[name]; !ok {
			*errs = append(*errs, ValidationError{
				Field:   joinPath(path, name),
				Message: "required field is missing",
				Code:    "REQUIRED_FIELD_MISSING",
			})
		}
	}

	for name, value := range data {
		if prop, ok := props[name]; ok {
			v.validateProperty(joinPath(path, name), value, prop, errs)
		}
	}
}

func (v *Validator) validateProperty(path string, value any, prop *Property, errs *[]ValidationError) {
	if value == nil {
		return
	}

	fail := func(code, format string, args ...any) {
		*errs = append(*errs, ValidationError{Field: path, Message: fmt.Sprintf(format, args...), Code: code, Value: value})
	}

	if prop.Type != "" && !hasType(value, prop.Type) {
		fail("TYPE_MISMATCH", "expected type %s, got %T", prop.Type, value)
		return
	}

	switch value := value.(type) {
	case string:
		if prop.MinLength != nil && len(value) < *prop.MinLength {
			fail("MIN_LENGTH_VIOLATION", "string length %d is less than minimum %d", len(value), *prop.MinLength)
		}
		if prop.MaxLength != nil && len(value) > *prop.MaxLength {
			fail("MAX_LENGTH_VIOLATION", "string length %d exceeds maximum %d", len(value), *prop.MaxLength)
		}
		if prop.Pattern != "" {
			v.mu.RLock()
			re := v.patterns[prop.Pattern]
			v.mu.RUnlock()
			if re != nil && !re.MatchString(value) {
				fail("PATTERN_VIOLATION", "value does not match pattern: %s", prop.Pattern)
			}
		}
		if msg := checkFormat(prop.Format, value); msg != "" {
			fail("FORMAT_VIOLATION", "%s", msg)
		}
	case float64:
		if prop.Minimum != nil && value < *prop.Minimum {
			fail("MINIMUM_VIOLATION", "value %g is less than minimum %g", value, *prop.Minimum)
		}
		if prop.Maximum != nil && value > *prop.Maximum {
			fail("MAXIMUM_VIOLATION", "value %g exceeds maximum %g", value, *prop.Maximum)
		}
	case []any:
		if prop.Items != nil {
			for i, item := range value {
				v.validateProperty(fmt.Sprintf("%s[%d]", path, i), item, prop.Items, errs)
			}
		}
	case map[string]any:
		if prop.Properties != nil || prop.Required != nil {
			v.validateObject(path, value, prop.Properties, prop.Required, errs)
		}
	}

	if len(prop.Enum) > 0 && !inEnum(value, prop.Enum) {
		fail("ENUM_VIOLATION", "value is not in allowed enum values: %v", prop.Enum)
	}
}

func hasType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// checkFormat returns a message when value breaks format, "" otherwise
func checkFormat(format, value string) string {
	switch format {
	case "email":
		if !emailPattern.MatchString(value) {
			return "invalid email format"
		}
	case "uuid":
		if _, err := uuid.Parse(value); err != nil {
			return "invalid UUID format"
		}
	case "date":
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return "invalid date format (expected YYYY-MM-DD)"
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return "invalid date-time format (expected RFC 3339)"
		}
	}
	return ""
}

// inEnum compares JSON-decoded value with enum entries, treating all numbers
// as float64
func inEnum(value any, enum []any) bool {
	for _, allowed := range enum {
		switch n := allowed.(type) {
		case int:
			allowed = float64(n)
		case int64:
			allowed = float64(n)
		}
		if reflect.DeepEqual(value, allowed) {
			return true
		}
	}
	return false
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func toMap(body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	return data, nil
}

// Int returns a pointer to n, for Property bounds
func Int(n int) *int {
	return &n
}

// Float returns a pointer to f, for Property bounds
func Float(f float64) *float64 {
	return &f
}
