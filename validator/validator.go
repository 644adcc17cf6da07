// Package validator validates request headers, query parameters, and
// bodies against the OpenAPI schemas attached to an OperationBinding.
// go-playground/validator/v10 validates static Go struct tags, not data
// whose shape is only known at reconcile time, so this package walks
// the loaded schemas by hand; validator/v10 remains in use for the
// static YAML config file (see infrastructure/config).
package validator

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/apifyhost/apify/infrastructure/errors"
	"github.com/apifyhost/apify/schemagen"
)

// Request is the parsed-but-unvalidated shape of an incoming request,
// assembled by the data-plane listener from the pipeline's Request.
type Request struct {
	Headers    http.Header
	Query      url.Values
	PathParams map[string]string
	Body       map[string]any // nil when there is no body
}

// Validate rejects a request that fails binding's declared parameters or
// request schema. It never mutates req.
func Validate(binding schemagen.OperationBinding, req Request) *errors.ServiceError {
	if err := validateParameters(binding.Parameters, req); err != nil {
		return err
	}
	if binding.RequestSchema != nil && req.Body != nil {
		if err := validateSchema("", binding.RequestSchema, req.Body); err != nil {
			return err
		}
	}
	return nil
}

func validateParameters(params []schemagen.Parameter, req Request) *errors.ServiceError {
	for _, p := range params {
		raw, present := lookupParam(p, req)
		if !present {
			if p.Required {
				return errors.BadRequest(fmt.Sprintf("missing required parameter %q", p.Name)).WithDetails("field", p.Name)
			}
			continue
		}
		if p.Schema == nil {
			continue
		}
		value, err := coerce(p.Schema.Type, raw)
		if err != nil {
			return errors.BadRequest(fmt.Sprintf("parameter %q: %v", p.Name, err)).WithDetails("field", p.Name)
		}
		if svcErr := checkConstraints(p.Name, p.Schema, value); svcErr != nil {
			return svcErr
		}
	}
	return nil
}

func lookupParam(p schemagen.Parameter, req Request) (string, bool) {
	switch p.In {
	case "header":
		v := req.Headers.Get(p.Name)
		return v, v != ""
	case "path":
		v, ok := req.PathParams[p.Name]
		return v, ok
	default: // "query"
		if !req.Query.Has(p.Name) {
			return "", false
		}
		return req.Query.Get(p.Name), true
	}
}

func coerce(schemaType, raw string) (any, error) {
	switch schemaType {
	case "integer":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer")
		}
		return n, nil
	case "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number")
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected boolean")
		}
		return b, nil
	default:
		return raw, nil
	}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func checkConstraints(field string, schema *schemagen.Schema, value any) *errors.ServiceError {
	bad := func(reason string) *errors.ServiceError {
		return errors.BadRequest(reason).WithDetails("field", field)
	}

	switch v := value.(type) {
	case int64:
		if schema.Minimum != nil && float64(v) < *schema.Minimum {
			return bad(fmt.Sprintf("%s below minimum %v", field, *schema.Minimum))
		}
		if schema.Maximum != nil && float64(v) > *schema.Maximum {
			return bad(fmt.Sprintf("%s above maximum %v", field, *schema.Maximum))
		}
	case float64:
		if schema.Minimum != nil && v < *schema.Minimum {
			return bad(fmt.Sprintf("%s below minimum %v", field, *schema.Minimum))
		}
		if schema.Maximum != nil && v > *schema.Maximum {
			return bad(fmt.Sprintf("%s above maximum %v", field, *schema.Maximum))
		}
	case string:
		if schema.MinLength != nil && len(v) < *schema.MinLength {
			return bad(fmt.Sprintf("%s shorter than minLength %d", field, *schema.MinLength))
		}
		if schema.MaxLength != nil && len(v) > *schema.MaxLength {
			return bad(fmt.Sprintf("%s longer than maxLength %d", field, *schema.MaxLength))
		}
		if schema.Pattern != "" {
			re, err := regexp.Compile(schema.Pattern)
			if err == nil && !re.MatchString(v) {
				return bad(fmt.Sprintf("%s does not match pattern", field))
			}
		}
		if schema.Format == "email" && !emailPattern.MatchString(v) {
			return bad(fmt.Sprintf("%s is not a valid email", field))
		}
	}
	return nil
}

// validateSchema walks an object schema against a decoded JSON body.
// prefix is used to build dotted field paths for nested validation
// errors; Validate always passes an empty prefix, and nested
// arrays/objects are not descended into (see checkValueType).
func validateSchema(prefix string, schema *schemagen.Schema, body map[string]any) *errors.ServiceError {
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	for name := range required {
		if _, ok := body[name]; !ok {
			field := joinField(prefix, name)
			return errors.BadRequest(fmt.Sprintf("missing required field %q", field)).WithDetails("field", field)
		}
	}

	for name, propSchema := range schema.Properties {
		raw, ok := body[name]
		if !ok || raw == nil {
			continue
		}
		field := joinField(prefix, name)
		if err := checkValueType(field, propSchema, raw); err != nil {
			return err
		}
	}
	return nil
}

func joinField(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func checkValueType(field string, schema *schemagen.Schema, raw any) *errors.ServiceError {
	bad := func(reason string) *errors.ServiceError {
		return errors.BadRequest(reason).WithDetails("field", field)
	}

	switch schema.Type {
	case "integer":
		f, ok := raw.(float64)
		if !ok {
			return bad(fmt.Sprintf("%s must be an integer", field))
		}
		if f != float64(int64(f)) {
			return bad(fmt.Sprintf("%s must be an integer", field))
		}
		return checkConstraints(field, schema, int64(f))
	case "number":
		f, ok := raw.(float64)
		if !ok {
			return bad(fmt.Sprintf("%s must be a number", field))
		}
		return checkConstraints(field, schema, f)
	case "boolean":
		if _, ok := raw.(bool); !ok {
			return bad(fmt.Sprintf("%s must be a boolean", field))
		}
	case "string":
		s, ok := raw.(string)
		if !ok {
			return bad(fmt.Sprintf("%s must be a string", field))
		}
		return checkConstraints(field, schema, s)
	case "array", "object":
		// Nested arrays/objects are not checked here; relation fields
		// are handled later by the CRUD engine in the Data phase.
	}
	return nil
}
