package validator

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apifyhost/apify/schemagen"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestValidate_MissingRequiredParameter(t *testing.T) {
	binding := schemagen.OperationBinding{
		Parameters: []schemagen.Parameter{
			{Name: "X-Api-Key", In: "header", Required: true},
		},
	}
	req := Request{Headers: http.Header{}, Query: url.Values{}}

	err := Validate(binding, req)
	assert.NotNil(t, err)
	assert.Equal(t, "X-Api-Key", err.Details["field"])
}

func TestValidate_ParameterOutOfRange(t *testing.T) {
	binding := schemagen.OperationBinding{
		Parameters: []schemagen.Parameter{
			{Name: "limit", In: "query", Schema: &schemagen.Schema{Type: "integer", Maximum: floatPtr(100)}},
		},
	}
	req := Request{Headers: http.Header{}, Query: url.Values{"limit": {"500"}}}

	err := Validate(binding, req)
	assert.NotNil(t, err)
}

func TestValidate_BodyMissingRequiredField(t *testing.T) {
	binding := schemagen.OperationBinding{
		RequestSchema: &schemagen.Schema{
			Required:   []string{"name"},
			Properties: map[string]*schemagen.Schema{"name": {Type: "string"}},
		},
	}
	req := Request{Headers: http.Header{}, Query: url.Values{}, Body: map[string]any{}}

	err := Validate(binding, req)
	assert.NotNil(t, err)
	assert.Equal(t, "name", err.Details["field"])
}

func TestValidate_BodyWithinConstraints(t *testing.T) {
	binding := schemagen.OperationBinding{
		RequestSchema: &schemagen.Schema{
			Required: []string{"name"},
			Properties: map[string]*schemagen.Schema{
				"name":  {Type: "string", MaxLength: intPtr(10)},
				"price": {Type: "number"},
			},
		},
	}
	req := Request{
		Headers: http.Header{},
		Query:   url.Values{},
		Body:    map[string]any{"name": "widget", "price": 9.99},
	}

	err := Validate(binding, req)
	assert.Nil(t, err)
}
