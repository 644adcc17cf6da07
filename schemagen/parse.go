package schemagen

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseDocument decodes raw into a Document. JSON input unmarshals
// directly through encoding/json, exercising the custom
// camelCase/snake_case aliasing. YAML input first decodes into a
// generic value via gopkg.in/yaml.v3 (which, unlike its v2
// predecessor, natively produces map[string]interface{}), then
// re-encodes through encoding/json so the same aliasing logic applies
// regardless of which form an API document was authored in. A raw
// value that is a JSON string is unwrapped first and its text parsed.
func ParseDocument(raw []byte) (*Document, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		raw = []byte(text)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err == nil {
		return &doc, nil
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("schemagen: parse document: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("schemagen: re-encode yaml document: %w", err)
	}
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("schemagen: parse document: %w", err)
	}
	return &doc, nil
}
