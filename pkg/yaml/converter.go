// Package yaml bridges YAML documents and the JSON-tagged structs used across
// the tool. Config files may be written in either format and the dry-run
// output is rendered as YAML.
package yaml

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// ToJSON converts a YAML (or JSON) document to JSON bytes. JSON input is
// returned unchanged apart from compaction.
func ToJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []byte("{}"), nil
	}
	if trimmed[0] == '{' && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return nil, fmt.Errorf("error compacting JSON: %w", err)
		}
		return buf.Bytes(), nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error converting to JSON: %w", err)
	}
	return out, nil
}

// Decode parses a YAML or JSON document into obj using obj's json tags.
func Decode(data []byte, obj interface{}) error {
	jsonBytes, err := ToJSON(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonBytes, obj); err != nil {
		return fmt.Errorf("error decoding document: %w", err)
	}
	return nil
}

// Marshal renders v as YAML. The value is first encoded as JSON so that json
// tags and custom JSON marshalers decide the field names.
func Marshal(v interface{}) ([]byte, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding value: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("error parsing JSON: %w", err)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error converting to YAML: %w", err)
	}
	return out, nil
}
