package model

import (
	"fmt"
	"strings"
)

// LinkPrefix marks platform file identifiers.
const LinkPrefix = "file-"

// Link references a platform data object
type Link struct {
	ID string `json:"$dnanexus_link"`
}

// NewLink creates a link to the object with the given id
func NewLink(id string) Link {
	return Link{ID: id}
}

// Option is an extra applet input supplied as "name:value"
type Option struct {
	Name  string
	Value string
}

// ParseOption parses a "name:value" token. The delimiter is required, the
// value may be empty and may itself contain ':'.
func ParseOption(token string) (Option, error) {
	name, value, found := strings.Cut(token, ":")
	if !found {
		return Option{}, fmt.Errorf("malformed option %q: expected name:value", token)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Option{}, fmt.Errorf("malformed option %q: empty option name", token)
	}
	return Option{Name: name, Value: value}, nil
}

// IsLink reports whether the value refers to a platform file.
func (o Option) IsLink() bool {
	return strings.HasPrefix(o.Value, LinkPrefix)
}

// InputValue returns the value as it is sent to the platform: a Link for file
// ids and the raw string otherwise.
func (o Option) InputValue() interface{} {
	if o.IsLink() {
		return NewLink(o.Value)
	}
	return o.Value
}
