// Package page holds the wire model of one API response: primary entities,
// included related entities and field-level errors.
package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entity is a decoded JSON object. Numbers are kept as json.Number so that
// ids and counters are written back exactly as received.
type Entity map[string]any

// FieldError describes why a requested related entity could not be returned.
type FieldError struct {
	Value        string `json:"value,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Title        string `json:"title,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Parameter    string `json:"parameter,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Section      string `json:"section,omitempty"`
	Type         string `json:"type,omitempty"`
}

// Meta carries the result count and the cursor of the next page.
type Meta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token,omitempty"`
	NewestID    string `json:"newest_id,omitempty"`
	OldestID    string `json:"oldest_id,omitempty"`
}

// Page is one API response.
type Page struct {
	Data     []Entity            `json:"data,omitempty"`
	Includes map[string][]Entity `json:"includes,omitempty"`
	Errors   []FieldError        `json:"errors,omitempty"`
	Meta     Meta                `json:"meta"`
}

// Decode parses a response body into a Page.
func Decode(body []byte) (*Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var p Page
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &p, nil
}

// NextCursor returns the cursor to request the following page, or "" when
// this is the last page.
func (p *Page) NextCursor() string {
	if p == nil {
		return ""
	}
	return p.Meta.NextToken
}

// Get walks a dot separated path ("entities.mentions") through nested objects.
// The second result is false when any segment is missing.
func (e Entity) Get(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = map[string]any(e)
	for _, segment := range strings.Split(path, ".") {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path rendered as an id string.
func (e Entity) String(path string) (string, bool) {
	v, ok := e.Get(path)
	if !ok {
		return "", false
	}
	return IDString(v)
}

// IDString renders a scalar JSON value as a lookup key.
func IDString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return fmt.Sprintf("%d", t), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		return "", false
	}
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Entity:
		return t, true
	default:
		return nil, false
	}
}
