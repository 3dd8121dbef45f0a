// Package schema validates event payloads against registered JSON Schemas.
//
// Schemas are optional: publishing an event type with no registered schema
// always succeeds. When a schema is registered for a type, the bus rejects
// non-conforming payloads at publish time, before anything is persisted.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates event payloads against per-type JSON Schema definitions.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]any                // keyed by event type
	cache   map[string]*jsonschema.Schema // keyed by schema JSON content
}

// NewValidator creates an empty schema validator.
func NewValidator() *Validator {
	return &Validator{
		schemas: make(map[string]any),
		cache:   make(map[string]*jsonschema.Schema),
	}
}

// Register binds a JSON Schema to an event type, compiling it eagerly so a
// malformed schema fails at registration rather than at first publish.
func (v *Validator) Register(eventType string, schema any) error {
	if eventType == "" {
		return fmt.Errorf("schema: empty event type")
	}
	if _, err := v.compile(schema); err != nil {
		return fmt.Errorf("schema: register %q: %w", eventType, err)
	}

	v.mu.Lock()
	v.schemas[eventType] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks data against the schema registered for eventType. Types
// with no registered schema pass.
func (v *Validator) Validate(eventType string, data any) error {
	v.mu.RLock()
	schema, ok := v.schemas[eventType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return fmt.Errorf("schema: compile for %q: %w", eventType, err)
	}

	// The compiler validates decoded JSON values, so round-trip arbitrary
	// Go payloads through encoding/json first.
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("schema: marshal payload: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("schema: decode payload: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema: payload for %q: %w", eventType, err)
	}
	return nil
}

// compile returns a compiled schema, using the cache for previously-seen schemas.
func (v *Validator) compile(schema any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	var doc any
	if unmarshalErr := json.Unmarshal(raw, &doc); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", unmarshalErr)
	}

	// Unique URL as the schema resource identifier.
	url := "herald://schema/" + sanitizeKey(key)

	c := jsonschema.NewCompiler()
	if addErr := c.AddResource(url, doc); addErr != nil {
		return nil, fmt.Errorf("add schema resource: %w", addErr)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = compiled
	v.mu.Unlock()

	return compiled, nil
}

// sanitizeKey creates a safe URL path segment from a schema key.
func sanitizeKey(key string) string {
	r := strings.NewReplacer(
		`"`, "",
		`{`, "",
		`}`, "",
		` `, "_",
		`:`, "",
	)
	s := r.Replace(key)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
