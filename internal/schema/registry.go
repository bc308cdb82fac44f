// Package schema maps operation names to payload validators so enqueue can
// reject malformed payloads without dictating a wire format.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Validator checks an opaque operation payload.
type Validator func(data json.RawMessage) error

// Registry holds per-operation payload validators. Operations without a
// registered validator are accepted as-is; the payload stays opaque.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register binds a validator to an operation name, replacing any previous one.
func (r *Registry) Register(operation string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[operation] = v
}

// Validate runs the validator registered for the operation, if any.
func (r *Registry) Validate(operation string, data json.RawMessage) error {
	r.mu.RLock()
	v, ok := r.validators[operation]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	if err := v(data); err != nil {
		return fmt.Errorf("payload for %q: %w", operation, err)
	}
	return nil
}

// Known reports whether the operation has a registered validator.
func (r *Registry) Known(operation string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validators[operation]
	return ok
}

// RequireObject validates that the payload is a JSON object.
func RequireObject() Validator {
	return func(data json.RawMessage) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("expected a JSON object: %w", err)
		}
		return nil
	}
}

// RequireFields validates that the payload is a JSON object containing
// every listed field with a non-null value.
func RequireFields(fields ...string) Validator {
	return func(data json.RawMessage) error {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("expected a JSON object: %w", err)
		}
		for _, f := range fields {
			raw, ok := obj[f]
			if !ok {
				return fmt.Errorf("missing field %q", f)
			}
			if string(raw) == "null" {
				return fmt.Errorf("field %q is null", f)
			}
		}
		return nil
	}
}
