package field

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"secure-fields/internal/policy"
)

var (
	ErrUnknownField = errors.New("field: unknown field")
	ErrBadFormat    = errors.New("field: value violates format constraint")
)

// Definition describes one encrypted admin field as supplied by the
// surrounding form system: identifier, sensitivity context, optional format
// constraint for new values, and the owning identity for personal data.
type Definition struct {
	ID         string
	Context    policy.Context
	Constraint *regexp.Regexp
	Owner      string
}

// Validate checks a candidate plaintext against the field's constraint.
// Runs before encryption so a bad value is rejected without touching keys.
func (d Definition) Validate(value string) error {
	if d.Constraint == nil {
		return nil
	}
	if !d.Constraint.MatchString(value) {
		return fmt.Errorf("%w: %s", ErrBadFormat, d.Constraint.String())
	}
	return nil
}

// DefinitionConfig is the wire/config form of a Definition.
type DefinitionConfig struct {
	ID      string `json:"id" mapstructure:"id"`
	Context string `json:"context" mapstructure:"context"`
	Pattern string `json:"pattern,omitempty" mapstructure:"pattern"`
	Owner   string `json:"owner,omitempty" mapstructure:"owner"`
}

// Registry resolves field identifiers to definitions. Populated once at
// startup; reads are lock-free.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(configs []DefinitionConfig) (*Registry, error) {
	defs := make(map[string]Definition, len(configs))
	for _, c := range configs {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, errors.New("field: definition without id")
		}
		if _, dup := defs[id]; dup {
			return nil, fmt.Errorf("field: duplicate definition %q", id)
		}
		sc, err := policy.ParseContext(c.Context)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", id, err)
		}
		def := Definition{ID: id, Context: sc, Owner: c.Owner}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("field %q: bad pattern: %w", id, err)
			}
			def.Constraint = re
		}
		defs[id] = def
	}
	return &Registry{defs: defs}, nil
}

func (r *Registry) Lookup(id string) (Definition, error) {
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	return def, nil
}

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	return out
}
