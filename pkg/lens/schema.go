package lens

import "fmt"

// Type is a JSON value type.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeNull    Type = "null"
)

// Schema is the subset of JSON Schema the lenses maintain: object properties,
// array items and per-field defaults.
type Schema struct {
	Type       Type               `json:"type" yaml:"type"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Default    any                `json:"default,omitempty" yaml:"default,omitempty"`
}

// EmptySchema is the schema of the root node: an object without properties.
func EmptySchema() *Schema {
	return &Schema{Type: TypeObject, Properties: map[string]*Schema{}}
}

func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := &Schema{Type: s.Type, Default: s.Default, Items: s.Items.Clone()}
	if s.Properties != nil {
		c.Properties = make(map[string]*Schema, len(s.Properties))
		for name, prop := range s.Properties {
			c.Properties[name] = prop.Clone()
		}
	}
	return c
}

// DefaultValue is the value a freshly created field of this schema holds.
// Containers always start empty.
func (s *Schema) DefaultValue() any {
	switch s.Type {
	case TypeObject:
		return map[string]any{}
	case TypeArray:
		return []any{}
	}
	if s.Default != nil {
		return normalizeNumber(s.Default)
	}
	switch s.Type {
	case TypeString:
		return ""
	case TypeNumber:
		return float64(0)
	case TypeBoolean:
		return false
	default:
		return nil
	}
}

// At walks path through object properties and array items.
func (s *Schema) At(path []string) (*Schema, bool) {
	cur := s
	for _, segment := range path {
		switch {
		case cur == nil:
			return nil, false
		case cur.Type == TypeArray:
			cur = cur.Items
		default:
			cur = cur.Properties[segment]
		}
	}
	return cur, cur != nil
}

// UpdateSchema returns the schema obtained by running every op of l over s.
// s itself is left untouched.
func UpdateSchema(s *Schema, l Lens) (*Schema, error) {
	out := s.Clone()
	if out == nil {
		out = EmptySchema()
	}
	for _, op := range l {
		if err := op.updateSchema(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (op AddProperty) updateSchema(s *Schema) error {
	if err := requireObject(s, op); err != nil {
		return err
	}
	if op.Name == "" {
		return fmt.Errorf("%w: add without a name", ErrInvalidLens)
	}
	if s.Properties == nil {
		s.Properties = map[string]*Schema{}
	}
	s.Properties[op.Name] = &Schema{Type: op.Type, Default: op.Default, Items: op.Items.Clone()}
	return nil
}

func (op RemoveProperty) updateSchema(s *Schema) error {
	if err := requireObject(s, op); err != nil {
		return err
	}
	if _, ok := s.Properties[op.Name]; !ok {
		return fmt.Errorf("%w: remove of unknown property %q", ErrInvalidLens, op.Name)
	}
	delete(s.Properties, op.Name)
	return nil
}

func (op RenameProperty) updateSchema(s *Schema) error {
	if err := requireObject(s, op); err != nil {
		return err
	}
	prop, ok := s.Properties[op.Source]
	if !ok {
		return fmt.Errorf("%w: rename of unknown property %q", ErrInvalidLens, op.Source)
	}
	if _, taken := s.Properties[op.Destination]; taken {
		return fmt.Errorf("%w: rename onto existing property %q", ErrInvalidLens, op.Destination)
	}
	delete(s.Properties, op.Source)
	s.Properties[op.Destination] = prop
	return nil
}

func (op HoistProperty) updateSchema(s *Schema) error {
	if err := requireObject(s, op); err != nil {
		return err
	}
	host, ok := s.Properties[op.Host]
	if !ok || host.Type != TypeObject {
		return fmt.Errorf("%w: hoist out of unknown object %q", ErrInvalidLens, op.Host)
	}
	prop, ok := host.Properties[op.Name]
	if !ok {
		return fmt.Errorf("%w: hoist of unknown property %q.%q", ErrInvalidLens, op.Host, op.Name)
	}
	if _, taken := s.Properties[op.Name]; taken {
		return fmt.Errorf("%w: hoist onto existing property %q", ErrInvalidLens, op.Name)
	}
	delete(host.Properties, op.Name)
	s.Properties[op.Name] = prop
	return nil
}

func (op PlungeProperty) updateSchema(s *Schema) error {
	if err := requireObject(s, op); err != nil {
		return err
	}
	host, ok := s.Properties[op.Host]
	if !ok || host.Type != TypeObject {
		return fmt.Errorf("%w: plunge into unknown object %q", ErrInvalidLens, op.Host)
	}
	prop, ok := s.Properties[op.Name]
	if !ok {
		return fmt.Errorf("%w: plunge of unknown property %q", ErrInvalidLens, op.Name)
	}
	if _, taken := host.Properties[op.Name]; taken {
		return fmt.Errorf("%w: plunge onto existing property %q.%q", ErrInvalidLens, op.Host, op.Name)
	}
	if host.Properties == nil {
		host.Properties = map[string]*Schema{}
	}
	delete(s.Properties, op.Name)
	host.Properties[op.Name] = prop
	return nil
}

func (op In) updateSchema(s *Schema) error {
	if err := requireObject(s, op); err != nil {
		return err
	}
	prop, ok := s.Properties[op.Name]
	if !ok {
		return fmt.Errorf("%w: in unknown property %q", ErrInvalidLens, op.Name)
	}
	for _, inner := range op.Lens {
		if err := inner.updateSchema(prop); err != nil {
			return err
		}
	}
	return nil
}

func (op Map) updateSchema(s *Schema) error {
	if s.Type != TypeArray || s.Items == nil {
		return fmt.Errorf("%w: map over non-array schema", ErrInvalidLens)
	}
	for _, inner := range op.Lens {
		if err := inner.updateSchema(s.Items); err != nil {
			return err
		}
	}
	return nil
}

func requireObject(s *Schema, op Op) error {
	if s.Type != TypeObject {
		return fmt.Errorf("%w: %s applied to %s schema", ErrInvalidLens, op.Kind(), s.Type)
	}
	return nil
}

// normalizeNumber widens integer defaults decoded from YAML to float64, the
// type JSON numbers take everywhere else.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return v
	}
}
