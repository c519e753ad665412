// Package lens implements bidirectional schema lenses: structural transforms
// between schema versions that can be run over JSON-Patch edits, and the graph
// that links schema versions together.
package lens

// Op is one lens operator.
type Op interface {
	// Kind is the operator's tag in lens files.
	Kind() string
	// Reverse returns the operator undoing this one.
	Reverse() Op

	updateSchema(s *Schema) error
	rewrite(e edit) (edit, bool)
}

// Lens is an ordered list of operators.
type Lens []Op

// AddProperty introduces a property with a type and optional default.
type AddProperty struct {
	Name    string  `json:"name" yaml:"name"`
	Type    Type    `json:"type,omitempty" yaml:"type,omitempty"`
	Default any     `json:"default,omitempty" yaml:"default,omitempty"`
	Items   *Schema `json:"items,omitempty" yaml:"items,omitempty"`
}

// RemoveProperty drops a property. It carries the same description as
// AddProperty so that its reverse can restore the property.
type RemoveProperty struct {
	Name    string  `json:"name" yaml:"name"`
	Type    Type    `json:"type,omitempty" yaml:"type,omitempty"`
	Default any     `json:"default,omitempty" yaml:"default,omitempty"`
	Items   *Schema `json:"items,omitempty" yaml:"items,omitempty"`
}

type RenameProperty struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

// HoistProperty moves Host.Name up to the top level as Name.
type HoistProperty struct {
	Host string `json:"host" yaml:"host"`
	Name string `json:"name" yaml:"name"`
}

// PlungeProperty moves the top-level Name down into Host.
type PlungeProperty struct {
	Host string `json:"host" yaml:"host"`
	Name string `json:"name" yaml:"name"`
}

// In runs Lens inside the object property Name.
type In struct {
	Name string `json:"name" yaml:"name"`
	Lens Lens   `json:"lens" yaml:"lens"`
}

// Map runs Lens over every element of an array.
type Map struct {
	Lens Lens `json:"lens" yaml:"lens"`
}

func (AddProperty) Kind() string    { return "add" }
func (RemoveProperty) Kind() string { return "remove" }
func (RenameProperty) Kind() string { return "rename" }
func (HoistProperty) Kind() string  { return "hoist" }
func (PlungeProperty) Kind() string { return "plunge" }
func (In) Kind() string             { return "in" }
func (Map) Kind() string            { return "map" }

func (op AddProperty) Reverse() Op {
	return RemoveProperty{Name: op.Name, Type: op.Type, Default: op.Default, Items: op.Items}
}

func (op RemoveProperty) Reverse() Op {
	return AddProperty{Name: op.Name, Type: op.Type, Default: op.Default, Items: op.Items}
}

func (op RenameProperty) Reverse() Op {
	return RenameProperty{Source: op.Destination, Destination: op.Source}
}

func (op HoistProperty) Reverse() Op  { return PlungeProperty{Host: op.Host, Name: op.Name} }
func (op PlungeProperty) Reverse() Op { return HoistProperty{Host: op.Host, Name: op.Name} }
func (op In) Reverse() Op             { return In{Name: op.Name, Lens: Reverse(op.Lens)} }
func (op Map) Reverse() Op            { return Map{Lens: Reverse(op.Lens)} }

// Reverse returns the lens that undoes l: reversed order, each operator inverted.
func Reverse(l Lens) Lens {
	out := make(Lens, 0, len(l))
	for i := len(l) - 1; i >= 0; i-- {
		out = append(out, l[i].Reverse())
	}
	return out
}
