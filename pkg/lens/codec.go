package lens

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// opDoc is the tagged form of one operator in lens files and on the wire:
// exactly one field is set, e.g. {"rename": {"source": "title", "destination": "name"}}.
type opDoc struct {
	Add    *AddProperty    `json:"add,omitempty" yaml:"add,omitempty"`
	Remove *RemoveProperty `json:"remove,omitempty" yaml:"remove,omitempty"`
	Rename *RenameProperty `json:"rename,omitempty" yaml:"rename,omitempty"`
	Hoist  *HoistProperty  `json:"hoist,omitempty" yaml:"hoist,omitempty"`
	Plunge *PlungeProperty `json:"plunge,omitempty" yaml:"plunge,omitempty"`
	In     *In             `json:"in,omitempty" yaml:"in,omitempty"`
	Map    *Map            `json:"map,omitempty" yaml:"map,omitempty"`
}

func docOf(op Op) (opDoc, error) {
	switch o := op.(type) {
	case AddProperty:
		return opDoc{Add: &o}, nil
	case RemoveProperty:
		return opDoc{Remove: &o}, nil
	case RenameProperty:
		return opDoc{Rename: &o}, nil
	case HoistProperty:
		return opDoc{Hoist: &o}, nil
	case PlungeProperty:
		return opDoc{Plunge: &o}, nil
	case In:
		return opDoc{In: &o}, nil
	case Map:
		return opDoc{Map: &o}, nil
	default:
		return opDoc{}, fmt.Errorf("%w: unknown operator %T", ErrInvalidLens, op)
	}
}

func (d opDoc) op() (Op, error) {
	var ops []Op
	if d.Add != nil {
		ops = append(ops, *d.Add)
	}
	if d.Remove != nil {
		ops = append(ops, *d.Remove)
	}
	if d.Rename != nil {
		ops = append(ops, *d.Rename)
	}
	if d.Hoist != nil {
		ops = append(ops, *d.Hoist)
	}
	if d.Plunge != nil {
		ops = append(ops, *d.Plunge)
	}
	if d.In != nil {
		ops = append(ops, *d.In)
	}
	if d.Map != nil {
		ops = append(ops, *d.Map)
	}
	if len(ops) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one operator per entry, got %d", ErrInvalidLens, len(ops))
	}
	return ops[0], nil
}

func (l Lens) docs() ([]opDoc, error) {
	docs := make([]opDoc, 0, len(l))
	for _, op := range l {
		d, err := docOf(op)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func fromDocs(docs []opDoc) (Lens, error) {
	l := make(Lens, 0, len(docs))
	for i, d := range docs {
		op, err := d.op()
		if err != nil {
			return nil, fmt.Errorf("lens entry %d: %w", i, err)
		}
		l = append(l, op)
	}
	return l, nil
}

func (l Lens) MarshalJSON() ([]byte, error) {
	docs, err := l.docs()
	if err != nil {
		return nil, err
	}
	return json.Marshal(docs)
}

func (l *Lens) UnmarshalJSON(data []byte) error {
	var docs []opDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return err
	}
	parsed, err := fromDocs(docs)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l Lens) MarshalYAML() (any, error) {
	return l.docs()
}

func (l *Lens) UnmarshalYAML(node *yaml.Node) error {
	var docs []opDoc
	if err := node.Decode(&docs); err != nil {
		return err
	}
	parsed, err := fromDocs(docs)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
