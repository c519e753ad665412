package lens

import (
	"fmt"
	"slices"

	"lensmerge/pkg/patch"
	"lensmerge/pkg/structs"
)

// edit is a patch.Edit with its pointer already split into segments.
type edit struct {
	op    patch.Kind
	path  []string
	value any
}

func (e edit) under(prefix ...string) edit {
	e.path = append(slices.Clone(prefix), e.path...)
	return e
}

func (e edit) toPatch() patch.Edit {
	return patch.Edit{Op: e.op, Path: patch.Join(e.path...), Value: e.value}
}

// ApplyToPatch rewrites edits written against schema into edits against the
// schema produced by l. Every added object is followed by edits that fill in
// the defaults of its properties, in property name order.
func ApplyToPatch(l Lens, edits []patch.Edit, schema *Schema) ([]patch.Edit, error) {
	target, err := UpdateSchema(schema, l)
	if err != nil {
		return nil, err
	}

	out := make([]patch.Edit, 0, len(edits))
	for _, pe := range edits {
		path, err := patch.Split(pe.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidLens, err)
		}
		e, keep := rewriteAll(l, edit{op: pe.Op, path: path, value: pe.Value})
		if !keep {
			continue
		}
		out = append(out, e.toPatch())
		out = appendDefaults(out, e, target)
	}
	return out, nil
}

func rewriteAll(l Lens, e edit) (edit, bool) {
	for _, op := range l {
		var keep bool
		if e, keep = op.rewrite(e); !keep {
			return e, false
		}
	}
	return e, true
}

func appendDefaults(out []patch.Edit, e edit, target *Schema) []patch.Edit {
	if e.op != patch.Add {
		return out
	}
	if _, isObject := e.value.(map[string]any); !isObject {
		return out
	}
	s, ok := target.At(e.path)
	if !ok || s.Type != TypeObject {
		return out
	}
	for _, name := range structs.SortedKeys(s.Properties) {
		child := edit{op: patch.Add, path: append(slices.Clone(e.path), name), value: s.Properties[name].DefaultValue()}
		out = append(out, child.toPatch())
		out = appendDefaults(out, child, target)
	}
	return out
}

func (op AddProperty) rewrite(e edit) (edit, bool) { return e, true }

func (op RemoveProperty) rewrite(e edit) (edit, bool) {
	if len(e.path) > 0 && e.path[0] == op.Name {
		return e, false
	}
	return e, true
}

func (op RenameProperty) rewrite(e edit) (edit, bool) {
	if len(e.path) > 0 && e.path[0] == op.Source {
		e.path = append([]string{op.Destination}, e.path[1:]...)
	}
	return e, true
}

func (op HoistProperty) rewrite(e edit) (edit, bool) {
	if len(e.path) > 1 && e.path[0] == op.Host && e.path[1] == op.Name {
		e.path = slices.Clone(e.path[1:])
	}
	return e, true
}

func (op PlungeProperty) rewrite(e edit) (edit, bool) {
	if len(e.path) > 0 && e.path[0] == op.Name {
		e.path = append([]string{op.Host}, e.path...)
	}
	return e, true
}

func (op In) rewrite(e edit) (edit, bool) {
	if len(e.path) < 2 || e.path[0] != op.Name {
		return e, true
	}
	inner, keep := rewriteAll(op.Lens, edit{op: e.op, path: e.path[1:], value: e.value})
	return inner.under(op.Name), keep
}

func (op Map) rewrite(e edit) (edit, bool) {
	if len(e.path) < 2 {
		return e, true
	}
	if _, ok := patch.Index(e.path[0]); !ok {
		return e, true
	}
	inner, keep := rewriteAll(op.Lens, edit{op: e.op, path: e.path[1:], value: e.value})
	return inner.under(e.path[0]), keep
}
