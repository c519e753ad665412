// Package bridge converts between CRDT ops and JSON-Patch edits against the
// value tree of a document.
package bridge

import (
	"fmt"
	"strconv"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/patch"
)

// OpToPatch describes op as edits against the value tree of doc. doc must be
// in the state right before op is applied. Ops that do not change the visible
// tree (placeholder inserts, detached makes, writes below deleted elements)
// produce no edits.
func OpToPatch(op crdt.Op, doc *crdt.Document, cache *ElemCache) ([]patch.Edit, error) {
	var value any
	switch op.Action {
	case crdt.Insert:
		return nil, nil
	case crdt.MakeMap, crdt.MakeList:
		if op.Obj == "" {
			return nil, nil
		}
		value = emptyContainer(op.Action == crdt.MakeList)
	case crdt.Link:
		kind, ok := doc.Kind(op.Child)
		if !ok {
			return nil, fmt.Errorf("%w: linked object %s", ErrObjectNotFound, op.Child)
		}
		value = emptyContainer(kind == crdt.ListKind)
	case crdt.Set:
		value = op.Value
	case crdt.Delete:
	default:
		return nil, fmt.Errorf("%w: unsupported action %s", ErrMalformedChange, op.Action)
	}

	kind, ok := doc.Kind(op.Obj)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, op.Obj)
	}
	base, reachable := doc.PathOf(op.Obj)
	if !reachable {
		return nil, nil
	}

	if kind == crdt.MapKind {
		path := patch.Join(append(base, op.Key)...)
		if op.Action == crdt.Delete {
			return []patch.Edit{{Op: patch.Remove, Path: path}}, nil
		}
		edit := patch.Replace
		if _, exists := doc.MapValue(op.Obj, op.Key); !exists {
			edit = patch.Add
		}
		return []patch.Edit{{Op: edit, Path: path, Value: value}}, nil
	}

	index, edit, err := listTarget(op, doc, cache)
	if err != nil || edit == 0 {
		return nil, err
	}
	path := patch.Join(append(base, strconv.Itoa(index))...)
	if edit == patch.Remove {
		return []patch.Edit{{Op: patch.Remove, Path: path}}, nil
	}
	return []patch.Edit{{Op: edit, Path: path, Value: value}}, nil
}

// listTarget resolves the visible index an op on a list element refers to and
// the kind of edit it amounts to. A zero kind means the op is invisible.
func listTarget(op crdt.Op, doc *crdt.Document, cache *ElemCache) (int, patch.Kind, error) {
	if op.Insert {
		index, err := doc.InsertionIndex(op.Obj, op.Key, op.ID)
		return index, patch.Add, err
	}

	index, visible, err := doc.IndexOf(op.Obj, op.Key)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case cache.Take(op.Key) && op.Action != crdt.Delete:
		return index, patch.Add, nil
	case !visible:
		return 0, 0, nil
	case op.Action == crdt.Delete:
		return index, patch.Remove, nil
	default:
		return index, patch.Replace, nil
	}
}

func emptyContainer(list bool) any {
	if list {
		return []any{}
	}
	return map[string]any{}
}
