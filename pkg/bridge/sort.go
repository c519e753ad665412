package bridge

import (
	"fmt"

	"lensmerge/pkg/crdt"
)

// SortOps reorders the resolved ops of one change so that every placeholder
// insert is immediately followed by the op filling it, and every detached
// container by the link attaching it. Converting "insert then fill" as a unit
// is what lets it become a single add edit.
func SortOps(ops []crdt.Op) ([]crdt.Op, error) {
	used := make([]bool, len(ops))
	sorted := make([]crdt.Op, 0, len(ops))

	take := func(i int) {
		used[i] = true
		sorted = append(sorted, ops[i])
	}
	find := func(match func(crdt.Op) bool) int {
		for i, op := range ops {
			if !used[i] && match(op) {
				return i
			}
		}
		return -1
	}
	linkOf := func(child crdt.ObjectID) int {
		return find(func(o crdt.Op) bool { return o.Action == crdt.Link && o.Child == child })
	}

	for i, op := range ops {
		if used[i] {
			continue
		}
		take(i)

		switch {
		case op.Action == crdt.Insert:
			elem := op.ID.String()
			fill := find(func(o crdt.Op) bool { return fills(o, op.Obj, elem) })
			if fill < 0 {
				return nil, fmt.Errorf("%w: insert %s is never filled", ErrMalformedChange, op.ID)
			}
			if ops[fill].Action == crdt.Link {
				child := ops[fill].Child
				if mk := find(func(o crdt.Op) bool { return o.Action.IsMake() && o.Obj == "" && o.CreatedObject() == child }); mk >= 0 {
					take(mk)
				}
			}
			take(fill)
		case op.Action.IsMake() && op.Obj == "":
			link := linkOf(op.CreatedObject())
			if link < 0 {
				return nil, fmt.Errorf("%w: container %s is never linked", ErrMalformedChange, op.CreatedObject())
			}
			take(link)
		}
	}
	return sorted, nil
}

// fills reports whether o supplies the content of the placeholder elem in list.
func fills(o crdt.Op, list crdt.ObjectID, elem string) bool {
	if o.Obj != list || o.Key != elem || o.Insert {
		return false
	}
	switch o.Action {
	case crdt.Set, crdt.Link, crdt.MakeMap, crdt.MakeList:
		return true
	default:
		return false
	}
}
