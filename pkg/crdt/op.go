package crdt

import (
	"fmt"
	"maps"
)

// ObjectID identifies a map or list. Containers created by an op take the op's
// id unless the op names the child explicitly.
type ObjectID string

// RootID is the id of the document root map.
const RootID ObjectID = "00000000-0000-0000-0000-000000000000"

// HeadKey is the predecessor key meaning "before the first element".
const HeadKey = "_head"

// Action is the op variant.
type Action uint8

const (
	Set Action = iota + 1
	Delete
	MakeMap
	MakeList
	Insert
	Link
)

var actionNames = map[Action]string{
	Set:      "set",
	Delete:   "del",
	MakeMap:  "makeMap",
	MakeList: "makeList",
	Insert:   "ins",
	Link:     "link",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// IsMake reports whether the action creates a container.
func (a Action) IsMake() bool { return a == MakeMap || a == MakeList }

func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("%w: unknown action %d", ErrMalformedChange, uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	for action, name := range actionNames {
		if name == string(text) {
			*a = action
			return nil
		}
	}
	return fmt.Errorf("%w: unknown action %q", ErrMalformedChange, text)
}

// Op is a single CRDT operation.
//
// Per variant:
//   - Set: Obj, Key, Value; Insert places a new list element after Key.
//   - Delete: Obj, Key.
//   - MakeMap, MakeList: Obj and Key to attach (Obj empty = detached), optional Child id.
//   - Insert: Obj (list), Key of the predecessor element; creates an empty slot.
//   - Link: Obj, Key, Child of a detached container.
type Op struct {
	ID     OpID     `json:"opId,omitzero"`
	Action Action   `json:"action"`
	Obj    ObjectID `json:"obj,omitempty"`
	Key    string   `json:"key,omitempty"`
	Insert bool     `json:"insert,omitempty"`
	Value  any      `json:"value,omitempty"`
	Child  ObjectID `json:"child,omitempty"`
}

// CreatedObject returns the id of the container a make op creates.
func (op Op) CreatedObject() ObjectID {
	if op.Child != "" {
		return op.Child
	}
	return ObjectID(op.ID.String())
}

func (op Op) String() string {
	return fmt.Sprintf("%s %s %s[%s] insert=%t value=%v child=%s",
		op.ID, op.Action, op.Obj, op.Key, op.Insert, op.Value, op.Child)
}

// Clock maps actor id to the last applied seq.
type Clock map[string]uint64

func (c Clock) Clone() Clock {
	if c == nil {
		return Clock{}
	}
	return maps.Clone(c)
}

// Without returns a copy of the clock lacking actor.
func (c Clock) Without(actor string) Clock {
	out := c.Clone()
	delete(out, actor)
	return out
}

// Covers reports whether every entry of other is reached by c.
func (c Clock) Covers(other Clock) bool {
	for actor, seq := range other {
		if c[actor] < seq {
			return false
		}
	}
	return true
}

// Change is the unit of replication: ordered ops from one actor.
type Change struct {
	Actor   string `json:"actor"`
	Seq     uint64 `json:"seq"`
	Deps    Clock  `json:"deps"`
	StartOp uint64 `json:"startOp"`
	Ops     []Op   `json:"ops"`
}

// ResolvedOps returns the ops with ids filled in: startOp+index @ actor for
// ops that do not carry one.
func (c Change) ResolvedOps() []Op {
	ops := make([]Op, len(c.Ops))
	for i, op := range c.Ops {
		if op.ID.IsZero() {
			op.ID = OpID{Counter: c.StartOp + uint64(i), Actor: c.Actor}
		}
		ops[i] = op
	}
	return ops
}

// MaxOp is the largest counter used by the change.
func (c Change) MaxOp() uint64 {
	var m uint64
	for _, op := range c.ResolvedOps() {
		m = max(m, op.ID.Counter)
	}
	return m
}
