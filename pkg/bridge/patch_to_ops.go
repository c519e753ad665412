package bridge

import (
	"fmt"

	"github.com/google/uuid"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/patch"
)

// containerNamespace seeds the name-based ids of containers created by
// conversion.
var containerNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("lensmerge/containers"))

// Origin identifies the op a patch was derived from.
//
// The first edit of a patch is the write itself: its op takes ID, so a write
// wins or loses against concurrent writes the same way in every schema. A list
// insert that fills the placeholder Elem puts the element under Elem and the
// value under ID; a fresh insert puts the element under ID and the value under
// a sub-counter of ID. Later edits only fill defaults and take counter 0, which
// loses to every real write. Sub is the last sub-counter already used for the
// change being converted.
type Origin struct {
	Actor   string
	Seq     uint64
	OpIndex int
	ID      crdt.OpID
	Elem    crdt.OpID
	Sub     uint32
}

// ContainerID is the id given to the container created by edit i of the
// patch derived from origin. It is the same wherever the conversion runs.
func (o Origin) ContainerID(i int) crdt.ObjectID {
	name := fmt.Sprintf("%s:%d:%d:%d", o.Actor, o.Seq, o.OpIndex, i)
	return crdt.ObjectID(uuid.NewSHA1(containerNamespace, []byte(name)).String())
}

// PatchToOps turns edits into ops against doc. Each op is applied to doc as
// soon as it is produced, so later edits resolve paths against the partially
// converted document. Replacements and removals of list indexes that do not
// exist are dropped.
func PatchToOps(edits []patch.Edit, origin Origin, doc *crdt.Document) ([]crdt.Op, error) {
	b := &opBuilder{origin: origin, doc: doc, sub: origin.Sub}
	for i, e := range edits {
		b.edit = i
		if err := b.convert(i, e); err != nil {
			return nil, fmt.Errorf("edit %d (%s): %w", i, e, err)
		}
	}
	return b.ops, nil
}

type opBuilder struct {
	origin Origin
	doc    *crdt.Document
	sub    uint32
	edit   int
	ops    []crdt.Op
}

// next hands out the id of the op emitted for the current edit. first is set
// for the first op of that edit.
func (b *opBuilder) next(first bool, action crdt.Action) crdt.OpID {
	if b.edit > 0 {
		b.sub++
		return crdt.OpID{Sub: b.sub, Actor: b.origin.ID.Actor}
	}
	if !first && b.origin.Elem.IsZero() {
		b.sub++
		return crdt.OpID{Counter: b.origin.ID.Counter, Sub: b.sub, Actor: b.origin.ID.Actor}
	}
	if first && action == crdt.Insert && !b.origin.Elem.IsZero() {
		return b.origin.Elem
	}
	return b.origin.ID
}

// LastSub is the largest sub-counter among ops.
func LastSub(ops []crdt.Op) uint32 {
	var last uint32
	for _, op := range ops {
		last = max(last, op.ID.Sub)
	}
	return last
}

func (b *opBuilder) emit(op crdt.Op, first bool) error {
	op.ID = b.next(first, op.Action)
	if err := b.doc.ApplyOp(op); err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *opBuilder) convert(i int, e patch.Edit) error {
	segments, err := patch.Split(e.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedChange, err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: edit of the document root", ErrMalformedChange)
	}
	parentPath, key := segments[:len(segments)-1], segments[len(segments)-1]
	obj, ok := b.doc.ObjectAt(parentPath)
	if !ok {
		return fmt.Errorf("%w: no container at %s", ErrObjectNotFound, patch.Join(parentPath...))
	}

	content, err := b.content(i, e)
	if err != nil {
		return err
	}
	content.Obj = obj

	if kind, _ := b.doc.Kind(obj); kind == crdt.MapKind {
		content.Key = key
		return b.emit(content, true)
	}

	index, ok := patch.Index(key)
	if !ok {
		return fmt.Errorf("%w: expected list index, got %q", ErrMalformedChange, key)
	}
	if e.Op != patch.Add {
		elem, _, exists := b.doc.ElemAt(obj, index)
		if !exists {
			return nil
		}
		content.Key = elem
		return b.emit(content, true)
	}

	prev := crdt.HeadKey
	if index > 0 {
		elem, _, exists := b.doc.ElemAt(obj, index-1)
		if !exists {
			return fmt.Errorf("%w: list index %d out of range", ErrObjectNotFound, index-1)
		}
		prev = elem
	}
	if err := b.emit(crdt.Op{Action: crdt.Insert, Obj: obj, Key: prev}, true); err != nil {
		return err
	}
	content.Key = b.ops[len(b.ops)-1].ID.String()
	return b.emit(content, false)
}

// content builds the op carrying the value of e, without a target.
func (b *opBuilder) content(i int, e patch.Edit) (crdt.Op, error) {
	switch e.Op {
	case patch.Remove:
		return crdt.Op{Action: crdt.Delete}, nil
	case patch.Add, patch.Replace:
	default:
		return crdt.Op{}, fmt.Errorf("%w: edit kind %s", ErrMalformedChange, e.Op)
	}

	switch v := e.Value.(type) {
	case map[string]any:
		if len(v) > 0 {
			return crdt.Op{}, fmt.Errorf("%w: non-empty object value", ErrMalformedChange)
		}
		return crdt.Op{Action: crdt.MakeMap, Child: b.origin.ContainerID(i)}, nil
	case []any:
		if len(v) > 0 {
			return crdt.Op{}, fmt.Errorf("%w: non-empty array value", ErrMalformedChange)
		}
		return crdt.Op{Action: crdt.MakeList, Child: b.origin.ContainerID(i)}, nil
	default:
		return crdt.Op{Action: crdt.Set, Value: v}, nil
	}
}
