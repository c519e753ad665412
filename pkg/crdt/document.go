package crdt

import (
	"fmt"
	"strconv"
)

// Value is what a map key or list element holds: a scalar or a container.
type Value struct {
	Scalar any
	Child  ObjectID
}

func (v Value) IsObject() bool { return v.Child != "" }

type element struct {
	id      OpID
	valueID OpID
	value   Value
	deleted bool
	pending bool
}

func (e *element) visible() bool { return !e.deleted && !e.pending }

// ref is a reverse-index entry: where a container is attached.
type ref struct {
	parent ObjectID
	key    string
}

// Document is the op-based CRDT state of one schema instance: maps with
// last-writer-wins keys, RGA lists with tombstones, and the causal clock.
//
// A Document is not safe for concurrent use.
type Document struct {
	objects map[ObjectID]*object
	parents map[ObjectID]ref
	clock   Clock
	maxOp   uint64
}

func NewDocument() *Document {
	return &Document{
		objects: map[ObjectID]*object{RootID: newMapObject()},
		parents: make(map[ObjectID]ref),
		clock:   Clock{},
	}
}

// Clone returns a deep copy; the copy and the original evolve independently.
func (d *Document) Clone() *Document {
	c := &Document{
		objects: make(map[ObjectID]*object, len(d.objects)),
		parents: make(map[ObjectID]ref, len(d.parents)),
		clock:   d.clock.Clone(),
		maxOp:   d.maxOp,
	}
	for id, obj := range d.objects {
		c.objects[id] = obj.clone()
	}
	for id, r := range d.parents {
		c.parents[id] = r
	}
	return c
}

// Clock returns a copy of the per-actor sequence numbers applied so far.
func (d *Document) Clock() Clock { return d.clock.Clone() }

// MaxOp is the largest op counter applied so far.
func (d *Document) MaxOp() uint64 { return d.maxOp }

// ApplyChange checks sequencing and dependencies, then applies every op of the
// change. Either all ops apply or the document is left untouched.
func (d *Document) ApplyChange(change Change) error {
	if err := d.Check(change); err != nil {
		return err
	}

	next := d.Clone()
	for _, op := range change.ResolvedOps() {
		if err := next.ApplyOp(op); err != nil {
			return fmt.Errorf("change %d by %s: %w", change.Seq, change.Actor, err)
		}
	}
	next.clock[change.Actor] = change.Seq
	*d = *next
	return nil
}

// Check reports whether change is the next one from its actor and all of its
// dependencies have been applied.
func (d *Document) Check(change Change) error {
	lastSeq := d.clock[change.Actor]
	if change.Seq != lastSeq+1 {
		return fmt.Errorf("%w: expected seq %d for actor %s, got %d",
			ErrSequenceMismatch, lastSeq+1, change.Actor, change.Seq)
	}
	for actor, dep := range change.Deps {
		if d.clock[actor] < dep {
			return fmt.Errorf("%w: change %d by actor %s", ErrMissingDependency, dep, actor)
		}
	}
	return nil
}

// ApplyOp applies one op without touching the clock. Callers that need
// atomicity across several ops work on a Clone.
func (d *Document) ApplyOp(op Op) error {
	if op.ID.IsZero() {
		return fmt.Errorf("%w: op without id: %s", ErrMalformedChange, op)
	}

	switch op.Action {
	case MakeMap, MakeList:
		child := op.CreatedObject()
		if _, exists := d.objects[child]; exists {
			return fmt.Errorf("%w: object %s already exists", ErrMalformedChange, child)
		}
		if op.Obj != "" {
			if _, err := d.object(op.Obj); err != nil {
				return err
			}
		}
		d.objects[child] = newContainer(op.Action)
		d.observe(op.ID)
		if op.Obj == "" {
			return nil
		}
		return d.assign(op, Value{Child: child}, false)
	case Set:
		if _, err := d.object(op.Obj); err != nil {
			return err
		}
		d.observe(op.ID)
		return d.assign(op, Value{Scalar: op.Value}, false)
	case Delete:
		if op.Insert {
			return fmt.Errorf("%w: delete with insert flag: %s", ErrMalformedChange, op)
		}
		if _, err := d.object(op.Obj); err != nil {
			return err
		}
		d.observe(op.ID)
		return d.assign(op, Value{}, true)
	case Link:
		if op.Child == "" {
			return fmt.Errorf("%w: link without child: %s", ErrMalformedChange, op)
		}
		if _, err := d.object(op.Child); err != nil {
			return err
		}
		if _, err := d.object(op.Obj); err != nil {
			return err
		}
		d.observe(op.ID)
		return d.assign(op, Value{Child: op.Child}, false)
	case Insert:
		obj, err := d.object(op.Obj)
		if err != nil {
			return err
		}
		if obj.kind != ListKind {
			return fmt.Errorf("%w: insert into non-list %s", ErrMalformedChange, op.Obj)
		}
		d.observe(op.ID)
		return d.insertElement(op.Obj, obj, op.Key, op.ID, Value{}, true)
	default:
		return fmt.Errorf("%w: unsupported action %s", ErrMalformedChange, op.Action)
	}
}

func (d *Document) observe(id OpID) {
	d.maxOp = max(d.maxOp, id.Counter)
}

func (d *Document) object(id ObjectID) (*object, error) {
	obj, ok := d.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return obj, nil
}

// assign writes val (or a deletion) at op.Obj/op.Key under the conflict rules.
func (d *Document) assign(op Op, val Value, del bool) error {
	obj := d.objects[op.Obj]
	if obj.kind == ListKind {
		if op.Insert {
			return d.insertElement(op.Obj, obj, op.Key, op.ID, val, false)
		}
		return d.updateElement(op.Obj, obj, op.Key, op.ID, val, del)
	}

	if op.Insert {
		return fmt.Errorf("%w: insert into map %s", ErrMalformedChange, op.Obj)
	}
	if winner, ok := obj.keys[op.Key]; ok && Compare(winner, op.ID) != Lower {
		return nil
	}
	obj.keys[op.Key] = op.ID
	if del {
		delete(obj.values, op.Key)
		return nil
	}
	obj.values[op.Key] = val
	if val.IsObject() {
		d.parents[val.Child] = ref{parent: op.Obj, key: op.Key}
	}
	return nil
}

func (d *Document) insertElement(listID ObjectID, list *object, prev string, id OpID, val Value, pending bool) error {
	index, err := list.placement(prev, id)
	if err != nil {
		return fmt.Errorf("%w: list %s", err, listID)
	}
	list.elems = append(list.elems, element{})
	copy(list.elems[index+1:], list.elems[index:])
	list.elems[index] = element{id: id, valueID: id, value: val, pending: pending}
	if val.IsObject() {
		d.parents[val.Child] = ref{parent: listID, key: id.String()}
	}
	return nil
}

func (d *Document) updateElement(listID ObjectID, list *object, key string, id OpID, val Value, del bool) error {
	index := list.find(key)
	if index < 0 {
		return fmt.Errorf("%w: list element %s:%s", ErrObjectNotFound, listID, key)
	}
	e := &list.elems[index]
	if del {
		e.deleted = true
		return nil
	}
	if !e.pending && Compare(e.valueID, id) != Lower {
		return nil
	}
	e.value = val
	e.valueID = id
	e.pending = false
	if val.IsObject() {
		d.parents[val.Child] = ref{parent: listID, key: key}
	}
	return nil
}

// Root materializes the visible value tree of the document.
func (d *Document) Root() map[string]any {
	root, _ := d.materialize(RootID).(map[string]any)
	return root
}

// Materialize returns the visible value tree below obj.
func (d *Document) Materialize(obj ObjectID) (any, error) {
	if _, err := d.object(obj); err != nil {
		return nil, err
	}
	return d.materialize(obj), nil
}

func (d *Document) materialize(id ObjectID) any {
	obj := d.objects[id]
	if obj.kind == ListKind {
		out := make([]any, 0, len(obj.elems))
		for i := range obj.elems {
			if obj.elems[i].visible() {
				out = append(out, d.valueOf(obj.elems[i].value))
			}
		}
		return out
	}
	out := make(map[string]any, len(obj.values))
	for key, val := range obj.values {
		out[key] = d.valueOf(val)
	}
	return out
}

func (d *Document) valueOf(v Value) any {
	if v.IsObject() {
		return d.materialize(v.Child)
	}
	return v.Scalar
}

// Kind reports whether obj is a map or a list.
func (d *Document) Kind(obj ObjectID) (ObjectKind, bool) {
	o, ok := d.objects[obj]
	if !ok {
		return 0, false
	}
	return o.kind, true
}

// MapValue returns the visible value under key in a map object.
func (d *Document) MapValue(obj ObjectID, key string) (Value, bool) {
	o, ok := d.objects[obj]
	if !ok || o.kind != MapKind {
		return Value{}, false
	}
	v, ok := o.values[key]
	return v, ok
}

// ElemAt returns the id and value of the visible element at index.
func (d *Document) ElemAt(list ObjectID, index int) (string, Value, bool) {
	o, ok := d.objects[list]
	if !ok || o.kind != ListKind || index < 0 {
		return "", Value{}, false
	}
	visible := 0
	for i := range o.elems {
		if !o.elems[i].visible() {
			continue
		}
		if visible == index {
			return o.elems[i].id.String(), o.elems[i].value, true
		}
		visible++
	}
	return "", Value{}, false
}

// IndexOf returns the number of visible elements preceding the element key,
// and whether that element is itself visible.
func (d *Document) IndexOf(list ObjectID, key string) (int, bool, error) {
	o, err := d.object(list)
	if err != nil {
		return 0, false, err
	}
	if key == HeadKey {
		return -1, false, nil
	}
	index := o.find(key)
	if index < 0 {
		return 0, false, fmt.Errorf("%w: list element %s:%s", ErrObjectNotFound, list, key)
	}
	return o.visibleBefore(index), o.elems[index].visible(), nil
}

// InsertionIndex returns the visible index a new element with id would take
// if inserted after prev.
func (d *Document) InsertionIndex(list ObjectID, prev string, id OpID) (int, error) {
	o, err := d.object(list)
	if err != nil {
		return 0, err
	}
	if o.kind != ListKind {
		return 0, fmt.Errorf("%w: %s is not a list", ErrMalformedChange, list)
	}
	index, err := o.placement(prev, id)
	if err != nil {
		return 0, fmt.Errorf("%w: list %s", err, list)
	}
	return o.visibleBefore(index), nil
}

// PathOf returns the path from the root to obj, with list positions as
// visible indexes. It reports false when obj is not reachable, for example
// because it was overwritten or its list element was deleted.
func (d *Document) PathOf(obj ObjectID) ([]string, bool) {
	var path []string
	for cur, steps := obj, 0; cur != RootID; steps++ {
		if steps > len(d.objects) {
			return nil, false
		}
		r, ok := d.parents[cur]
		if !ok {
			return nil, false
		}
		parent := d.objects[r.parent]
		if parent.kind == MapKind {
			if v, ok := parent.values[r.key]; !ok || v.Child != cur {
				return nil, false
			}
			path = append(path, r.key)
		} else {
			index := parent.find(r.key)
			if index < 0 || !parent.elems[index].visible() || parent.elems[index].value.Child != cur {
				return nil, false
			}
			path = append(path, strconv.Itoa(parent.visibleBefore(index)))
		}
		cur = r.parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if path == nil {
		path = []string{}
	}
	return path, true
}

// ObjectAt resolves a path of map keys and list indexes to a container id.
func (d *Document) ObjectAt(path []string) (ObjectID, bool) {
	cur := RootID
	for _, segment := range path {
		o := d.objects[cur]
		var v Value
		if o.kind == MapKind {
			val, ok := o.values[segment]
			if !ok {
				return "", false
			}
			v = val
		} else {
			index, err := strconv.Atoi(segment)
			if err != nil {
				return "", false
			}
			_, val, ok := d.ElemAt(cur, index)
			if !ok {
				return "", false
			}
			v = val
		}
		if !v.IsObject() {
			return "", false
		}
		cur = v.Child
	}
	return cur, true
}

// ProcessPath turns a path into the object and key an op must target.
// List indexes become element ids; with insert set, index i names the slot a
// new element will occupy, so its predecessor is the element at i-1 (or _head).
func (d *Document) ProcessPath(path []string, insert bool) (ObjectID, string, error) {
	if len(path) == 0 {
		return "", "", fmt.Errorf("%w: empty path", ErrObjectNotFound)
	}
	obj, ok := d.ObjectAt(path[:len(path)-1])
	if !ok {
		return "", "", fmt.Errorf("%w: path %v", ErrObjectNotFound, path[:len(path)-1])
	}
	key := path[len(path)-1]
	if d.objects[obj].kind == MapKind {
		return obj, key, nil
	}

	index, err := strconv.Atoi(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: expected list index, got %q", ErrObjectNotFound, key)
	}
	if insert {
		if index == 0 {
			return obj, HeadKey, nil
		}
		index--
	}
	elemID, _, ok := d.ElemAt(obj, index)
	if !ok {
		return "", "", fmt.Errorf("%w: list index %d out of range in %s", ErrObjectNotFound, index, obj)
	}
	return obj, elemID, nil
}
