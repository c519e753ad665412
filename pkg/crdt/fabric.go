package crdt

import "fmt"

// ObjectKind distinguishes map and list containers.
type ObjectKind uint8

const (
	MapKind ObjectKind = iota + 1
	ListKind
)

func (k ObjectKind) String() string {
	switch k {
	case MapKind:
		return "map"
	case ListKind:
		return "list"
	default:
		return fmt.Sprintf("ObjectKind(%d)", uint8(k))
	}
}

// object is the metadata of one container. Maps keep the winning op per key
// and the visible values; lists keep every element ever inserted, in order.
type object struct {
	kind   ObjectKind
	keys   map[string]OpID
	values map[string]Value
	elems  []element
}

var constructors = map[Action]func() *object{
	MakeMap:  newMapObject,
	MakeList: newListObject,
}

func newContainer(action Action) *object {
	return constructors[action]()
}

func newMapObject() *object {
	return &object{
		kind:   MapKind,
		keys:   make(map[string]OpID),
		values: make(map[string]Value),
	}
}

func newListObject() *object {
	return &object{kind: ListKind}
}

func (o *object) clone() *object {
	c := &object{kind: o.kind}
	if o.kind == MapKind {
		c.keys = make(map[string]OpID, len(o.keys))
		for k, v := range o.keys {
			c.keys[k] = v
		}
		c.values = make(map[string]Value, len(o.values))
		for k, v := range o.values {
			c.values[k] = v
		}
		return c
	}
	c.elems = append([]element(nil), o.elems...)
	return c
}

func (o *object) find(key string) int {
	for i := range o.elems {
		if o.elems[i].id.String() == key {
			return i
		}
	}
	return -1
}

// placement finds where an element with id goes after prev: right after the
// predecessor, then past every element with a greater id, which keeps the
// order independent of delivery order.
func (o *object) placement(prev string, id OpID) (int, error) {
	index := -1
	if prev != HeadKey {
		index = o.find(prev)
		if index < 0 {
			return 0, fmt.Errorf("%w: predecessor element %s", ErrObjectNotFound, prev)
		}
	}
	index++
	for index < len(o.elems) && Compare(id, o.elems[index].id) == Lower {
		index++
	}
	return index, nil
}

func (o *object) visibleBefore(index int) int {
	visible := 0
	for i := 0; i < index; i++ {
		if o.elems[i].visible() {
			visible++
		}
	}
	return visible
}
