package projector

import (
	"fmt"

	"lensmerge/pkg/bridge"
	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
)

// conversion carries one change from the schema it was written against into
// another schema. Both documents are worked on as scratch copies: each source
// op is replayed on from right after it is converted, and the converted ops
// on to, because resolving op N+1 depends on the objects op N created.
type conversion struct {
	stack  lens.Lens
	schema *lens.Schema
	from   *crdt.Document
	to     *crdt.Document
	cache  *bridge.ElemCache
}

func convertChange(graph *lens.Graph, change crdt.Change, fromSchema string, from *crdt.Document, toSchema string, to *crdt.Document) (crdt.Change, error) {
	stack, err := graph.LensesFromTo(fromSchema, toSchema)
	if err != nil {
		return crdt.Change{}, err
	}
	schema, err := graph.Schema(fromSchema)
	if err != nil {
		return crdt.Change{}, err
	}
	ops, err := bridge.SortOps(change.ResolvedOps())
	if err != nil {
		return crdt.Change{}, err
	}

	c := &conversion{
		stack:  stack,
		schema: schema,
		from:   from.Clone(),
		to:     to.Clone(),
		cache:  bridge.NewElemCache(),
	}
	var sub uint32
	converted := make([]crdt.Op, 0, len(ops))
	for i, op := range ops {
		origin := bridge.Origin{Actor: change.Actor, Seq: change.Seq, OpIndex: i, ID: op.ID, Sub: sub}
		out, err := c.convertOp(origin, op)
		if err != nil {
			return crdt.Change{}, fmt.Errorf("convert op %s from %s to %s: %w", op.ID, fromSchema, toSchema, err)
		}
		sub = max(sub, bridge.LastSub(out))
		converted = append(converted, out...)
	}

	return crdt.Change{
		Actor:   change.Actor,
		Seq:     change.Seq,
		Deps:    change.Deps.Clone(),
		StartOp: change.StartOp,
		Ops:     converted,
	}, nil
}

func (c *conversion) convertOp(origin bridge.Origin, op crdt.Op) ([]crdt.Op, error) {
	switch {
	case op.Action == crdt.Insert:
		c.cache.Add(op.ID.String())
		return nil, c.from.ApplyOp(op)
	case op.Action.IsMake() && op.Obj == "":
		return nil, c.from.ApplyOp(op)
	}

	if !op.Insert && c.cache.Has(op.Key) {
		elem, err := crdt.ParseOpID(op.Key)
		if err != nil {
			return nil, err
		}
		origin.Elem = elem
	}
	edits, err := bridge.OpToPatch(op, c.from, c.cache)
	if err != nil {
		return nil, err
	}
	edits, err = lens.ApplyToPatch(c.stack, edits, c.schema)
	if err != nil {
		return nil, err
	}
	out, err := bridge.PatchToOps(edits, origin, c.to)
	if err != nil {
		return nil, err
	}
	if err := c.from.ApplyOp(op); err != nil {
		return nil, err
	}
	return out, nil
}
