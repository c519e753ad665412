package projector

import (
	"fmt"

	"lensmerge/pkg/bridge"
	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
	"lensmerge/pkg/patch"
)

// BootstrapActor writes the defaults of every instance. Its ops carry counter
// zero, so any writer's op wins over a default.
const BootstrapActor = "0000000000"

// Instance is the document of one schema version, derived from history.
type Instance struct {
	Schema       string
	Doc          *crdt.Document
	Bootstrapped bool
}

func (i *Instance) clone() *Instance {
	return &Instance{Schema: i.Schema, Doc: i.Doc.Clone(), Bootstrapped: i.Bootstrapped}
}

// Clock is the causal clock of the instance without the bootstrap writer.
func (i *Instance) Clock() crdt.Clock {
	return i.Doc.Clock().Without(BootstrapActor)
}

// newInstance creates the document of schema and fills in its defaults.
func newInstance(graph *lens.Graph, schema string) (*Instance, error) {
	inst := &Instance{Schema: schema, Doc: crdt.NewDocument()}
	change, err := bootstrapChange(graph, schema)
	if err != nil {
		return nil, err
	}
	if err := inst.Doc.ApplyChange(change); err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", schema, err)
	}
	inst.Bootstrapped = true
	return inst, nil
}

// bootstrapChange runs an "add the root object" edit through the schema so
// that every declared field receives its default, then turns the resulting
// edits into ops.
func bootstrapChange(graph *lens.Graph, schema string) (crdt.Change, error) {
	s, err := graph.Schema(schema)
	if err != nil {
		return crdt.Change{}, err
	}
	root := []patch.Edit{{Op: patch.Add, Path: "", Value: map[string]any{}}}
	edits, err := lens.ApplyToPatch(nil, root, s)
	if err != nil {
		return crdt.Change{}, fmt.Errorf("bootstrap %s: %w", schema, err)
	}

	origin := bridge.Origin{Actor: BootstrapActor, Seq: 1, ID: crdt.OpID{Actor: BootstrapActor}}
	ops, err := bridge.PatchToOps(edits[1:], origin, crdt.NewDocument())
	if err != nil {
		return crdt.Change{}, fmt.Errorf("bootstrap %s: %w", schema, err)
	}
	return crdt.Change{Actor: BootstrapActor, Seq: 1, Deps: crdt.Clock{}, Ops: ops}, nil
}
