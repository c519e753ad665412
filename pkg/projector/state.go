package projector

import (
	"fmt"
	"slices"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
	"lensmerge/pkg/structs"
)

// state is everything a Backend derives its documents from. ApplyChanges
// works on a clone and swaps it in only when the whole batch succeeded.
type state struct {
	graph     *lens.Graph
	history   []Block
	seen      structs.Set[string]
	instances map[string]*Instance
}

func newState() *state {
	return &state{
		graph:     lens.NewGraph(),
		seen:      structs.NewSet[string](),
		instances: map[string]*Instance{},
	}
}

func (s *state) clone() *state {
	c := &state{
		graph:     s.graph.Clone(),
		history:   slices.Clone(s.history),
		seen:      s.seen.Clone(),
		instances: make(map[string]*Instance, len(s.instances)),
	}
	for name, inst := range s.instances {
		c.instances[name] = inst.clone()
	}
	return c
}

// authors lists the schemas that changes in history were written against.
func authors(history []Block) structs.Set[string] {
	names := structs.NewSet[string]()
	for _, b := range history {
		if b.Kind == ChangeBlock {
			names.Add(b.Schema)
		}
	}
	return names
}

// replay rebuilds instances from history in a single forward pass. Besides
// the extra schemas, every schema that authored a change is materialized,
// since converting a change needs its author's document as of that change.
func replay(graph *lens.Graph, history []Block, extra ...string) (map[string]*Instance, int, error) {
	names := authors(history)
	for _, name := range extra {
		names.Add(name)
	}

	instances := make(map[string]*Instance, names.Size())
	for _, name := range structs.Sorted(names) {
		inst, err := newInstance(graph, name)
		if err != nil {
			return nil, 0, err
		}
		instances[name] = inst
	}

	conversions := 0
	for _, b := range history {
		if b.Kind != ChangeBlock {
			continue
		}
		n, err := project(graph, instances, b)
		if err != nil {
			return nil, 0, err
		}
		conversions += n
	}
	return instances, conversions, nil
}

// project applies a change block to its own schema's instance verbatim and,
// converted, to every other instance. It returns the number of conversions.
func project(graph *lens.Graph, instances map[string]*Instance, b Block) (int, error) {
	src, ok := instances[b.Schema]
	if !ok {
		return 0, fmt.Errorf("%w: no instance of %s", lens.ErrSchemaNotFound, b.Schema)
	}
	change := *b.Change
	if err := src.Doc.Check(change); err != nil {
		return 0, err
	}

	converted := map[string]crdt.Change{}
	for _, name := range structs.SortedKeys(instances) {
		if name == b.Schema {
			continue
		}
		c, err := convertChange(graph, change, b.Schema, src.Doc, name, instances[name].Doc)
		if err != nil {
			return 0, err
		}
		converted[name] = c
	}

	for name, c := range converted {
		if err := instances[name].Doc.ApplyChange(c); err != nil {
			return 0, err
		}
	}
	if err := src.Doc.ApplyChange(change); err != nil {
		return 0, err
	}
	return len(converted), nil
}

func (s *state) materialized() []string {
	return structs.SortedKeys(s.instances)
}
