package lens

import (
	"fmt"
	"maps"

	"lensmerge/pkg/structs"
)

// Mu is the root schema every lens chain starts from: an empty object.
const Mu = "mu"

// Graph links schema versions with lenses. Every registration adds the lens
// and its reverse, so paths can be found in both directions.
//
// A Graph is not safe for concurrent use.
type Graph struct {
	schemas map[string]*Schema
	edges   map[string]map[string]Lens
}

func NewGraph() *Graph {
	return &Graph{
		schemas: map[string]*Schema{Mu: EmptySchema()},
		edges:   map[string]map[string]Lens{Mu: {}},
	}
}

// Clone copies the graph structure. Lenses and cached schemas are never
// mutated after registration, so they are shared.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		schemas: maps.Clone(g.schemas),
		edges:   make(map[string]map[string]Lens, len(g.edges)),
	}
	for from, out := range g.edges {
		c.edges[from] = maps.Clone(out)
	}
	return c
}

func (g *Graph) Has(name string) bool {
	_, ok := g.schemas[name]
	return ok
}

// Schemas lists the registered schema names in order.
func (g *Graph) Schemas() []string {
	return structs.SortedKeys(g.schemas)
}

// Register adds the edge from -> to. It reports false, without error, when to
// is already registered, so that replaying a history is idempotent.
func (g *Graph) Register(from, to string, l Lens) (bool, error) {
	base, ok := g.schemas[from]
	if !ok {
		return false, fmt.Errorf("%w: %s (registering %s)", ErrSchemaNotFound, from, to)
	}
	if g.Has(to) {
		return false, nil
	}
	schema, err := UpdateSchema(base, l)
	if err != nil {
		return false, fmt.Errorf("lens %s -> %s: %w", from, to, err)
	}

	g.schemas[to] = schema
	g.edges[from][to] = l
	g.edges[to] = map[string]Lens{from: Reverse(l)}
	return true, nil
}

// RegisterStrict is Register but refuses to see the same target twice.
func (g *Graph) RegisterStrict(from, to string, l Lens) error {
	if g.Has(to) {
		return fmt.Errorf("%w: %s", ErrSchemaConflict, to)
	}
	_, err := g.Register(from, to, l)
	return err
}

// Schema returns a copy of the cached schema of name.
func (g *Graph) Schema(name string) (*Schema, error) {
	s, ok := g.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	}
	return s.Clone(), nil
}

// LensesFromTo composes the lenses along the shortest path from -> to.
// The result is empty when both names are equal.
func (g *Graph) LensesFromTo(from, to string) (Lens, error) {
	if !g.Has(from) || !g.Has(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrPathNotFound, from, to)
	}
	if from == to {
		return Lens{}, nil
	}

	// breadth-first from the target; next[n] is the step from n towards to
	next := map[string]string{}
	visited := structs.NewSet(to)
	queue := []string{to}
	for len(queue) > 0 && !visited.Contains(from) {
		cur := queue[0]
		queue = queue[1:]
		for _, neighbour := range structs.SortedKeys(g.edges[cur]) {
			if visited.Contains(neighbour) {
				continue
			}
			visited.Add(neighbour)
			next[neighbour] = cur
			queue = append(queue, neighbour)
		}
	}
	if !visited.Contains(from) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrPathNotFound, from, to)
	}

	var composed Lens
	for cur := from; cur != to; cur = next[cur] {
		composed = append(composed, g.edges[cur][next[cur]]...)
	}
	return composed, nil
}
