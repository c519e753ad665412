// Package projector keeps one replicated document readable under many schema
// versions. History is an append-only list of blocks (lens registrations and
// changes); the document of every schema version is derived from it by
// converting each change through the lenses between schemas.
package projector

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
	"lensmerge/pkg/patch"
)

// Backend projects history into the target schema. It is not safe for
// concurrent use; hosts serialize calls per document (see storage.Store).
type Backend struct {
	schema  string
	st      *state
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Backend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// Init creates a backend reading the document as schema and registers lenses.
// Schema must be reachable through lenses.
func Init(schema string, lenses []lens.Registration, opts ...Option) (*Backend, error) {
	b := &Backend{schema: schema, st: newState(), logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("schema", schema)

	blocks := make([]Block, 0, len(lenses))
	for _, r := range lenses {
		blocks = append(blocks, NewLensBlock(r))
	}
	if _, err := b.ApplyChanges(blocks); err != nil {
		return nil, fmt.Errorf("init %s: %w", schema, err)
	}
	if _, err := b.target(); err != nil {
		return nil, fmt.Errorf("init %s: %w", schema, err)
	}
	return b, nil
}

// Schema is the target schema name.
func (b *Backend) Schema() string { return b.schema }

// ApplyChanges appends blocks to history and projects them into every
// materialized schema. Either every block applies or nothing changes.
func (b *Backend) ApplyChanges(blocks []Block) (Patch, error) {
	start := time.Now()
	defer b.metrics.observeApply(start)

	before := b.targetRoot(b.st)
	next := b.st.clone()
	var fx effects
	for i, block := range blocks {
		if err := b.apply(next, block, &fx); err != nil {
			b.metrics.recordError(err)
			b.logger.Warn("rejected blocks", "index", i, "error", err)
			return Patch{}, fmt.Errorf("block %d: %w", i, err)
		}
	}
	if err := b.materialize(next, &fx, b.schema); err != nil {
		b.metrics.recordError(err)
		return Patch{}, err
	}

	p := b.patchOf(next, before)
	b.st = next
	fx.run()
	return p, nil
}

// ApplyLocalChange applies a change written against the target schema. A zero
// Seq, nil Deps or zero StartOp are filled in from the target instance. The
// block that was recorded is returned for replication.
func (b *Backend) ApplyLocalChange(change crdt.Change) (Patch, Block, error) {
	inst, err := b.target()
	if err != nil {
		return Patch{}, Block{}, err
	}
	if change.Seq == 0 {
		change.Seq = inst.Doc.Clock()[change.Actor] + 1
	}
	if change.Deps == nil {
		change.Deps = inst.Clock().Without(change.Actor)
	}
	if change.StartOp == 0 {
		change.StartOp = inst.Doc.MaxOp() + 1
	}

	block := NewChangeBlock(b.schema, change)
	p, err := b.ApplyChanges([]Block{block})
	if err != nil {
		return Patch{}, Block{}, err
	}
	return p, block, nil
}

// GetPatch returns the full target document as a patch from the empty object.
func (b *Backend) GetPatch() (Patch, error) {
	if _, err := b.target(); err != nil {
		return Patch{}, err
	}
	return b.patchOf(b.st, nil), nil
}

// GetChanges returns the change blocks a peer with clock have is missing, in
// history order, together with every lens block. Re-registering a lens is a
// no-op on the receiving side.
func (b *Backend) GetChanges(have crdt.Clock) []Block {
	var out []Block
	for _, block := range b.st.history {
		if block.Kind == LensBlock || block.Change.Seq > have[block.Change.Actor] {
			out = append(out, block)
		}
	}
	return out
}

// InstanceAt rebuilds the document of schema as it was right before the change
// (actor, seq) was applied.
func (b *Backend) InstanceAt(schema, actor string, seq uint64) (*Instance, error) {
	if !b.st.graph.Has(schema) {
		return nil, fmt.Errorf("%w: schema %s is not registered", lens.ErrPathNotFound, schema)
	}
	idx := slices.IndexFunc(b.st.history, func(block Block) bool {
		return block.Kind == ChangeBlock && block.Change.Actor == actor && block.Change.Seq == seq
	})
	if idx < 0 {
		return nil, fmt.Errorf("%w: change %d by %s", ErrBlockNotFound, seq, actor)
	}

	instances, _, err := replay(b.st.graph, b.st.history[:idx], schema)
	if err != nil {
		return nil, err
	}
	b.metrics.recordReplay()
	return instances[schema], nil
}

// Root materializes the target document.
func (b *Backend) Root() (map[string]any, error) {
	inst, err := b.target()
	if err != nil {
		return nil, err
	}
	return inst.Doc.Root(), nil
}

// Clock is the causal clock of the target document.
func (b *Backend) Clock() crdt.Clock {
	inst, err := b.target()
	if err != nil {
		return crdt.Clock{}
	}
	return inst.Clock()
}

// ProcessPath resolves a JSON pointer in the target document to the object and
// key a new op must address. See crdt.Document.ProcessPath.
func (b *Backend) ProcessPath(pointer string, insert bool) (crdt.ObjectID, string, error) {
	inst, err := b.target()
	if err != nil {
		return "", "", err
	}
	segments, err := patch.Split(pointer)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", crdt.ErrObjectNotFound, err)
	}
	return inst.Doc.ProcessPath(segments, insert)
}

// Schemas lists the schema versions that currently have an instance.
func (b *Backend) Schemas() []string {
	return b.st.materialized()
}

// Registered lists every schema version known to the lens graph.
func (b *Backend) Registered() []string {
	return b.st.graph.Schemas()
}

func (b *Backend) target() (*Instance, error) {
	inst, ok := b.st.instances[b.schema]
	if !ok {
		return nil, fmt.Errorf("%w: schema %s is not registered", lens.ErrPathNotFound, b.schema)
	}
	return inst, nil
}

func (b *Backend) targetRoot(st *state) map[string]any {
	if inst, ok := st.instances[b.schema]; ok {
		return inst.Doc.Root()
	}
	return nil
}

func (b *Backend) patchOf(st *state, before map[string]any) Patch {
	inst, ok := st.instances[b.schema]
	if !ok {
		return Patch{Clock: crdt.Clock{}, Diffs: []patch.Edit{}}
	}
	root := inst.Doc.Root()
	return Patch{Clock: inst.Clock(), Diffs: diff(before, root), Root: root}
}

// effects holds the metric and log records of a batch. They run only once the
// batch has been committed.
type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

func (b *Backend) apply(st *state, block Block, fx *effects) error {
	if err := block.Validate(); err != nil {
		return err
	}

	if block.Kind == LensBlock {
		added, err := st.graph.Register(block.From, block.To, block.Lens)
		if err != nil {
			return err
		}
		if !added {
			fx.add(func() {
				b.logger.Debug("lens already registered", "from", block.From, "to", block.To)
				b.metrics.recordDuplicate()
			})
			return nil
		}
		st.history = append(st.history, block)
		fx.add(func() {
			b.metrics.recordBlock(LensBlock)
			b.logger.Info("registered lens", "from", block.From, "to", block.To, "ops", len(block.Lens))
		})
		return nil
	}

	if st.seen.Contains(block.key()) {
		fx.add(func() {
			b.logger.Debug("change already applied", "actor", block.Change.Actor, "seq", block.Change.Seq)
			b.metrics.recordDuplicate()
		})
		return nil
	}
	for _, name := range []string{b.schema, block.Schema} {
		if !st.graph.Has(name) {
			return fmt.Errorf("%w: schema %s is not registered", lens.ErrPathNotFound, name)
		}
	}
	if err := b.materialize(st, fx, b.schema, block.Schema); err != nil {
		return err
	}

	change := *block.Change
	change.Ops = slices.Clone(change.Ops)
	change.Deps = change.Deps.Clone()
	block.Change = &change

	n, err := project(st.graph, st.instances, block)
	if err != nil {
		return fmt.Errorf("change %s of schema %s: %w", block.key(), block.Schema, err)
	}
	st.history = append(st.history, block)
	st.seen.Add(block.key())
	fx.add(func() {
		b.metrics.recordBlock(ChangeBlock)
		b.metrics.recordConversions(n)
		b.logger.Debug("applied change", "actor", change.Actor, "seq", change.Seq,
			"source", block.Schema, "ops", len(change.Ops), "conversions", n)
	})
	return nil
}

// materialize creates the instances of the registered names that have none
// yet. New instances need every earlier change converted into them, so all
// instances are rebuilt from history together.
func (b *Backend) materialize(st *state, fx *effects, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := st.instances[name]; !ok && st.graph.Has(name) && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	instances, n, err := replay(st.graph, st.history, append(st.materialized(), missing...)...)
	if err != nil {
		return fmt.Errorf("materialize %v: %w", missing, err)
	}
	st.instances = instances
	history := len(st.history)
	fx.add(func() {
		b.metrics.recordReplay()
		b.metrics.recordConversions(n)
		b.logger.Debug("materialized schemas", "schemas", missing, "history", history)
	})
	return nil
}
