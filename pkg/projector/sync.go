package projector

import (
	"fmt"

	"lensmerge/pkg/crdt"
)

// ChangesForActor returns the change blocks of actor with seq above after, in
// history order.
func (b *Backend) ChangesForActor(actor string, after uint64) []Block {
	var out []Block
	for _, block := range b.st.history {
		if block.Kind == ChangeBlock && block.Change.Actor == actor && block.Change.Seq > after {
			out = append(out, block)
		}
	}
	return out
}

// ChangesSince returns what b holds beyond old, another state of the same
// document. It fails with ErrDiverged when old has changes b lacks.
func (b *Backend) ChangesSince(old *Backend) ([]Block, error) {
	have := old.Clock()
	if !b.Clock().Covers(have) {
		return nil, fmt.Errorf("%w: %v is not behind %v", ErrDiverged, have, b.Clock())
	}
	return b.GetChanges(have), nil
}

// MissingDeps lists, per actor, the highest seq that blocks need and that
// neither the document nor blocks themselves provide. A peer has to send those
// changes before blocks can be applied.
func (b *Backend) MissingDeps(blocks []Block) crdt.Clock {
	clock := b.Clock()
	provided := make(map[string]bool)
	for _, block := range blocks {
		if block.Kind == ChangeBlock && block.Change != nil {
			provided[block.key()] = true
		}
	}
	covered := func(actor string, seq uint64) bool {
		return clock[actor] >= seq || provided[changeKey(actor, seq)]
	}

	missing := crdt.Clock{}
	need := func(actor string, seq uint64) {
		if !covered(actor, seq) {
			missing[actor] = max(missing[actor], seq)
		}
	}
	for _, block := range blocks {
		if block.Kind != ChangeBlock || block.Change == nil {
			continue
		}
		if block.Change.Seq > 1 {
			need(block.Change.Actor, block.Change.Seq-1)
		}
		for actor, seq := range block.Change.Deps {
			need(actor, seq)
		}
	}
	return missing
}

// Merge applies every change of remote that b has not seen yet.
func (b *Backend) Merge(remote *Backend) (Patch, error) {
	blocks := remote.GetChanges(b.Clock())
	if missing := b.MissingDeps(blocks); len(missing) > 0 {
		b.logger.Debug("merging with missing dependencies", "missing", missing)
	}
	return b.ApplyChanges(blocks)
}
