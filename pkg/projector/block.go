package projector

import (
	"fmt"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
)

// BlockKind tags a history entry.
type BlockKind string

const (
	LensBlock   BlockKind = "lens"
	ChangeBlock BlockKind = "change"
)

// Block is an immutable history entry: either a lens registration or a
// change authored against Schema.
type Block struct {
	Kind   BlockKind    `json:"kind"`
	From   string       `json:"from,omitempty"`
	To     string       `json:"to,omitempty"`
	Lens   lens.Lens    `json:"lens,omitempty"`
	Schema string       `json:"schema,omitempty"`
	Change *crdt.Change `json:"change,omitempty"`
}

func NewLensBlock(r lens.Registration) Block {
	return Block{Kind: LensBlock, From: r.From, To: r.To, Lens: r.Lens}
}

func NewChangeBlock(schema string, change crdt.Change) Block {
	return Block{Kind: ChangeBlock, Schema: schema, Change: &change}
}

func (b Block) Validate() error {
	switch b.Kind {
	case LensBlock:
		if b.From == "" || b.To == "" {
			return fmt.Errorf("%w: lens block needs from and to", crdt.ErrMalformedChange)
		}
	case ChangeBlock:
		if b.Schema == "" || b.Change == nil {
			return fmt.Errorf("%w: change block needs schema and change", crdt.ErrMalformedChange)
		}
		if b.Change.Actor == "" || b.Change.Seq == 0 {
			return fmt.Errorf("%w: change without actor or seq", crdt.ErrMalformedChange)
		}
		if b.Change.Actor == BootstrapActor {
			return fmt.Errorf("%w: actor %s is reserved", crdt.ErrMalformedChange, BootstrapActor)
		}
	default:
		return fmt.Errorf("%w: unknown block kind %q", crdt.ErrMalformedChange, b.Kind)
	}
	return nil
}

// key identifies a change block by its author and sequence number.
func (b Block) key() string {
	return changeKey(b.Change.Actor, b.Change.Seq)
}

func changeKey(actor string, seq uint64) string {
	return fmt.Sprintf("%s:%d", actor, seq)
}
