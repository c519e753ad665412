package bridge

import "lensmerge/pkg/crdt"

// The bridge reports failures with the crdt sentinels so that callers match a
// single taxonomy.
var (
	ErrMalformedChange = crdt.ErrMalformedChange
	ErrObjectNotFound  = crdt.ErrObjectNotFound
)
