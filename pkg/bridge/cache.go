package bridge

import "lensmerge/pkg/structs"

// ElemCache remembers the placeholder elements inserted by the change being
// converted. A content op that fills one of them becomes an add rather than a
// replace. The cache is scoped to a single change.
type ElemCache struct {
	pending structs.Set[string]
}

func NewElemCache() *ElemCache {
	return &ElemCache{pending: structs.NewSet[string]()}
}

// Add records a placeholder element id.
func (c *ElemCache) Add(elem string) {
	c.pending.Add(elem)
}

// Has reports whether elem is a pending placeholder.
func (c *ElemCache) Has(elem string) bool {
	return c.pending.Contains(elem)
}

// Take reports whether elem is a pending placeholder and forgets it.
func (c *ElemCache) Take(elem string) bool {
	if !c.pending.Contains(elem) {
		return false
	}
	c.pending.Remove(elem)
	return true
}

func (c *ElemCache) Len() int {
	return c.pending.Size()
}
