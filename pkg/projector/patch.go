package projector

import (
	"reflect"
	"slices"
	"strconv"

	"golang.org/x/exp/maps"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/patch"
)

// Patch is what callers receive after applying blocks: the clock of the
// target instance, the edits turning the previous value tree into the new
// one, and the new value tree.
type Patch struct {
	Clock crdt.Clock     `json:"clock"`
	Diffs []patch.Edit   `json:"diffs"`
	Root  map[string]any `json:"root"`
}

// diff lists the edits that turn before into after. Map keys are visited in
// sorted order. A value whose kind changes is replaced as a whole.
func diff(before, after map[string]any) []patch.Edit {
	if before == nil {
		before = map[string]any{}
	}
	edits := make([]patch.Edit, 0)
	diffMap(nil, before, after, &edits)
	return edits
}

func diffValue(path []string, before, after any, edits *[]patch.Edit) {
	switch a := after.(type) {
	case map[string]any:
		if b, ok := before.(map[string]any); ok {
			diffMap(path, b, a, edits)
			return
		}
	case []any:
		if b, ok := before.([]any); ok {
			diffList(path, b, a, edits)
			return
		}
	}
	if !reflect.DeepEqual(before, after) {
		*edits = append(*edits, patch.Edit{Op: patch.Replace, Path: patch.Join(path...), Value: after})
	}
}

func diffMap(path []string, before, after map[string]any, edits *[]patch.Edit) {
	keys := maps.Keys(after)
	slices.Sort(keys)
	for _, k := range keys {
		at := append(slices.Clip(path), k)
		old, ok := before[k]
		if !ok {
			*edits = append(*edits, patch.Edit{Op: patch.Add, Path: patch.Join(at...), Value: after[k]})
			continue
		}
		diffValue(at, old, after[k], edits)
	}

	removed := maps.Keys(before)
	slices.Sort(removed)
	for _, k := range removed {
		if _, ok := after[k]; !ok {
			*edits = append(*edits, patch.Edit{Op: patch.Remove, Path: patch.Join(append(slices.Clip(path), k)...)})
		}
	}
}

// diffList compares elements by index. Trailing removals run from the end so
// that every index is valid when its edit is applied.
func diffList(path []string, before, after []any, edits *[]patch.Edit) {
	at := func(i int) []string { return append(slices.Clip(path), strconv.Itoa(i)) }
	common := min(len(before), len(after))
	for i := range common {
		diffValue(at(i), before[i], after[i], edits)
	}
	for i := common; i < len(after); i++ {
		*edits = append(*edits, patch.Edit{Op: patch.Add, Path: patch.Join(at(i)...), Value: after[i]})
	}
	for i := len(before) - 1; i >= common; i-- {
		*edits = append(*edits, patch.Edit{Op: patch.Remove, Path: patch.Join(at(i)...)})
	}
}
