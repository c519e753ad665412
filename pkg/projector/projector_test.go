package projector

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lensmerge/pkg/crdt"
	"lensmerge/pkg/lens"
	"lensmerge/pkg/patch"
)

var projectLenses = []lens.Registration{
	{From: lens.Mu, To: "project-v1", Lens: lens.Lens{
		lens.AddProperty{Name: "title", Type: lens.TypeString},
		lens.AddProperty{Name: "summary", Type: lens.TypeString},
	}},
	{From: "project-v1", To: "project-v2", Lens: lens.Lens{
		lens.RenameProperty{Source: "title", Destination: "name"},
	}},
}

var bookLenses = []lens.Registration{
	{From: lens.Mu, To: "book-v1", Lens: lens.Lens{
		lens.AddProperty{Name: "details", Type: lens.TypeObject},
		lens.In{Name: "details", Lens: lens.Lens{
			lens.AddProperty{Name: "author", Type: lens.TypeString},
		}},
	}},
	{From: "book-v1", To: "book-v2", Lens: lens.Lens{
		lens.HoistProperty{Host: "details", Name: "author"},
	}},
}

var tagLenses = []lens.Registration{
	{From: lens.Mu, To: "tags-v1", Lens: lens.Lens{
		lens.AddProperty{Name: "title", Type: lens.TypeString},
		lens.AddProperty{Name: "tags", Type: lens.TypeArray, Items: &lens.Schema{Type: lens.TypeString}},
	}},
	{From: "tags-v1", To: "tags-v2", Lens: lens.Lens{
		lens.AddProperty{Name: "status", Type: lens.TypeString, Default: "draft"},
	}},
}

var rowLenses = []lens.Registration{
	{From: lens.Mu, To: "rows-v1", Lens: lens.Lens{
		lens.AddProperty{Name: "rows", Type: lens.TypeArray, Items: &lens.Schema{
			Type:       lens.TypeObject,
			Properties: map[string]*lens.Schema{"text": {Type: lens.TypeString}},
		}},
	}},
	{From: "rows-v1", To: "rows-v2", Lens: lens.Lens{
		lens.In{Name: "rows", Lens: lens.Lens{
			lens.Map{Lens: lens.Lens{lens.RenameProperty{Source: "text", Destination: "body"}}},
		}},
	}},
}

func newBackend(t *testing.T, schema string, regs []lens.Registration, opts ...Option) *Backend {
	t.Helper()
	b, err := Init(schema, regs, opts...)
	require.NoError(t, err)
	return b
}

func root(t *testing.T, b *Backend) map[string]any {
	t.Helper()
	r, err := b.Root()
	require.NoError(t, err)
	return r
}

func setTitle(actor string, seq uint64, value string) Block {
	return NewChangeBlock("project-v1", crdt.Change{Actor: actor, Seq: seq, StartOp: seq, Ops: []crdt.Op{
		{Action: crdt.Set, Obj: crdt.RootID, Key: "title", Value: value},
	}})
}

func TestInit_Defaults(t *testing.T) {
	b := newBackend(t, "project-v1", projectLenses[:1])

	p, err := b.GetPatch()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "", "summary": ""}, p.Root)
	assert.Equal(t, crdt.Clock{}, p.Clock)

	var paths []string
	for _, d := range p.Diffs {
		assert.Equal(t, patch.Add, d.Op)
		paths = append(paths, d.Path)
	}
	assert.ElementsMatch(t, []string{"/summary", "/title"}, paths)
	assert.Equal(t, []string{"project-v1"}, b.Schemas())
	assert.Equal(t, []string{lens.Mu, "project-v1"}, b.Registered())
}

func TestInit_UnreachableTarget(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		regs   []lens.Registration
	}{
		{name: "no lenses", schema: "project-v1"},
		{name: "schema not in the graph", schema: "project-v3", regs: projectLenses},
		{name: "only a later version registered", schema: "project-v2", regs: projectLenses[:1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Init(tt.schema, tt.regs)
			require.ErrorIs(t, err, lens.ErrPathNotFound)
			assert.Nil(t, b)
		})
	}
}

func TestApplyChanges_Rename(t *testing.T) {
	b := newBackend(t, "project-v2", projectLenses)

	p, err := b.ApplyChanges([]Block{setTitle("alice", 1, "hello")})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "hello", "summary": ""}, p.Root)
	assert.Equal(t, crdt.Clock{"alice": 1}, p.Clock)
	if diff := cmp.Diff([]patch.Edit{{Op: patch.Replace, Path: "/name", Value: "hello"}}, p.Diffs); diff != "" {
		t.Errorf("diffs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"project-v1", "project-v2"}, b.Schemas())
}

func TestApplyChanges_Hoist(t *testing.T) {
	writer := newBackend(t, "book-v1", bookLenses)
	obj, key, err := writer.ProcessPath("/details/author", false)
	require.NoError(t, err)
	require.Equal(t, "author", key)

	_, block, err := writer.ApplyLocalChange(crdt.Change{Actor: "alice", Ops: []crdt.Op{
		{Action: crdt.Set, Obj: obj, Key: key, Value: "Steven King"},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"details": map[string]any{"author": "Steven King"}}, root(t, writer))
	assert.Equal(t, uint64(1), block.Change.Seq)
	assert.Equal(t, uint64(1), block.Change.StartOp)

	reader := newBackend(t, "book-v2", bookLenses)
	_, err = reader.ApplyChanges(writer.GetChanges(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"author": "Steven King", "details": map[string]any{}}, root(t, reader))
}

func TestApplyChanges_UnrelatedLensKeepsListEdits(t *testing.T) {
	writer := newBackend(t, "tags-v1", tagLenses)
	list, head, err := writer.ProcessPath("/tags/0", true)
	require.NoError(t, err)
	require.Equal(t, crdt.HeadKey, head)

	_, _, err = writer.ApplyLocalChange(crdt.Change{Actor: "alice", Ops: []crdt.Op{
		{Action: crdt.Set, Obj: list, Key: crdt.HeadKey, Insert: true, Value: "maddening"},
		{Action: crdt.Set, Obj: list, Key: "1@alice", Insert: true, Value: "infuriating"},
		{Action: crdt.Set, Obj: list, Key: "2@alice", Insert: true, Value: "adorable"},
	}})
	require.NoError(t, err)

	_, elem, err := writer.ProcessPath("/tags/1", false)
	require.NoError(t, err)
	require.Equal(t, "2@alice", elem)
	_, block, err := writer.ApplyLocalChange(crdt.Change{Actor: "alice", Ops: []crdt.Op{
		{Action: crdt.Set, Obj: list, Key: elem, Value: "excruciating"},
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), block.Change.Seq)
	assert.Equal(t, uint64(4), block.Change.StartOp)

	reader := newBackend(t, "tags-v2", tagLenses)
	before := root(t, reader)
	assert.Equal(t, map[string]any{"title": "", "status": "draft", "tags": []any{}}, before)

	_, err = reader.ApplyChanges(writer.GetChanges(nil))
	require.NoError(t, err)
	want := map[string]any{
		"title":  "",
		"status": "draft",
		"tags":   []any{"maddening", "excruciating", "adorable"},
	}
	assert.Equal(t, want, root(t, reader))
	assert.Equal(t, crdt.Clock{"alice": 2}, reader.Clock())
}

func TestApplyChanges_ListOfObjects(t *testing.T) {
	writer := newBackend(t, "rows-v1", rowLenses)
	rows, _, err := writer.ProcessPath("/rows/0", true)
	require.NoError(t, err)

	// first row attached on creation, second through a placeholder and link
	_, _, err = writer.ApplyLocalChange(crdt.Change{Actor: "alice", Ops: []crdt.Op{
		{Action: crdt.MakeMap, Obj: rows, Key: crdt.HeadKey, Insert: true},
		{Action: crdt.Set, Obj: "1@alice", Key: "text", Value: "first"},
		{Action: crdt.Insert, Obj: rows, Key: "1@alice"},
		{Action: crdt.MakeMap},
		{Action: crdt.Set, Obj: "4@alice", Key: "text", Value: "second"},
		{Action: crdt.Link, Obj: rows, Key: "3@alice", Child: "4@alice"},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": []any{
		map[string]any{"text": "first"},
		map[string]any{"text": "second"},
	}}, root(t, writer))

	reader := newBackend(t, "rows-v2", rowLenses)
	_, err = reader.ApplyChanges(writer.GetChanges(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": []any{
		map[string]any{"body": "first"},
		map[string]any{"body": "second"},
	}}, root(t, reader))
}

func TestApplyChanges_RoundTrip(t *testing.T) {
	v2Write := NewChangeBlock("project-v2", crdt.Change{Actor: "bob", Seq: 1, StartOp: 1, Ops: []crdt.Op{
		{Action: crdt.Set, Obj: crdt.RootID, Key: "name", Value: "from v2"},
		{Action: crdt.Set, Obj: crdt.RootID, Key: "summary", Value: "kept"},
	}})

	v1 := newBackend(t, "project-v1", projectLenses)
	_, err := v1.ApplyChanges([]Block{v2Write})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "from v2", "summary": "kept"}, root(t, v1))

	// and back again through a third replica reading v2
	v2 := newBackend(t, "project-v2", projectLenses)
	_, err = v2.ApplyChanges(v1.GetChanges(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "from v2", "summary": "kept"}, root(t, v2))
}

func TestApplyChanges_Commutative(t *testing.T) {
	a := NewChangeBlock("project-v1", crdt.Change{Actor: "alice", Seq: 1, StartOp: 1, Ops: []crdt.Op{
		{Action: crdt.Set, Obj: crdt.RootID, Key: "title", Value: "A"},
		{Action: crdt.Set, Obj: crdt.RootID, Key: "summary", Value: "by alice"},
	}})
	b := NewChangeBlock("project-v2", crdt.Change{Actor: "bob", Seq: 1, StartOp: 1, Ops: []crdt.Op{
		{Action: crdt.Set, Obj: crdt.RootID, Key: "name", Value: "B"},
	}})

	tests := []struct {
		schema string
		want   map[string]any
	}{
		{schema: "project-v1", want: map[string]any{"title": "B", "summary": "by alice"}},
		{schema: "project-v2", want: map[string]any{"name": "B", "summary": "by alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.schema, func(t *testing.T) {
			ab := newBackend(t, tt.schema, projectLenses)
			_, err := ab.ApplyChanges([]Block{a, b})
			require.NoError(t, err)

			ba := newBackend(t, tt.schema, projectLenses)
			_, err = ba.ApplyChanges([]Block{b})
			require.NoError(t, err)
			_, err = ba.ApplyChanges([]Block{a})
			require.NoError(t, err)

			if diff := cmp.Diff(root(t, ab), root(t, ba)); diff != "" {
				t.Errorf("replicas diverged (-ab +ba):\n%s", diff)
			}
			assert.Equal(t, tt.want, root(t, ab))
			assert.Equal(t, ab.Clock(), ba.Clock())
		})
	}
}

// Concurrent writes with the same counter resolve to the same winner whichever
// schema the document is read in.
func TestApplyChanges_SameWinnerInEverySchema(t *testing.T) {
	tests := []struct {
		name  string
		alice Block
		bob   Block
	}{
		{
			name:  "alice in v1, bob in v2",
			alice: setTitle("alice", 1, "A"),
			bob: NewChangeBlock("project-v2", crdt.Change{Actor: "bob", Seq: 1, StartOp: 1, Ops: []crdt.Op{
				{Action: crdt.Set, Obj: crdt.RootID, Key: "name", Value: "B"},
			}}),
		},
		{
			name: "alice in v2, bob in v1",
			alice: NewChangeBlock("project-v2", crdt.Change{Actor: "alice", Seq: 1, StartOp: 1, Ops: []crdt.Op{
				{Action: crdt.Set, Obj: crdt.RootID, Key: "name", Value: "A"},
			}}),
			bob: setTitle("bob", 1, "B"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v1 := newBackend(t, "project-v1", projectLenses)
			_, err := v1.ApplyChanges([]Block{tt.alice, tt.bob})
			require.NoError(t, err)
			v2 := newBackend(t, "project-v2", projectLenses)
			_, err = v2.ApplyChanges([]Block{tt.bob, tt.alice})
			require.NoError(t, err)

			// bob wins the tie on actor id
			assert.Equal(t, "B", root(t, v1)["title"])
			assert.Equal(t, "B", root(t, v2)["name"])
		})
	}
}

func TestApplyChanges_Duplicates(t *testing.T) {
	b := newBackend(t, "project-v2", projectLenses)
	first := setTitle("alice", 1, "hello")

	_, err := b.ApplyChanges([]Block{first})
	require.NoError(t, err)

	p, err := b.ApplyChanges([]Block{first, NewLensBlock(projectLenses[1])})
	require.NoError(t, err)
	assert.Empty(t, p.Diffs)
	assert.Equal(t, map[string]any{"name": "hello", "summary": ""}, p.Root)
	assert.Len(t, b.GetChanges(nil), 3)
}

func TestApplyChanges_Errors(t *testing.T) {
	tests := []struct {
		name    string
		blocks  []Block
		wantErr error
	}{
		{
			name:    "sequence gap",
			blocks:  []Block{setTitle("alice", 2, "x")},
			wantErr: crdt.ErrSequenceMismatch,
		},
		{
			name: "missing dependency",
			blocks: []Block{NewChangeBlock("project-v1", crdt.Change{Actor: "alice", Seq: 1, StartOp: 1,
				Deps: crdt.Clock{"bob": 1},
				Ops:  []crdt.Op{{Action: crdt.Set, Obj: crdt.RootID, Key: "title", Value: "x"}},
			})},
			wantErr: crdt.ErrMissingDependency,
		},
		{
			name:    "unregistered schema",
			blocks:  []Block{NewChangeBlock("project-v9", crdt.Change{Actor: "alice", Seq: 1, StartOp: 1})},
			wantErr: lens.ErrPathNotFound,
		},
		{
			name: "insert without content",
			blocks: []Block{NewChangeBlock("project-v1", crdt.Change{Actor: "alice", Seq: 1, StartOp: 1, Ops: []crdt.Op{
				{Action: crdt.Insert, Obj: crdt.RootID, Key: crdt.HeadKey},
			}})},
			wantErr: crdt.ErrMalformedChange,
		},
		{
			name:    "unknown block kind",
			blocks:  []Block{{Kind: "snapshot"}},
			wantErr: crdt.ErrMalformedChange,
		},
		{
			name:    "reserved actor",
			blocks:  []Block{setTitle(BootstrapActor, 1, "x")},
			wantErr: crdt.ErrMalformedChange,
		},
		{
			name:    "lens from unknown schema",
			blocks:  []Block{NewLensBlock(lens.Registration{From: "nope", To: "project-v3"})},
			wantErr: lens.ErrSchemaNotFound,
		},
		{
			name:    "valid block then invalid one",
			blocks:  []Block{setTitle("alice", 1, "x"), setTitle("alice", 3, "y")},
			wantErr: crdt.ErrSequenceMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t, "project-v2", projectLenses)
			before := root(t, b)

			_, err := b.ApplyChanges(tt.blocks)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, before, root(t, b))
			assert.Equal(t, crdt.Clock{}, b.Clock())
			assert.Len(t, b.GetChanges(nil), len(projectLenses))
		})
	}
}

func TestGetChanges(t *testing.T) {
	b := newBackend(t, "project-v1", projectLenses)
	_, err := b.ApplyChanges([]Block{setTitle("alice", 1, "one"), setTitle("alice", 2, "two")})
	require.NoError(t, err)

	tests := []struct {
		name string
		have crdt.Clock
		want []uint64
	}{
		{name: "empty clock", have: nil, want: []uint64{1, 2}},
		{name: "partially synced", have: crdt.Clock{"alice": 1}, want: []uint64{2}},
		{name: "up to date", have: crdt.Clock{"alice": 2}, want: nil},
		{name: "other actor", have: crdt.Clock{"bob": 5}, want: []uint64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lenses int
			var seqs []uint64
			for _, block := range b.GetChanges(tt.have) {
				if block.Kind == LensBlock {
					lenses++
					continue
				}
				seqs = append(seqs, block.Change.Seq)
			}
			assert.Equal(t, len(projectLenses), lenses)
			assert.Equal(t, tt.want, seqs)
		})
	}
}

func TestInstanceAt(t *testing.T) {
	b := newBackend(t, "project-v1", projectLenses)
	_, err := b.ApplyChanges([]Block{setTitle("alice", 1, "one"), setTitle("alice", 2, "two")})
	require.NoError(t, err)

	inst, err := b.InstanceAt("project-v2", "alice", 2)
	require.NoError(t, err)
	assert.True(t, inst.Bootstrapped)
	assert.Equal(t, "project-v2", inst.Schema)
	assert.Equal(t, map[string]any{"name": "one", "summary": ""}, inst.Doc.Root())
	assert.Equal(t, crdt.Clock{"alice": 1}, inst.Clock())

	inst, err = b.InstanceAt("project-v1", "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "", "summary": ""}, inst.Doc.Root())

	_, err = b.InstanceAt("project-v1", "alice", 9)
	require.ErrorIs(t, err, ErrBlockNotFound)
	_, err = b.InstanceAt("project-v9", "alice", 1)
	require.ErrorIs(t, err, lens.ErrPathNotFound)

	// the live state is untouched
	assert.Equal(t, map[string]any{"title": "two", "summary": ""}, root(t, b))
}

func TestProcessPath(t *testing.T) {
	b := newBackend(t, "tags-v1", tagLenses)

	obj, key, err := b.ProcessPath("/title", false)
	require.NoError(t, err)
	assert.Equal(t, crdt.RootID, obj)
	assert.Equal(t, "title", key)

	_, _, err = b.ProcessPath("/tags/0", false)
	require.ErrorIs(t, err, crdt.ErrObjectNotFound)
	_, _, err = b.ProcessPath("/missing/key", false)
	require.ErrorIs(t, err, crdt.ErrObjectNotFound)
	_, _, err = b.ProcessPath("title", false)
	require.ErrorIs(t, err, crdt.ErrObjectNotFound)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "lensmerge")
	b := newBackend(t, "project-v2", projectLenses, WithMetrics(m))

	_, err := b.ApplyChanges([]Block{setTitle("alice", 1, "hello")})
	require.NoError(t, err)
	_, err = b.ApplyChanges([]Block{setTitle("alice", 1, "hello")})
	require.NoError(t, err)
	_, err = b.ApplyChanges([]Block{setTitle("alice", 5, "late")})
	require.Error(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BlocksTotal.WithLabelValues("lens")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlocksTotal.WithLabelValues("change")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DuplicatesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConversionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReplaysTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sequence")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ApplyDuration))
}

func TestApplyChanges_RejectedBatchLeavesNoRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "lensmerge")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := newBackend(t, "project-v1", projectLenses[:1], WithMetrics(m), WithLogger(logger))
	logs.Reset()

	_, err := b.ApplyChanges([]Block{
		NewLensBlock(projectLenses[1]),
		NewChangeBlock("project-v2", crdt.Change{Actor: "bob", Seq: 1, StartOp: 1, Ops: []crdt.Op{
			{Action: crdt.Set, Obj: crdt.RootID, Key: "name", Value: "B"},
		}}),
		setTitle("alice", 3, "gap"),
	})
	require.ErrorIs(t, err, crdt.ErrSequenceMismatch)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlocksTotal.WithLabelValues("lens")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.BlocksTotal.WithLabelValues("change")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConversionsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReplaysTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sequence")))
	assert.NotContains(t, logs.String(), "registered lens")
	assert.NotContains(t, logs.String(), "applied change")
	assert.NotContains(t, logs.String(), "materialized schemas")
	assert.Contains(t, logs.String(), "rejected blocks")
	assert.Equal(t, []string{lens.Mu, "project-v1"}, b.Registered())
}

func TestErrorReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{crdt.ErrSequenceMismatch, "sequence"},
		{crdt.ErrMissingDependency, "dependency"},
		{lens.ErrInvalidLens, "invalid_lens"},
		{ErrBlockNotFound, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorReason(tt.err))
		})
	}
}
