package lens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Register(t *testing.T) {
	g := NewGraph()
	assert.True(t, g.Has(Mu))

	added, err := g.Register(Mu, "v1", projectV1)
	require.NoError(t, err)
	assert.True(t, added)

	s, err := g.Schema("v1")
	require.NoError(t, err)
	assert.Equal(t, TypeString, s.Properties["title"].Type)

	// the second registration of a target is ignored, even with a different lens
	added, err = g.Register(Mu, "v1", Lens{AddProperty{Name: "other", Type: TypeString}})
	require.NoError(t, err)
	assert.False(t, added)
	s, err = g.Schema("v1")
	require.NoError(t, err)
	assert.NotContains(t, s.Properties, "other")

	err = g.RegisterStrict(Mu, "v1", projectV1)
	assert.ErrorIs(t, err, ErrSchemaConflict)

	_, err = g.Register("missing", "v9", projectV1)
	assert.ErrorIs(t, err, ErrSchemaNotFound)
	assert.False(t, g.Has("v9"))

	_, err = g.Register("v1", "broken", Lens{RemoveProperty{Name: "nope"}})
	assert.ErrorIs(t, err, ErrInvalidLens)
	assert.False(t, g.Has("broken"))

	_, err = g.Schema("broken")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	assert.Equal(t, []string{"mu", "v1"}, g.Schemas())
}

func TestGraph_LensesFromTo(t *testing.T) {
	toV2 := Lens{RenameProperty{Source: "title", Destination: "name"}}
	toV3 := Lens{AddProperty{Name: "status", Type: TypeString}}

	g := NewGraph()
	for _, r := range []Registration{
		{From: Mu, To: "v1", Lens: projectV1},
		{From: "v1", To: "v2", Lens: toV2},
		{From: "v1", To: "v3", Lens: toV3},
	} {
		_, err := g.Register(r.From, r.To, r.Lens)
		require.NoError(t, err)
	}
	_, err := g.Register(Mu, "island", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		from    string
		to      string
		want    Lens
		wantErr error
	}{
		{name: "same schema", from: "v2", to: "v2", want: Lens{}},
		{name: "forward edge", from: "v1", to: "v2", want: toV2},
		{name: "reverse edge", from: "v2", to: "v1", want: Reverse(toV2)},
		{
			name: "through common ancestor",
			from: "v2",
			to:   "v3",
			want: append(append(Lens{}, Reverse(toV2)...), toV3...),
		},
		{
			name: "from the root",
			from: Mu,
			to:   "v2",
			want: append(append(Lens{}, projectV1...), toV2...),
		},
		{name: "through the root", from: "island", to: "v1", want: projectV1},
		{name: "unknown source", from: "nope", to: "v1", wantErr: ErrPathNotFound},
		{name: "unknown target", from: "v1", to: "nope", wantErr: ErrPathNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := g.LensesFromTo(tc.from, tc.to)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGraph_Clone(t *testing.T) {
	g := NewGraph()
	_, err := g.Register(Mu, "v1", projectV1)
	require.NoError(t, err)

	c := g.Clone()
	_, err = c.Register("v1", "v2", Lens{RenameProperty{Source: "title", Destination: "name"}})
	require.NoError(t, err)

	assert.True(t, c.Has("v2"))
	assert.False(t, g.Has("v2"))
	_, err = g.LensesFromTo("v1", "v2")
	assert.ErrorIs(t, err, ErrPathNotFound)
}
