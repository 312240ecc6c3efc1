package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoga/override"
	"github.com/brunoga/override/rna"
)

// props builds a linked collection holding a chair and a lamp parented to
// it. The chair mesh uses a wood material.
func props(t *testing.T, m *override.Main) (*Collection, *Object, *Object) {
	t.Helper()
	lib := &override.Library{Name: "props.blend", Path: "//props.blend"}
	m.AddLibrary(lib)

	wood := NewMaterial("Wood", lib)
	mesh := NewMesh("ChairMesh", lib)
	mesh.Vertices = []float64{0, 0, 0, 1, 0, 0, 1, 1, 0}
	mesh.Materials = []*Material{wood}
	chair := NewObject("Chair", lib)
	chair.Data = mesh
	chair.Modifiers = []*Modifier{NewModifier("Bevel", "BEVEL")}
	lamp := NewObject("Lamp", lib)
	lamp.Parent = chair
	lamp.Location = [3]float64{0, 0, 2}
	coll := NewCollection("Props", lib, chair, lamp)

	for _, e := range []override.Entity{wood, mesh, chair, lamp, coll} {
		require.NoError(t, m.Add(e))
	}
	return coll, chair, lamp
}

func TestCollectionLinking(t *testing.T) {
	a, b := NewCollection("A", nil), NewCollection("B", nil)
	o := NewObject("O", nil)

	require.NoError(t, a.Link(b))
	require.NoError(t, b.Link(o))
	require.NoError(t, a.Link(b))
	assert.Len(t, a.Children, 1)

	assert.Error(t, b.Link(a), "cycles are refused")
	assert.Error(t, a.Link(a))
	assert.Error(t, a.Link(NewMesh("M", nil)))

	assert.Equal(t, []*Object{o}, a.AllObjects())
	assert.Len(t, a.Members(), 1)

	b.Unlink(o)
	assert.Empty(t, b.Objects)
	a.Unlink(b)
	assert.Empty(t, a.Children)
}

func TestOverrideProps(t *testing.T) {
	m := override.NewMain()
	coll, chair, lamp := props(t, m)
	sc := NewCollection("Scene", nil)
	require.NoError(t, m.Add(sc))

	root, err := override.Create(m, coll, sc, false)
	require.NoError(t, err)
	oc := root.(*Collection)
	require.Len(t, oc.Objects, 2)
	och, olamp := oc.Objects[0], oc.Objects[1]

	assert.Same(t, chair, och.Override.Reference)
	assert.Same(t, och, olamp.Parent)
	assert.Same(t, chair.Data, och.Data, "meshes are not hierarchy keys")
	assert.Equal(t, []override.Entity{oc}, sc.Members())

	och.Location = [3]float64{1, 2, 3}
	och.Modifiers[0].Levels = 3
	och.Selected = true
	override.OperationsCreate(m, och)
	assert.NotNil(t, och.Override.PropertyFind("/location"))
	assert.NotNil(t, och.Override.PropertyFind(`/modifiers["Bevel"]/levels`))
	assert.Nil(t, och.Override.PropertyFind("/selected"))

	// Library edits flow in, local edits stay.
	chair.Location = [3]float64{5, 5, 5}
	chair.Rotation = [3]float64{0, 0, 1}
	lamp.Hidden = true
	require.NoError(t, override.MainUpdate(m, nil))
	assert.Equal(t, [3]float64{1, 2, 3}, och.Location)
	assert.Equal(t, [3]float64{0, 0, 1}, och.Rotation)
	assert.Equal(t, 3, och.Modifiers[0].Levels)
	assert.True(t, olamp.Hidden)
	assert.Same(t, och, olamp.Parent)
}

func TestMaterialEmbeddedNodes(t *testing.T) {
	m := override.NewMain()
	_, chair, _ := props(t, m)
	wood := chair.Data.Materials[0]

	local, err := override.CreateFromID(m, wood, false)
	require.NoError(t, err)
	mat := local.(*Material)
	require.NotSame(t, wood.Nodes, mat.Nodes)
	assert.True(t, mat.Nodes.IsEmbeddedOverride())

	mat.Nodes.Strength = 4
	mat.Roughness = 0.2
	override.OperationsCreate(m, mat)
	assert.NotNil(t, mat.Override.PropertyFind("/nodes/strength"))
	assert.NotNil(t, mat.Override.PropertyFind("/roughness"))

	wood.Nodes.Strength = 2
	wood.Metallic = 1
	require.NoError(t, override.Update(m, mat))
	assert.Equal(t, 4.0, mat.Nodes.Strength)
	assert.Equal(t, 0.2, mat.Roughness)
	assert.Equal(t, 1.0, mat.Metallic)
}

func TestApplyModifiers(t *testing.T) {
	src, dst := NewObject("Src", nil), NewObject("Dst", nil)
	src.Modifiers = []*Modifier{NewModifier("Sub", "SUBSURF"), NewModifier("Arr", "ARRAY")}
	dst.Modifiers = []*Modifier{NewModifier("Old", "MIRROR")}

	sp, dp := rna.IDPointer(src), rna.IDPointer(dst)
	prop := dp.FindProperty("modifiers")
	require.NotNil(t, prop)
	fn, ok := rna.LookupApply(dp, prop)
	require.True(t, ok)
	require.NoError(t, fn(dp, sp, prop))

	require.Len(t, dst.Modifiers, 2)
	assert.Equal(t, "Sub", dst.Modifiers[0].Name)
	assert.NotSame(t, src.Modifiers[0], dst.Modifiers[0])
	assert.Equal(t, 2, dst.Modifiers[1].Count)
}

func TestModifierDefaults(t *testing.T) {
	tests := []struct {
		typ    string
		levels int
		width  float64
		count  int
	}{
		{"SUBSURF", 1, 0, 0},
		{"BEVEL", 1, 0.1, 0},
		{"ARRAY", 0, 0, 2},
		{"MIRROR", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			mod := NewModifier("M", tt.typ)
			assert.True(t, mod.Show)
			assert.Equal(t, tt.levels, mod.Levels)
			assert.Equal(t, tt.width, mod.Width)
			assert.Equal(t, tt.count, mod.Count)
		})
	}
}
