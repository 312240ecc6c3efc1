package library

import (
	"fmt"

	"github.com/brunoga/override"
	"github.com/brunoga/override/scene"
)

// builder turns a document into linked entities of one library.
type builder struct {
	m   *override.Main
	lib *override.Library

	materials   map[string]*scene.Material
	meshes      map[string]*scene.Mesh
	objects     map[string]*scene.Object
	collections map[string]*scene.Collection

	// fill holds the entities whose content comes from the document.
	fill     map[override.Entity]bool
	declared map[override.Entity]bool
	existing []override.Entity
	added    []override.Entity
}

func newBuilder(m *override.Main, lib *override.Library) *builder {
	return &builder{
		m:           m,
		lib:         lib,
		materials:   make(map[string]*scene.Material),
		meshes:      make(map[string]*scene.Mesh),
		objects:     make(map[string]*scene.Object),
		collections: make(map[string]*scene.Collection),
		fill:        make(map[override.Entity]bool),
		declared:    make(map[override.Entity]bool),
	}
}

// entity finds the entity of kind named name in the library, or creates it
// with create. Existing entities are only refilled when refresh is set.
func entity[T override.Entity](b *builder, kind override.Kind, name string, refresh bool, create func() T) (T, error) {
	if e := b.m.Find(kind, name, b.lib); e != nil {
		t, ok := e.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("library: %s is a %T", e.Base(), e)
		}
		b.existing = append(b.existing, t)
		b.declared[t] = true
		if refresh {
			t.Base().ClearTag(override.TagMissing)
			b.fill[t] = true
		}
		return t, nil
	}
	t := create()
	if err := b.m.Add(t); err != nil {
		var zero T
		return zero, err
	}
	b.added = append(b.added, t)
	b.declared[t] = true
	b.fill[t] = true
	return t, nil
}

func (b *builder) build(doc *Document, refresh bool) error {
	for _, md := range doc.Materials {
		mat, err := entity(b, scene.KindMaterial, md.Name, refresh, func() *scene.Material {
			return scene.NewMaterial(md.Name, b.lib)
		})
		if err != nil {
			return err
		}
		b.materials[md.Name] = mat
	}
	for _, md := range doc.Meshes {
		mesh, err := entity(b, scene.KindMesh, md.Name, refresh, func() *scene.Mesh {
			return scene.NewMesh(md.Name, b.lib)
		})
		if err != nil {
			return err
		}
		b.meshes[md.Name] = mesh
	}
	for _, od := range doc.Objects {
		obj, err := entity(b, scene.KindObject, od.Name, refresh, func() *scene.Object {
			return scene.NewObject(od.Name, b.lib)
		})
		if err != nil {
			return err
		}
		b.objects[od.Name] = obj
	}
	for _, cd := range doc.Collections {
		coll, err := entity(b, scene.KindCollection, cd.Name, refresh, func() *scene.Collection {
			return scene.NewCollection(cd.Name, b.lib)
		})
		if err != nil {
			return err
		}
		b.collections[cd.Name] = coll
	}

	for _, md := range doc.Materials {
		if mat := b.materials[md.Name]; b.fill[mat] {
			fillMaterial(mat, md)
		}
	}
	for _, md := range doc.Meshes {
		if mesh := b.meshes[md.Name]; b.fill[mesh] {
			mesh.Vertices = append([]float64(nil), md.Vertices...)
			mesh.AutoSmooth = md.AutoSmooth
			mesh.Materials = nil
			for _, name := range md.Materials {
				mesh.Materials = append(mesh.Materials, b.materials[name])
			}
		}
	}
	for _, od := range doc.Objects {
		if obj := b.objects[od.Name]; b.fill[obj] {
			b.fillObject(obj, od)
		}
	}
	for _, cd := range doc.Collections {
		coll := b.collections[cd.Name]
		if !b.fill[coll] {
			continue
		}
		coll.Hidden = cd.Hidden
		coll.Objects, coll.Children = nil, nil
		for _, name := range cd.Objects {
			if err := coll.Link(b.objects[name]); err != nil {
				return err
			}
		}
		for _, name := range cd.Children {
			if err := coll.Link(b.collections[name]); err != nil {
				return fmt.Errorf("library: %w", err)
			}
		}
	}
	return nil
}

func fillMaterial(mat *scene.Material, md MaterialDoc) {
	if len(md.Color) == 4 {
		copy(mat.Color[:], md.Color)
	}
	mat.Roughness = md.Roughness
	mat.Metallic = md.Metallic
	if mat.Nodes == nil {
		mat.Nodes = &scene.NodeTree{ID: override.ID{Name: mat.Name + "Nodes", Lib: mat.Lib}}
	}
	mat.Nodes.Nodes = md.Nodes
	mat.Nodes.Strength = md.Strength
}

func (b *builder) fillObject(obj *scene.Object, od ObjectDoc) {
	obj.Location, obj.Rotation = [3]float64{}, [3]float64{}
	obj.Scale = [3]float64{1, 1, 1}
	copy(obj.Location[:], od.Location)
	copy(obj.Rotation[:], od.Rotation)
	if len(od.Scale) == 3 {
		copy(obj.Scale[:], od.Scale)
	}
	obj.Hidden = od.Hidden
	obj.DisplayType = scene.DisplayTextured
	if od.DisplayType != "" {
		obj.DisplayType = od.DisplayType
	}
	obj.PassIndex = od.PassIndex
	obj.Data = b.meshes[od.Mesh]
	obj.Parent = b.objects[od.Parent]

	obj.Modifiers = nil
	for _, mod := range od.Modifiers {
		cp := *mod
		obj.Modifiers = append(obj.Modifiers, &cp)
	}
}
