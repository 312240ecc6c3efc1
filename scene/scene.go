// Package scene defines the entity kinds of a 3D scene: objects, meshes,
// materials, node trees and the collections instancing them.
package scene

import (
	"fmt"
	"reflect"

	"github.com/brunoga/override"
	"github.com/brunoga/override/rna"
)

const (
	KindObject override.Kind = 1 + iota
	KindMesh
	KindMaterial
	KindCollection
	KindNodeTree
)

func init() {
	override.RegisterKind(override.KindInfo{
		Kind: KindObject, Name: "Object", HierarchyKey: true, Instanced: true,
		New: func() override.Entity { return &Object{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindMesh, Name: "Mesh",
		New: func() override.Entity { return &Mesh{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindMaterial, Name: "Material",
		New: func() override.Entity { return &Material{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindCollection, Name: "Collection", HierarchyKey: true,
		New: func() override.Entity { return &Collection{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindNodeTree, Name: "NodeTree",
		New: func() override.Entity { return &NodeTree{} },
	})

	rna.RegisterApply(reflect.TypeOf(&Object{}), "modifiers", applyModifiers)
}

// Display types of an object.
const (
	DisplayTextured = "TEXTURED"
	DisplaySolid    = "SOLID"
	DisplayWire     = "WIRE"
	DisplayBounds   = "BOUNDS"
)

// Modifier is owned by the object holding it in its stack.
type Modifier struct {
	Name   string  `json:"name" yaml:"name" toml:"name" override:"name" validate:"required"`
	Type   string  `json:"type" yaml:"type" toml:"type" validate:"required,oneof=SUBSURF BEVEL ARRAY MIRROR SOLIDIFY"`
	Show   bool    `json:"show" yaml:"show" toml:"show" override:"overridable"`
	Levels int     `json:"levels" yaml:"levels" toml:"levels" override:"overridable,min=0,max=6" validate:"min=0,max=6"`
	Width  float64 `json:"width" yaml:"width" toml:"width" override:"overridable,min=0,max=1000"`
	Count  int     `json:"count" yaml:"count" toml:"count" override:"overridable,min=0,max=1000"`
	Factor float64 `json:"factor" yaml:"factor" toml:"factor" override:"overridable"`
}

type Object struct {
	override.ID
	Location    [3]float64  `json:"location" override:"overridable"`
	Rotation    [3]float64  `json:"rotation" override:"overridable"`
	Scale       [3]float64  `json:"scale" override:"overridable"`
	Hidden      bool        `json:"hidden" override:"overridable"`
	DisplayType string      `json:"display_type" override:"overridable,enum=TEXTURED|SOLID|WIRE|BOUNDS"`
	PassIndex   int         `json:"pass_index" override:"overridable,min=0,max=32767"`
	Data        *Mesh       `json:"data" override:"overridable"`
	Parent      *Object     `json:"parent" override:"overridable"`
	Modifiers   []*Modifier `json:"modifiers" override:"overridable,insert"`
	// Selected is editor state, never part of the override.
	Selected bool `json:"selected" override:"nocompare"`
}

func (*Object) Kind() override.Kind { return KindObject }

type Mesh struct {
	override.ID
	Vertices   []float64   `json:"vertices"`
	AutoSmooth bool        `json:"auto_smooth" override:"overridable"`
	Materials  []*Material `json:"materials" override:"overridable"`
}

func (*Mesh) Kind() override.Kind { return KindMesh }

type Material struct {
	override.ID
	Color     [4]float64 `json:"color" override:"overridable"`
	Roughness float64    `json:"roughness" override:"overridable,min=0,max=1"`
	Metallic  float64    `json:"metallic" override:"overridable,min=0,max=1"`
	Nodes     *NodeTree  `json:"nodes" override:"overridable,embedded"`
}

func (*Material) Kind() override.Kind { return KindMaterial }

// NodeTree only exists embedded in a material.
type NodeTree struct {
	override.ID
	Nodes    int     `json:"nodes"`
	Strength float64 `json:"strength" override:"overridable,min=0,max=100"`
}

func (*NodeTree) Kind() override.Kind { return KindNodeTree }

// Collection groups objects and child collections.
type Collection struct {
	override.ID
	Objects  []*Object     `json:"objects" override:"overridable"`
	Children []*Collection `json:"children" override:"overridable"`
	Hidden   bool          `json:"hidden" override:"overridable"`
}

func (*Collection) Kind() override.Kind { return KindCollection }

func (c *Collection) Members() []override.Entity {
	out := make([]override.Entity, 0, len(c.Objects)+len(c.Children))
	for _, o := range c.Objects {
		out = append(out, o)
	}
	for _, child := range c.Children {
		out = append(out, child)
	}
	return out
}

func (c *Collection) Link(e override.Entity) error {
	switch v := e.(type) {
	case *Object:
		for _, o := range c.Objects {
			if o == v {
				return nil
			}
		}
		c.Objects = append(c.Objects, v)
	case *Collection:
		if v.contains(c) {
			return fmt.Errorf("scene: linking %s into %s would create a cycle", v.Name, c.Name)
		}
		for _, child := range c.Children {
			if child == v {
				return nil
			}
		}
		c.Children = append(c.Children, v)
	default:
		return fmt.Errorf("scene: cannot link %s into a collection", e.Kind())
	}
	return nil
}

func (c *Collection) Unlink(e override.Entity) {
	switch v := e.(type) {
	case *Object:
		for i, o := range c.Objects {
			if o == v {
				c.Objects = append(c.Objects[:i], c.Objects[i+1:]...)
				return
			}
		}
	case *Collection:
		for i, child := range c.Children {
			if child == v {
				c.Children = append(c.Children[:i], c.Children[i+1:]...)
				return
			}
		}
	}
}

// contains reports whether other is c or one of its descendants.
func (c *Collection) contains(other *Collection) bool {
	if c == other {
		return true
	}
	for _, child := range c.Children {
		if child.contains(other) {
			return true
		}
	}
	return false
}

// AllObjects returns the objects of c and its descendants, each once.
func (c *Collection) AllObjects() []*Object {
	seen := make(map[*Object]bool)
	var out []*Object
	var walk func(*Collection)
	walk = func(c *Collection) {
		for _, o := range c.Objects {
			if !seen[o] {
				seen[o] = true
				out = append(out, o)
			}
		}
		for _, child := range c.Children {
			walk(child)
		}
	}
	walk(c)
	return out
}

// applyModifiers replaces the whole modifier stack of dst with copies of
// the one of src.
func applyModifiers(dst, src rna.Pointer, prop *rna.Property) error {
	mods := src.Get(prop)
	out := reflect.MakeSlice(mods.Type(), 0, mods.Len())
	for i := 0; i < mods.Len(); i++ {
		item, err := rna.CopyItem(mods.Index(i))
		if err != nil {
			return err
		}
		out = reflect.Append(out, item)
	}
	return dst.Set(prop, out)
}

func NewObject(name string, lib *override.Library) *Object {
	return &Object{
		ID:          override.ID{Name: name, Lib: lib},
		Scale:       [3]float64{1, 1, 1},
		DisplayType: DisplayTextured,
	}
}

func NewMesh(name string, lib *override.Library) *Mesh {
	return &Mesh{ID: override.ID{Name: name, Lib: lib}}
}

func NewMaterial(name string, lib *override.Library) *Material {
	return &Material{
		ID:        override.ID{Name: name, Lib: lib},
		Color:     [4]float64{0.8, 0.8, 0.8, 1},
		Roughness: 0.5,
		Nodes:     &NodeTree{ID: override.ID{Name: name + "Nodes", Lib: lib}, Strength: 1},
	}
}

func NewCollection(name string, lib *override.Library, objects ...*Object) *Collection {
	return &Collection{ID: override.ID{Name: name, Lib: lib}, Objects: objects}
}

// NewModifier returns a visible modifier of the given type with its type
// defaults.
func NewModifier(name, typ string) *Modifier {
	m := &Modifier{Name: name, Type: typ, Show: true}
	switch typ {
	case "SUBSURF":
		m.Levels = 1
	case "BEVEL":
		m.Width = 0.1
		m.Levels = 1
	case "ARRAY":
		m.Count = 2
		m.Factor = 1
	case "SOLIDIFY":
		m.Width = 0.01
	}
	return m
}
