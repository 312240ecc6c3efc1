// Package testmodels defines small entity kinds exercising every property
// shape the override engine knows about.
package testmodels

import (
	"fmt"

	"github.com/brunoga/override"
)

const (
	KindGroup override.Kind = 100 + iota
	KindThing
	KindData
	KindTree
)

func init() {
	override.RegisterKind(override.KindInfo{
		Kind: KindGroup, Name: "Group", HierarchyKey: true,
		New: func() override.Entity { return &Group{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindThing, Name: "Thing", HierarchyKey: true, Instanced: true,
		New: func() override.Entity { return &Thing{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindData, Name: "Data",
		New: func() override.Entity { return &Data{} },
	})
	override.RegisterKind(override.KindInfo{
		Kind: KindTree, Name: "Tree",
		New: func() override.Entity { return &Tree{} },
	})
}

type Modifier struct {
	Name   string  `json:"name" override:"name"`
	Levels int     `json:"levels" override:"overridable,min=0,max=6"`
	Width  float64 `json:"width" override:"overridable"`
}

// Tree is only ever embedded in a Thing.
type Tree struct {
	override.ID
	Nodes int `json:"nodes" override:"overridable"`
}

func (*Tree) Kind() override.Kind { return KindTree }

type Data struct {
	override.ID
	Value    float64 `json:"value" override:"overridable"`
	Vertices []int   `json:"vertices"`
}

func (*Data) Kind() override.Kind { return KindData }

type Thing struct {
	override.ID
	Count    int         `json:"count" override:"overridable,min=-100,max=100"`
	Scale    float64     `json:"scale" override:"overridable"`
	Label    string      `json:"label"`
	Mode     string      `json:"mode" override:"overridable,enum=SOLID|WIRE"`
	Location [3]float64  `json:"location" override:"overridable"`
	Data     *Data       `json:"data" override:"overridable"`
	Parent   *Thing      `json:"parent" override:"overridable"`
	Mods     []*Modifier `json:"mods" override:"overridable,insert"`
	Tree     *Tree       `json:"tree" override:"overridable,embedded"`
	Scratch  int         `json:"scratch" override:"nocompare"`
	Visible  bool        `json:"visible" override:"overridable"`
	Note     string      `json:"note" override:"overridable"`
	Weights  [3]int      `json:"weights" override:"overridable,min=0,max=255"`
}

func (*Thing) Kind() override.Kind { return KindThing }

// Group is the container kind of the test models.
type Group struct {
	override.ID
	Things   []*Thing `json:"things" override:"overridable"`
	Children []*Group `json:"children" override:"overridable"`
}

func (*Group) Kind() override.Kind { return KindGroup }

func (g *Group) Members() []override.Entity {
	out := make([]override.Entity, 0, len(g.Things)+len(g.Children))
	for _, t := range g.Things {
		out = append(out, t)
	}
	for _, c := range g.Children {
		out = append(out, c)
	}
	return out
}

func (g *Group) Link(e override.Entity) error {
	switch v := e.(type) {
	case *Thing:
		for _, t := range g.Things {
			if t == v {
				return nil
			}
		}
		g.Things = append(g.Things, v)
	case *Group:
		if v == g {
			return fmt.Errorf("testmodels: cannot link %s into itself", g.Name)
		}
		for _, c := range g.Children {
			if c == v {
				return nil
			}
		}
		g.Children = append(g.Children, v)
	default:
		return fmt.Errorf("testmodels: cannot link %T into a group", e)
	}
	return nil
}

func (g *Group) Unlink(e override.Entity) {
	switch v := e.(type) {
	case *Thing:
		for i, t := range g.Things {
			if t == v {
				g.Things = append(g.Things[:i], g.Things[i+1:]...)
				return
			}
		}
	case *Group:
		for i, c := range g.Children {
			if c == v {
				g.Children = append(g.Children[:i], g.Children[i+1:]...)
				return
			}
		}
	}
}

func NewGroup(name string, lib *override.Library, things ...*Thing) *Group {
	return &Group{ID: override.ID{Name: name, Lib: lib}, Things: things}
}

func NewThing(name string, lib *override.Library) *Thing {
	return &Thing{
		ID:    override.ID{Name: name, Lib: lib},
		Scale: 1,
		Mode:  "SOLID",
		Tree:  &Tree{ID: override.ID{Name: name + "Tree", Lib: lib}},
	}
}

func NewData(name string, lib *override.Library) *Data {
	return &Data{ID: override.ID{Name: name, Lib: lib}}
}

// Library builds a linked library holding a group G of two things A and B.
// A uses data D and carries a Bevel modifier; B is parented to A.
type Library struct {
	Lib     *override.Library
	G       *Group
	A, B    *Thing
	D       *Data
	Objects []override.Entity
}

func NewLibrary(m *override.Main, name string) (*Library, error) {
	lib := &override.Library{Name: name, Path: "//" + name}
	m.AddLibrary(lib)

	l := &Library{Lib: lib}
	l.D = NewData("D", lib)
	l.D.Value = 1
	l.A = NewThing("A", lib)
	l.A.Count = 10
	l.A.Data = l.D
	l.A.Mods = []*Modifier{{Name: "Bevel", Levels: 2, Width: 0.1}}
	l.B = NewThing("B", lib)
	l.B.Parent = l.A
	l.G = NewGroup("G", lib, l.A, l.B)

	l.Objects = []override.Entity{l.G, l.A, l.B, l.D}
	for _, e := range l.Objects {
		if err := m.Add(e); err != nil {
			return nil, err
		}
	}
	return l, nil
}
