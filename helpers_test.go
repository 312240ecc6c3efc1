package override_test

import (
	"testing"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
)

// fixture is a Main holding the test library and a local scene group.
type fixture struct {
	m     *override.Main
	lib   *testmodels.Library
	scene *testmodels.Group
}

func newFixture(t testing.TB, opts ...override.Option) *fixture {
	t.Helper()
	m := override.NewMain(opts...)
	lib, err := testmodels.NewLibrary(m, "lib.blend")
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	scene := testmodels.NewGroup("Scene", nil)
	if err := m.Add(scene); err != nil {
		t.Fatalf("Add(scene): %v", err)
	}
	return &fixture{m: m, lib: lib, scene: scene}
}

// overrideGroup creates the hierarchy of the library group and returns the
// overrides of G, A and B.
func (f *fixture) overrideGroup(t testing.TB) (*testmodels.Group, *testmodels.Thing, *testmodels.Thing) {
	t.Helper()
	root, err := override.Create(f.m, f.lib.G, f.scene, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	g, ok := root.(*testmodels.Group)
	if !ok {
		t.Fatalf("root override is %T", root)
	}
	return g, f.thing(t, "A"), f.thing(t, "B")
}

// thing returns the local override named name.
func (f *fixture) thing(t testing.TB, name string) *testmodels.Thing {
	t.Helper()
	e := f.m.Find(testmodels.KindThing, name, nil)
	if e == nil {
		t.Fatalf("no local thing %s", name)
	}
	return e.(*testmodels.Thing)
}

func (f *fixture) group(t testing.TB, name string) *testmodels.Group {
	t.Helper()
	e := f.m.Find(testmodels.KindGroup, name, nil)
	if e == nil {
		t.Fatalf("no local group %s", name)
	}
	return e.(*testmodels.Group)
}

func opKinds(p *override.Property) []override.OpKind {
	if p == nil {
		return nil
	}
	kinds := make([]override.OpKind, len(p.Operations))
	for i, op := range p.Operations {
		kinds[i] = op.Kind
	}
	return kinds
}

func modNames(th *testmodels.Thing) []string {
	names := make([]string, len(th.Mods))
	for i, mod := range th.Mods {
		names[i] = mod.Name
	}
	return names
}
