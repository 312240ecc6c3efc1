package override_test

import (
	"testing"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
)

func TestHierarchyReset(t *testing.T) {
	f := newFixture(t)
	root, err := override.Create(f.m, f.lib.G, f.scene, true)
	if err != nil {
		t.Fatal(err)
	}
	g := root.(*testmodels.Group)
	a, b := f.thing(t, "A"), f.thing(t, "B")

	a.Count = 13
	a.Mods[0].Levels = 5
	override.OperationsCreate(f.m, a)

	if err := override.HierarchyReset(f.m, g, true); err != nil {
		t.Fatalf("HierarchyReset: %v", err)
	}

	if a.Count != 10 || a.Mods[0].Levels != 2 {
		t.Errorf("values not reset: count = %d, levels = %d", a.Count, a.Mods[0].Levels)
	}
	if len(a.Override.Properties) != 0 {
		t.Errorf("rules left on A: %+v", a.Override.Properties)
	}
	if b.Override.PropertyFind("/parent") == nil || b.Parent != a {
		t.Error("hierarchy pointer rule dropped")
	}
	if g.Override.PropertyFind("/things") == nil {
		t.Error("entity collection rule dropped")
	}
	for _, e := range []override.Entity{g, a, b} {
		if !override.IsSystemDefined(e) {
			t.Errorf("%s not turned back into a system override", e.Base())
		}
		if e.Base().Override.Runtime.Flag&override.RuntimeNeedsReload != 0 {
			t.Errorf("%s still needs reload", e.Base())
		}
	}
}

func TestIDResetKeepsUserPointerOut(t *testing.T) {
	f := newFixture(t)
	_, _, b := f.overrideGroup(t)

	// A pointer away from the reference hierarchy is a user rule.
	b.Parent = nil
	override.OperationsCreate(f.m, b)
	if err := override.IDReset(f.m, b, false); err != nil {
		t.Fatalf("IDReset: %v", err)
	}
	if b.Override.PropertyFind("/parent") != nil {
		t.Error("user pointer rule kept")
	}
	if b.Parent != f.lib.A {
		t.Errorf("parent = %v, want the reference pointee", b.Parent)
	}
}

func TestIDResetNoop(t *testing.T) {
	f := newFixture(t)
	if err := override.IDReset(f.m, f.lib.A, false); err != nil {
		t.Errorf("IDReset(linked) = %v", err)
	}
	_, a, _ := f.overrideGroup(t)
	a.Scratch = 3
	if err := override.IDReset(f.m, a, false); err != nil {
		t.Fatal(err)
	}
	if a.Scratch != 3 {
		t.Error("override without rules reloaded")
	}
}
