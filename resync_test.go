package override_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
)

func TestResyncPicksUpNewData(t *testing.T) {
	f := newFixture(t)
	g, a, _ := f.overrideGroup(t)

	a.Count = 13
	override.OperationsCreate(f.m, a)

	c := testmodels.NewThing("C", f.lib.Lib)
	if err := f.m.Add(c); err != nil {
		t.Fatal(err)
	}
	f.lib.G.Things = append(f.lib.G.Things, c)

	rep := &override.Report{}
	root, err := override.Resync(f.m, g, nil, override.ResyncOptions{Instancer: f.scene, Report: rep})
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}

	if root == g || f.m.Contains(g) {
		t.Fatal("old root still in main")
	}
	if g.Override != nil {
		t.Error("old root record not freed")
	}
	ng := root.(*testmodels.Group)
	if ng.Name != "G" {
		t.Errorf("new root name = %q, want G", ng.Name)
	}

	refs := []*testmodels.Thing{f.lib.A, f.lib.B, c}
	if len(ng.Things) != len(refs) {
		t.Fatalf("group things = %v, want %d overrides", ng.Things, len(refs))
	}
	for i, th := range ng.Things {
		if !th.IsRealOverride() || th.Override.Reference != refs[i] {
			t.Errorf("things[%d] = %s is not the override of %s", i, th.Base(), refs[i].Base())
		}
		if th.Override.HierarchyRoot != ng {
			t.Errorf("things[%d] hierarchy root = %v", i, th.Override.HierarchyRoot)
		}
	}

	na, nb := f.thing(t, "A"), f.thing(t, "B")
	if na.Count != 13 || na.Override.PropertyFind("/count") == nil {
		t.Errorf("user edit lost: count = %d", na.Count)
	}
	if nb.Parent != na {
		t.Error("new overrides not linked to each other")
	}
	if len(f.scene.Children) != 1 || f.scene.Children[0] != ng {
		t.Errorf("scene children = %v", f.scene.Children)
	}
	if rep.Counts.Resynced != 1 || rep.Counts.Applied == 0 {
		t.Errorf("counts = %+v", rep.Counts)
	}
}

func TestResyncDeletesMissingOverrides(t *testing.T) {
	f := newFixture(t)
	g, _, b := f.overrideGroup(t)

	// Placeholders for missing data carry no links.
	f.lib.B.Parent = nil
	f.lib.B.SetTag(override.TagMissing)

	rep := &override.Report{}
	if _, err := override.Resync(f.m, g, nil, override.ResyncOptions{Report: rep}); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if f.m.Contains(b) {
		t.Error("unedited override of missing data kept")
	}
	if rep.Counts.Missing != 1 || rep.Counts.Deleted == 0 {
		t.Errorf("counts = %+v", rep.Counts)
	}
}

func TestResyncParksEditedMissingOverrides(t *testing.T) {
	f := newFixture(t)
	g, a, _ := f.overrideGroup(t)
	a.Count = 13
	override.OperationsCreate(f.m, a)

	f.lib.A.Data = nil
	f.lib.A.Mods = nil
	f.lib.A.SetTag(override.TagMissing)

	residual := testmodels.NewGroup("Leftovers", nil)
	if err := f.m.Add(residual); err != nil {
		t.Fatal(err)
	}
	rep := &override.Report{}
	if _, err := override.Resync(f.m, g, residual, override.ResyncOptions{Report: rep}); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	if !f.m.Contains(a) {
		t.Fatal("user edited override deleted")
	}
	if a.Flag&override.FlagResyncLeftover == 0 {
		t.Error("parked override not flagged")
	}
	if len(residual.Things) != 1 || residual.Things[0] != a {
		t.Errorf("residual things = %v", residual.Things)
	}
	if rep.Counts.Residual != 1 || rep.Counts.Missing != 1 {
		t.Errorf("counts = %+v", rep.Counts)
	}
	warned := false
	for _, msg := range rep.Messages {
		warned = warned || msg.Level == override.LevelWarning
	}
	if !warned {
		t.Errorf("no warning in %v", rep.Messages)
	}
}

func TestResyncObsoleteOverrides(t *testing.T) {
	t.Run("unedited are deleted", func(t *testing.T) {
		f := newFixture(t)
		g, _, b := f.overrideGroup(t)

		f.lib.B.Parent = nil
		f.lib.G.Things = f.lib.G.Things[:1]

		rep := &override.Report{}
		if _, err := override.Resync(f.m, g, nil, override.ResyncOptions{Report: rep}); err != nil {
			t.Fatalf("Resync: %v", err)
		}
		if f.m.Contains(b) || f.m.Find(testmodels.KindThing, "B", nil) != nil {
			t.Error("obsolete override kept")
		}
		if rep.Counts.Deleted != 1 {
			t.Errorf("deleted = %d, want 1", rep.Counts.Deleted)
		}
	})

	t.Run("edited are kept", func(t *testing.T) {
		f := newFixture(t)
		g, _, b := f.overrideGroup(t)
		b.Count = 7
		override.OperationsCreate(f.m, b)

		f.lib.B.Parent = nil
		f.lib.G.Things = f.lib.G.Things[:1]

		root, err := override.Resync(f.m, g, nil, override.ResyncOptions{Instancer: f.scene})
		if err != nil {
			t.Fatalf("Resync: %v", err)
		}
		nb := f.thing(t, "B")
		if nb.Count != 7 || nb.Override.Reference != f.lib.B {
			t.Errorf("edited override lost: %+v", nb)
		}
		if len(root.(*testmodels.Group).Things) != 1 {
			t.Error("obsolete override still in the group")
		}

		// Nothing holds it anymore: it is instantiated in a hidden group.
		hidden := f.m.Find(testmodels.KindGroup, override.HiddenContainerName, nil)
		if hidden == nil {
			t.Fatal("no hidden container")
		}
		if things := hidden.(*testmodels.Group).Things; len(things) != 1 || things[0] != nb {
			t.Errorf("hidden things = %v", things)
		}
	})
}

func TestResyncHierarchyEnforce(t *testing.T) {
	for _, enforce := range []bool{false, true} {
		f := newFixture(t)
		g, _, b := f.overrideGroup(t)
		b.Parent = nil
		override.OperationsCreate(f.m, b)

		if _, err := override.Resync(f.m, g, nil, override.ResyncOptions{HierarchyEnforce: enforce}); err != nil {
			t.Fatalf("Resync(enforce=%v): %v", enforce, err)
		}
		na, nb := f.thing(t, "A"), f.thing(t, "B")
		if enforce && nb.Parent != na {
			t.Errorf("enforced resync should follow the reference, parent = %v", nb.Parent)
		}
		if !enforce && nb.Parent != nil {
			t.Errorf("resync should keep the user pointer, parent = %v", nb.Parent)
		}
	}
}

func TestResyncErrors(t *testing.T) {
	f := newFixture(t)
	if _, err := override.Resync(f.m, f.lib.G, nil, override.ResyncOptions{}); !errors.Is(err, override.ErrNotOverride) {
		t.Errorf("Resync(linked) error = %v, want ErrNotOverride", err)
	}

	g, _, _ := f.overrideGroup(t)
	f.lib.G.SetTag(override.TagMissing)
	rep := &override.Report{}
	_, err := override.Resync(f.m, g, nil, override.ResyncOptions{Report: rep})
	if !errors.Is(err, override.ErrMissingReference) {
		t.Errorf("Resync(missing) error = %v, want ErrMissingReference", err)
	}
	if !rep.HasErrors() {
		t.Error("missing reference not reported")
	}
	if !f.m.Contains(g) {
		t.Error("failed resync touched the hierarchy")
	}
}

func TestMainResync(t *testing.T) {
	f := newFixture(t)
	g, a, _ := f.overrideGroup(t)
	a.Count = 13
	override.OperationsCreate(f.m, a)

	c := testmodels.NewThing("C", f.lib.Lib)
	if err := f.m.Add(c); err != nil {
		t.Fatal(err)
	}
	f.lib.G.Things = append(f.lib.G.Things, c)
	g.SetTag(override.TagNeedResync)

	rep := &override.Report{}
	if err := override.MainResync(f.m, f.scene, rep); err != nil {
		t.Fatalf("MainResync: %v", err)
	}

	ng := f.group(t, "G")
	if ng == g {
		t.Fatal("hierarchy not resynced")
	}
	if len(ng.Things) != 3 {
		t.Fatalf("group things = %v", ng.Things)
	}
	for _, th := range ng.Things {
		if !th.IsRealOverride() {
			t.Errorf("%s is not an override", th.Base())
		}
	}
	if f.thing(t, "A").Count != 13 {
		t.Error("user edit lost")
	}
	if ng.HasTag(override.TagNeedResync) {
		t.Error("resync tag left on the new root")
	}
	if f.m.Find(testmodels.KindGroup, override.DefaultResidualName, nil) != nil {
		t.Error("empty residual container kept")
	}
	for _, child := range f.scene.Children {
		if child.Name == override.DefaultResidualName {
			t.Error("empty residual container still instantiated")
		}
	}
	if rep.Counts.Resynced != 1 {
		t.Errorf("counts = %+v", rep.Counts)
	}
	if f.lib.Lib.Level != 1 {
		t.Errorf("library level = %d, want 1", f.lib.Lib.Level)
	}
}

func TestMainResyncLibraryLevels(t *testing.T) {
	f := newFixture(t)
	lib2 := &override.Library{Name: "lib2.blend"}
	f.m.AddLibrary(lib2)
	d2 := testmodels.NewData("D2", lib2)
	if err := f.m.Add(d2); err != nil {
		t.Fatal(err)
	}
	f.lib.A.Data = d2

	if err := override.MainResync(f.m, nil, &override.Report{}); err != nil {
		t.Fatalf("MainResync: %v", err)
	}
	if f.lib.Lib.Level != 1 || lib2.Level != 2 {
		t.Errorf("levels = %d, %d, want 1, 2", f.lib.Lib.Level, lib2.Level)
	}

	// Libraries using each other never settle.
	x := testmodels.NewThing("X", lib2)
	x.Parent = f.lib.A
	if err := f.m.Add(x); err != nil {
		t.Fatal(err)
	}
	rep := &override.Report{}
	err := override.MainResync(f.m, nil, rep)
	if !errors.Is(err, override.ErrLibraryLevel) {
		t.Errorf("MainResync(loop) error = %v, want ErrLibraryLevel", err)
	}
	if !rep.HasErrors() {
		t.Error("library loop not reported")
	}
}

func TestResyncAmbiguousReferenceFirstWins(t *testing.T) {
	f := newFixture(t)
	g, a, _ := f.overrideGroup(t)

	// A second override of A joins the hierarchy after the first one.
	e, err := override.CreateFromID(f.m, f.lib.A, false)
	if err != nil {
		t.Fatal(err)
	}
	dup := e.(*testmodels.Thing)
	dup.Override.Flag &^= override.RecordNoHierarchy
	dup.Override.HierarchyRoot = g
	g.Things = append(g.Things, dup)

	a.Count = 5
	dup.Count = 7
	override.OperationsCreate(f.m, a)
	override.OperationsCreate(f.m, dup)

	rep := &override.Report{}
	if _, err := override.Resync(f.m, g, nil, override.ResyncOptions{Report: rep}); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	na := f.thing(t, "A")
	if na == a || na == dup {
		t.Fatal("A was not rebuilt")
	}
	if na.Count != 5 {
		t.Errorf("count = %d, want the rules of the first override (5)", na.Count)
	}
	if !f.m.Contains(dup) || dup.Flag&override.FlagResyncLeftover == 0 {
		t.Error("the other user-edited override should be kept as a leftover")
	}
	if dup.Count != 7 {
		t.Errorf("leftover count = %d, want 7", dup.Count)
	}
	if rep.Counts.Residual != 1 {
		t.Errorf("residual = %d, want 1", rep.Counts.Residual)
	}
}

func TestResyncHandsOverSessionIdentity(t *testing.T) {
	f := newFixture(t)
	g, a, _ := f.overrideGroup(t)
	rootUID, aUID := g.SessionUID, a.SessionUID
	if rootUID == uuid.Nil || f.m.FindUID(rootUID) != g {
		t.Fatal("root has no session identity")
	}

	root, err := override.Resync(f.m, g, nil, override.ResyncOptions{})
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if root == g {
		t.Fatal("root not replaced")
	}
	if got := f.m.FindUID(rootUID); got != root {
		t.Errorf("FindUID(root) = %v, want the new root", got)
	}
	if got := f.m.FindUID(aUID); got != f.thing(t, "A") {
		t.Errorf("FindUID(A) = %v, want the new override of A", got)
	}
	if g.SessionUID != uuid.Nil {
		t.Error("replaced root kept its identity")
	}
	if f.m.FindUID(uuid.Nil) != nil {
		t.Error("nil identity resolved")
	}
}
