package override_test

import (
	"reflect"
	"sync"
	"testing"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
	"github.com/brunoga/override/rna"
)

func TestOperationsCreateDivergence(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	if override.OperationsCreate(f.m, a) {
		t.Fatal("unmodified override should not get new rules")
	}

	a.Count = 13
	a.Mode = "WIRE"
	a.Location[1] = 2
	if !override.OperationsCreate(f.m, a) {
		t.Fatal("divergence not recorded")
	}
	for _, path := range []string{"/count", "/mode", "/location"} {
		p := a.Override.PropertyFind(path)
		if got := opKinds(p); !reflect.DeepEqual(got, []override.OpKind{override.OpReplace}) {
			t.Errorf("%s operations = %v, want [replace]", path, got)
		}
	}
	if p := a.Override.PropertyFind("/count"); p.PropType != rna.PropInt {
		t.Errorf("/count type = %s, want int", p.PropType)
	}

	// A second pass finds nothing new.
	if override.OperationsCreate(f.m, a) {
		t.Error("diff is not idempotent")
	}
	if !override.IsUserEdited(a) {
		t.Error("override with value rules should be user edited")
	}
}

func TestOperationsCreateItemPaths(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Mods[0].Levels = 4
	a.Tree.Nodes = 7
	override.OperationsCreate(f.m, a)

	for _, path := range []string{`/mods["Bevel"]/levels`, "/tree/nodes"} {
		if a.Override.PropertyFind(path) == nil {
			t.Errorf("no rule for %s, got %+v", path, a.Override.Properties)
		}
	}

	f.lib.A.Mods[0].Width = 0.5
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Mods[0].Levels != 4 || a.Mods[0].Width != 0.5 || a.Tree.Nodes != 7 {
		t.Errorf("item rules not replayed: mods[0] = %+v, tree nodes = %d", *a.Mods[0], a.Tree.Nodes)
	}
}

func TestRestoreForbidden(t *testing.T) {
	f := newFixture(t)
	f.lib.A.Label = "reference"
	_, a, _ := f.overrideGroup(t)

	a.Label = "mine"
	a.Scratch = 5
	if override.OperationsCreate(f.m, a) {
		t.Error("non overridable divergence recorded as a rule")
	}
	if a.Label != "reference" {
		t.Errorf("label = %q, want it restored", a.Label)
	}
	if a.Scratch != 5 {
		t.Error("uncompared property touched")
	}
	if a.Override.PropertyFind("/label") != nil || a.Override.PropertyFind("/scratch") != nil {
		t.Error("rules recorded for non overridable properties")
	}

	a.Label = "again"
	if !override.RestoreForbidden(f.m, a) || a.Label != "reference" {
		t.Error("RestoreForbidden did not restore the label")
	}
}

func TestNoOwnershipPointer(t *testing.T) {
	f := newFixture(t)
	_, a, b := f.overrideGroup(t)

	p := b.Override.PropertyFind("/parent")
	if p == nil || len(p.Operations) != 1 {
		t.Fatalf("parent rules = %+v", b.Override.Properties)
	}
	if p.Operations[0].Flag&override.FlagIDPointerMatchReference == 0 {
		t.Error("parent rule should match its reference")
	}

	// The pointee is never walked: its values stay with its own record.
	a.Count = 50
	override.OperationsCreate(f.m, b)
	for _, rule := range b.Override.Properties {
		if rule.Path != "/parent" {
			t.Errorf("unexpected rule %s on B", rule.Path)
		}
	}

	// Pointing somewhere else is a user edit.
	b.Parent = nil
	override.OperationsCreate(f.m, b)
	if p.Operations[0].Flag&override.FlagIDPointerMatchReference != 0 {
		t.Error("cleared pointer should not match its reference")
	}
	if !override.IsUserEdited(b) {
		t.Error("repointed override should be user edited")
	}
}

func TestUpdateKeepsRules(t *testing.T) {
	f := newFixture(t)
	_, a, b := f.overrideGroup(t)

	a.Count = 15
	override.OperationsCreate(f.m, a)

	f.lib.A.Count = 20
	f.lib.A.Scale = 3
	if err := override.MainUpdate(f.m, nil); err != nil {
		t.Fatalf("MainUpdate: %v", err)
	}
	if a.Count != 15 {
		t.Errorf("count = %d, want local 15", a.Count)
	}
	if a.Scale != 3 {
		t.Errorf("scale = %v, want reference 3", a.Scale)
	}
	if b.Parent != a {
		t.Error("pointer rule not replayed")
	}
	if !a.HasTag(override.TagRefOK) {
		t.Error("updated override not tagged as in sync")
	}
}

func TestEndToEndReset(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Count = 15
	override.OperationsCreate(f.m, a)
	f.lib.A.Count = 20
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Count != 15 {
		t.Fatalf("count after update = %d, want 15", a.Count)
	}

	if err := override.IDReset(f.m, a, false); err != nil {
		t.Fatalf("IDReset: %v", err)
	}
	if a.Count != 20 {
		t.Errorf("count after reset = %d, want 20", a.Count)
	}
	if a.Override.PropertyFind("/count") != nil {
		t.Error("rule survived the reset")
	}
}

func TestAdditiveLaw(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Count = 13
	p, _ := a.Override.PropertyGet("/count")
	p.OperationGet(override.OpAdd, override.WholeProperty(), true)

	err := override.WithStorage(f.m, []override.Entity{a}, func() error {
		storage, ok := a.Override.Storage.(*testmodels.Thing)
		if !ok {
			t.Fatalf("storage = %T", a.Override.Storage)
		}
		if storage.Count != 3 {
			t.Errorf("stored delta = %d, want 3", storage.Count)
		}
		f.lib.A.Count = 20
		return override.Update(f.m, a)
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Count != 23 {
		t.Errorf("count = %d, want 23", a.Count)
	}
	if got := opKinds(p); !reflect.DeepEqual(got, []override.OpKind{override.OpAdd}) {
		t.Errorf("operations = %v, want [add]", got)
	}
	if a.Override.Storage != nil {
		t.Error("storage still attached")
	}
}

func TestMultiplyLaw(t *testing.T) {
	f := newFixture(t)
	f.lib.A.Scale = 2
	_, a, _ := f.overrideGroup(t)

	a.Scale = 3
	p, _ := a.Override.PropertyGet("/scale")
	p.OperationGet(override.OpMultiply, override.WholeProperty(), true)

	err := override.WithStorage(f.m, []override.Entity{a}, func() error {
		f.lib.A.Scale = 4
		return override.Update(f.m, a)
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Scale != 6 {
		t.Errorf("scale = %v, want 6", a.Scale)
	}
}

func TestDeltaOutOfRangeDowngrades(t *testing.T) {
	f := newFixture(t)
	f.lib.A.Count = -90
	_, a, _ := f.overrideGroup(t)

	a.Count = 90
	p, _ := a.Override.PropertyGet("/count")
	op, _ := p.OperationGet(override.OpAdd, override.WholeProperty(), true)

	st := override.NewStorage()
	defer st.Finalize()
	storage, err := override.StoreStart(f.m, st, a)
	if err != nil {
		t.Fatal(err)
	}
	if storage != nil {
		t.Error("nothing should be stored for a downgraded operation")
	}
	if op.Kind != override.OpReplace {
		t.Errorf("operation = %s, want replace", op.Kind)
	}
	override.StoreEnd(a)

	f.lib.A.Count = 0
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Count != 90 {
		t.Errorf("count = %d, want 90", a.Count)
	}
}

func TestInsertionAnchoring(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Mods = append(a.Mods, &testmodels.Modifier{Name: "Smooth", Levels: 1})
	if !override.OperationsCreate(f.m, a) {
		t.Fatal("insertion not recorded")
	}
	p := a.Override.PropertyFind("/mods")
	if got := opKinds(p); !reflect.DeepEqual(got, []override.OpKind{override.OpInsertAfter}) {
		t.Fatalf("/mods operations = %v", got)
	}
	if op := p.Operations[0]; op.RefName != "Bevel" || op.LocalName != "Smooth" {
		t.Errorf("insertion anchored on %q for %q", op.RefName, op.LocalName)
	}

	// The reference grows a modifier in front of the anchor.
	f.lib.A.Mods = []*testmodels.Modifier{{Name: "Start"}, f.lib.A.Mods[0]}
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if got, want := modNames(a), []string{"Start", "Bevel", "Smooth"}; !reflect.DeepEqual(got, want) {
		t.Errorf("mods = %v, want %v", got, want)
	}
	if a.Mods[2].Levels != 1 {
		t.Error("inserted item content lost")
	}
	if a.Mods[0] == f.lib.A.Mods[0] {
		t.Error("items shared with the reference")
	}
}

func TestRemovedItemIsNotOverridable(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Mods = nil
	override.OperationsCreate(f.m, a)
	if a.Override.PropertyFind("/mods") != nil {
		t.Error("removal recorded as a rule")
	}
}

func TestMainOperationsCreateCleansUnusedRules(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Count = 13
	if !override.MainOperationsCreate(f.m, true) {
		t.Fatal("no rule created")
	}
	if a.Override.PropertyFind("/count") == nil {
		t.Fatal("no /count rule")
	}

	a.Count = 10
	override.MainOperationsCreate(f.m, true)
	if a.Override.PropertyFind("/count") != nil {
		t.Error("rule without divergence not cleaned up")
	}
}

func TestNotifier(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	f := newFixture(t, override.WithNotifier(override.NotifierFunc(func(e override.Entity, path string) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Base().Name+path] = true
	})))
	_, a, _ := f.overrideGroup(t)

	a.Count = 12
	override.OperationsCreate(f.m, a)
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if !seen["A/count"] {
		t.Errorf("no notification for A/count, got %v", seen)
	}
}

func TestRoundTripWithoutEdits(t *testing.T) {
	f := newFixture(t)
	f.lib.A.Visible = true
	f.lib.A.Note = "hero prop"
	f.lib.A.Weights = [3]int{4, 8, 16}
	_, a, _ := f.overrideGroup(t)

	if override.OperationsCreate(f.m, a) {
		t.Fatalf("unmodified override got rules: %+v", a.Override.Properties)
	}
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Visible != f.lib.A.Visible || a.Note != f.lib.A.Note || a.Weights != f.lib.A.Weights {
		t.Errorf("local = %v %q %v, want %v %q %v",
			a.Visible, a.Note, a.Weights, f.lib.A.Visible, f.lib.A.Note, f.lib.A.Weights)
	}

	// Later library values flow through untouched properties.
	f.lib.A.Visible = false
	f.lib.A.Note = "background"
	f.lib.A.Weights[1] = 9
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Visible || a.Note != "background" || a.Weights != [3]int{4, 9, 16} {
		t.Errorf("local = %v %q %v, want the new library values", a.Visible, a.Note, a.Weights)
	}
}

func TestDeltaApplyOutOfRange(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Count = 15
	p, _ := a.Override.PropertyGet("/count")
	p.OperationGet(override.OpAdd, override.WholeProperty(), true)

	rep := &override.Report{}
	err := override.WithStorage(f.m, []override.Entity{a}, func() error {
		f.lib.A.Count = 98
		return override.MainUpdate(f.m, rep)
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Count != 98 {
		t.Errorf("count = %d, want the reference value 98", a.Count)
	}
	if rep.Counts.Failed != 1 {
		t.Errorf("failed = %d, want 1", rep.Counts.Failed)
	}
	if len(rep.Messages) == 0 || rep.Messages[0].Level != override.LevelWarning {
		t.Errorf("messages = %+v, want a warning", rep.Messages)
	}
}

func TestDeltaApplyArrayIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.lib.A.Weights = [3]int{10, 10, 10}
	_, a, _ := f.overrideGroup(t)

	a.Weights = [3]int{20, 20, 20}
	p, _ := a.Override.PropertyGet("/weights")
	p.OperationGet(override.OpAdd, override.WholeProperty(), true)

	err := override.WithStorage(f.m, []override.Entity{a}, func() error {
		f.lib.A.Weights = [3]int{0, 250, 0}
		return override.Update(f.m, a)
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Weights != [3]int{0, 250, 0} {
		t.Errorf("weights = %v, want the reference untouched", a.Weights)
	}
}

func TestInsertionAnchorRenamed(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)

	a.Mods = append(a.Mods, &testmodels.Modifier{Name: "Smooth", Levels: 1})
	override.OperationsCreate(f.m, a)

	// The anchor is renamed in the library and another item follows it.
	f.lib.A.Mods = []*testmodels.Modifier{{Name: "Chamfer", Levels: 2}, {Name: "Tail"}}
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if got, want := modNames(a), []string{"Chamfer", "Smooth", "Tail"}; !reflect.DeepEqual(got, want) {
		t.Errorf("mods = %v, want %v", got, want)
	}
}

func TestMainOperationsCreateAutoRefresh(t *testing.T) {
	f := newFixture(t)
	_, a, b := f.overrideGroup(t)

	a.Count = 7
	a.Label = "scratch"
	a.SetTag(override.TagAutoRefresh)
	b.Count = 9

	if !override.MainOperationsCreate(f.m, false) {
		t.Fatal("tagged override not diffed")
	}
	if a.Override.PropertyFind("/count") == nil {
		t.Error("no /count rule on the tagged override")
	}
	if a.Label != f.lib.A.Label {
		t.Errorf("label = %q, want it restored from the reference", a.Label)
	}
	if b.Override.PropertyFind("/count") != nil {
		t.Error("untagged override diffed")
	}
	if a.HasTag(override.TagAutoRefresh) {
		t.Error("auto refresh tag not cleared")
	}
}
