package override_test

import (
	"errors"
	"testing"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
)

func TestRecordsRoundTrip(t *testing.T) {
	f := newFixture(t)
	g, a, b := f.overrideGroup(t)
	a.Mode = "WIRE"
	override.OperationsCreate(f.m, a)

	data, err := override.MarshalRecords(f.m)
	if err != nil {
		t.Fatalf("MarshalRecords: %v", err)
	}
	for _, e := range []override.Entity{g, a, b} {
		override.Free(e)
	}

	rep := &override.Report{}
	if err := override.UnmarshalRecords(f.m, data, rep); err != nil {
		t.Fatalf("UnmarshalRecords: %v", err)
	}

	if a.Override == nil || a.Override.Reference != f.lib.A || a.Override.HierarchyRoot != g {
		t.Fatalf("A record = %+v", a.Override)
	}
	if a.HasTag(override.TagRefOK) {
		t.Error("restored record should need an update")
	}
	if got := opKinds(a.Override.PropertyFind("/mode")); len(got) != 1 || got[0] != override.OpReplace {
		t.Errorf("/mode operations = %v", got)
	}

	p := g.Override.PropertyFind("/things")
	if p == nil || len(p.Operations) != 2 {
		t.Fatalf("group rules = %+v", g.Override.Properties)
	}
	op := p.Operations[0]
	if op.RefID != f.lib.A || op.LocalID != a || op.RefName != "A" {
		t.Errorf("item operation = %+v", op)
	}
	if op.Flag&override.FlagIDPointerMatchReference == 0 {
		t.Error("operation flags lost")
	}
	if !override.IsSystemDefined(g) {
		t.Error("record flags lost")
	}

	// The restored rules still drive updates.
	f.lib.A.Mode = "SOLID"
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Mode != "WIRE" {
		t.Errorf("mode = %q, want WIRE", a.Mode)
	}
}

func TestRecordsKeepDeltas(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.overrideGroup(t)
	a.Count = 13
	p, _ := a.Override.PropertyGet("/count")
	p.OperationGet(override.OpAdd, override.WholeProperty(), true)

	var doc *override.RecordDoc
	err := override.WithStorage(f.m, []override.Entity{a}, func() error {
		var err error
		doc, err = override.EncodeRecord(a)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Properties) != 1 || len(doc.Properties[0].Deltas) != 1 || doc.Properties[0].Deltas[0] != 3 {
		t.Fatalf("encoded properties = %+v", doc.Properties)
	}

	override.Free(a)
	if _, err := override.DecodeRecord(f.m, doc); err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	storage, ok := a.Override.Storage.(*testmodels.Thing)
	if !ok || storage.Count != 3 {
		t.Fatalf("storage = %+v", a.Override.Storage)
	}

	f.lib.A.Count = 20
	if err := override.Update(f.m, a); err != nil {
		t.Fatal(err)
	}
	if a.Count != 23 {
		t.Errorf("count = %d, want 23", a.Count)
	}
}

func TestUnmarshalRecordsErrors(t *testing.T) {
	f := newFixture(t)

	if err := override.UnmarshalRecords(f.m, []byte("{"), nil); err == nil {
		t.Error("invalid document accepted")
	}

	rep := &override.Report{}
	err := override.UnmarshalRecords(f.m, []byte(`[{"e":{"k":"Nope","n":"x"}},{"e":{"k":"Thing","n":"missing"}}]`), rep)
	if err == nil {
		t.Fatal("unknown entities accepted")
	}
	if !errors.Is(err, override.ErrNotInMain) {
		t.Errorf("error = %v, want it to wrap ErrNotInMain", err)
	}
	if len(rep.Messages) != 2 || !rep.HasErrors() {
		t.Errorf("report = %v", rep)
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	ref := override.RefOf(f.lib.A)
	if ref.Kind != "Thing" || ref.Name != "A" || ref.Library != "lib.blend" {
		t.Errorf("RefOf = %+v", ref)
	}
	e, err := f.m.Resolve(ref)
	if err != nil || e != f.lib.A {
		t.Errorf("Resolve = %v, %v", e, err)
	}
	if e, err := f.m.Resolve(nil); e != nil || err != nil {
		t.Error("nil reference should resolve to nothing")
	}
	if _, err := f.m.Resolve(&override.EntityRef{Kind: "Thing", Name: "A", Library: "other"}); !errors.Is(err, override.ErrNotInMain) {
		t.Errorf("unknown library error = %v", err)
	}
}
