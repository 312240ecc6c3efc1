package override_test

import (
	"reflect"
	"testing"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
)

func names(es []override.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Base().String()
	}
	return out
}

func TestOrderDependenciesFirst(t *testing.T) {
	f := newFixture(t)
	z := testmodels.NewThing("Z", nil)
	if err := f.m.Add(z); err != nil {
		t.Fatal(err)
	}

	got := names(override.Order(f.m))
	want := []string{"Scene", "Z", "lib.blend:D", "lib.blend:A", "lib.blend:B", "lib.blend:G"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Order = %v, want %v", got, want)
	}
}

func TestOrderCycles(t *testing.T) {
	m := override.NewMain()
	x, y := testmodels.NewThing("X", nil), testmodels.NewThing("Y", nil)
	x.Parent, y.Parent = y, x
	d := testmodels.NewData("D", nil)
	x.Data = d
	for _, e := range []override.Entity{y, x, d} {
		if err := m.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	got := names(override.Order(m))
	want := []string{"D", "X", "Y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Order = %v, want %v", got, want)
	}
}
