package override_test

import (
	"fmt"
	"testing"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/testmodels"
)

// bigFixture adds size more things to the library group and overrides the
// whole hierarchy.
func bigFixture(b *testing.B, size int) (*fixture, *testmodels.Group) {
	f := newFixture(b)
	for i := 0; i < size; i++ {
		th := testmodels.NewThing(fmt.Sprintf("T%d", i), f.lib.Lib)
		th.Parent = f.lib.A
		th.Mods = []*testmodels.Modifier{{Name: "Bevel", Levels: 1}}
		if err := f.m.Add(th); err != nil {
			b.Fatal(err)
		}
		f.lib.G.Things = append(f.lib.G.Things, th)
	}
	g, _, _ := f.overrideGroup(b)
	return f, g
}

func BenchmarkMainOperationsCreate(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("Size%d", size), func(b *testing.B) {
			f, g := bigFixture(b, size)
			for _, th := range g.Things {
				th.Count = 42
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				override.MainOperationsCreate(f.m, true)
			}
		})
	}
}

func BenchmarkMainUpdate(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("Size%d", size), func(b *testing.B) {
			f, g := bigFixture(b, size)
			for _, th := range g.Things {
				th.Location[0] = 2
			}
			override.MainOperationsCreate(f.m, true)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := override.MainUpdate(f.m, nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkCopyEntity(b *testing.B) {
	f := newFixture(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := override.CopyEntity(f.lib.A); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeRecords(b *testing.B) {
	f, _ := bigFixture(b, 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := override.MarshalRecords(f.m); err != nil {
			b.Fatal(err)
		}
	}
}
