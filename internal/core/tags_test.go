package core

import (
	"reflect"
	"testing"
)

func TestParseTag(t *testing.T) {
	type S struct {
		A int     `override:"overridable,min=-5,max=5"`
		B string  `override:"name"`
		C string  `override:"overridable,enum=BOUNDS|WIRE|SOLID"`
		D []int   `override:"overridable,insert,noname"`
		E *S      `override:"noowner,loopback,nohierarchy"`
		F float64 `override:"-"`
		G int
	}

	typ := reflect.TypeOf(S{})

	a := ParseTag(typ.Field(0))
	if !a.Overridable || !a.HasMin || a.Min != -5 || !a.HasMax || a.Max != 5 {
		t.Errorf("A tag incorrect: %+v", a)
	}

	b := ParseTag(typ.Field(1))
	if !b.Name || b.Overridable {
		t.Errorf("B tag incorrect: %+v", b)
	}

	c := ParseTag(typ.Field(2))
	if len(c.Enum) != 3 || c.Enum[1] != "WIRE" {
		t.Errorf("C tag incorrect: %+v", c)
	}

	d := ParseTag(typ.Field(3))
	if !d.Insertion || !d.NoName {
		t.Errorf("D tag incorrect: %+v", d)
	}

	e := ParseTag(typ.Field(4))
	if !e.NoOwnership || !e.Loopback || !e.NoHierarchy {
		t.Errorf("E tag incorrect: %+v", e)
	}

	if !ParseTag(typ.Field(5)).Ignore {
		t.Error("F should be ignored")
	}

	if g := ParseTag(typ.Field(6)); g.Overridable || g.Ignore {
		t.Errorf("G tag incorrect: %+v", g)
	}
}

func TestGetNameField(t *testing.T) {
	type Named struct {
		Kind string
		Name string `override:"name"`
	}
	type Unnamed struct {
		Value int
	}

	if idx, ok := GetNameField(reflect.TypeOf(&Named{})); !ok || idx != 1 {
		t.Errorf("GetNameField(Named) = %d, %v", idx, ok)
	}
	if _, ok := GetNameField(reflect.TypeOf(Unnamed{})); ok {
		t.Error("Unnamed should not have a name field")
	}
	if _, ok := GetNameField(reflect.TypeOf(1)); ok {
		t.Error("int should not have a name field")
	}
}
