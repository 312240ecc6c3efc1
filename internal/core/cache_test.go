package core

import (
	"reflect"
	"testing"
)

func TestGetTypeInfo(t *testing.T) {
	type S struct {
		A int    `json:"alpha"`
		B string `override:"-"`
		c int
	}

	info := GetTypeInfo(reflect.TypeOf(S{}))
	if len(info.Fields) != 2 {
		t.Fatalf("Expected 2 exported fields, got %d", len(info.Fields))
	}

	if info.Fields[0].Identifier != "alpha" || info.Fields[0].Tag.Ignore {
		t.Errorf("Field A incorrect: %+v", info.Fields[0])
	}

	if info.Fields[1].Identifier != "B" || !info.Fields[1].Tag.Ignore {
		t.Errorf("Field B incorrect: %+v", info.Fields[1])
	}

	if f, ok := info.FieldByIdentifier("A"); !ok || f.Index != 0 {
		t.Errorf("FieldByIdentifier(A) = %+v, %v", f, ok)
	}

	info2 := GetTypeInfo(reflect.TypeOf(S{}))
	if info != info2 {
		t.Errorf("Expected same info pointer for same type (cache hit)")
	}
}
