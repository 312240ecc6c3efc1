package core

import (
	"reflect"
	"testing"
)

func TestConvertValue(t *testing.T) {
	tests := []struct {
		val      any
		target   any
		expected any
	}{
		{int(1), int64(0), int64(1)},
		{float64(1.0), int(0), int(1)},
		// numbers never turn into runes
		{65, "", 65},
		{true, "", true},
		{[]any{1.0, 2.0, 3.0}, [3]float64{}, [3]float64{1, 2, 3}},
		{[]any{1, 2}, []int{}, []int{1, 2}},
	}

	for _, tt := range tests {
		val := reflect.ValueOf(tt.val)
		targetType := reflect.TypeOf(tt.target)
		got := ConvertValue(val, targetType)
		if !reflect.DeepEqual(got.Interface(), tt.expected) {
			t.Errorf("ConvertValue(%v, %v) = %v, want %v", tt.val, targetType, got.Interface(), tt.expected)
		}
	}
}

func TestSetValue(t *testing.T) {
	var i int
	if err := SetValue(reflect.ValueOf(&i).Elem(), reflect.ValueOf(float64(7))); err != nil || i != 7 {
		t.Errorf("SetValue int = %d, %v", i, err)
	}

	var p *int
	if err := SetValue(reflect.ValueOf(&p).Elem(), reflect.ValueOf(3)); err != nil || p == nil || *p != 3 {
		t.Errorf("SetValue through nil pointer failed: %v", err)
	}

	if err := SetValue(reflect.ValueOf(i), reflect.ValueOf(1)); err == nil {
		t.Error("SetValue on unaddressable value should fail")
	}
}

func TestFloatHelpers(t *testing.T) {
	var u uint8
	v := reflect.ValueOf(&u).Elem()
	if err := SetFloat(v, 4.6); err != nil || u != 5 {
		t.Errorf("SetFloat uint8 = %d, %v", u, err)
	}
	if err := SetFloat(v, -1); err == nil {
		t.Error("negative value into uint should fail")
	}
	if f, ok := Float(v); !ok || f != 5 {
		t.Errorf("Float = %v, %v", f, ok)
	}
	if _, ok := Float(reflect.ValueOf("x")); ok {
		t.Error("Float of string should fail")
	}
	if lo, hi := KindRange(reflect.Int8); lo != -128 || hi != 127 {
		t.Errorf("KindRange(int8) = %v, %v", lo, hi)
	}
}

func TestScalarEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{1, 1, true},
		{1, 2, false},
		{"a", "a", true},
		{[3]float64{1, 2, 3}, [3]float64{1, 2, 3}, true},
		{[3]float64{1, 2, 3}, [3]float64{1, 2, 4}, false},
		{[]int{}, []int(nil), true},
		{[]int{1}, []int{1, 2}, false},
		{int32(1), int64(1), false},
	}
	for _, tt := range tests {
		if got := ScalarEqual(reflect.ValueOf(tt.a), reflect.ValueOf(tt.b)); got != tt.want {
			t.Errorf("ScalarEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
