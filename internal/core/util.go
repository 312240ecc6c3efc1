package core

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

func ConvertValue(v reflect.Value, targetType reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(targetType)
	}

	if v.Type() == targetType || v.Type().AssignableTo(targetType) {
		return v
	}

	if v.Kind() == reflect.Interface && !v.IsNil() {
		return ConvertValue(v.Elem(), targetType)
	}

	if v.Type().ConvertibleTo(targetType) {
		switch {
		case isNumberKind(v.Kind()) && !isNumberKind(targetType.Kind()):
			// int -> string conversions yield runes, never what a decoder meant.
		default:
			return v.Convert(targetType)
		}
	}

	// Decoded documents hand out []any for fixed size arrays.
	if (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) &&
		(targetType.Kind() == reflect.Array || targetType.Kind() == reflect.Slice) {
		n := v.Len()
		var out reflect.Value
		if targetType.Kind() == reflect.Array {
			out = reflect.New(targetType).Elem()
			if n > targetType.Len() {
				n = targetType.Len()
			}
		} else {
			out = reflect.MakeSlice(targetType, n, n)
		}
		for i := 0; i < n; i++ {
			out.Index(i).Set(ConvertValue(v.Index(i), targetType.Elem()))
		}
		return out
	}

	// Handle map -> struct (decoded documents)
	if v.Kind() == reflect.Map && targetType.Kind() == reflect.Struct {
		if v.Type().Key().Kind() == reflect.String {
			data, err := json.Marshal(v.Interface())
			if err == nil {
				newStruct := reflect.New(targetType)
				if err := json.Unmarshal(data, newStruct.Interface()); err == nil {
					return newStruct.Elem()
				}
			}
		}
	}

	return v
}

// SetValue assigns newVal to v, converting and allocating intermediate
// pointers as needed.
func SetValue(v, newVal reflect.Value) error {
	if !v.CanSet() {
		return fmt.Errorf("value of type %v is not settable", v.Type())
	}
	if !newVal.IsValid() {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}

	target := v
	for target.Kind() == reflect.Pointer && target.Type() != newVal.Type() {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}

	converted := ConvertValue(newVal, target.Type())
	if !converted.Type().AssignableTo(target.Type()) {
		return fmt.Errorf("cannot assign %v to %v", newVal.Type(), target.Type())
	}
	target.Set(converted)
	return nil
}

func Dereference(v reflect.Value) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("path traversal failed: nil pointer/interface")
		}
		v = v.Elem()
	}
	return v, nil
}

func isNumberKind(k reflect.Kind) bool {
	return IsIntKind(k) || IsFloatKind(k)
}

func IsIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func IsFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// IsScalarKind reports whether values of kind k are compared and replaced as
// a whole.
func IsScalarKind(k reflect.Kind) bool {
	return k == reflect.Bool || k == reflect.String || isNumberKind(k)
}

// Float reads any numeric value as a float64.
func Float(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}

// SetFloat writes f into a numeric value, rounding for integer kinds.
func SetFloat(v reflect.Value, f float64) error {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(math.Round(f)))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if f < 0 {
			return fmt.Errorf("negative value %v for %v", f, v.Type())
		}
		v.SetUint(uint64(math.Round(f)))
	case reflect.Float32, reflect.Float64:
		v.SetFloat(f)
	default:
		return fmt.Errorf("cannot store number in %v", v.Type())
	}
	return nil
}

// KindRange is the representable range of a numeric kind.
func KindRange(k reflect.Kind) (float64, float64) {
	switch k {
	case reflect.Int8:
		return math.MinInt8, math.MaxInt8
	case reflect.Int16:
		return math.MinInt16, math.MaxInt16
	case reflect.Int32:
		return math.MinInt32, math.MaxInt32
	case reflect.Int, reflect.Int64:
		return math.MinInt64, math.MaxInt64
	case reflect.Uint8:
		return 0, math.MaxUint8
	case reflect.Uint16:
		return 0, math.MaxUint16
	case reflect.Uint32:
		return 0, math.MaxUint32
	case reflect.Uint, reflect.Uint64:
		return 0, math.MaxUint64
	case reflect.Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}
