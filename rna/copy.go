package rna

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mitchellh/copystructure"
)

var entityPointerCache sync.Map // map[reflect.Type]map[reflect.Type]struct{}

// entityPointerTypes collects every entity pointer type reachable from t.
func entityPointerTypes(t reflect.Type) map[reflect.Type]struct{} {
	if cached, ok := entityPointerCache.Load(t); ok {
		return cached.(map[reflect.Type]struct{})
	}

	found := make(map[reflect.Type]struct{})
	seen := make(map[reflect.Type]bool)
	var visit func(reflect.Type)
	visit = func(t reflect.Type) {
		if seen[t] {
			return
		}
		seen[t] = true
		switch t.Kind() {
		case reflect.Pointer:
			if IsIDType(t) {
				found[t] = struct{}{}
			}
			visit(t.Elem())
		case reflect.Slice, reflect.Array:
			visit(t.Elem())
		case reflect.Map:
			visit(t.Key())
			visit(t.Elem())
		case reflect.Struct:
			for i := 0; i < t.NumField(); i++ {
				if t.Field(i).IsExported() {
					visit(t.Field(i).Type)
				}
			}
		}
	}
	visit(t)

	actual, _ := entityPointerCache.LoadOrStore(t, found)
	return actual.(map[reflect.Type]struct{})
}

// Copy deep copies the struct addressed by v (a struct or a pointer to one)
// and returns a pointer to the copy. Pointers to entities and to the extra
// types are shared with the original instead of being copied.
func Copy(v reflect.Value, extra ...reflect.Type) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("rna: cannot copy nil %v", v.Type())
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("rna: cannot copy %v", v.Type())
	}

	shallow := make(map[reflect.Type]struct{})
	for t := range entityPointerTypes(v.Type()) {
		shallow[t] = struct{}{}
	}
	for _, t := range extra {
		shallow[t] = struct{}{}
	}

	cfg := copystructure.Config{ShallowCopiers: shallow}
	dup, err := cfg.Copy(v.Interface())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("rna: copy %v: %w", v.Type(), err)
	}
	out := reflect.New(v.Type())
	out.Elem().Set(reflect.ValueOf(dup))

	// Embedded entities belong to their owner and are duplicated with it.
	for _, prop := range StructProperties(v.Type()) {
		if prop.Flag&PropEmbedded == 0 {
			continue
		}
		f := out.Elem().Field(prop.field)
		if f.IsNil() {
			continue
		}
		sub, err := Copy(f, extra...)
		if err != nil {
			return reflect.Value{}, err
		}
		f.Set(sub)
	}
	return out, nil
}

// CopyItem copies a collection item or pointer target value, keeping the
// shape of the raw value (pointer or struct).
func CopyItem(item reflect.Value) (reflect.Value, error) {
	if item.Kind() == reflect.Pointer {
		if item.IsNil() || IsIDType(item.Type()) {
			return item, nil
		}
		return Copy(item)
	}
	dup, err := Copy(item)
	if err != nil {
		return reflect.Value{}, err
	}
	return dup.Elem(), nil
}
