package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brunoga/override"
	"github.com/brunoga/override/rna"
)

// noneValue clears entity pointers.
const noneValue = "none"

// setValue parses raw as a YAML value and writes it to the property of e
// at path. Entity pointers take "none", "NAME" or "LIBRARY:NAME".
func (s *session) setValue(e override.Entity, path, raw string) error {
	ptr, prop, idx, err := rna.ResolvePath(rna.IDPointer(e), path)
	if err != nil {
		return err
	}

	switch {
	case prop.Type == rna.PropCollection:
		return fmt.Errorf("%s is a collection: set the properties of its items instead", path)
	case prop.Type == rna.PropPointer && prop.Flag&rna.PropEmbedded != 0:
		return fmt.Errorf("%s is owned by %s and cannot be replaced", path, e.Base())
	case prop.Type == rna.PropPointer && prop.IsIDRef():
		target, err := s.resolveTarget(prop.GoType(), raw)
		if err != nil {
			return err
		}
		return ptr.PointerSet(prop, target)
	case prop.Type == rna.PropPointer:
		return fmt.Errorf("%s is a struct: set its properties instead", path)
	}

	typ := prop.GoType()
	if idx >= 0 {
		typ = typ.Elem()
	}
	v := reflect.New(typ)
	if err := yaml.Unmarshal([]byte(raw), v.Interface()); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := checkRange(prop, v.Elem()); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if idx >= 0 {
		return ptr.SetIndex(prop, idx, v.Elem())
	}
	return ptr.Set(prop, v.Elem())
}

// checkRange rejects numbers outside of the property's hard range.
func checkRange(prop *rna.Property, v reflect.Value) error {
	if !prop.Type.IsNumeric() {
		return nil
	}
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := checkRange(prop, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}

	var f float64
	switch {
	case v.CanInt():
		f = float64(v.Int())
	case v.CanUint():
		f = float64(v.Uint())
	case v.CanFloat():
		f = v.Float()
	default:
		return nil
	}
	if !prop.InRange(f) {
		lo, hi := prop.Range()
		return fmt.Errorf("%v out of range [%v, %v]", f, lo, hi)
	}
	return nil
}

// resolveTarget finds the entity of type typ named by raw. Local entities
// win over linked ones.
func (s *session) resolveTarget(typ reflect.Type, raw string) (reflect.Value, error) {
	if raw == noneValue {
		return reflect.Value{}, nil
	}
	var kind string
	for _, info := range override.Kinds() {
		if reflect.TypeOf(info.New()) == typ {
			kind = info.Name
			break
		}
	}
	if kind == "" {
		return reflect.Value{}, fmt.Errorf("no entity kind for %v", typ)
	}

	lib, name, linked := strings.Cut(raw, ":")
	if !linked {
		name, lib = raw, ""
	}
	e, err := s.lookup(kind, name, lib)
	if err != nil && !linked {
		e, err = s.lookup(kind, name, "*")
	}
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(e), nil
}

// getValue returns the value at path as JSON. Entity pointers print as
// their names.
func getValue(e override.Entity, path string) (string, error) {
	ptr, prop, idx, err := rna.ResolvePath(rna.IDPointer(e), path)
	if err != nil {
		return "", err
	}

	var v any
	switch {
	case prop.Type == rna.PropPointer && prop.IsIDRef():
		v = noneValue
		if target, ok := ptr.PointerGet(prop).AsID(); ok {
			v = target.(override.Entity).Base().String()
		}
	case prop.Type == rna.PropCollection && idx >= 0:
		v = ptr.ItemValue(prop, idx).Interface()
	case prop.Type == rna.PropCollection && prop.IsIDRef():
		names := make([]string, ptr.Len(prop))
		for i := range names {
			names[i] = ptr.ItemValue(prop, i).Interface().(override.Entity).Base().String()
		}
		v = names
	case idx >= 0:
		v = ptr.Get(prop).Index(idx).Interface()
	default:
		v = ptr.Get(prop).Interface()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return string(data), nil
}
