package rna

import (
	"fmt"
	"reflect"

	"github.com/brunoga/override/internal/core"
)

// Pointer addresses a struct instance owned by an entity. A Pointer with an
// invalid Data value is null.
type Pointer struct {
	Owner ID
	Data  reflect.Value
}

// NewPointer wraps data, a struct or pointer to struct, as owned by owner.
func NewPointer(owner ID, data any) Pointer {
	if v, ok := data.(reflect.Value); ok {
		return pointerFromValue(owner, v)
	}
	return pointerFromValue(owner, reflect.ValueOf(data))
}

// IDPointer addresses an entity's own data.
func IDPointer(id ID) Pointer {
	return NewPointer(id, id)
}

func pointerFromValue(owner ID, v reflect.Value) Pointer {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return Pointer{Owner: owner}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return Pointer{Owner: owner}
	}
	return Pointer{Owner: owner, Data: v}
}

func (p Pointer) IsNull() bool {
	return !p.Data.IsValid()
}

func (p Pointer) Type() reflect.Type {
	if p.IsNull() {
		return nil
	}
	return p.Data.Type()
}

// Identity is the address of the addressed struct, 0 when null.
func (p Pointer) Identity() uintptr {
	if p.IsNull() || !p.Data.CanAddr() {
		return 0
	}
	return p.Data.Addr().Pointer()
}

// AsID returns the addressed data as an entity when it is one.
func (p Pointer) AsID() (ID, bool) {
	if p.IsNull() || !p.Data.CanAddr() {
		return nil, false
	}
	id, ok := p.Data.Addr().Interface().(ID)
	return id, ok
}

func (p Pointer) IsID() bool {
	_, ok := p.AsID()
	return ok
}

func (p Pointer) Properties() []*Property {
	if p.IsNull() {
		return nil
	}
	return StructProperties(p.Data.Type())
}

func (p Pointer) FindProperty(identifier string) *Property {
	for _, prop := range p.Properties() {
		if prop.Identifier == identifier {
			return prop
		}
	}
	return nil
}

// Name returns the value of the name property of the addressed struct: the
// entity name for entities, the field tagged `name` otherwise.
func (p Pointer) Name() (string, bool) {
	if id, ok := p.AsID(); ok {
		return id.IDName(), true
	}
	if p.IsNull() {
		return "", false
	}
	if idx, ok := core.GetNameField(p.Data.Type()); ok {
		return p.Data.Field(idx).String(), true
	}
	return "", false
}

// HasNameProperty reports whether items of the addressed type carry a name.
func HasNameProperty(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if IsIDType(reflect.PointerTo(t)) {
		return true
	}
	_, ok := core.GetNameField(t)
	return ok
}

func (p Pointer) field(prop *Property) reflect.Value {
	return p.Data.Field(prop.field)
}

// Get returns the value of a scalar or array property.
func (p Pointer) Get(prop *Property) reflect.Value {
	return p.field(prop)
}

// Set assigns v to a scalar or array property.
func (p Pointer) Set(prop *Property, v reflect.Value) error {
	f := p.field(prop)
	if !f.CanSet() {
		return fmt.Errorf("%w: %s", ErrNotSettable, prop.Identifier)
	}
	if prop.Type == PropEnum && v.Kind() == reflect.String && !enumContains(prop.EnumItems, v.String()) {
		return fmt.Errorf("rna: %q is not a valid item of enum %s", v.String(), prop.Identifier)
	}
	return core.SetValue(f, v)
}

func enumContains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

// Len returns the length of an array or collection property.
func (p Pointer) Len(prop *Property) int {
	f := p.field(prop)
	switch f.Kind() {
	case reflect.Array, reflect.Slice:
		return f.Len()
	}
	return 0
}

func (p Pointer) GetIndex(prop *Property, i int) (reflect.Value, error) {
	f := p.field(prop)
	if i < 0 || i >= p.Len(prop) {
		return reflect.Value{}, fmt.Errorf("rna: index %d out of range for %s", i, prop.Identifier)
	}
	return f.Index(i), nil
}

func (p Pointer) SetIndex(prop *Property, i int, v reflect.Value) error {
	elem, err := p.GetIndex(prop, i)
	if err != nil {
		return err
	}
	return core.SetValue(elem, v)
}

// PointerValue returns the raw value held by a pointer property.
func (p Pointer) PointerValue(prop *Property) reflect.Value {
	return p.field(prop)
}

// PointerGet follows a pointer property. Entity targets own themselves;
// other targets stay owned by p's owner.
func (p Pointer) PointerGet(prop *Property) Pointer {
	f := p.field(prop)
	if f.Kind() == reflect.Struct {
		return Pointer{Owner: p.Owner, Data: f}
	}
	if prop.IsIDRef() {
		if f.IsNil() {
			return Pointer{}
		}
		id := f.Interface().(ID)
		if prop.Flag&PropEmbedded != 0 {
			return pointerFromValue(p.Owner, f)
		}
		return pointerFromValue(id, f)
	}
	return pointerFromValue(p.Owner, f)
}

// PointerSet assigns a raw pointer (or struct, for value properties).
func (p Pointer) PointerSet(prop *Property, target reflect.Value) error {
	f := p.field(prop)
	if !f.CanSet() {
		return fmt.Errorf("%w: %s", ErrNotSettable, prop.Identifier)
	}
	if !target.IsValid() {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	if !target.Type().AssignableTo(f.Type()) {
		return fmt.Errorf("rna: cannot assign %v to pointer %s of type %v", target.Type(), prop.Identifier, f.Type())
	}
	f.Set(target)
	return nil
}

// ItemValue returns the raw value of a collection item.
func (p Pointer) ItemValue(prop *Property, i int) reflect.Value {
	return p.field(prop).Index(i)
}

// Item addresses the i-th item of a collection property.
func (p Pointer) Item(prop *Property, i int) Pointer {
	if i < 0 || i >= p.Len(prop) {
		return Pointer{}
	}
	v := p.field(prop).Index(i)
	if prop.IsIDRef() {
		if v.IsNil() {
			return Pointer{}
		}
		return pointerFromValue(v.Interface().(ID), v)
	}
	return pointerFromValue(p.Owner, v)
}

// FindItem looks up a collection item by name, returning -1 when absent.
func (p Pointer) FindItem(prop *Property, name string) (Pointer, int) {
	for i := 0; i < p.Len(prop); i++ {
		item := p.Item(prop, i)
		if n, ok := item.Name(); ok && n == name {
			return item, i
		}
	}
	return Pointer{}, -1
}

// InsertItem inserts a raw item value at index.
func (p Pointer) InsertItem(prop *Property, index int, item reflect.Value) error {
	f := p.field(prop)
	if !f.CanSet() {
		return fmt.Errorf("%w: %s", ErrNotSettable, prop.Identifier)
	}
	n := f.Len()
	if index < 0 || index > n {
		return fmt.Errorf("rna: insertion index %d out of range for %s", index, prop.Identifier)
	}
	if !item.Type().AssignableTo(f.Type().Elem()) {
		return fmt.Errorf("rna: cannot insert %v into %s", item.Type(), prop.Identifier)
	}
	out := reflect.MakeSlice(f.Type(), 0, n+1)
	out = reflect.AppendSlice(out, f.Slice(0, index))
	out = reflect.Append(out, item)
	out = reflect.AppendSlice(out, f.Slice(index, n))
	f.Set(out)
	return nil
}

// SetItem replaces the i-th item of a collection.
func (p Pointer) SetItem(prop *Property, i int, item reflect.Value) error {
	f := p.field(prop)
	if i < 0 || i >= f.Len() {
		return fmt.Errorf("rna: index %d out of range for %s", i, prop.Identifier)
	}
	elem := f.Index(i)
	if !elem.CanSet() || !item.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("%w: %s[%d]", ErrNotSettable, prop.Identifier, i)
	}
	elem.Set(item)
	return nil
}

// MoveItem moves the item at from so that it ends up at index to.
func (p Pointer) MoveItem(prop *Property, from, to int) error {
	f := p.field(prop)
	n := f.Len()
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("rna: cannot move item %d to %d in %s", from, to, prop.Identifier)
	}
	if from == to {
		return nil
	}
	item := reflect.New(f.Type().Elem()).Elem()
	item.Set(f.Index(from))
	if from < to {
		reflect.Copy(f.Slice(from, to), f.Slice(from+1, to+1))
	} else {
		reflect.Copy(f.Slice(to+1, from+1), f.Slice(to, from))
	}
	f.Index(to).Set(item)
	return nil
}
