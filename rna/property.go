// Package rna introspects entity structs as typed properties and gives
// path-based, type-aware access to their values. It is the addressing layer
// the override engine diffs and applies through.
package rna

import (
	"errors"
	"reflect"
	"sync"

	"github.com/brunoga/override/internal/core"
)

// ID is implemented by entities: top-level data-blocks that can be linked,
// overridden and referenced from other entities.
type ID interface {
	IDName() string
}

var idType = reflect.TypeOf((*ID)(nil)).Elem()

// IsIDType reports whether t is a pointer type implementing ID.
func IsIDType(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Pointer && t.Implements(idType)
}

var (
	ErrPathNotFound = errors.New("rna: path not found")
	ErrNotSettable  = errors.New("rna: value not settable")
)

type PropType uint8

const (
	PropNone PropType = iota
	PropBoolean
	PropInt
	PropFloat
	PropString
	PropEnum
	PropPointer
	PropCollection
)

func (t PropType) String() string {
	switch t {
	case PropBoolean:
		return "boolean"
	case PropInt:
		return "int"
	case PropFloat:
		return "float"
	case PropString:
		return "string"
	case PropEnum:
		return "enum"
	case PropPointer:
		return "pointer"
	case PropCollection:
		return "collection"
	}
	return "none"
}

// IsNumeric reports whether differential operations can apply to t.
func (t PropType) IsNumeric() bool {
	return t == PropInt || t == PropFloat
}

type PropFlag uint16

const (
	// PropOverridable allows the property to diverge from its reference.
	PropOverridable PropFlag = 1 << iota
	// PropNoOwnership marks pointers whose target is not owned by the
	// property. Such pointers are compared by identity only.
	PropNoOwnership
	// PropInsertion allows local items to be inserted in a collection.
	PropInsertion
	// PropNoName matches collection items without their name property.
	PropNoName
	PropNoComparison
	// PropIDRef marks pointers and collections whose targets are entities.
	PropIDRef
	// PropEmbedded marks an entity pointer owned by the enclosing entity.
	PropEmbedded
	PropLoopback
	// PropNoHierarchy marks entity links that never define an override
	// hierarchy dependency.
	PropNoHierarchy
)

// Property describes one introspected field of a struct type.
type Property struct {
	Identifier string
	Type       PropType
	Flag       PropFlag
	// ArrayLength is 0 for single values, the length of fixed arrays, and -1
	// for dynamic arrays.
	ArrayLength int
	HardMin     float64
	HardMax     float64
	EnumItems   []string

	field     int
	goType    reflect.Type
	itemType  reflect.Type
	itemIsPtr bool
}

func (p *Property) Overridable() bool {
	return p.Flag&PropOverridable != 0
}

func (p *Property) IsArray() bool {
	return p.ArrayLength != 0
}

func (p *Property) IsIDRef() bool {
	return p.Flag&PropIDRef != 0
}

func (p *Property) NoOwnership() bool {
	return p.Flag&PropNoOwnership != 0
}

func (p *Property) Range() (float64, float64) {
	return p.HardMin, p.HardMax
}

// InRange reports whether f lies in the property's valid numeric range.
func (p *Property) InRange(f float64) bool {
	return f >= p.HardMin && f <= p.HardMax
}

// GoType is the Go type of the field backing the property.
func (p *Property) GoType() reflect.Type {
	return p.goType
}

// ItemType is the struct type pointed to, or held by a collection.
func (p *Property) ItemType() reflect.Type {
	return p.itemType
}

var propCache sync.Map // map[reflect.Type][]*Property

// StructProperties returns the properties of struct type t in field order.
// The embedded entity header is never a property.
func StructProperties(t reflect.Type) []*Property {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := propCache.Load(t); ok {
		return cached.([]*Property)
	}

	var props []*Property
	if t.Kind() == reflect.Struct {
		info := core.GetTypeInfo(t)
		for _, f := range info.Fields {
			if f.Tag.Ignore {
				continue
			}
			sf := t.Field(f.Index)
			if f.Anonymous && IsIDType(reflect.PointerTo(sf.Type)) {
				continue
			}
			if prop, ok := newProperty(f, sf.Type); ok {
				props = append(props, prop)
			}
		}
	}

	actual, _ := propCache.LoadOrStore(t, props)
	return actual.([]*Property)
}

func newProperty(f core.FieldInfo, typ reflect.Type) (*Property, bool) {
	p := &Property{
		Identifier: f.Identifier,
		field:      f.Index,
		goType:     typ,
	}
	tag := f.Tag
	if tag.Overridable {
		p.Flag |= PropOverridable
	}
	if tag.NoCompare {
		p.Flag |= PropNoComparison
	}
	if tag.Loopback {
		p.Flag |= PropLoopback | PropNoOwnership
	}
	if tag.NoHierarchy {
		p.Flag |= PropNoHierarchy
	}

	switch {
	case core.IsScalarKind(typ.Kind()):
		p.setScalar(typ.Kind(), tag)
	case (typ.Kind() == reflect.Array || typ.Kind() == reflect.Slice) && core.IsScalarKind(typ.Elem().Kind()):
		p.setScalar(typ.Elem().Kind(), tag)
		p.ArrayLength = -1
		if typ.Kind() == reflect.Array {
			p.ArrayLength = typ.Len()
		}
	case IsIDType(typ):
		p.Type = PropPointer
		p.Flag |= PropIDRef
		p.itemType, p.itemIsPtr = typ.Elem(), true
		if tag.Embedded {
			p.Flag |= PropEmbedded
		} else {
			p.Flag |= PropNoOwnership
		}
	case typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Struct:
		p.Type = PropPointer
		p.itemType, p.itemIsPtr = typ.Elem(), true
		if tag.NoOwnership {
			p.Flag |= PropNoOwnership
		}
	case typ.Kind() == reflect.Struct:
		p.Type = PropPointer
		p.itemType = typ
	case typ.Kind() == reflect.Slice && IsIDType(typ.Elem()):
		p.Type = PropCollection
		p.Flag |= PropIDRef | PropNoOwnership
		p.itemType, p.itemIsPtr = typ.Elem().Elem(), true
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.Pointer && typ.Elem().Elem().Kind() == reflect.Struct:
		p.Type = PropCollection
		p.itemType, p.itemIsPtr = typ.Elem().Elem(), true
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.Struct:
		p.Type = PropCollection
		p.itemType = typ.Elem()
	default:
		return nil, false
	}

	if p.Type == PropCollection {
		if tag.Insertion {
			p.Flag |= PropInsertion
		}
		if tag.NoName {
			p.Flag |= PropNoName
		}
	}
	return p, true
}

func (p *Property) setScalar(kind reflect.Kind, tag core.StructTag) {
	switch {
	case kind == reflect.Bool:
		p.Type = PropBoolean
	case kind == reflect.String:
		p.Type = PropString
		if len(tag.Enum) > 0 {
			p.Type = PropEnum
			p.EnumItems = tag.Enum
		}
	case core.IsIntKind(kind):
		p.Type = PropInt
	default:
		p.Type = PropFloat
	}
	if p.Type.IsNumeric() {
		p.HardMin, p.HardMax = core.KindRange(kind)
		if tag.HasMin {
			p.HardMin = tag.Min
		}
		if tag.HasMax {
			p.HardMax = tag.Max
		}
	}
}
