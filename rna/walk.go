package rna

import (
	"fmt"
	"reflect"

	"github.com/brunoga/override/internal/core"
)

type LinkFlag uint8

const (
	// LinkNotOverridable marks links that do not make their target part of
	// the owner's override hierarchy.
	LinkNotOverridable LinkFlag = 1 << iota
	// LinkLoopback marks back pointers (a child pointing at its owner).
	LinkLoopback
	// LinkEmbedded marks links to entities owned by the link owner.
	LinkEmbedded
)

// Link is one entity reference slot found while walking an entity.
type Link struct {
	Owner ID
	Path  string
	Flag  LinkFlag
	slot  reflect.Value
	// list is the slice holding slot for collection items.
	list  reflect.Value
	index int
}

// Target returns the entity held by the slot, nil when empty.
func (l Link) Target() ID {
	if !l.slot.IsValid() || l.slot.IsNil() {
		return nil
	}
	return l.slot.Interface().(ID)
}

// Set replaces the entity held by the slot. A nil id clears it.
func (l Link) Set(id ID) error {
	if !l.slot.CanSet() {
		return fmt.Errorf("%w: %s", ErrNotSettable, l.Path)
	}
	if id == nil {
		l.slot.Set(reflect.Zero(l.slot.Type()))
		return nil
	}
	v := reflect.ValueOf(id)
	if !v.Type().AssignableTo(l.slot.Type()) {
		return fmt.Errorf("rna: cannot store %v in %s", v.Type(), l.Path)
	}
	l.slot.Set(v)
	return nil
}

// IsItem reports whether the slot is an item of an entity collection.
func (l Link) IsItem() bool {
	return l.list.IsValid()
}

// Remove deletes a collection item slot. Removing items invalidates the
// links to later items of the same collection.
func (l Link) Remove() error {
	if !l.IsItem() {
		return fmt.Errorf("rna: %s is not a collection item", l.Path)
	}
	if !l.list.CanSet() {
		return fmt.Errorf("%w: %s", ErrNotSettable, l.Path)
	}
	n := l.list.Len()
	if l.index < 0 || l.index >= n {
		return fmt.Errorf("rna: stale collection link %s", l.Path)
	}
	out := reflect.MakeSlice(l.list.Type(), 0, n-1)
	out = reflect.AppendSlice(out, l.list.Slice(0, l.index))
	out = reflect.AppendSlice(out, l.list.Slice(l.index+1, n))
	l.list.Set(out)
	return nil
}

// ForEachID calls fn for every entity reference slot of owner, including
// empty ones, until fn returns false. Embedded entities are walked as part
// of their owner.
func ForEachID(owner ID, fn func(Link) bool) {
	walkLinks(owner, IDPointer(owner), "", fn)
}

func walkLinks(owner ID, ptr Pointer, path string, fn func(Link) bool) bool {
	for _, prop := range ptr.Properties() {
		propPath := core.JoinPath(path, prop.Identifier)
		switch prop.Type {
		case PropPointer:
			if prop.IsIDRef() {
				flag := linkFlag(prop)
				if !fn(Link{Owner: owner, Path: propPath, Flag: flag, slot: ptr.field(prop)}) {
					return false
				}
				if flag&LinkEmbedded != 0 {
					if target := ptr.PointerGet(prop); !target.IsNull() {
						if !walkLinks(owner, target, propPath, fn) {
							return false
						}
					}
				}
				continue
			}
			if prop.NoOwnership() {
				continue
			}
			if target := ptr.PointerGet(prop); !target.IsNull() {
				if !walkLinks(owner, target, propPath, fn) {
					return false
				}
			}
		case PropCollection:
			f := ptr.field(prop)
			for i := 0; i < f.Len(); i++ {
				itemPath := core.ItemPath(propPath, "", i)
				if prop.IsIDRef() {
					if !fn(Link{Owner: owner, Path: itemPath, Flag: linkFlag(prop), slot: f.Index(i), list: f, index: i}) {
						return false
					}
					continue
				}
				if item := pointerFromValue(owner, f.Index(i)); !item.IsNull() {
					if !walkLinks(owner, item, itemPath, fn) {
						return false
					}
				}
			}
		}
	}
	return true
}

func linkFlag(prop *Property) LinkFlag {
	var flag LinkFlag
	if prop.Flag&PropNoHierarchy != 0 {
		flag |= LinkNotOverridable
	}
	if prop.Flag&PropLoopback != 0 {
		flag |= LinkLoopback | LinkNotOverridable
	}
	if prop.Flag&PropEmbedded != 0 {
		flag |= LinkEmbedded
	}
	return flag
}
