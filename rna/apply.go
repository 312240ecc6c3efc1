package rna

import (
	"reflect"
	"sync"
)

// ApplyFunc replaces the whole content of a collection property of dst with
// the one of src. Collections without a registered ApplyFunc can only be
// modified item by item.
type ApplyFunc func(dst, src Pointer, prop *Property) error

type applyKey struct {
	owner      reflect.Type
	identifier string
}

var (
	applyFuncs sync.Map // map[applyKey]ApplyFunc
)

// RegisterApply registers fn for the property identifier of struct type
// owner (a struct or pointer to struct type).
func RegisterApply(owner reflect.Type, identifier string, fn ApplyFunc) {
	if owner.Kind() == reflect.Pointer {
		owner = owner.Elem()
	}
	applyFuncs.Store(applyKey{owner: owner, identifier: identifier}, fn)
}

// LookupApply returns the apply callback registered for prop in ptr.
func LookupApply(ptr Pointer, prop *Property) (ApplyFunc, bool) {
	if ptr.IsNull() {
		return nil, false
	}
	fn, ok := applyFuncs.Load(applyKey{owner: ptr.Data.Type(), identifier: prop.Identifier})
	if !ok {
		return nil, false
	}
	return fn.(ApplyFunc), true
}
