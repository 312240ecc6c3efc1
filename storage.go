package override

import (
	"fmt"
	"reflect"

	"github.com/huandu/go-clone"

	"github.com/brunoga/override/internal/core"
	"github.com/brunoga/override/rna"
)

// Storage owns the differential storage copies made during one store
// pass. Copies are only valid until Finalize.
type Storage struct {
	alloc  *clone.Allocator
	copies map[Entity]Entity
}

func NewStorage() *Storage {
	alloc := clone.FromHeap()
	for _, t := range entityTypes() {
		alloc.MarkAsOpaquePointer(t)
	}
	alloc.MarkAsOpaquePointer(reflect.TypeOf((*Record)(nil)))
	alloc.MarkAsOpaquePointer(reflect.TypeOf((*Library)(nil)))
	return &Storage{alloc: alloc, copies: make(map[Entity]Entity)}
}

// copyOf duplicates e. Pointers to other entities are kept as is, data
// owned by e (embedded entities included) is cloned.
func (st *Storage) copyOf(e Entity) (Entity, error) {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("override: cannot store %T", e)
	}
	dup := st.alloc.Clone(v.Elem())
	out, ok := dup.Addr().Interface().(Entity)
	if !ok {
		return nil, fmt.Errorf("override: storage copy of %T is not an entity", e)
	}
	return out, nil
}

// StoreStart refreshes the rules of local and computes the delta values of
// its differential operations into a storage copy attached to its record.
// Templates and embedded overrides have no storage.
func StoreStart(m *Main, st *Storage, local Entity) (Entity, error) {
	id := local.Base()
	if id.IsTemplate() || id.IsEmbeddedOverride() || !id.IsRealOverride() {
		return nil, nil
	}
	rec := id.Override
	if rec.Reference.Base().IsMissing() {
		return nil, nil
	}

	OperationsCreate(m, local)

	storage, err := st.copyOf(local)
	if err != nil {
		return nil, err
	}
	storage.Base().Override = nil

	if !store(m, rna.IDPointer(local), rna.IDPointer(rec.Reference), rna.IDPointer(storage), rec) {
		return nil, nil
	}
	st.copies[local] = storage
	rec.Storage = storage
	return storage, nil
}

// StoreEnd detaches the storage copy of local. The copy itself lives until
// the owning Storage is finalized.
func StoreEnd(local Entity) {
	if rec := local.Base().Override; rec != nil {
		rec.Storage = nil
	}
}

// Finalize releases every copy made by st.
func (st *Storage) Finalize() {
	for local, storage := range st.copies {
		if rec := local.Base().Override; rec != nil && rec.Storage == storage {
			rec.Storage = nil
		}
		delete(st.copies, local)
	}
}

// WithStorage runs fn with storage copies attached to entities, releasing
// them whatever fn returns.
func WithStorage(m *Main, entities []Entity, fn func() error) error {
	st := NewStorage()
	defer st.Finalize()
	for _, e := range entities {
		if _, err := StoreStart(m, st, e); err != nil {
			return err
		}
	}
	defer func() {
		for _, e := range entities {
			StoreEnd(e)
		}
	}()
	return fn()
}

// store writes the delta values of every differential operation of rec
// into storage. It reports whether anything was stored.
func store(m *Main, local, ref, storage rna.Pointer, rec *Record) bool {
	changed := false
	for _, p := range rec.Properties {
		var diffOps []*Operation
		for _, op := range p.Operations {
			if op.Kind.isDifferential() {
				diffOps = append(diffOps, op)
			}
		}
		if len(diffOps) == 0 {
			continue
		}

		lh, prop, _, err := rna.ResolvePath(local, p.Path)
		if err != nil {
			m.logger.Debug().Err(err).Str("path", p.Path).Msg("cannot resolve stored property on local")
			continue
		}
		rh, rprop, _, err := rna.ResolvePath(ref, p.Path)
		if err != nil || rprop.GoType() != prop.GoType() {
			m.logger.Debug().Str("path", p.Path).Msg("cannot resolve stored property on reference")
			continue
		}
		sh, _, _, err := rna.ResolvePath(storage, p.Path)
		if err != nil {
			continue
		}
		for _, op := range diffOps {
			if storeDelta(m, prop, lh, rh, sh, op) {
				changed = true
			}
		}
	}
	return changed
}

// storeDelta computes the delta of one differential operation. Deltas
// that fall out of the property range first flip the operation (ADD and
// SUBTRACT), then downgrade it to REPLACE.
func storeDelta(m *Main, prop *rna.Property, local, ref, storage rna.Pointer, op *Operation) bool {
	if !prop.Type.IsNumeric() {
		m.assertf("differential operation %s on non numeric property %s", op.Kind, prop.Identifier)
		return false
	}
	if op.Kind == OpMultiply && prop.Type != rna.PropFloat {
		m.assertf("multiply operation on non float property %s", prop.Identifier)
		return false
	}

	lv, rv, sv := local.Get(prop), ref.Get(prop), storage.Get(prop)
	var indices []int
	switch {
	case !prop.IsArray():
		indices = []int{-1}
	case op.RefIndex == -1:
		if lv.Len() != rv.Len() || lv.Len() != sv.Len() {
			op.Kind = OpReplace
			return false
		}
		for i := 0; i < lv.Len(); i++ {
			indices = append(indices, i)
		}
	default:
		if op.RefIndex >= lv.Len() || op.RefIndex >= rv.Len() {
			return false
		}
		indices = []int{op.RefIndex}
	}

	at := func(v reflect.Value, i int) float64 {
		if i >= 0 {
			v = v.Index(i)
		}
		f, _ := core.Float(v)
		return f
	}

	deltas := make([]float64, len(indices))
	inRange := func() bool {
		for _, d := range deltas {
			if !prop.InRange(d) {
				return false
			}
		}
		return true
	}

	switch op.Kind {
	case OpAdd, OpSubtract:
		fac := 1.0
		if op.Kind == OpSubtract {
			fac = -1
		}
		for k, i := range indices {
			deltas[k] = fac * (at(lv, i) - at(rv, i))
		}
		if !inRange() {
			if op.Kind == OpAdd {
				op.Kind = OpSubtract
			} else {
				op.Kind = OpAdd
			}
			for k := range deltas {
				deltas[k] = -deltas[k]
			}
			if !inRange() {
				op.Kind = OpReplace
				return false
			}
		}
	case OpMultiply:
		for k, i := range indices {
			r := at(rv, i)
			if r == 0 {
				r = 1
			}
			deltas[k] = at(lv, i) / r
		}
		if !inRange() {
			op.Kind = OpReplace
			return false
		}
	}

	for k, i := range indices {
		target := sv
		if i >= 0 {
			target = sv.Index(i)
		}
		if err := core.SetFloat(target, deltas[k]); err != nil {
			m.logger.Error().Err(err).Str("property", prop.Identifier).Msg("cannot store delta")
			return false
		}
	}
	return true
}
