package override

import (
	"reflect"

	"github.com/brunoga/override/internal/core"
	"github.com/brunoga/override/rna"
)

type CompareFlag uint8

const (
	// CompareCreate records a rule for every overridable divergence found.
	CompareCreate CompareFlag = 1 << iota
	// CompareRestore resets diverging non-overridable values to the
	// reference ones.
	CompareRestore
	CompareIgnoreNonOverridable
	// CompareIgnoreOverridden skips properties the record already holds.
	CompareIgnoreOverridden
)

type MatchResult uint8

const (
	ResultCreated MatchResult = 1 << iota
	ResultRestored
)

// differ holds the state of one comparison walk.
type differ struct {
	m      *Main
	rec    *Record
	flags  CompareFlag
	result MatchResult
}

// Compare walks local against reference and reports whether they match.
// With CompareCreate, rec receives the rules describing every overridable
// divergence. With CompareRestore, non-overridable divergences are reset
// from reference, which mutates local: only the goroutine owning the Main
// may do this.
func Compare(m *Main, local, reference rna.Pointer, rootPath string, rec *Record, flags CompareFlag) (bool, MatchResult) {
	if rec == nil {
		flags &^= CompareCreate
	}
	d := &differ{m: m, rec: rec, flags: flags}
	matches := d.compareStruct(local, reference, rootPath)
	return matches, d.result
}

func (d *differ) compareStruct(local, ref rna.Pointer, path string) bool {
	if local.IsNull() || ref.IsNull() {
		return local.IsNull() == ref.IsNull()
	}
	if local.Type() != ref.Type() {
		return false
	}

	matching := true
	for _, prop := range local.Properties() {
		if prop.Flag&rna.PropNoComparison != 0 {
			continue
		}
		propPath := rna.PropertyPath(path, prop)
		if d.flags&CompareIgnoreNonOverridable != 0 && !prop.Overridable() && !ownsData(prop) {
			continue
		}
		var p *Property
		if d.rec != nil {
			p = d.rec.PropertyFind(propPath)
		}
		if p != nil {
			if d.flags&CompareIgnoreOverridden != 0 {
				p.OperationsTag(TagUnused, false)
				continue
			}
			p.Tag &^= TagUnused
		}

		flags := d.flags
		if !prop.Overridable() {
			flags &^= CompareCreate
		}

		var equal bool
		switch prop.Type {
		case rna.PropPointer:
			pair := pointerPair{
				holderLocal: local,
				holderRef:   ref,
				local:       local.PointerGet(prop),
				ref:         ref.PointerGet(prop),
				localRaw:    local.PointerValue(prop),
				refRaw:      ref.PointerValue(prop),
				sub:         WholeProperty(),
				index:       -1,
			}
			equal = d.comparePointer(prop, pair, propPath, flags)
		case rna.PropCollection:
			equal = d.compareCollection(prop, local, ref, propPath, flags)
		default:
			equal = d.compareScalar(prop, local, ref, propPath, flags)
		}
		if equal {
			continue
		}
		matching = false
		if d.flags&(CompareCreate|CompareRestore) == 0 {
			break
		}
	}
	return matching
}

// ownsData reports whether prop leads to data owned by the holder, which
// is walked even when the property itself is not overridable.
func ownsData(prop *rna.Property) bool {
	switch prop.Type {
	case rna.PropPointer:
		return !prop.NoOwnership()
	case rna.PropCollection:
		return !prop.IsIDRef()
	}
	return false
}

func (d *differ) compareScalar(prop *rna.Property, local, ref rna.Pointer, path string, flags CompareFlag) bool {
	lv, rv := local.Get(prop), ref.Get(prop)
	if core.ScalarEqual(lv, rv) {
		return true
	}

	if flags&CompareCreate != 0 {
		p, created := d.rec.PropertyGet(path)
		d.syncType(p, prop, created)
		if created {
			p.OperationGet(OpReplace, WholeProperty(), true)
			d.result |= ResultCreated
		}
		p.OperationsTag(TagUnused, false)
		return false
	}

	if flags&CompareRestore != 0 && !prop.Overridable() && d.notOverridden(path) {
		if err := local.Set(prop, cloneScalar(rv)); err != nil {
			d.m.logger.Error().Err(err).Str("path", path).Msg("cannot restore forbidden property")
			return false
		}
		d.m.logger.Debug().Str("path", path).Msg("restored forbidden property from reference")
		d.result |= ResultRestored
		return true
	}
	return false
}

// cloneScalar detaches dynamic arrays from the value they were read from.
func cloneScalar(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Slice || v.IsNil() {
		return v
	}
	out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(out, v)
	return out
}

func (d *differ) notOverridden(path string) bool {
	if d.rec == nil {
		return true
	}
	p := d.rec.PropertyFind(path)
	if p == nil {
		return true
	}
	for _, op := range p.Operations {
		if op.Kind != OpNoop {
			return false
		}
	}
	return true
}

// syncType keeps the recorded type of p in line with the live property.
func (d *differ) syncType(p *Property, prop *rna.Property, created bool) {
	if p.PropType == prop.Type {
		return
	}
	if !created && p.PropType != rna.PropNone {
		d.m.logger.Warn().
			Str("path", p.Path).
			Stringer("recorded", p.PropType).
			Stringer("live", prop.Type).
			Msg("override property type changed, updating it")
	}
	p.PropType = prop.Type
}

// pointerPair is a pointer property value, or a collection item, on both
// sides of a comparison.
type pointerPair struct {
	holderLocal, holderRef rna.Pointer
	local, ref             rna.Pointer
	localRaw, refRaw       reflect.Value
	sub                    SubItem
	// index is the local collection index, -1 for pointer properties.
	index int
}

func (pp pointerPair) isItem() bool {
	return pp.index >= 0
}

// sameSlot compares raw pointer values by identity. Non pointer values
// (struct items) are never considered the same.
func sameSlot(a, b reflect.Value) bool {
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	switch a.Kind() {
	case reflect.Pointer, reflect.Interface:
		return core.PointerIdentity(a) == core.PointerIdentity(b)
	}
	return false
}

func (d *differ) comparePointer(prop *rna.Property, pair pointerPair, path string, flags CompareFlag) bool {
	isID := prop.IsIDRef() && prop.Flag&rna.PropEmbedded == 0
	noOwnership := prop.NoOwnership()
	isNull := pair.local.IsNull() || pair.ref.IsNull()
	typeDiff := pair.local.Type() != pair.ref.Type()

	valid := !noOwnership && !isNull && !typeDiff
	lname, lok := pair.local.Name()
	rname, rok := pair.ref.Name()
	if valid && prop.Flag&rna.PropNoName == 0 && lok && rok && lname != rname {
		valid = false
	}

	if valid {
		sub := path
		if pair.isItem() {
			if lok && rok && lname != "" {
				sub = core.ItemPath(path, lname, -1)
			} else {
				sub = core.ItemPath(path, "", pair.index)
			}
		}
		return d.compareStruct(pair.local, pair.ref, sub)
	}

	// Data not owned here, or not comparable: only identities matter.
	if sameSlot(pair.localRaw, pair.refRaw) {
		return true
	}

	_, hasApply := rna.LookupApply(pair.holderLocal, prop)
	if flags&CompareCreate != 0 && (isID || hasApply) {
		p, created := d.rec.PropertyGet(path)
		d.syncType(p, prop, created)

		var op *Operation
		if created || !pair.sub.isWhole() {
			var opCreated bool
			op, opCreated = p.OperationGet(OpReplace, pair.sub, true)
			p.Tag &^= TagUnused
			op.Tag &^= TagUnused
			if opCreated {
				d.result |= ResultCreated
			}
		} else {
			p.OperationsTag(TagUnused, false)
		}

		if isID && noOwnership {
			if op == nil {
				op, _ = p.OperationFind(pair.sub, true)
			}
			if op == nil {
				d.m.assertf("no operation found for entity pointer %s", path)
				return false
			}
			op.Tag &^= TagUnused
			d.matchReference(op, pair)
		}
		return false
	}

	if flags&CompareRestore != 0 && !prop.Overridable() && d.notOverridden(path) {
		if d.restorePointer(prop, pair) {
			d.m.logger.Debug().Str("path", path).Msg("restored forbidden pointer from reference")
			d.result |= ResultRestored
			return true
		}
	}
	return false
}

// matchReference flags op when the local pointee is the override of the
// reference pointee.
func (d *differ) matchReference(op *Operation, pair pointerPair) {
	la, _ := pair.local.AsID()
	rb, _ := pair.ref.AsID()
	local, ref := asEntity(la), asEntity(rb)
	ownerLocal, ownerRef := asEntity(pair.holderLocal.Owner), asEntity(pair.holderRef.Owner)

	switch {
	case local == nil || ref == nil:
		op.Flag &^= FlagIDPointerMatchReference
	case ownerLocal != nil && ownerLocal.Base().HasTag(TagNeedResync),
		ownerRef != nil && ownerRef.Base().HasTag(TagNeedResync):
		d.m.logger.Debug().
			Str("entity", entityName(local)).
			Msg("owner needs resync, not checking entity pointer match")
	case local.Base().Override != nil && local.Base().Override.Reference == ref:
		op.Flag |= FlagIDPointerMatchReference
	case ref.Base().Override != nil && ref.Base().Override.Reference == local:
		op.Flag |= FlagIDPointerMatchReference
	default:
		op.Flag &^= FlagIDPointerMatchReference
	}
}

func (d *differ) restorePointer(prop *rna.Property, pair pointerPair) bool {
	value := pair.refRaw
	if !prop.IsIDRef() && value.IsValid() {
		dup, err := rna.CopyItem(value)
		if err != nil {
			d.m.logger.Error().Err(err).Msg("cannot copy reference data")
			return false
		}
		value = dup
	}
	var err error
	if pair.isItem() {
		err = pair.holderLocal.SetItem(prop, pair.index, value)
	} else {
		err = pair.holderLocal.PointerSet(prop, value)
	}
	if err != nil {
		d.m.logger.Error().Err(err).Msg("cannot restore pointer")
		return false
	}
	return true
}

func (d *differ) compareCollection(prop *rna.Property, local, ref rna.Pointer, path string, flags CompareFlag) bool {
	useNames := prop.Flag&rna.PropNoName == 0 && rna.HasNameProperty(prop.ItemType())
	nl, nr := local.Len(prop), ref.Len(prop)

	if prop.IsIDRef() {
		equal := nl == nr
		for i := 0; i < nl && i < nr; i++ {
			if !equal && flags&CompareCreate == 0 {
				break
			}
			if !d.comparePointer(prop, d.itemPair(prop, local, ref, i, i, useNames), path, flags) {
				equal = false
			}
		}
		return equal
	}

	insertion := flags&CompareCreate != 0 && prop.Flag&rna.PropInsertion != 0
	if insertion {
		if p := d.rec.PropertyFind(path); p != nil {
			ops := p.Operations[:0]
			for _, op := range p.Operations {
				if !op.Kind.isInsertion() {
					ops = append(ops, op)
				}
			}
			p.Operations = ops
		}
	}

	equal := true
	edits := alignItems(collectionKeys(ref, prop, useNames), collectionKeys(local, prop, useNames))
	for _, e := range edits {
		switch e.kind {
		case editDelete:
			// Items can never be removed by an override.
			return false
		case editInsert:
			if !insertion {
				return false
			}
			d.recordInsertion(prop, local, path, e.local, useNames)
			equal = false
		case editMatch:
			if equal || flags&CompareCreate != 0 {
				if !d.comparePointer(prop, d.itemPair(prop, local, ref, e.local, e.ref, useNames), path, flags) {
					equal = false
				}
			}
		}
		if !equal && flags&CompareCreate == 0 {
			return false
		}
	}
	return equal
}

func (d *differ) itemPair(prop *rna.Property, local, ref rna.Pointer, li, ri int, useNames bool) pointerPair {
	pair := pointerPair{
		holderLocal: local,
		holderRef:   ref,
		local:       local.Item(prop, li),
		ref:         ref.Item(prop, ri),
		localRaw:    local.ItemValue(prop, li),
		refRaw:      ref.ItemValue(prop, ri),
		sub:         SubItem{RefIndex: ri, LocalIndex: li},
		index:       li,
	}
	if useNames {
		pair.sub.LocalName, _ = pair.local.Name()
		pair.sub.RefName, _ = pair.ref.Name()
	}
	if prop.IsIDRef() {
		if id, ok := pair.local.AsID(); ok {
			pair.sub.LocalID = asEntity(id)
		}
		if id, ok := pair.ref.AsID(); ok {
			pair.sub.RefID = asEntity(id)
		}
	}
	return pair
}

// recordInsertion adds the INSERT_AFTER rule of the local item at index,
// anchored on the local item preceding it.
func (d *differ) recordInsertion(prop *rna.Property, local rna.Pointer, path string, index int, useNames bool) {
	p, created := d.rec.PropertyGet(path)
	d.syncType(p, prop, created)

	sub := SubItem{RefIndex: index - 1, LocalIndex: index}
	if useNames {
		sub.LocalName, _ = local.Item(prop, index).Name()
		if index > 0 {
			sub.RefName, _ = local.Item(prop, index-1).Name()
		}
	}
	op, _ := p.OperationGet(OpInsertAfter, sub, true)
	p.Tag &^= TagUnused
	op.Tag &^= TagUnused
	d.m.logger.Debug().Str("path", path).Stringer("op", op).Msg("recorded collection insertion")
}
