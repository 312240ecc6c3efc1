package override

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/brunoga/override/internal/core"
	"github.com/brunoga/override/rna"
)

type ApplyFlag uint8

const (
	// ApplyIgnoreIDPointers skips every rule on an entity pointer property,
	// keeping the pointers the destination already has.
	ApplyIgnoreIDPointers ApplyFlag = 1 << iota
)

// ApplyReport counts the outcome of an Apply call.
type ApplyReport struct {
	Applied  int
	Skipped  int
	Failed   int
	Notified int
	Errors   []error
}

func (r *ApplyReport) fail(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err)
}

// Apply replays the rules of rec, read from src, onto dst. Differential
// operations read their operand from storage. Insertions are applied
// before every other operation so that later paths can address inserted
// items. A failing operation never prevents the others from running.
func Apply(m *Main, dst, src rna.Pointer, storage *rna.Pointer, rec *Record, flags ApplyFlag) ApplyReport {
	var rep ApplyReport
	if rec == nil {
		return rep
	}
	for _, insertions := range []bool{true, false} {
		for _, p := range rec.Properties {
			var ops []*Operation
			for _, op := range p.Operations {
				if op.Kind.isInsertion() == insertions {
					ops = append(ops, op)
				}
			}
			if len(ops) > 0 {
				applyProperty(m, dst, src, storage, p, ops, flags, &rep)
			}
		}
	}
	return rep
}

func applyProperty(m *Main, dst, src rna.Pointer, storage *rna.Pointer, p *Property, ops []*Operation, flags ApplyFlag, rep *ApplyReport) {
	dh, dprop, didx, err := rna.ResolvePath(dst, p.Path)
	if err != nil {
		m.logger.Debug().Str("path", p.Path).Msg("override property not found in destination, skipped")
		rep.Skipped += len(ops)
		return
	}
	sh, sprop, _, err := rna.ResolvePath(src, p.Path)
	if err != nil {
		m.logger.Debug().Str("path", p.Path).Msg("override property not found in source, skipped")
		rep.Skipped += len(ops)
		return
	}

	if sprop.GoType() != dprop.GoType() {
		m.logger.Warn().
			Str("path", p.Path).
			Stringer("source", sprop.GoType()).
			Stringer("destination", dprop.GoType()).
			Msg("override property types differ, skipped")
		rep.Skipped += len(ops)
		return
	}
	if p.PropType != dprop.Type {
		if p.PropType != rna.PropNone {
			m.logger.Warn().
				Str("path", p.Path).
				Stringer("recorded", p.PropType).
				Stringer("live", dprop.Type).
				Msg("override property type changed, updating it")
			p.PropType = dprop.Type
			rep.Skipped += len(ops)
			return
		}
		p.PropType = dprop.Type
	}

	if flags&ApplyIgnoreIDPointers != 0 && dprop.Type == rna.PropPointer && dprop.IsIDRef() &&
		dprop.Flag&rna.PropEmbedded == 0 {
		rep.Skipped += len(ops)
		return
	}

	var stH rna.Pointer
	if storage != nil && !storage.IsNull() {
		if h, _, _, err := rna.ResolvePath(*storage, p.Path); err == nil {
			stH = h
		}
	}

	for _, op := range ops {
		var stPtr *rna.Pointer
		if !stH.IsNull() {
			stPtr = &stH
		}
		if err := operandsValidate(op, dh, sh, stPtr); err != nil {
			rep.fail(fmt.Errorf("%s: %w", p.Path, err))
			continue
		}
		if op.Flag&FlagIDPointerMatchReference != 0 && dprop.IsIDRef() {
			checkResync(m, dh, sh, dprop, op)
		}
		if didx >= 0 && op.SubItem.isWhole() {
			op = &Operation{Kind: op.Kind, SubItem: Index(didx), Flag: op.Flag}
		}
		if err := applyOperation(dh, sh, stH, dprop, op); err != nil {
			if errors.Is(err, ErrUnsupportedOperation) {
				m.assertf("%s: %v", p.Path, err)
			} else {
				m.logger.Debug().Err(err).Str("path", p.Path).Stringer("op", op).Msg("operation not applied")
			}
			rep.fail(fmt.Errorf("%s: %w", p.Path, err))
			continue
		}
		rep.Applied++
		if owner := asEntity(dh.Owner); owner != nil {
			m.notify(owner, p.Path)
			rep.Notified++
		}
	}
}

// checkResync tags the destination owner as needing resync when an entity
// pointer expected to follow its reference no longer does: the source
// pointee is not an override of the destination pointee anymore.
func checkResync(m *Main, dh, sh rna.Pointer, prop *rna.Property, op *Operation) {
	owner := asEntity(dh.Owner)
	if owner == nil {
		return
	}
	if rec := owner.Base().Override; rec != nil && rec.Flag&RecordNoHierarchy != 0 {
		return
	}

	var srcItem, dstItem rna.Pointer
	switch {
	case prop.Type == rna.PropPointer:
		srcItem, dstItem = sh.PointerGet(prop), dh.PointerGet(prop)
	case prop.Type == rna.PropCollection:
		srcItem = findSourceItem(sh, prop, op)
		dstItem = findDestItem(dh, prop, op)
	default:
		return
	}
	srcID, _ := srcItem.AsID()
	dstID, _ := dstItem.AsID()
	src, dst := asEntity(srcID), asEntity(dstID)

	if src != nil && !src.Base().IsRealOverride() {
		return
	}
	if src == dst {
		return
	}
	if src == nil || dst == nil || src.Base().Override.Reference != dst {
		owner.Base().SetTag(TagNeedResync)
		m.logger.Info().Str("entity", entityName(owner)).Msg("local override detected as needing resync")
	}
}

func unsupported(op *Operation, prop *rna.Property) error {
	return fmt.Errorf("%w: %s on %s property %s", ErrUnsupportedOperation, op.Kind, prop.Type, prop.Identifier)
}

func applyOperation(dh, sh, st rna.Pointer, prop *rna.Property, op *Operation) error {
	switch prop.Type {
	case rna.PropPointer:
		return applyPointer(dh, sh, prop, op)
	case rna.PropCollection:
		return applyCollection(dh, sh, prop, op)
	}

	switch op.Kind {
	case OpNoop:
		return nil
	case OpReplace:
		if !prop.IsArray() || op.RefIndex == -1 {
			return dh.Set(prop, cloneScalar(sh.Get(prop)))
		}
		v, err := sh.GetIndex(prop, op.LocalIndex)
		if err != nil {
			return err
		}
		return dh.SetIndex(prop, op.RefIndex, v)
	case OpAdd, OpSubtract, OpMultiply:
		if !prop.Type.IsNumeric() || (op.Kind == OpMultiply && prop.Type != rna.PropFloat) {
			return unsupported(op, prop)
		}
		dv, sv := dh.Get(prop), st.Get(prop)
		if !prop.IsArray() {
			return numeric(prop, op.Kind, []reflect.Value{dv}, []reflect.Value{sv})
		}
		if op.RefIndex != -1 {
			if op.RefIndex >= dv.Len() || op.RefIndex >= sv.Len() {
				return fmt.Errorf("override: index %d out of range", op.RefIndex)
			}
			return numeric(prop, op.Kind, []reflect.Value{dv.Index(op.RefIndex)}, []reflect.Value{sv.Index(op.RefIndex)})
		}
		if dv.Len() != sv.Len() {
			return fmt.Errorf("override: storage length %d does not match %d", sv.Len(), dv.Len())
		}
		dsts := make([]reflect.Value, dv.Len())
		deltas := make([]reflect.Value, dv.Len())
		for i := range dsts {
			dsts[i], deltas[i] = dv.Index(i), sv.Index(i)
		}
		return numeric(prop, op.Kind, dsts, deltas)
	}
	return unsupported(op, prop)
}

// numeric applies a differential operation of deltas onto dsts in place.
// Nothing is written when any result falls out of the property range.
func numeric(prop *rna.Property, kind OpKind, dsts, deltas []reflect.Value) error {
	results := make([]float64, len(dsts))
	for i, dst := range dsts {
		r, err := combine(kind, dst, deltas[i])
		if err != nil {
			return err
		}
		if !prop.InRange(r) {
			return fmt.Errorf("%w: %s gives %v, outside [%v, %v]", ErrOutOfRange, kind, r, prop.HardMin, prop.HardMax)
		}
		results[i] = r
	}
	for i, dst := range dsts {
		if err := core.SetFloat(dst, results[i]); err != nil {
			return err
		}
	}
	return nil
}

func combine(kind OpKind, dst, delta reflect.Value) (float64, error) {
	d, dok := core.Float(dst)
	s, sok := core.Float(delta)
	if dok && sok {
		switch kind {
		case OpAdd:
			return d + s, nil
		case OpSubtract:
			return d - s, nil
		case OpMultiply:
			if core.IsFloatKind(dst.Kind()) {
				return d * s, nil
			}
		}
	}
	return 0, fmt.Errorf("override: cannot apply %s to %v", kind, dst.Type())
}

func applyPointer(dh, sh rna.Pointer, prop *rna.Property, op *Operation) error {
	switch op.Kind {
	case OpNoop:
		return nil
	case OpReplace:
		if fn, ok := rna.LookupApply(dh, prop); ok {
			return fn(dh, sh, prop)
		}
		if !prop.IsIDRef() || prop.Flag&rna.PropEmbedded != 0 {
			return unsupported(op, prop)
		}
		return dh.PointerSet(prop, sh.PointerValue(prop))
	}
	return unsupported(op, prop)
}

// findSourceItem locates the item an operation reads from: by local name,
// then by local index, then the first item.
func findSourceItem(sh rna.Pointer, prop *rna.Property, op *Operation) rna.Pointer {
	item, idx := sourceItemIndex(sh, prop, op)
	if idx < 0 {
		return rna.Pointer{}
	}
	return item
}

func sourceItemIndex(sh rna.Pointer, prop *rna.Property, op *Operation) (rna.Pointer, int) {
	if op.LocalName != "" {
		if item, idx := sh.FindItem(prop, op.LocalName); idx >= 0 {
			return item, idx
		}
	}
	if op.LocalIndex >= 0 && op.LocalIndex < sh.Len(prop) {
		return sh.Item(prop, op.LocalIndex), op.LocalIndex
	}
	if op.Kind.isInsertion() && sh.Len(prop) > 0 {
		return sh.Item(prop, 0), 0
	}
	return rna.Pointer{}, -1
}

func findDestItem(dh rna.Pointer, prop *rna.Property, op *Operation) rna.Pointer {
	if op.RefName != "" {
		if item, idx := dh.FindItem(prop, op.RefName); idx >= 0 {
			return item
		}
	}
	if op.RefIndex >= 0 && op.RefIndex < dh.Len(prop) {
		return dh.Item(prop, op.RefIndex)
	}
	return rna.Pointer{}
}

func applyCollection(dh, sh rna.Pointer, prop *rna.Property, op *Operation) error {
	switch op.Kind {
	case OpNoop:
		return nil
	case OpReplace:
		if op.SubItem.isWhole() {
			if fn, ok := rna.LookupApply(dh, prop); ok {
				return fn(dh, sh, prop)
			}
			return unsupported(op, prop)
		}
		if !prop.IsIDRef() {
			return unsupported(op, prop)
		}
		_, sidx := sourceItemIndex(sh, prop, op)
		if sidx < 0 {
			return fmt.Errorf("override: source item %q/%d not found", op.LocalName, op.LocalIndex)
		}
		didx := -1
		if op.RefName != "" {
			_, didx = dh.FindItem(prop, op.RefName)
		}
		if didx < 0 && op.RefIndex >= 0 && op.RefIndex < dh.Len(prop) {
			didx = op.RefIndex
		}
		if didx < 0 {
			return fmt.Errorf("override: destination item %q/%d not found", op.RefName, op.RefIndex)
		}
		return dh.SetItem(prop, didx, sh.ItemValue(prop, sidx))
	case OpInsertAfter, OpInsertBefore:
		if prop.IsIDRef() {
			return unsupported(op, prop)
		}
		return applyInsertion(dh, sh, prop, op)
	}
	return unsupported(op, prop)
}

// applyInsertion copies the source item of op into dst next to its anchor.
// The anchor is looked up by name in dst, then by name in src (the item
// following it there), then by index; without any of them the item goes
// to the start of the collection.
func applyInsertion(dh, sh rna.Pointer, prop *rna.Property, op *Operation) error {
	n := dh.Len(prop)
	pos := 0
	anchored := false
	if op.RefName != "" {
		if _, idx := dh.FindItem(prop, op.RefName); idx >= 0 {
			pos, anchored = idx+1, true
		} else if _, idx := sh.FindItem(prop, op.RefName); idx >= 0 {
			pos, anchored = min(idx+1, n), true
		}
	}
	if !anchored && op.RefIndex >= 0 {
		pos, anchored = min(op.RefIndex+1, n), true
	}
	if op.Kind == OpInsertBefore && anchored {
		pos = max(pos-1, 0)
	}

	_, sidx := sourceItemIndex(sh, prop, op)
	if sidx < 0 {
		return fmt.Errorf("override: inserted item %q/%d not found in source", op.LocalName, op.LocalIndex)
	}
	item, err := rna.CopyItem(sh.ItemValue(prop, sidx))
	if err != nil {
		return err
	}
	return dh.InsertItem(prop, pos, item)
}
