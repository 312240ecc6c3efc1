package override

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/brunoga/override/rna"
)

// OperationsCreate diffs local against its reference, recording rules for
// every overridable divergence and restoring forbidden ones. It reports
// whether new rules were created. Overrides of missing data are left
// untouched.
func OperationsCreate(m *Main, local Entity) bool {
	id := local.Base()
	if id.IsLinked() || id.Override == nil || id.Override.Reference == nil {
		return false
	}
	rec := id.Override
	if rec.Reference.Base().IsMissing() {
		return false
	}

	_, result := Compare(m, rna.IDPointer(local), rna.IDPointer(rec.Reference), "", rec,
		CompareCreate|CompareRestore)

	log := m.logger.Debug().Str("entity", entityName(local))
	if result&ResultRestored != 0 {
		m.logger.Info().Str("entity", entityName(local)).Msg("restored properties from reference")
	}
	if result&ResultCreated != 0 {
		log.Msg("override rules created")
		return true
	}
	log.Msg("no new override rules")
	return false
}

// MainOperationsCreate runs OperationsCreate on every local override tagged
// TagAutoRefresh, or on all of them with forceAuto, in which case rules no
// longer backed by a divergence are removed afterwards. Overrides are
// diffed one at a time in dependency order: the diff restores forbidden
// changes in place and reads the tags of references other overrides share.
func MainOperationsCreate(m *Main, forceAuto bool) bool {
	if forceAuto {
		MainTag(m, TagUnused, true)
	}

	changed := false
	for _, e := range Order(m) {
		id := e.Base()
		switch {
		case !id.IsLinked() && id.IsRealOverride() && (forceAuto || id.HasTag(TagAutoRefresh)):
			if id.Override.Reference.Base().IsMissing() {
				id.Override.PropertiesTag(TagUnused, false)
			} else if OperationsCreate(m, e) {
				changed = true
			}
		case id.Override != nil:
			// Linked overrides would lose their rules otherwise.
			id.Override.PropertiesTag(TagUnused, false)
		}
		id.ClearTag(TagAutoRefresh)
	}

	if forceAuto {
		MainUnusedCleanup(m)
	}
	return changed
}

// RestoreForbidden writes back reference values over the properties of
// local that diverge without being allowed to. It mutates introspected
// data and must only run on the goroutine owning m.
func RestoreForbidden(m *Main, local Entity) bool {
	id := local.Base()
	if !id.IsRealOverride() || id.Override.Reference.Base().IsMissing() {
		return false
	}
	rec := id.Override
	_, result := Compare(m, rna.IDPointer(local), rna.IDPointer(rec.Reference), "", rec, CompareRestore)
	return result&ResultRestored != 0
}

// Update rebuilds local from the current state of its reference and
// replays local's rules on top. local keeps its identity: only its content
// is replaced. Overrides of overrides update their reference first.
// Rules that cannot be applied leave the reference value in place and are
// logged.
func Update(m *Main, local Entity) error {
	return update(m, local, nil)
}

func update(m *Main, local Entity, rep *Report) error {
	id := local.Base()
	if !id.IsRealOverride() {
		return nil
	}
	rec := id.Override
	ref := rec.Reference
	if ref.Base().IsMissing() {
		return nil
	}
	if ref.Base().Override != nil && !ref.Base().HasTag(TagRefOK) {
		if err := update(m, ref, rep); err != nil {
			return err
		}
	}

	tmp, err := CopyEntity(ref)
	if err != nil {
		return fmt.Errorf("override: update %s: %w", entityName(local), err)
	}
	tid := tmp.Base()
	tid.Name = id.Name
	tid.Lib = id.Lib
	tid.Override = nil
	setEmbeddedOverride(tmp, true)

	var storage *rna.Pointer
	if rec.Storage != nil {
		p := rna.IDPointer(rec.Storage)
		storage = &p
	}
	// The destination is owned by local so that notifications and resync
	// tags land on the entity that keeps living.
	ar := Apply(m, rna.NewPointer(local, tmp), rna.IDPointer(local), storage, rec, 0)
	rep.count(func(c *Counts) {
		c.Applied += ar.Applied
		c.Failed += ar.Failed
	})
	if ar.Failed > 0 {
		err := errors.Join(ar.Errors...)
		m.logger.Warn().Err(err).Str("entity", entityName(local)).Int("failed", ar.Failed).
			Msg("some override rules could not be applied")
		rep.Warnf("%s: %d override rules not applied: %v", entityName(local), ar.Failed, err)
	}

	swapContent(local, tmp, ref)
	rec.Storage = nil
	id.SetTag(TagRefOK)
	return nil
}

// swapContent moves the content of tmp into local, keeping local's header.
// Back pointers that pointed at tmp or at the reference it was copied from
// are pointed at local.
func swapContent(local, tmp, ref Entity) {
	hdr := *local.Base()
	reflect.ValueOf(local).Elem().Set(reflect.ValueOf(tmp).Elem())
	*local.Base() = hdr

	rna.ForEachID(local, func(l rna.Link) bool {
		if l.Flag&rna.LinkLoopback == 0 {
			return true
		}
		if t := asEntity(l.Target()); t == tmp || t == ref {
			_ = l.Set(local)
		}
		return true
	})
}

// MainUpdate updates every override of m, dependencies first. Rules that
// could not be applied are counted and reported as warnings in rep.
func MainUpdate(m *Main, rep *Report) error {
	var errs []error
	for _, e := range Order(m) {
		if e.Base().Override != nil {
			if err := update(m, e, rep); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
