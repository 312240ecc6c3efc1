package override

import (
	"errors"

	"github.com/brunoga/override/rna"
)

// IDReset drops the rules of local, keeping only entity pointer rules that
// still follow the reference hierarchy, and updates local when a rule went
// away. With systemOverride local turns back into a system override.
func IDReset(m *Main, local Entity, systemOverride bool) error {
	if !local.Base().IsRealOverride() {
		return nil
	}
	if !resetRules(local, systemOverride) {
		return nil
	}
	return reload(m, local)
}

// HierarchyReset resets root and every override it depends on, then
// updates the ones that lost rules.
func HierarchyReset(m *Main, root Entity, systemOverride bool) error {
	rels := m.buildRelations()
	hierarchyReset(rels, root, systemOverride)

	var errs []error
	for _, e := range Order(m) {
		rec := e.Base().Override
		if !e.Base().IsRealOverride() || rec.Runtime.Flag&RuntimeNeedsReload == 0 {
			continue
		}
		if err := reload(m, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func hierarchyReset(rels *relations, e Entity, systemOverride bool) {
	if !e.Base().IsRealOverride() {
		return
	}
	rel := rels.get(e)
	if rel.tag&relProcessed != 0 {
		return
	}
	resetRules(e, systemOverride)
	rel.tag |= relProcessed

	for _, entry := range rel.to {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		if to := entry.other; to != nil && to.Base().Override != nil {
			hierarchyReset(rels, to, systemOverride)
		}
	}
}

// resetRules deletes the rules of local that a reset drops and reports
// whether any was deleted.
func resetRules(local Entity, systemOverride bool) bool {
	rec := local.Base().Override
	if systemOverride {
		rec.Flag |= RecordSystemDefined
	}
	deleted := false
	for _, p := range append([]*Property(nil), rec.Properties...) {
		if keptOnReset(local, rec.Reference, p) {
			continue
		}
		rec.PropertyDelete(p)
		deleted = true
	}
	if deleted {
		rec.Runtime.Flag |= RuntimeNeedsReload
	}
	return deleted
}

// keptOnReset reports whether p only keeps local's hierarchy consistent:
// entity collections, and entity pointers to the override of what the
// reference points to.
func keptOnReset(local, ref Entity, p *Property) bool {
	if p.PropType != rna.PropPointer && p.PropType != rna.PropCollection {
		return false
	}
	h, prop, _, err := rna.ResolvePath(rna.IDPointer(local), p.Path)
	if err != nil {
		return false
	}
	rh, rprop, _, err := rna.ResolvePath(rna.IDPointer(ref), p.Path)
	if err != nil || rprop.Type != prop.Type {
		return false
	}
	if !prop.IsIDRef() || prop.Flag&rna.PropEmbedded != 0 {
		return false
	}
	if prop.Type == rna.PropCollection {
		return true
	}

	id, _ := h.PointerGet(prop).AsID()
	refID, _ := rh.PointerGet(rprop).AsID()
	target, refTarget := asEntity(id), asEntity(refID)
	if target == nil || refTarget == nil {
		return false
	}
	rec := target.Base().Override
	return rec != nil && rec.Reference == refTarget
}

func reload(m *Main, local Entity) error {
	rec := local.Base().Override
	if err := Update(m, local); err != nil {
		return err
	}
	rec.Runtime.Flag &^= RuntimeNeedsReload
	m.logger.Debug().Str("entity", entityName(local)).Msg("override reset")
	return nil
}
