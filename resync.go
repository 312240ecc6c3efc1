package override

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/brunoga/override/rna"
)

const (
	maxLibraryLevel  = 100
	warnLibraryLevel = 90
)

// ResyncOptions tunes a single hierarchy resync.
type ResyncOptions struct {
	// Instancer receives the new instanced overrides nothing holds yet.
	Instancer Container
	// HierarchyEnforce ignores the entity pointer rules of the old
	// overrides, so the new hierarchy follows its references exactly.
	HierarchyEnforce bool
	Report           *Report
}

// resyncer carries the state of one resync pass, which can cover several
// hierarchies.
type resyncer struct {
	m         *Main
	residual  Container
	instancer Container
	enforce   bool
	// postProcess instantiates new overrides after each hierarchy instead
	// of once at the end of the pass.
	postProcess bool
	rep         *Report

	// noMain holds the old overrides replaced during the pass. They are
	// freed once the pass is over.
	noMain []Entity
	// newids maps every reference overridden during the pass to its new
	// override.
	newids map[Entity]Entity
}

func newResyncer(m *Main, residual, instancer Container, rep *Report) *resyncer {
	return &resyncer{
		m:         m,
		residual:  residual,
		instancer: instancer,
		rep:       rep,
		newids:    make(map[Entity]Entity),
	}
}

// Resync rebuilds the override hierarchy of root against the current state
// of the linked references and returns the override replacing root. Rules
// of the old overrides are carried over to the new ones. Obsolete overrides
// holding user edits are kept, linked into residual when it is not nil.
func Resync(m *Main, root Entity, residual Container, opts ResyncOptions) (Entity, error) {
	if !root.Base().IsRealOverride() {
		return nil, fmt.Errorf("%w: %s", ErrNotOverride, entityName(root))
	}
	r := newResyncer(m, residual, opts.Instancer, opts.Report)
	r.enforce = opts.HierarchyEnforce
	r.postProcess = true

	newRoot, err := r.resync(root, []Entity{root})
	r.freeNoMain()
	return newRoot, err
}

// resync rebuilds the parts of the hierarchy of root that depend on roots.
func (r *resyncer) resync(root Entity, roots []Entity) (Entity, error) {
	m := r.m
	rootID := root.Base()
	if !rootID.IsRealOverride() {
		return nil, fmt.Errorf("%w: %s", ErrNotOverride, entityName(root))
	}
	rootRef := rootID.Override.Reference
	if rootRef.Base().IsMissing() {
		r.rep.Errorf("impossible to resync %s, its linked reference is missing", entityName(root))
		return nil, fmt.Errorf("%w: %s", ErrMissingReference, entityName(root))
	}
	hierarchyRoot := rootID.Override.HierarchyRoot
	if hierarchyRoot == nil {
		hierarchyRoot = root
	}

	m.setTag(TagDoIt, false)
	defer m.setTag(TagDoIt, false)

	rels := m.buildRelations()

	// Reference entity to old override, first found wins.
	oldByRef := make(map[Entity]Entity)
	for _, rr := range roots {
		rrID := rr.Base()
		if rrID.HasTag(TagNoMain) {
			m.assertf("resync root %s is not in main", entityName(rr))
			continue
		}
		if !rrID.IsRealOverride() {
			continue
		}
		ref := rrID.Override.Reference
		if ref.Base().IsMissing() {
			r.rep.Errorf("impossible to resync %s, its linked reference is missing", entityName(rr))
			return nil, fmt.Errorf("%w: %s", ErrMissingReference, entityName(rr))
		}

		rels.clearTags()
		og := newGroupTagger(m, rels, rr, true, true)
		og.hierarchyRoot = hierarchyRoot
		og.overridesGroupTag()

		rels.clearTags()
		lg := newGroupTagger(m, rels, ref, false, true)
		lg.linkedGroupTag()
		rels.clearTags()
		lg.dependenciesTag(ref)

		for _, e := range m.entities {
			id := e.Base()
			if !id.IsRealOverride() || id.Lib != rootID.Lib {
				continue
			}
			eref := id.Override.Reference
			// Data of other kinds follows its users: an object is never
			// left without its data.
			if eref.Base().IsMissing() && isHierarchyKey(e) && id.Override.HierarchyRoot == hierarchyRoot {
				id.SetTag(TagMissing)
			}
			if !id.HasTag(TagDoIt) || eref.Base().Lib != rootRef.Base().Lib {
				continue
			}
			if other, ok := oldByRef[eref]; ok {
				if other != e {
					m.logger.Debug().Str("entity", entityName(e)).Str("kept", entityName(other)).
						Str("reference", entityName(eref)).Msg("reference overridden more than once, keeping first override")
				}
				continue
			}
			oldByRef[eref] = e
			// User edits would be lost if the reference was left out of
			// the new hierarchy.
			if !eref.Base().HasTag(TagDoIt) && isUserEditedForResync(e) {
				eref.Base().SetTag(TagDoIt)
			}
		}

		rels.clearTags()
		lg.dependenciesTag(ref)
	}

	rels.clearTags()
	og := newGroupTagger(m, rels, root, true, true)
	og.hierarchyRoot = hierarchyRoot
	og.overridesGroupTag()

	var oldGroup []Entity
	for _, e := range m.entities {
		id := e.Base()
		if id.Lib == rootID.Lib && id.IsRealOverride() && id.HasTag(TagDoIt|TagMissing) {
			oldGroup = append(oldGroup, e)
		}
	}

	m.Lock()
	defer m.Unlock()

	newids, err := CreateFromTag(m, rootID.Lib, rootRef, hierarchyRoot, nil, true, false)
	if err != nil {
		r.rep.Errorf("resync of %s failed: %v", entityName(root), err)
		return nil, err
	}

	var todo []Entity
	for _, ref := range m.Entities() {
		if ref.Base().HasTag(TagDoIt) && ref.Base().Lib == rootRef.Base().Lib && newids[ref] != nil {
			todo = append(todo, ref)
		}
	}

	// Move new overrides into main, in place of the old ones.
	var fresh []Entity
	mapping := make(map[Entity]Entity)
	for _, ref := range todo {
		local := newids[ref]
		nid := local.Base()
		nid.Lib = rootID.Lib
		r.newids[ref] = local

		old := oldByRef[ref]
		if old == nil {
			if err := m.AddUnique(local); err != nil {
				m.logger.Error().Err(err).Str("entity", entityName(local)).Msg("cannot add new override")
				continue
			}
			fresh = append(fresh, local)
			continue
		}
		oid := old.Base()
		oid.Name, nid.Name = nid.Name, oid.Name
		m.replace(old, local)
		if oid.IsRealOverride() && nid.IsRealOverride() {
			nrec, orec := nid.Override, oid.Override
			nrec.Flag = orec.Flag
			nrec.Properties = make([]*Property, len(orec.Properties))
			for i, p := range orec.Properties {
				nrec.Properties[i] = p.clone()
			}
			nrec.Runtime.paths = nil
		}
		mapping[old] = local
		r.noMain = append(r.noMain, old)
	}

	m.relink(m.entities, mapping, 0)
	m.relink(r.noMain, mapping, 0)

	// Rules are applied once every pointer is remapped and every new
	// override carries its final name, so name based rules resolve.
	var flags ApplyFlag
	if r.enforce {
		flags |= ApplyIgnoreIDPointers
	}
	for _, ref := range todo {
		local, old := newids[ref], oldByRef[ref]
		if old == nil || !local.Base().IsRealOverride() || !old.Base().IsRealOverride() {
			continue
		}
		rec := local.Base().Override
		dropMatchReference(rec)
		ar := Apply(m, rna.IDPointer(local), rna.IDPointer(old), nil, rec, flags)
		r.rep.count(func(c *Counts) {
			c.Applied += ar.Applied
			c.Failed += ar.Failed
		})
	}

	// Old overrides left in main are obsolete: their reference is not part
	// of the hierarchy anymore, or is missing.
	var dead, obsolete, edited []Entity
	editedDeleted := 0
	for _, e := range oldGroup {
		id := e.Base()
		if id.HasTag(TagNoMain) {
			continue
		}
		id.ClearTag(TagDoIt)
		if !id.HasTag(TagMissing) {
			if isUserEditedForResync(e) {
				edited = append(edited, e)
			} else {
				obsolete = append(obsolete, e)
			}
			continue
		}
		id.ClearTag(TagMissing)
		r.rep.count(func(c *Counts) { c.Missing++ })
		if !isUserEditedForResync(e) {
			m.logger.Debug().Str("entity", entityName(e)).Msg("old override with missing reference deleted")
			dead = append(dead, e)
			continue
		}
		if err := r.park(e); err != nil {
			m.logger.Warn().Err(err).Str("entity", entityName(e)).Msg("old override deleted even though it was user-edited")
			dead = append(dead, e)
			editedDeleted++
		}
	}
	m.Delete(dead...)
	r.rep.count(func(c *Counts) { c.Deleted += len(dead) })

	newRoot := root
	if nr := newids[rootRef]; nr != nil {
		newRoot = nr
	}
	if editedDeleted > 0 {
		r.rep.Warnf("during resync of %s, %d obsolete overrides were deleted, that had local changes defined by user",
			entityName(newRoot), editedDeleted)
	}

	if r.postProcess {
		if err := createPostProcess(m, newids, rootRef, r.instancer, r.residual, true); err != nil {
			r.rep.Errorf("cannot instantiate new overrides of %s: %v", entityName(newRoot), err)
		}
	}

	var candidates []Entity
	for _, e := range fresh {
		if e != newRoot && !isHierarchyKey(e) {
			candidates = append(candidates, e)
		}
	}
	for _, e := range obsolete {
		if e != newRoot && e != hierarchyRoot {
			candidates = append(candidates, e)
		}
	}
	r.cleanup(candidates)

	// Obsolete user edits nothing uses anymore are only reachable from the
	// residual container.
	for _, e := range edited {
		if m.Contains(e) && m.UserCount(e) == 0 {
			if err := r.park(e); err != nil {
				m.logger.Warn().Err(err).Str("entity", entityName(e)).Msg("cannot keep obsolete override")
			}
		}
	}

	if rootID.IsLinked() {
		r.rep.count(func(c *Counts) { c.ResyncedLinked++ })
	} else {
		r.rep.count(func(c *Counts) { c.Resynced++ })
	}
	m.logger.Info().Str("entity", entityName(newRoot)).Int("overrides", len(todo)).
		Int("deleted", len(dead)).Msg("override hierarchy resynced")
	return newRoot, nil
}

// dropMatchReference removes the pointer rules that only mirror the
// reference hierarchy: the new override already points where its
// reference does.
func dropMatchReference(rec *Record) {
	for _, p := range append([]*Property(nil), rec.Properties...) {
		ops := p.Operations[:0]
		for _, op := range p.Operations {
			if op.Flag&FlagIDPointerMatchReference == 0 {
				ops = append(ops, op)
			}
		}
		for i := len(ops); i < len(p.Operations); i++ {
			p.Operations[i] = nil
		}
		p.Operations = ops
		if len(p.Operations) == 0 {
			rec.PropertyDelete(p)
		}
	}
}

// cleanup deletes the candidates nothing uses, until none is left to
// delete. Deleting one entity can leave others unused.
func (r *resyncer) cleanup(candidates []Entity) {
	m := r.m
	for changed := true; changed; {
		changed = false
		for i, e := range candidates {
			if e == nil {
				continue
			}
			if !m.Contains(e) {
				candidates[i] = nil
				continue
			}
			if m.UserCount(e) != 0 {
				continue
			}
			m.logger.Debug().Str("entity", entityName(e)).Msg("unused override deleted")
			m.Delete(e)
			candidates[i] = nil
			changed = true
			r.rep.count(func(c *Counts) { c.Deleted++ })
		}
	}
}

// park keeps an obsolete user-edited override for the user to recover.
func (r *resyncer) park(e Entity) error {
	id := e.Base()
	id.Flag |= FlagResyncLeftover
	r.rep.count(func(c *Counts) { c.Residual++ })
	r.rep.Warnf("obsolete override %s kept as it was user-edited", entityName(e))
	r.m.logger.Info().Str("entity", entityName(e)).Msg("old override kept as it was user-edited")

	if r.residual == nil || !isInstanced(e) || containerHolds(r.residual, e) {
		return nil
	}
	return r.residual.Link(e)
}

func (r *resyncer) freeNoMain() {
	for _, e := range r.noMain {
		Free(e)
	}
	r.noMain = nil
}

func containerHolds(c Container, e Entity) bool {
	for _, member := range c.Members() {
		if member == e {
			return true
		}
	}
	return false
}

// MainResync resyncs every override hierarchy of m that needs it, library
// by library from the most indirectly used ones down to local data.
// Obsolete user-edited overrides are gathered in a residual container,
// created under instancer when needed and deleted again when it ends up
// empty.
func MainResync(m *Main, instancer Container, rep *Report) error {
	residual := findResidual(m)
	if residual == nil {
		c, err := m.newContainer(m.residualName)
		if err != nil {
			return fmt.Errorf("override: residual container: %w", err)
		}
		residual = c
		if instancer != nil {
			if err := instancer.Link(c); err != nil {
				return fmt.Errorf("override: residual container: %w", err)
			}
		}
	}
	defer func() {
		if len(residual.Members()) == 0 {
			m.Delete(residual)
		}
	}()

	maxLevel, err := libraryLevels(m)
	if err != nil {
		rep.Errorf("%v", err)
		return err
	}

	r := newResyncer(m, residual, instancer, rep)
	var errs []error
	for level := maxLevel; level >= 0; level-- {
		errs = append(errs, r.resyncLevel(level)...)
	}

	if err := createPostProcess(m, r.newids, nil, instancer, residual, true); err != nil {
		rep.Errorf("cannot instantiate new overrides: %v", err)
		errs = append(errs, err)
	}

	for _, lib := range m.sortedLibraries() {
		if lib.Tag&LibTagResyncRequired != 0 {
			m.logger.Info().Str("library", lib.Name).Msg("library holds overrides that needed a resync")
		}
	}
	if s := rep.Summary(); s != "" {
		m.logger.Info().Msg(s)
	}
	return errors.Join(errs...)
}

// findResidual returns the local residual container of m, if any.
func findResidual(m *Main) Container {
	info, ok := containerKind()
	if !ok {
		return nil
	}
	e := m.Find(info.Kind, m.residualName, nil)
	if e == nil || e.Base().IsOverride() {
		return nil
	}
	c, _ := e.(Container)
	return c
}

// libraryLevels computes the indirect level of every library of m: a
// library used by another one sits one level deeper. It returns the
// highest level, 0 when everything is local.
func libraryLevels(m *Main) (int, error) {
	libs := make(map[*Library]bool)
	for _, lib := range m.libraries {
		libs[lib] = true
	}
	for _, e := range m.entities {
		if lib := e.Base().Lib; lib != nil {
			libs[lib] = true
		}
	}
	if len(libs) == 0 {
		return 0, nil
	}
	for lib := range libs {
		lib.Level = 1
	}

	for changed := true; changed; {
		changed = false
		for _, e := range m.entities {
			owner := e.Base().Lib
			if owner == nil {
				continue
			}
			rna.ForEachID(e, func(l rna.Link) bool {
				if l.Flag&rna.LinkLoopback != 0 {
					return true
				}
				target := asEntity(l.Target())
				if target == nil {
					return true
				}
				used := target.Base().Lib
				if used == nil || used == owner || owner.Level < used.Level {
					return true
				}
				used.Level = owner.Level + 1
				changed = true
				return true
			})
		}
		for lib := range libs {
			if lib.Level > maxLibraryLevel {
				m.logger.Error().Str("library", lib.Name).Int("level", lib.Level).
					Msg("library indirect level too high, there is likely a dependency loop")
				return 0, fmt.Errorf("%w: %s", ErrLibraryLevel, lib.Name)
			}
		}
	}

	maxLevel := 0
	for lib := range libs {
		if lib.Level > warnLibraryLevel {
			m.logger.Warn().Str("library", lib.Name).Int("level", lib.Level).Msg("library indirect level very high")
		}
		maxLevel = max(maxLevel, lib.Level)
	}
	return maxLevel, nil
}

// resyncLevel resyncs the hierarchies owned by the libraries of the given
// indirect level, local data for level 0.
func (r *resyncer) resyncLevel(level int) []error {
	m := r.m
	m.setTag(TagDoIt, false)
	rels := m.buildRelations()
	order := Order(m)

	// Tag the linked data existing overrides would need overridden if
	// they were created now.
	for _, e := range order {
		id := e.Base()
		if !id.IsRealOverride() || id.Override.Flag&RecordNoHierarchy != 0 {
			continue
		}
		ref := id.Override.Reference
		if ref.Base().HasTag(TagDoIt | TagMissing) {
			continue
		}
		rels.clearTags()
		g := newGroupTagger(m, rels, ref, false, true)
		g.linkedGroupTag()
		rels.clearTags()
		g.dependenciesTag(ref)
	}

	// Overrides need a resync when already tagged, or when they use linked
	// data of another library that now needs to be overridden.
	roots := newResyncRoots()
	rels.clearTags()
	for _, e := range order {
		id := e.Base()
		if !id.IsRealOverride() || libraryLevel(e) != level || id.Override.Flag&RecordNoHierarchy != 0 {
			continue
		}
		if id.HasTag(TagNeedResync) {
			m.logger.Debug().Str("entity", entityName(e)).Msg("override already tagged as needing resync")
			r.finalizeTagging(rels, e, roots, level)
			continue
		}
		for _, entry := range rels.to(e) {
			if entry.flag&rna.LinkNotOverridable != 0 {
				continue
			}
			to := entry.other
			if to != nil && to.Base().IsLinked() && to.Base().Lib != id.Lib && to.Base().HasTag(TagDoIt) {
				id.SetTag(TagNeedResync)
				m.logger.Debug().Str("entity", entityName(e)).Str("uses", entityName(to)).
					Msg("override needs resync, it uses linked data that now needs to be overridden")
				r.finalizeTagging(rels, e, roots, level)
				break
			}
		}
	}
	m.setTag(TagDoIt, false)

	var errs []error
	for _, uid := range roots.order {
		// Earlier hierarchies of this level may have replaced or deleted
		// the entities recorded while tagging.
		root := m.FindUID(uid)
		if root == nil {
			m.logger.Debug().Stringer("root", uid).Msg("resync root left main before its turn, skipped")
			continue
		}
		var partial []Entity
		for _, puid := range roots.byRoot[uid] {
			if e := m.FindUID(puid); e != nil {
				partial = append(partial, e)
			}
		}
		if len(partial) == 0 {
			continue
		}
		if root.Base().IsLinked() {
			root.Base().Lib.Tag |= LibTagResyncRequired
		}
		m.logger.Debug().Str("root", entityName(root)).Str("first", entityName(partial[0])).
			Msg("resyncing all dependencies under root")
		if _, err := r.resync(root, partial); err != nil {
			errs = append(errs, err)
		}
	}
	r.freeNoMain()

	// Anything still tagged at this level or above was missed.
	for _, e := range m.entities {
		id := e.Base()
		if !id.HasTag(TagNeedResync) || !id.IsRealOverride() {
			continue
		}
		if libraryLevel(e) >= level {
			m.logger.Error().Str("entity", entityName(e)).Int("level", level).
				Msg("override still tagged as needing resync after processing its library level")
		}
		if libraryLevel(e) == level {
			id.ClearTag(TagNeedResync)
		}
	}

	HierarchyRootEnsure(m)
	return errs
}

// resyncRoots gathers the partial resync roots of every hierarchy root,
// in discovery order. Entities are keyed by session identity, which
// survives their replacement by a resync.
type resyncRoots struct {
	order  []uuid.UUID
	byRoot map[uuid.UUID][]uuid.UUID
}

func newResyncRoots() *resyncRoots {
	return &resyncRoots{byRoot: make(map[uuid.UUID][]uuid.UUID)}
}

func (rr *resyncRoots) add(hierarchyRoot, e Entity) {
	uid := hierarchyRoot.Base().SessionUID
	if _, ok := rr.byRoot[uid]; !ok {
		rr.order = append(rr.order, uid)
	}
	rr.byRoot[uid] = append(rr.byRoot[uid], e.Base().SessionUID)
}

// finalizeTagging tags every override between e and a tagged ancestor of
// its hierarchy, and records e as a partial resync root when it has no
// tagged ancestor. It reports whether e is part of a resync subtree.
func (r *resyncer) finalizeTagging(rels *relations, e Entity, roots *resyncRoots, level int) bool {
	m := r.m
	id := e.Base()
	if libraryLevel(e) != level {
		m.logger.Error().Str("entity", entityName(e)).Int("level", level).Int("entity_level", libraryLevel(e)).
			Msg("override detected as needing resync outside of its library level, skipped")
		id.ClearTag(TagNeedResync)
		return false
	}

	rel := rels.get(e)
	if rel.tag&relProcessed != 0 {
		return id.IsOverride() && id.HasTag(TagNeedResync)
	}
	rel.tag |= relProcessed

	// Dependency loops would otherwise leave the loop without any root:
	// the tag is lifted while walking ancestors.
	tagged := id.Tag & TagNeedResync
	id.ClearTag(TagNeedResync)

	ancestorTagged := false
	for _, entry := range rel.from {
		if entry.flag&(rna.LinkNotOverridable|rna.LinkLoopback) != 0 {
			continue
		}
		from := entry.other
		fid := from.Base()
		if from == e || !fid.IsRealOverride() || fid.Lib != id.Lib ||
			fid.Override.HierarchyRoot != id.Override.HierarchyRoot {
			continue
		}
		if r.finalizeTagging(rels, from, roots, level) && !ancestorTagged {
			ancestorTagged = true
			m.logger.Debug().Str("entity", entityName(e)).Str("user", entityName(from)).
				Msg("override needs resync, its user needs one")
		}
	}

	id.Tag |= tagged
	switch {
	case ancestorTagged:
		id.SetTag(TagNeedResync)
	case id.HasTag(TagNeedResync):
		hierarchyRoot := id.Override.HierarchyRoot
		if hierarchyRoot == nil {
			hierarchyRoot = e
		}
		m.logger.Debug().Str("entity", entityName(e)).Str("root", entityName(hierarchyRoot)).
			Msg("partial resync root found")
		roots.add(hierarchyRoot, e)
		ancestorTagged = true
	}
	return ancestorTagged
}
