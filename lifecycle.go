package override

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/brunoga/override/rna"
)

// HiddenContainerName names the container created to host new overrides
// that nothing instantiates.
const HiddenContainerName = "OVERRIDE_HIDDEN"

// CopyEntity duplicates e outside of any Main. The copy shares e's links to
// other entities, its library and its override record; data owned by e,
// embedded entities included, is duplicated.
func CopyEntity(e Entity) (Entity, error) {
	extra := append(entityTypes(),
		reflect.TypeOf((*Record)(nil)),
		reflect.TypeOf((*Library)(nil)),
	)
	dup, err := rna.Copy(reflect.ValueOf(e), extra...)
	if err != nil {
		return nil, fmt.Errorf("override: copy %s: %w", entityName(e), err)
	}
	out, ok := dup.Interface().(Entity)
	if !ok {
		return nil, fmt.Errorf("override: copy of %T is not an entity", e)
	}
	id := out.Base()
	id.SessionUID = uuid.Nil
	id.Tag = TagNoMain
	return out, nil
}

// setEmbeddedOverride sets or clears FlagEmbeddedOverride on every entity
// embedded in e.
func setEmbeddedOverride(e Entity, set bool) {
	rna.ForEachID(e, func(l rna.Link) bool {
		if l.Flag&rna.LinkEmbedded == 0 {
			return true
		}
		if sub := asEntity(l.Target()); sub != nil {
			if set {
				sub.Base().Flag |= FlagEmbeddedOverride
			} else {
				sub.Base().Flag &^= FlagEmbeddedOverride
			}
		}
		return true
	})
}

// createFrom makes a new override of ref owned by owner. Override data
// carried by ref itself is never copied; templates are applied by Init.
func createFrom(m *Main, owner *Library, ref Entity, noMain bool) (Entity, error) {
	local, err := CopyEntity(ref)
	if err != nil {
		return nil, err
	}
	id := local.Base()
	id.Override = nil
	id.Flag &^= FlagEmbeddedOverride
	id.Lib = owner

	Init(local, ref)
	setEmbeddedOverride(local, true)

	if noMain {
		return local, nil
	}
	if err := m.AddUnique(local); err != nil {
		return nil, err
	}
	return local, nil
}

// CreateFromID overrides a single linked entity, outside of any hierarchy.
// With doTaggedRemap, local entities tagged TagDoIt are remapped to use the
// new override instead of ref.
func CreateFromID(m *Main, ref Entity, doTaggedRemap bool) (Entity, error) {
	if !ref.Base().IsLinked() {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, entityName(ref))
	}
	local, err := createFrom(m, nil, ref, false)
	if err != nil {
		return nil, err
	}
	rec := local.Base().Override
	// Automatic resync of a lone override would drag in every hidden
	// dependency of ref.
	rec.Flag |= RecordNoHierarchy
	rec.Flag &^= RecordSystemDefined
	rec.HierarchyRoot = local

	if doTaggedRemap {
		var owners []Entity
		for _, e := range m.entities {
			if e.Base().HasTag(TagDoIt) && !e.Base().IsLinked() {
				owners = append(owners, e)
			}
		}
		m.relink(owners, map[Entity]Entity{ref: local}, RemapSkipHierarchyRoots)
	}
	m.logger.Debug().Str("entity", entityName(local)).Str("reference", entityName(ref)).Msg("override created")
	return local, nil
}

// CreateFromTag overrides every entity tagged TagDoIt from the library of
// rootRef, owned by owner, and relinks the new overrides to use each other
// instead of their references.
//
// hierarchyRoot, when given, is an existing override whose hierarchy the
// new overrides join; its existing overrides are reused instead of being
// created again (unless noMain). Otherwise hierarchyRootRef, or rootRef,
// designates the reference whose override becomes the hierarchy root.
//
// With noMain the new overrides are kept out of m. The returned map holds
// the override of every processed reference. On failure, every override
// created here is deleted.
func CreateFromTag(m *Main, owner *Library, rootRef, hierarchyRoot, hierarchyRootRef Entity, noMain, fullyEditable bool) (map[Entity]Entity, error) {
	if rootRef == nil || !rootRef.Base().IsLinked() {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, entityName(rootRef))
	}
	if hierarchyRoot != nil && hierarchyRootRef != nil {
		m.assertf("both hierarchy root and hierarchy root reference given for %s", entityName(rootRef))
		hierarchyRootRef = nil
	}
	refLib := rootRef.Base().Lib

	newids := make(map[Entity]Entity)
	if hierarchyRoot != nil && !noMain {
		for _, e := range m.entities {
			if rec := e.Base().Override; e.Base().IsRealOverride() && rec.HierarchyRoot == hierarchyRoot {
				newids[rec.Reference] = e
			}
		}
	}

	var todo []Entity
	for _, e := range m.entities {
		if e.Base().HasTag(TagDoIt) && e.Base().Lib == refLib {
			todo = append(todo, e)
		}
	}

	var created []Entity
	fail := func(err error) (map[Entity]Entity, error) {
		if !noMain {
			m.Delete(created...)
		}
		for _, e := range created {
			Free(e)
		}
		return nil, err
	}

	for _, ref := range todo {
		local, ok := newids[ref]
		if !ok {
			var err error
			local, err = createFrom(m, owner, ref, noMain)
			if err != nil {
				return fail(fmt.Errorf("override: create override of %s: %w", entityName(ref), err))
			}
			if fullyEditable {
				local.Base().Override.Flag &^= RecordSystemDefined
			}
			newids[ref] = local
			created = append(created, local)
		}
		local.Base().SetTag(TagDoIt)
	}

	switch {
	case hierarchyRootRef != nil:
		hierarchyRoot = newids[hierarchyRootRef]
	case newids[rootRef] != nil && (hierarchyRoot == nil || hierarchyRoot.Base().Override.Reference == rootRef):
		hierarchyRoot = newids[rootRef]
	}
	if hierarchyRoot == nil {
		return fail(fmt.Errorf("override: no hierarchy root for %s", entityName(rootRef)))
	}

	// Only entities outside of the reference library get relinked: new
	// overrides and local users tagged for it, never linked data.
	var relinked []Entity
	for _, e := range m.entities {
		if e.Base().HasTag(TagDoIt) && e.Base().Lib != refLib {
			relinked = append(relinked, e)
		}
	}
	if noMain {
		relinked = append(relinked, created...)
	}

	mapping := make(map[Entity]Entity, len(todo))
	for _, ref := range todo {
		local := newids[ref]
		if local == nil {
			continue
		}
		local.Base().Override.HierarchyRoot = hierarchyRoot
		mapping[ref] = local
	}
	m.relink(relinked, mapping, RemapSkipHierarchyRoots)
	return newids, nil
}

// Create overrides the linked hierarchy rooted at rootRef and returns the
// override of rootRef. The root override is linked into instancer when
// nothing instantiates it yet; new instanced overrides nothing holds go to
// a hidden container. With fullyEditable, new overrides are user overrides
// instead of system ones.
func Create(m *Main, rootRef Entity, instancer Container, fullyEditable bool) (Entity, error) {
	return CreateWithHierarchyRoot(m, rootRef, nil, instancer, fullyEditable)
}

// CreateWithHierarchyRoot is Create for a root that is part of a larger
// hierarchy: hierarchyRootRef is the reference of the root of that
// hierarchy, or an existing override when it lives in another library.
func CreateWithHierarchyRoot(m *Main, rootRef, hierarchyRootRef Entity, instancer Container, fullyEditable bool) (Entity, error) {
	if !rootRef.Base().IsLinked() {
		return nil, fmt.Errorf("%w: %s", ErrNotLinked, entityName(rootRef))
	}
	if hierarchyRootRef == nil {
		hierarchyRootRef = rootRef
	}

	m.setTag(TagDoIt, false)
	defer m.setTag(TagDoIt, false)

	rels := m.buildRelations()
	g := newGroupTagger(m, rels, rootRef, false, false)
	g.linkedGroupTag()
	rels.clearTags()
	g.dependenciesTag(rootRef)

	var newids map[Entity]Entity
	var err error
	if hierarchyRootRef.Base().Lib != rootRef.Base().Lib {
		if !hierarchyRootRef.Base().IsRealOverride() {
			return nil, fmt.Errorf("%w: hierarchy root %s", ErrNotOverride, entityName(hierarchyRootRef))
		}
		newids, err = CreateFromTag(m, nil, rootRef, hierarchyRootRef, nil, false, fullyEditable)
	} else {
		newids, err = CreateFromTag(m, nil, rootRef, nil, hierarchyRootRef, false, fullyEditable)
	}
	if err != nil {
		return nil, err
	}

	if err := createPostProcess(m, newids, rootRef, instancer, nil, false); err != nil {
		return nil, err
	}
	m.setTag(TagDoIt, false)

	// Rebuild the rules the copy could not carry.
	MainOperationsCreate(m, true)

	root := newids[rootRef]
	m.logger.Info().Str("entity", entityName(root)).Int("overrides", len(newids)).Msg("override hierarchy created")
	return root, nil
}

// instantiated collects every entity reachable from c through container
// membership.
func instantiated(c Container, into map[Entity]bool) {
	if c == nil || into[c] {
		return
	}
	into[c] = true
	for _, member := range c.Members() {
		if member == nil {
			continue
		}
		if sub, ok := member.(Container); ok {
			instantiated(sub, into)
			continue
		}
		into[member] = true
	}
}

// createPostProcess makes sure new overrides are visible: the root
// override is linked into instancer, and new instanced overrides that
// nothing holds go to residual, a hidden container or instancer.
func createPostProcess(m *Main, newids map[Entity]Entity, rootRef Entity, instancer, residual Container, isResync bool) error {
	if instancer == nil {
		return nil
	}
	inScene := make(map[Entity]bool)
	instantiated(instancer, inScene)

	rootNew := newids[rootRef]
	if !isResync && rootNew != nil && !rootNew.Base().IsLinked() && !inScene[rootNew] {
		if _, isContainer := rootNew.(Container); isContainer || isInstanced(rootNew) {
			if err := instancer.Link(rootNew); err != nil {
				return fmt.Errorf("override: instantiate %s: %w", entityName(rootNew), err)
			}
			instantiated(instancer, inScene)
		}
	}

	host := residual
	created := false
	for _, ref := range m.entities {
		local := newids[ref]
		if local == nil || local.Base().IsLinked() || !isInstanced(local) || inScene[local] {
			continue
		}
		if host == nil && rootNew != nil {
			if _, isContainer := rootNew.(Container); isContainer {
				if m.UserCount(local) != 0 {
					continue
				}
				c, err := m.newContainer(HiddenContainerName)
				if err != nil {
					return err
				}
				host, created = c, true
			} else {
				for _, e := range m.entities {
					c, ok := e.(Container)
					if !ok || e.Base().IsLinked() || e.Base().IsOverride() || !inScene[e] {
						continue
					}
					for _, member := range c.Members() {
						if member == rootNew {
							host = c
						}
					}
				}
			}
		}
		target := host
		if target == nil {
			target = instancer
		}
		if err := target.Link(local); err != nil {
			return fmt.Errorf("override: instantiate %s: %w", entityName(local), err)
		}
		inScene[local] = true
	}

	if created {
		if err := instancer.Link(host); err != nil {
			return fmt.Errorf("override: instantiate %s: %w", entityName(host), err)
		}
	}
	return nil
}

// MakeLocal turns an override into plain local data.
func MakeLocal(e Entity) {
	id := e.Base()
	if !id.IsOverride() {
		return
	}
	if id.IsEmbeddedOverride() && id.Override == nil {
		// Embedded overrides follow their owner.
		id.Flag &^= FlagEmbeddedOverride
		return
	}
	Free(e)
	setEmbeddedOverride(e, false)
}

// Delete remaps every user of root's override group to the linked
// references and deletes the group.
func Delete(m *Main, root Entity) error {
	if !root.Base().IsRealOverride() {
		return fmt.Errorf("%w: %s", ErrNotOverride, entityName(root))
	}
	m.setTag(TagDoIt, false)
	defer m.setTag(TagDoIt, false)

	rels := m.buildRelations()
	g := newGroupTagger(m, rels, root, true, false)
	g.hierarchyRoot = root.Base().Override.HierarchyRoot
	g.overridesGroupTag()

	var dead []Entity
	for _, e := range m.Entities() {
		if !e.Base().HasTag(TagDoIt) {
			continue
		}
		if e.Base().IsRealOverride() {
			m.Remap(e, e.Base().Override.Reference, RemapSkipLinked|RemapSkipHierarchyRoots)
		}
		dead = append(dead, e)
	}
	m.Delete(dead...)
	m.logger.Info().Str("entity", entityName(root)).Int("deleted", len(dead)).Msg("override hierarchy deleted")
	return nil
}

// IsUserDeletable reports whether users may delete e by hand. Instanced
// overrides held by an overridden container belong to that container.
func IsUserDeletable(m *Main, e Entity) bool {
	if !isInstanced(e) {
		return true
	}
	for _, other := range m.entities {
		c, ok := other.(Container)
		if !ok || !other.Base().IsOverride() {
			continue
		}
		for _, member := range c.Members() {
			if member == e {
				return false
			}
		}
	}
	return true
}

// Validate turns corrupt records into templates: records using their own
// entity, or a local one, as reference.
func Validate(m *Main, e Entity, rep *Report) {
	id := e.Base()
	rec := id.Override
	if rec == nil || rec.Reference == nil {
		return
	}
	switch {
	case rec.Reference == e:
		rep.Errorf("data corruption: %s is using itself as library override reference", entityName(e))
	case !rec.Reference.Base().IsLinked():
		rep.Errorf("data corruption: %s is using local %s as library override reference",
			entityName(e), entityName(rec.Reference))
	default:
		return
	}
	m.logger.Error().Str("entity", entityName(e)).Msg("invalid override reference, turned into a template")
	rec.Reference = nil
}

func MainValidate(m *Main, rep *Report) {
	for _, e := range m.entities {
		if e.Base().Override != nil {
			Validate(m, e, rep)
		}
	}
}

// StatusCheckLocal reports whether the non overridden properties of local
// still match its reference. A mismatch clears TagRefOK.
func StatusCheckLocal(m *Main, local Entity) bool {
	rec := local.Base().Override
	if rec == nil || rec.Reference == nil {
		return true
	}
	ok, _ := Compare(m, rna.IDPointer(local), rna.IDPointer(rec.Reference), "", rec,
		CompareIgnoreNonOverridable|CompareIgnoreOverridden)
	if !ok {
		local.Base().ClearTag(TagRefOK)
	}
	return ok
}

// StatusCheckReference reports whether the reference of local changed
// since local was last updated. Overrides of overrides check their own
// reference first.
func StatusCheckReference(m *Main, local Entity) bool {
	rec := local.Base().Override
	if rec == nil || rec.Reference == nil {
		return true
	}
	ref := rec.Reference
	if ref.Base().Override != nil && !ref.Base().HasTag(TagRefOK) {
		if !StatusCheckReference(m, ref) {
			local.Base().ClearTag(TagRefOK)
			return false
		}
	}
	ok, _ := Compare(m, rna.IDPointer(local), rna.IDPointer(ref), "", rec, CompareIgnoreOverridden)
	if !ok {
		local.Base().ClearTag(TagRefOK)
	}
	return ok
}
