package override

import "github.com/brunoga/override/rna"

// maxHierarchyDepth bounds recursive walks up override hierarchies.
const maxHierarchyDepth = 1000

// groupTagger tags the members of an override group, either on the linked
// reference side or on the override side.
type groupTagger struct {
	m    *Main
	rels *relations
	root Entity
	// hierarchyRoot restricts override side tagging to one hierarchy.
	hierarchyRoot Entity
	tag           IDTag
	missingTag    IDTag
	// isOverride is set when walking overrides rather than their linked
	// references.
	isOverride bool
	// isResync disables the extra container tagging done on creation.
	isResync bool

	// instantiating maps linked instanced entities to every container
	// holding them.
	instantiating map[Entity][]Container
}

func newGroupTagger(m *Main, rels *relations, root Entity, isOverride, isResync bool) *groupTagger {
	g := &groupTagger{
		m:          m,
		rels:       rels,
		root:       root,
		tag:        TagDoIt,
		missingTag: TagMissing,
		isOverride: isOverride,
		isResync:   isResync,
	}
	if !isOverride {
		g.instantiating = make(map[Entity][]Container)
		for _, e := range m.entities {
			c, ok := e.(Container)
			if !ok {
				continue
			}
			for _, member := range c.Members() {
				if member != nil && member.Base().IsLinked() {
					g.instantiating[member] = append(g.instantiating[member], c)
				}
			}
		}
	}
	return g
}

// tagEntity sets the group tag on e, or the missing tag when missing says
// the data behind e could not be found.
func (g *groupTagger) tagEntity(e Entity, missing bool) {
	if missing {
		e.Base().SetTag(g.missingTag)
	} else {
		e.Base().SetTag(g.tag)
	}
}

func (g *groupTagger) tagged(e Entity) bool {
	return e.Base().HasTag(g.tag)
}

// linkedGroupTag tags the boundary entities of the linked group rooted at
// g.root. Only hierarchy key kinds are group members; dependenciesTag
// completes the group afterwards.
func (g *groupTagger) linkedGroupTag() {
	root := g.root
	g.tagEntity(root, root.Base().IsMissing())

	if !isHierarchyKey(root) {
		return
	}
	g.linkedGroupTagRecursive(root)
	g.untagEmptyContainers()

	// On creation every tagged instanced entity gets a container to live
	// in: a local one already holding it, or a linked one tagged here.
	if g.isResync {
		return
	}
	for _, e := range g.m.entities {
		if !e.Base().IsLinked() || !g.tagged(e) || !isInstanced(e) {
			continue
		}
		var found bool
		var candidate Container
		for _, c := range g.instantiating[e] {
			if !c.Base().IsLinked() || g.tagged(c) {
				found = true
				break
			}
			candidate = c
		}
		if !found && candidate != nil {
			g.tagEntity(candidate, candidate.Base().IsMissing())
		}
	}
}

func (g *groupTagger) linkedGroupTagRecursive(owner Entity) {
	rel := g.rels.get(owner)
	if rel.tag&relProcessed != 0 {
		return
	}
	rel.tag |= relProcessed

	for _, entry := range rel.to {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		to := entry.other
		if to == nil || to == owner || to.Base().Lib != owner.Base().Lib {
			continue
		}
		if isHierarchyKey(to) {
			g.tagEntity(to, to.Base().IsMissing())
		}
		g.linkedGroupTagRecursive(to)
	}
}

// untagEmptyContainers untags the containers, root excepted, that hold no
// tagged entity either directly or through their child containers.
func (g *groupTagger) untagEmptyContainers() {
	for _, e := range g.m.entities {
		c, ok := e.(Container)
		if !ok || e == g.root || !g.tagged(e) {
			continue
		}
		if !g.keepContainer(c, make(map[Container]bool)) {
			e.Base().ClearTag(g.tag)
		}
	}
}

func (g *groupTagger) keepContainer(c Container, seen map[Container]bool) bool {
	if seen[c] {
		return false
	}
	seen[c] = true
	for _, member := range c.Members() {
		if member == nil {
			continue
		}
		if child, ok := member.(Container); ok {
			if g.keepContainer(child, seen) {
				return true
			}
			continue
		}
		if g.tagged(member) {
			return true
		}
	}
	return false
}

// dependenciesTag tags every entity of the group that depends, directly or
// not, on a tagged entity, and every tagged entity's same-library users.
// It reports whether e ends up tagged.
func (g *groupTagger) dependenciesTag(e Entity) bool {
	rel := g.rels.get(e)
	if rel.tag&relProcessedTo != 0 {
		return g.tagged(e)
	}
	rel.tag |= relProcessedTo

	for _, entry := range rel.to {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		to := entry.other
		if to == nil || to.Base().Lib != e.Base().Lib || (g.isOverride && !to.Base().IsOverride()) {
			continue
		}
		if g.dependenciesTag(to) {
			e.Base().SetTag(g.tag)
		}
	}

	if g.tagged(e) {
		g.dependenciesTagFrom(e)
	}
	return g.tagged(e)
}

func (g *groupTagger) dependenciesTagFrom(e Entity) {
	if !g.tagged(e) {
		return
	}
	rel := g.rels.get(e)
	if rel.tag&relProcessedFrom != 0 {
		return
	}
	rel.tag |= relProcessedFrom

	for _, entry := range rel.from {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		from := entry.other
		if from == nil || from.Base().Lib != e.Base().Lib || (g.isOverride && !from.Base().IsOverride()) {
			continue
		}
		from.Base().SetTag(g.tag)
		g.dependenciesTagFrom(from)
	}
}

// overridesGroupTag tags every override of g.root's group: the overrides
// reachable from it within the same library, the same hierarchy and the
// same reference library.
func (g *groupTagger) overridesGroupTag() {
	root := g.root
	g.tagEntity(root, root.Base().Override.Reference.Base().IsMissing())
	g.overridesGroupTagRecursive(root)
}

func (g *groupTagger) overridesGroupTagRecursive(owner Entity) {
	oid := owner.Base()
	if oid.IsRealOverride() && oid.Override.Flag&RecordNoHierarchy != 0 {
		return
	}
	rel := g.rels.get(owner)
	if rel.tag&relProcessed != 0 {
		return
	}
	rel.tag |= relProcessed

	refLib := overrideReference(owner).Base().Lib
	for _, entry := range rel.to {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		to := entry.other
		if to == nil || to == owner {
			continue
		}
		tid := to.Base()
		if !tid.IsOverride() || tid.Lib != oid.Lib {
			continue
		}
		if tid.IsRealOverride() && tid.Override.HierarchyRoot != g.hierarchyRoot {
			continue
		}
		toRef := overrideReference(to)
		if toRef == nil || toRef.Base().Lib != refLib {
			continue
		}
		g.tagEntity(to, toRef.Base().IsMissing())
		g.overridesGroupTagRecursive(to)
	}
}

// overrideReference returns the linked reference of a real override, nil
// for anything else.
func overrideReference(e Entity) Entity {
	if rec := e.Base().Override; rec != nil {
		return rec.Reference
	}
	return nil
}

// rootFind walks users of e up to the override farthest from it, which is
// the most likely root of e's hierarchy. level is the depth of e in the
// walk; the returned level is the depth of the found root.
func (m *Main) rootFind(rels *relations, e Entity, level int) (Entity, int) {
	if level > maxHierarchyDepth {
		m.logger.Error().Str("entity", entityName(e)).
			Msg("override dependency chain too deep, skipping further processing")
		return nil, level
	}
	rel := rels.get(e)
	if rel.tag&relProcessed != 0 {
		return e.Base().Override.HierarchyRoot, level
	}
	rel.tag |= relProcessed

	bestLevel, best := level, e
	for _, entry := range rel.from {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		from := entry.other
		if from == nil || from == e || !from.Base().IsRealOverride() || from.Base().Lib != e.Base().Lib {
			continue
		}
		candidate, candidateLevel := m.rootFind(rels, from, level+1)
		if candidate != nil && candidateLevel > bestLevel {
			best, bestLevel = candidate, candidateLevel
		}
	}
	return best, bestLevel
}

// rootHierarchySet propagates root as the hierarchy root of e and of the
// overrides it depends on. from is the override that led to e, if any.
func (m *Main) rootHierarchySet(rels *relations, root, e, from Entity) {
	id := e.Base()
	if id.IsRealOverride() {
		rec := id.Override
		if rec.HierarchyRoot == root {
			return
		}
		if rec.HierarchyRoot != nil {
			if from == nil || !from.Base().IsRealOverride() {
				m.logger.Warn().Str("entity", entityName(e)).Str("proposed", entityName(root)).
					Str("current", entityName(rec.HierarchyRoot)).
					Msg("inconsistent override hierarchy, keeping current root")
				return
			}
			// The proposed root wins when the link from -> e also exists
			// between their references.
			fromRef := from.Base().Override.Reference
			replace := false
			for _, entry := range rels.from(rec.Reference) {
				if entry.flag&rna.LinkNotOverridable == 0 && entry.other == fromRef {
					replace = true
					break
				}
			}
			if !replace {
				m.logger.Warn().Str("entity", entityName(e)).Str("proposed", entityName(root)).
					Str("current", entityName(rec.HierarchyRoot)).
					Msg("inconsistent override hierarchy, proposed root not valid")
				return
			}
			m.logger.Warn().Str("entity", entityName(e)).Str("proposed", entityName(root)).
				Str("current", entityName(rec.HierarchyRoot)).
				Msg("inconsistent override hierarchy, replacing root")
		}
		rec.HierarchyRoot = root
	}

	for _, entry := range rels.to(e) {
		if entry.flag&rna.LinkNotOverridable != 0 {
			continue
		}
		to := entry.other
		if to == nil || to == e || !to.Base().IsOverride() || to.Base().Lib != id.Lib {
			continue
		}
		m.rootHierarchySet(rels, root, to, e)
	}
}

// HierarchyRootEnsure gives every real override of m a valid hierarchy
// root, clearing roots that are not overrides of the same library and
// finding new ones from the override relations.
func HierarchyRootEnsure(m *Main) {
	rels := m.buildRelations()
	for _, e := range m.entities {
		id := e.Base()
		if !id.IsRealOverride() {
			continue
		}
		rec := id.Override
		if root := rec.HierarchyRoot; root != nil {
			if root.Base().IsRealOverride() && root.Base().Lib == id.Lib && m.Contains(root) {
				continue
			}
			m.logger.Error().Str("entity", entityName(e)).Str("root", entityName(root)).
				Msg("invalid override hierarchy root, looking for a new one")
			rec.HierarchyRoot = nil
		}

		rels.clearTags()
		root, _ := m.rootFind(rels, e, 0)
		if root == nil {
			continue
		}
		if current := root.Base().Override.HierarchyRoot; current != nil && current != root {
			m.logger.Warn().Str("entity", entityName(e)).Str("root", entityName(root)).
				Str("other", entityName(current)).
				Msg("override found in a hierarchy with a different root")
			continue
		}
		m.rootHierarchySet(rels, root, e, nil)
	}
}

// IsHierarchyLeaf reports whether the real override e uses no other
// override of its own hierarchy.
func IsHierarchyLeaf(m *Main, e Entity) bool {
	id := e.Base()
	if !id.IsRealOverride() {
		return false
	}
	leaf := true
	rna.ForEachID(e, func(l rna.Link) bool {
		target := asEntity(l.Target())
		if target != nil && target != e && target.Base().IsRealOverride() &&
			target.Base().Override.HierarchyRoot == id.Override.HierarchyRoot {
			leaf = false
			return false
		}
		return true
	})
	return leaf
}
