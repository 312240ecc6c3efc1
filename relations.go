package override

import "github.com/brunoga/override/rna"

type relationTag uint8

const (
	relProcessed relationTag = 1 << iota
	relProcessedTo
	relProcessedFrom
)

// relationEntry is one edge between two entities. Flags of parallel links
// are intersected: an edge only counts as not overridable when every link
// behind it is.
type relationEntry struct {
	other Entity
	flag  rna.LinkFlag
}

type relation struct {
	to   []relationEntry
	from []relationEntry
	tag  relationTag
}

// relations is the materialized entity link graph of a Main at one point
// of a pass. Embedded entities are folded into their owner.
type relations struct {
	byEntity map[Entity]*relation
}

func (m *Main) buildRelations() *relations {
	rels := &relations{byEntity: make(map[Entity]*relation, len(m.entities))}
	for _, e := range m.entities {
		rels.add(e)
	}
	return rels
}

func (r *relations) get(e Entity) *relation {
	rel, ok := r.byEntity[e]
	if !ok {
		rel = &relation{}
		r.byEntity[e] = rel
	}
	return rel
}

func (r *relations) add(owner Entity) {
	rel := r.get(owner)
	rna.ForEachID(owner, func(l rna.Link) bool {
		if l.Flag&rna.LinkEmbedded != 0 {
			return true
		}
		target := asEntity(l.Target())
		if target == nil {
			return true
		}
		rel.to = mergeEntry(rel.to, target, l.Flag)
		other := r.get(target)
		other.from = mergeEntry(other.from, owner, l.Flag)
		return true
	})
}

func mergeEntry(entries []relationEntry, other Entity, flag rna.LinkFlag) []relationEntry {
	for i := range entries {
		if entries[i].other == other {
			entries[i].flag &= flag
			return entries
		}
	}
	return append(entries, relationEntry{other: other, flag: flag})
}

// clearTags resets the processed tags of every relation.
func (r *relations) clearTags() {
	for _, rel := range r.byEntity {
		rel.tag = 0
	}
}

func (r *relations) to(e Entity) []relationEntry {
	if rel, ok := r.byEntity[e]; ok {
		return rel.to
	}
	return nil
}

func (r *relations) from(e Entity) []relationEntry {
	if rel, ok := r.byEntity[e]; ok {
		return rel.from
	}
	return nil
}
