package override

import (
	"sort"

	"github.com/brunoga/override/rna"
)

// Order returns the entities of m, dependencies first: an entity comes
// after every entity it links to. Entities of the same depth are sorted by
// kind, library and name. Entities caught in link cycles come last, in the
// same order.
func Order(m *Main) []Entity {
	rels := m.buildRelations()
	inMain := make(map[Entity]bool, len(m.entities))
	for _, e := range m.entities {
		inMain[e] = true
	}
	counted := func(e Entity, entry relationEntry) bool {
		return entry.other != nil && entry.other != e && inMain[entry.other] &&
			entry.flag&rna.LinkLoopback == 0
	}

	pending := make(map[Entity]int, len(m.entities))
	var ready []Entity
	for _, e := range m.entities {
		n := 0
		for _, entry := range rels.to(e) {
			if counted(e, entry) {
				n++
			}
		}
		pending[e] = n
		if n == 0 {
			ready = append(ready, e)
		}
	}

	out := make([]Entity, 0, len(m.entities))
	for len(ready) > 0 {
		sortEntities(ready)
		out = append(out, ready...)
		var next []Entity
		for _, e := range ready {
			delete(pending, e)
			for _, entry := range rels.from(e) {
				if !counted(e, entry) {
					continue
				}
				user := entry.other
				pending[user]--
				if pending[user] == 0 {
					next = append(next, user)
				}
			}
		}
		ready = next
	}

	if len(pending) > 0 {
		rest := make([]Entity, 0, len(pending))
		for e := range pending {
			rest = append(rest, e)
		}
		sortEntities(rest)
		out = append(out, rest...)
	}
	return out
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if a.Kind() != b.Kind() {
			return a.Kind() < b.Kind()
		}
		al, bl := libraryName(a), libraryName(b)
		if al != bl {
			return al < bl
		}
		return a.Base().Name < b.Base().Name
	})
}

// libraryName sorts local data first.
func libraryName(e Entity) string {
	if lib := e.Base().Lib; lib != nil {
		return "\x01" + lib.Name
	}
	return ""
}
