package override

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brunoga/override/rna"
)

// Main is the in-memory entity database override passes operate on.
//
// Engine passes are synchronous and expect exclusive ownership of the Main
// for their whole duration. Lock and Unlock only bracket hierarchy
// remapping during resync.
type Main struct {
	mu        sync.Mutex
	entities  []Entity
	libraries []*Library

	logger       zerolog.Logger
	debug        bool
	notifier     Notifier
	residualName string
}

// NewMain returns an empty database configured by opts.
func NewMain(opts ...Option) *Main {
	m := &Main{
		logger:       zerolog.Nop(),
		residualName: DefaultResidualName,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Main) Logger() *zerolog.Logger {
	return &m.logger
}

func (m *Main) Lock()   { m.mu.Lock() }
func (m *Main) Unlock() { m.mu.Unlock() }

// Add inserts e in the database. Names are unique per kind and library.
func (m *Main) Add(e Entity) error {
	id := e.Base()
	if m.Contains(e) {
		return nil
	}
	if other := m.Find(e.Kind(), id.Name, id.Lib); other != nil {
		return fmt.Errorf("%w: %s %s", ErrNameCollision, e.Kind(), entityName(e))
	}
	if id.SessionUID == uuid.Nil {
		id.SessionUID = uuid.New()
	}
	id.ClearTag(TagNoMain)
	m.entities = append(m.entities, e)
	return nil
}

// AddUnique inserts e, renaming it with a numeric suffix on collision.
func (m *Main) AddUnique(e Entity) error {
	id := e.Base()
	base := id.Name
	for i := 1; m.Find(e.Kind(), id.Name, id.Lib) != nil; i++ {
		if i > 999 {
			return fmt.Errorf("%w: no free name for %s", ErrNameCollision, base)
		}
		id.Name = fmt.Sprintf("%s.%03d", base, i)
	}
	return m.Add(e)
}

// Remove takes e out of the database without touching its users.
func (m *Main) Remove(e Entity) bool {
	for i, other := range m.entities {
		if other == e {
			m.entities = append(m.entities[:i], m.entities[i+1:]...)
			e.Base().SetTag(TagNoMain)
			return true
		}
	}
	return false
}

// replace puts e at the position of old, which leaves the database.
func (m *Main) replace(old, e Entity) {
	for i, other := range m.entities {
		if other == old {
			m.entities[i] = e
			// e takes over the identity of old for the rest of the session.
			e.Base().SessionUID = old.Base().SessionUID
			old.Base().SessionUID = uuid.Nil
			old.Base().SetTag(TagNoMain)
			e.Base().ClearTag(TagNoMain)
			return
		}
	}
}

// FindUID returns the entity of m holding the session identity uid. An
// override replaced by a resync hands its identity to its replacement.
func (m *Main) FindUID(uid uuid.UUID) Entity {
	if uid == uuid.Nil {
		return nil
	}
	for _, e := range m.entities {
		if e.Base().SessionUID == uid {
			return e
		}
	}
	return nil
}

func (m *Main) Contains(e Entity) bool {
	for _, other := range m.entities {
		if other == e {
			return true
		}
	}
	return false
}

func (m *Main) Find(kind Kind, name string, lib *Library) Entity {
	for _, e := range m.entities {
		id := e.Base()
		if e.Kind() == kind && id.Name == name && id.Lib == lib {
			return e
		}
	}
	return nil
}

// Entities returns the entities in storage order.
func (m *Main) Entities() []Entity {
	return append([]Entity(nil), m.entities...)
}

func (m *Main) EntitiesOfKind(kind Kind) []Entity {
	var out []Entity
	for _, e := range m.entities {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

func (m *Main) AddLibrary(lib *Library) {
	for _, other := range m.libraries {
		if other == lib {
			return
		}
	}
	m.libraries = append(m.libraries, lib)
}

func (m *Main) Libraries() []*Library {
	return append([]*Library(nil), m.libraries...)
}

func (m *Main) FindLibrary(name string) *Library {
	for _, lib := range m.libraries {
		if lib.Name == name {
			return lib
		}
	}
	return nil
}

// Users returns the entities holding a link to e, loopback links excluded.
func (m *Main) Users(e Entity) []Entity {
	var users []Entity
	for _, owner := range m.entities {
		if owner == e {
			continue
		}
		found := false
		rna.ForEachID(owner, func(l rna.Link) bool {
			if l.Flag&rna.LinkLoopback == 0 && l.Target() == rna.ID(e) {
				found = true
				return false
			}
			return true
		})
		if found {
			users = append(users, owner)
		}
	}
	return users
}

func (m *Main) UserCount(e Entity) int {
	return len(m.Users(e))
}

type RemapFlag uint8

const (
	// RemapSkipLinked leaves usages from linked entities untouched.
	RemapSkipLinked RemapFlag = 1 << iota
	// RemapSkipHierarchyRoots leaves override hierarchy roots untouched.
	RemapSkipHierarchyRoots
)

// Remap replaces every usage of old by e in the database.
func (m *Main) Remap(old, e Entity, flags RemapFlag) {
	m.relink(m.entities, map[Entity]Entity{old: e}, flags)
}

// relink applies mapping to the links of owners only.
func (m *Main) relink(owners []Entity, mapping map[Entity]Entity, flags RemapFlag) {
	if len(mapping) == 0 {
		return
	}
	for _, owner := range owners {
		id := owner.Base()
		if flags&RemapSkipLinked != 0 && id.IsLinked() {
			continue
		}
		rna.ForEachID(owner, func(l rna.Link) bool {
			target := asEntity(l.Target())
			if target == nil {
				return true
			}
			if to, ok := mapping[target]; ok && to != target {
				var next rna.ID
				if to != nil {
					next = to
				}
				if err := l.Set(next); err != nil {
					m.logger.Error().Err(err).Str("entity", entityName(owner)).Msg("cannot remap link")
				}
			}
			return true
		})
		if flags&RemapSkipHierarchyRoots == 0 && id.Override != nil && id.Override.HierarchyRoot != nil {
			if to, ok := mapping[id.Override.HierarchyRoot]; ok {
				id.Override.HierarchyRoot = to
			}
		}
	}
}

// Delete removes es from the database and clears every remaining usage of
// them: pointers are set to nil and collection items removed.
func (m *Main) Delete(es ...Entity) {
	if len(es) == 0 {
		return
	}
	dead := make(map[Entity]bool, len(es))
	for _, e := range es {
		dead[e] = true
	}
	kept := m.entities[:0]
	for _, e := range m.entities {
		if !dead[e] {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(m.entities); i++ {
		m.entities[i] = nil
	}
	m.entities = kept

	for _, owner := range m.entities {
		var items []rna.Link
		rna.ForEachID(owner, func(l rna.Link) bool {
			target := asEntity(l.Target())
			if target == nil || !dead[target] {
				return true
			}
			if l.IsItem() {
				items = append(items, l)
			} else if err := l.Set(nil); err != nil {
				m.logger.Error().Err(err).Str("entity", entityName(owner)).Msg("cannot clear link")
			}
			return true
		})
		// Later items first so earlier indices stay valid.
		for i := len(items) - 1; i >= 0; i-- {
			if err := items[i].Remove(); err != nil {
				m.logger.Error().Err(err).Str("entity", entityName(owner)).Msg("cannot remove item")
			}
		}
		if rec := owner.Base().Override; rec != nil && rec.HierarchyRoot != nil && dead[rec.HierarchyRoot] {
			rec.HierarchyRoot = nil
		}
	}

	for e := range dead {
		e.Base().SetTag(TagNoMain)
		if rec := e.Base().Override; rec != nil {
			rec.Storage = nil
		}
	}
}

// setTag sets or clears tag on every entity of the database.
func (m *Main) setTag(tag IDTag, set bool) {
	for _, e := range m.entities {
		if set {
			e.Base().SetTag(tag)
		} else {
			e.Base().ClearTag(tag)
		}
	}
}

// assertf reports a broken engine invariant: a panic in debug mode, an
// error log otherwise.
func (m *Main) assertf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if m.debug {
		panic("override: " + msg)
	}
	m.logger.Error().Msg(msg)
}

func (m *Main) notify(e Entity, path string) {
	if m.notifier != nil {
		m.notifier.Changed(e, path)
	}
}

// sortedLibraries returns the libraries ordered by name.
func (m *Main) sortedLibraries() []*Library {
	libs := m.Libraries()
	sort.Slice(libs, func(i, j int) bool { return libs[i].Name < libs[j].Name })
	return libs
}
