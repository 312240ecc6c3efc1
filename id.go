package override

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/brunoga/override/rna"
)

type IDFlag uint8

const (
	// FlagEmbeddedOverride marks entities owned by another entity whose
	// override data lives in the owner's record.
	FlagEmbeddedOverride IDFlag = 1 << iota
	// FlagResyncLeftover marks user-edited overrides a resync made
	// obsolete and kept for the user to recover.
	FlagResyncLeftover
)

// IDTag holds runtime-only entity tags. Tags are never persisted.
type IDTag uint16

const (
	// TagDoIt is the generic "to process" tag of group tagging passes.
	TagDoIt IDTag = 1 << iota
	// TagMissing marks placeholders for linked data that could not be found,
	// and overrides of such placeholders during resync.
	TagMissing
	// TagNeedResync marks overrides whose hierarchy needs to be rebuilt.
	TagNeedResync
	// TagRefOK marks overrides updated against their current reference.
	TagRefOK
	// TagNoMain marks entities living outside of a Main.
	TagNoMain
	// TagAutoRefresh asks the next MainOperationsCreate to diff the entity.
	TagAutoRefresh
)

// ID is the header embedded by every entity struct.
type ID struct {
	Name     string
	Lib      *Library `copystructure:"shallow"`
	Override *Record  `copystructure:"shallow"`
	Flag     IDFlag
	Tag      IDTag
	// SessionUID identifies the entity for the lifetime of its Main.
	SessionUID uuid.UUID
}

func (id *ID) IDName() string { return id.Name }

func (id *ID) Base() *ID { return id }

func (id *ID) IsLinked() bool { return id.Lib != nil }

// IsRealOverride reports whether the entity carries its own override
// record with a reference.
func (id *ID) IsRealOverride() bool {
	return id.Override != nil && id.Override.Reference != nil
}

// IsTemplate reports whether the entity only carries override rules,
// without any reference.
func (id *ID) IsTemplate() bool {
	return id.Override != nil && id.Override.Reference == nil
}

func (id *ID) IsEmbeddedOverride() bool {
	return id.Flag&FlagEmbeddedOverride != 0
}

func (id *ID) IsOverride() bool {
	return id.IsRealOverride() || id.IsEmbeddedOverride()
}

// IsMissing reports whether the entity is a placeholder for missing
// linked data.
func (id *ID) IsMissing() bool {
	return id.IsLinked() && id.Tag&TagMissing != 0
}

func (id *ID) HasTag(tag IDTag) bool { return id.Tag&tag != 0 }

func (id *ID) SetTag(tag IDTag) { id.Tag |= tag }

func (id *ID) ClearTag(tag IDTag) { id.Tag &^= tag }

func (id *ID) String() string {
	if id.Lib != nil {
		return id.Lib.Name + ":" + id.Name
	}
	return id.Name
}

// Entity is a top-level data-block that can be linked, overridden and
// referenced from other entities.
type Entity interface {
	rna.ID
	Base() *ID
	Kind() Kind
}

// Kind is the closed set of entity types.
type Kind uint16

// KindInfo describes an entity kind.
type KindInfo struct {
	Kind Kind
	Name string
	// HierarchyKey kinds define override hierarchies: linked group tagging
	// only adds entities of those kinds as group members.
	HierarchyKey bool
	// Instanced kinds are only visible once linked into a container.
	Instanced bool
	New       func() Entity
}

var kinds = struct {
	sync.RWMutex
	byKind map[Kind]KindInfo
	types  []reflect.Type
}{byKind: make(map[Kind]KindInfo)}

// RegisterKind adds an entity kind. Registering the same kind twice panics.
func RegisterKind(info KindInfo) {
	if info.New == nil {
		panic(fmt.Sprintf("override: kind %q has no constructor", info.Name))
	}
	kinds.Lock()
	defer kinds.Unlock()
	if _, ok := kinds.byKind[info.Kind]; ok {
		panic(fmt.Sprintf("override: kind %d (%s) registered twice", info.Kind, info.Name))
	}
	kinds.byKind[info.Kind] = info
	kinds.types = append(kinds.types, reflect.TypeOf(info.New()))
}

func LookupKind(k Kind) (KindInfo, bool) {
	kinds.RLock()
	defer kinds.RUnlock()
	info, ok := kinds.byKind[k]
	return info, ok
}

func KindByName(name string) (KindInfo, bool) {
	kinds.RLock()
	defer kinds.RUnlock()
	for _, info := range kinds.byKind {
		if info.Name == name {
			return info, true
		}
	}
	return KindInfo{}, false
}

// Kinds returns all registered kinds, ordered by kind value.
func Kinds() []KindInfo {
	kinds.RLock()
	defer kinds.RUnlock()
	out := make([]KindInfo, 0, len(kinds.byKind))
	for _, info := range kinds.byKind {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (k Kind) String() string {
	if info, ok := LookupKind(k); ok {
		return info.Name
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

func isHierarchyKey(e Entity) bool {
	info, ok := LookupKind(e.Kind())
	return ok && info.HierarchyKey
}

func isInstanced(e Entity) bool {
	info, ok := LookupKind(e.Kind())
	return ok && info.Instanced
}

// entityTypes lists the pointer types of all registered kinds. Copies
// share those pointers instead of duplicating the entities they address.
func entityTypes() []reflect.Type {
	kinds.RLock()
	defer kinds.RUnlock()
	return append([]reflect.Type(nil), kinds.types...)
}

// Container is implemented by entities grouping other entities
// (collections of objects and child collections).
type Container interface {
	Entity
	Members() []Entity
	Link(e Entity) error
	Unlink(e Entity)
}

// containerKind returns the first registered kind whose entities are
// containers.
func containerKind() (KindInfo, bool) {
	for _, info := range Kinds() {
		if _, ok := info.New().(Container); ok {
			return info, true
		}
	}
	return KindInfo{}, false
}

// newContainer creates a local container named name and adds it to m.
func (m *Main) newContainer(name string) (Container, error) {
	info, ok := containerKind()
	if !ok {
		return nil, fmt.Errorf("override: no container kind registered")
	}
	c := info.New().(Container)
	c.Base().Name = name
	if err := m.AddUnique(c); err != nil {
		return nil, err
	}
	return c, nil
}

type LibraryTag uint8

const (
	// LibTagResyncRequired marks libraries holding linked overrides that
	// needed a resync when loaded.
	LibTagResyncRequired LibraryTag = 1 << iota
)

// Library identifies the source of linked entities.
type Library struct {
	Name   string
	Path   string
	Parent *Library
	// Level is the indirect usage level computed before a whole-main
	// resync. Local data is level 0.
	Level int
	Tag   LibraryTag
}

func (l *Library) String() string {
	if l == nil {
		return "<local>"
	}
	return l.Name
}

// libraryLevel returns the indirect level of e's library, 0 for local data.
func libraryLevel(e Entity) int {
	if lib := e.Base().Lib; lib != nil {
		return lib.Level
	}
	return 0
}

func entityName(e Entity) string {
	if e == nil {
		return "<nil>"
	}
	return e.Base().String()
}

// asEntity converts an rna entity to an Entity, nil when it is not one.
func asEntity(id rna.ID) Entity {
	if id == nil {
		return nil
	}
	e, _ := id.(Entity)
	return e
}
