package override

import (
	"fmt"

	"github.com/brunoga/override/rna"
)

type RecordFlag uint8

const (
	// RecordSystemDefined marks overrides created by the system, not
	// editable by the user until explicitly turned into user overrides.
	RecordSystemDefined RecordFlag = 1 << iota
	// RecordNoHierarchy marks overrides created outside of any hierarchy.
	RecordNoHierarchy
)

type RuntimeFlag uint8

const (
	// RuntimeNeedsReload asks for the override to be updated against its
	// reference at the next opportunity.
	RuntimeNeedsReload RuntimeFlag = 1 << iota
)

// Runtime holds ephemeral record data. It is never persisted.
type Runtime struct {
	Flag  RuntimeFlag
	paths map[string]*Property
}

// Record is the override data attached to one local entity.
type Record struct {
	// Reference is the linked entity being overridden, nil for templates.
	Reference Entity
	// HierarchyRoot is the root entity of the override hierarchy the owner
	// belongs to.
	HierarchyRoot Entity
	Properties    []*Property
	Flag          RecordFlag
	Runtime       Runtime
	// Storage is the differential storage copy of the owner, only set
	// between StoreStart and StoreEnd.
	Storage Entity
}

type PropertyTag uint8

const (
	// TagUnused marks properties and operations not confirmed by the
	// current diff pass.
	TagUnused PropertyTag = 1 << iota
)

// Property is the override of one property path.
type Property struct {
	Path       string
	Operations []*Operation
	// PropType mirrors the live introspected type of the property.
	PropType rna.PropType
	Tag      PropertyTag
}

type OpKind uint8

const (
	OpNoop OpKind = iota
	OpReplace
	OpAdd
	OpSubtract
	OpMultiply
	OpInsertAfter
	OpInsertBefore
)

var opKindNames = map[OpKind]string{
	OpNoop:         "noop",
	OpReplace:      "replace",
	OpAdd:          "add",
	OpSubtract:     "subtract",
	OpMultiply:     "multiply",
	OpInsertAfter:  "insert_after",
	OpInsertBefore: "insert_before",
}

func (k OpKind) String() string {
	if name, ok := opKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

func ParseOpKind(s string) (OpKind, error) {
	for k, name := range opKindNames {
		if name == s {
			return k, nil
		}
	}
	return OpNoop, fmt.Errorf("override: unknown operation kind %q", s)
}

func (k OpKind) isInsertion() bool {
	return k == OpInsertAfter || k == OpInsertBefore
}

func (k OpKind) isDifferential() bool {
	return k == OpAdd || k == OpSubtract || k == OpMultiply
}

type OpFlag uint8

const (
	// FlagIDPointerMatchReference records that an entity pointer property
	// of the override points at the override of the reference's pointee.
	FlagIDPointerMatchReference OpFlag = 1 << iota
)

// SubItem addresses an element of an array or an item of a collection,
// on the reference and on the local side. Empty names, nil entities and
// -1 indices mean "not set".
type SubItem struct {
	RefName    string
	LocalName  string
	RefID      Entity
	LocalID    Entity
	RefIndex   int
	LocalIndex int
}

// WholeProperty addresses the property as a whole.
func WholeProperty() SubItem {
	return SubItem{RefIndex: -1, LocalIndex: -1}
}

// Index addresses the same element index on both sides.
func Index(i int) SubItem {
	return SubItem{RefIndex: i, LocalIndex: i}
}

func (s SubItem) isWhole() bool {
	return s.RefName == "" && s.LocalName == "" && s.RefIndex == -1 && s.LocalIndex == -1
}

// Operation is one atomic edit of an override property.
type Operation struct {
	Kind OpKind
	SubItem
	Flag OpFlag
	Tag  PropertyTag
}

func (op *Operation) String() string {
	s := op.Kind.String()
	switch {
	case op.LocalName != "" || op.RefName != "":
		s += fmt.Sprintf("[%q after %q]", op.LocalName, op.RefName)
	case op.LocalIndex != -1 || op.RefIndex != -1:
		s += fmt.Sprintf("[%d/%d]", op.LocalIndex, op.RefIndex)
	}
	return s
}

// PropertyFind returns the override of path, nil when there is none.
func (r *Record) PropertyFind(path string) *Property {
	if r.Runtime.paths == nil {
		r.Runtime.paths = make(map[string]*Property, len(r.Properties))
		for _, p := range r.Properties {
			r.Runtime.paths[p.Path] = p
		}
	}
	return r.Runtime.paths[path]
}

// PropertyGet returns the override of path, creating it when needed.
func (r *Record) PropertyGet(path string) (p *Property, created bool) {
	if p = r.PropertyFind(path); p != nil {
		return p, false
	}
	p = &Property{Path: path}
	r.Properties = append(r.Properties, p)
	r.Runtime.paths[path] = p
	return p, true
}

func (r *Record) PropertyDelete(p *Property) {
	for i, other := range r.Properties {
		if other == p {
			r.Properties = append(r.Properties[:i], r.Properties[i+1:]...)
			break
		}
	}
	if r.Runtime.paths != nil {
		delete(r.Runtime.paths, p.Path)
	}
}

// OperationFind looks up the operation addressing sub. When strict is
// false, a whole-property operation is accepted for a specific element and
// the returned strictMatch is false.
func (p *Property) OperationFind(sub SubItem, strict bool) (op *Operation, strictMatch bool) {
	find := func(match func(*Operation) bool) *Operation {
		for _, op := range p.Operations {
			if match(op) {
				return op
			}
		}
		return nil
	}

	if sub.LocalName != "" {
		op := find(func(op *Operation) bool { return op.LocalName == sub.LocalName })
		if op == nil || op.RefName != sub.RefName || !sameEntities(op, sub) {
			return nil, false
		}
		return op, true
	}
	if sub.RefName != "" {
		op := find(func(op *Operation) bool { return op.RefName == sub.RefName })
		if op == nil || op.LocalName != sub.LocalName || !sameEntities(op, sub) {
			return nil, false
		}
		return op, true
	}
	if op := find(func(op *Operation) bool { return op.LocalIndex == sub.LocalIndex }); op != nil {
		if sub.RefIndex == -1 || sub.RefIndex == op.RefIndex {
			return op, true
		}
		return nil, false
	}
	if op := find(func(op *Operation) bool { return op.RefIndex == sub.RefIndex }); op != nil {
		if sub.LocalIndex == -1 || sub.LocalIndex == op.LocalIndex {
			return op, true
		}
		return nil, false
	}
	if !strict && sub.LocalIndex != -1 {
		if op := find(func(op *Operation) bool { return op.LocalIndex == -1 }); op != nil {
			return op, false
		}
	}
	return nil, false
}

func sameEntities(op *Operation, sub SubItem) bool {
	return op.RefID == sub.RefID && op.LocalID == sub.LocalID
}

// OperationGet returns the operation addressing sub, appending a new one of
// the given kind when none exists.
func (p *Property) OperationGet(kind OpKind, sub SubItem, strict bool) (op *Operation, created bool) {
	if op, _ = p.OperationFind(sub, strict); op != nil {
		return op, false
	}
	op = &Operation{Kind: kind, SubItem: sub}
	p.Operations = append(p.Operations, op)
	return op, true
}

func (p *Property) OperationDelete(op *Operation) {
	for i, other := range p.Operations {
		if other == op {
			p.Operations = append(p.Operations[:i], p.Operations[i+1:]...)
			return
		}
	}
}

func (p *Property) clone() *Property {
	out := &Property{Path: p.Path, PropType: p.PropType, Tag: p.Tag}
	out.Operations = make([]*Operation, len(p.Operations))
	for i, op := range p.Operations {
		dup := *op
		out.Operations[i] = &dup
	}
	return out
}

// operandsValidate checks that the values an operation needs are present.
func operandsValidate(op *Operation, dst, src rna.Pointer, storage *rna.Pointer) error {
	switch op.Kind {
	case OpNoop:
		return nil
	case OpReplace, OpInsertAfter, OpInsertBefore:
		if dst.IsNull() || src.IsNull() {
			return fmt.Errorf("override: %s needs a source and a destination", op.Kind)
		}
	case OpAdd, OpSubtract, OpMultiply:
		if dst.IsNull() || src.IsNull() || storage == nil || storage.IsNull() {
			return fmt.Errorf("override: %s needs a source, a destination and a storage", op.Kind)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op.Kind)
	}
	return nil
}

// Init attaches a new record overriding reference to local. A nil
// reference creates a template. When the reference chain ends on a
// template, its rules are copied into the new record.
func Init(local, reference Entity) *Record {
	ancestor := reference
	for ancestor != nil {
		rec := ancestor.Base().Override
		if rec == nil || rec.Reference == nil {
			break
		}
		ancestor = rec.Reference
	}

	id := local.Base()
	if ancestor != nil && ancestor.Base().Override != nil {
		Copy(local, ancestor, true)
		id.Override.Reference = reference
		return id.Override
	}

	id.Override = &Record{Reference: reference, Flag: RecordSystemDefined}
	id.ClearTag(TagRefOK)
	return id.Override
}

// TemplateCreate turns a local entity into an override template.
func TemplateCreate(e Entity) error {
	id := e.Base()
	if id.IsLinked() {
		return fmt.Errorf("override: cannot create a template on linked %s", entityName(e))
	}
	if id.Override != nil {
		return nil
	}
	Init(e, nil)
	return nil
}

// Copy copies the override record of src into dst. The reference of dst is
// the reference of src, or src itself when src is a template.
func Copy(dst, src Entity, full bool) {
	did, sid := dst.Base(), src.Base()
	if did.Override != nil {
		if sid.Override == nil {
			Free(dst)
			return
		}
		did.Override.Clear()
	} else if sid.Override == nil {
		return
	} else {
		did.Override = &Record{}
	}

	drec, srec := did.Override, sid.Override
	drec.Reference = srec.Reference
	if drec.Reference == nil {
		drec.Reference = src
	}
	drec.HierarchyRoot = srec.HierarchyRoot
	drec.Flag = srec.Flag

	if full {
		drec.Properties = make([]*Property, len(srec.Properties))
		for i, p := range srec.Properties {
			drec.Properties[i] = p.clone()
		}
	}
	did.ClearTag(TagRefOK)
}

// Clear drops every property of the record, keeping the record itself and
// its reference.
func (r *Record) Clear() {
	r.Properties = nil
	r.Runtime.paths = nil
}

// Free removes the override record of e.
func Free(e Entity) {
	id := e.Base()
	if id.Override == nil {
		return
	}
	id.Override.Clear()
	id.Override.Storage = nil
	id.Override = nil
}

// IsSystemDefined reports whether e is a system override.
func IsSystemDefined(e Entity) bool {
	rec := e.Base().Override
	return e.Base().IsRealOverride() && rec.Flag&RecordSystemDefined != 0
}

// IsUserEdited reports whether the override record of e holds any rule
// beyond pointer bookkeeping.
func IsUserEdited(e Entity) bool {
	if !e.Base().IsRealOverride() {
		return false
	}
	for _, p := range e.Base().Override.Properties {
		for _, op := range p.Operations {
			if op.Flag&FlagIDPointerMatchReference != 0 || op.Kind == OpNoop {
				continue
			}
			return true
		}
	}
	return false
}

// isUserEditedForResync is the stricter test used when deciding whether
// an override with no counterpart in a new hierarchy must be kept: pointer
// and collection properties whose operations all match their reference do
// not count.
func isUserEditedForResync(e Entity) bool {
	rec := e.Base().Override
	if rec == nil {
		return false
	}
	for _, p := range rec.Properties {
		if p.PropType != rna.PropPointer && p.PropType != rna.PropCollection {
			return true
		}
		for _, op := range p.Operations {
			if op.Flag&FlagIDPointerMatchReference == 0 {
				return true
			}
		}
	}
	return false
}

// PropertiesTag sets or clears tag on every property and operation of the
// record.
func (r *Record) PropertiesTag(tag PropertyTag, set bool) {
	for _, p := range r.Properties {
		p.OperationsTag(tag, set)
	}
}

// OperationsTag sets or clears tag on p and its operations.
func (p *Property) OperationsTag(tag PropertyTag, set bool) {
	if set {
		p.Tag |= tag
	} else {
		p.Tag &^= tag
	}
	for _, op := range p.Operations {
		if set {
			op.Tag |= tag
		} else {
			op.Tag &^= tag
		}
	}
}

// UnusedCleanup deletes every property and operation still tagged unused.
func (r *Record) UnusedCleanup() int {
	removed := 0
	kept := r.Properties[:0]
	for _, p := range r.Properties {
		if p.Tag&TagUnused != 0 {
			removed += len(p.Operations)
			continue
		}
		ops := p.Operations[:0]
		for _, op := range p.Operations {
			if op.Tag&TagUnused != 0 {
				removed++
				continue
			}
			ops = append(ops, op)
		}
		p.Operations = ops
		if len(p.Operations) == 0 {
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(r.Properties); i++ {
		r.Properties[i] = nil
	}
	r.Properties = kept
	r.Runtime.paths = nil
	return removed
}

// MainTag sets or clears tag on every override record of m.
func MainTag(m *Main, tag PropertyTag, set bool) {
	for _, e := range m.entities {
		if rec := e.Base().Override; rec != nil {
			rec.PropertiesTag(tag, set)
		}
	}
}

// MainUnusedCleanup sweeps unused rules from every local override record.
func MainUnusedCleanup(m *Main) int {
	removed := 0
	for _, e := range m.entities {
		if e.Base().IsRealOverride() {
			removed += e.Base().Override.UnusedCleanup()
		}
	}
	return removed
}
