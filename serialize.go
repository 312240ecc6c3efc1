package override

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/brunoga/override/internal/core"
	"github.com/brunoga/override/rna"
)

// EntityRef names an entity independently of any Main.
type EntityRef struct {
	Kind    string `json:"k" yaml:"kind" toml:"kind"`
	Name    string `json:"n" yaml:"name" toml:"name"`
	Library string `json:"l,omitempty" yaml:"library,omitempty" toml:"library,omitempty"`
}

// RefOf returns the name of e, nil for a nil entity.
func RefOf(e Entity) *EntityRef {
	if e == nil {
		return nil
	}
	ref := &EntityRef{Kind: e.Kind().String(), Name: e.Base().Name}
	if lib := e.Base().Lib; lib != nil {
		ref.Library = lib.Name
	}
	return ref
}

func (r *EntityRef) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Library != "" {
		return r.Kind + " " + r.Library + ":" + r.Name
	}
	return r.Kind + " " + r.Name
}

// Resolve finds the entity named by ref in m.
func (m *Main) Resolve(ref *EntityRef) (Entity, error) {
	if ref == nil {
		return nil, nil
	}
	info, ok := KindByName(ref.Kind)
	if !ok {
		return nil, fmt.Errorf("override: unknown kind %q", ref.Kind)
	}
	var lib *Library
	if ref.Library != "" {
		if lib = m.FindLibrary(ref.Library); lib == nil {
			return nil, fmt.Errorf("%w: library %s", ErrNotInMain, ref.Library)
		}
	}
	e := m.Find(info.Kind, ref.Name, lib)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInMain, ref)
	}
	return e, nil
}

type OperationDoc struct {
	Kind       string     `json:"k"`
	RefName    string     `json:"rn,omitempty"`
	LocalName  string     `json:"ln,omitempty"`
	RefID      *EntityRef `json:"rid,omitempty"`
	LocalID    *EntityRef `json:"lid,omitempty"`
	RefIndex   int        `json:"ri"`
	LocalIndex int        `json:"li"`
	Flag       OpFlag     `json:"f,omitempty"`
}

type PropertyDoc struct {
	Path       string         `json:"p"`
	Type       rna.PropType   `json:"t,omitempty"`
	Operations []OperationDoc `json:"o"`
	// Deltas holds the stored operands of differential operations, one per
	// array element.
	Deltas []float64 `json:"d,omitempty"`
}

// RecordDoc is the persisted form of the override record of one entity.
type RecordDoc struct {
	Entity        EntityRef     `json:"e"`
	Reference     *EntityRef    `json:"r,omitempty"`
	HierarchyRoot *EntityRef    `json:"h,omitempty"`
	Flag          RecordFlag    `json:"f,omitempty"`
	Properties    []PropertyDoc `json:"p,omitempty"`
}

// EncodeRecord returns the persisted form of e's record, nil when e is not
// overridden. Deltas are read from the record storage when attached.
func EncodeRecord(e Entity) (*RecordDoc, error) {
	rec := e.Base().Override
	if rec == nil {
		return nil, nil
	}
	doc := &RecordDoc{
		Entity:        *RefOf(e),
		Reference:     RefOf(rec.Reference),
		HierarchyRoot: RefOf(rec.HierarchyRoot),
		Flag:          rec.Flag,
	}
	for _, p := range rec.Properties {
		pd := PropertyDoc{Path: p.Path, Type: p.PropType, Operations: make([]OperationDoc, 0, len(p.Operations))}
		differential := false
		for _, op := range p.Operations {
			pd.Operations = append(pd.Operations, OperationDoc{
				Kind:       op.Kind.String(),
				RefName:    op.RefName,
				LocalName:  op.LocalName,
				RefID:      RefOf(op.RefID),
				LocalID:    RefOf(op.LocalID),
				RefIndex:   op.RefIndex,
				LocalIndex: op.LocalIndex,
				Flag:       op.Flag,
			})
			differential = differential || op.Kind.isDifferential()
		}
		if differential && rec.Storage != nil {
			deltas, err := readDeltas(rec.Storage, p.Path)
			if err != nil {
				return nil, fmt.Errorf("override: encode %s: %w", entityName(e), err)
			}
			pd.Deltas = deltas
		}
		doc.Properties = append(doc.Properties, pd)
	}
	return doc, nil
}

func readDeltas(storage Entity, path string) ([]float64, error) {
	h, prop, _, err := rna.ResolvePath(rna.IDPointer(storage), path)
	if err != nil {
		return nil, err
	}
	v := h.Get(prop)
	if !prop.IsArray() {
		f, _ := core.Float(v)
		return []float64{f}, nil
	}
	out := make([]float64, v.Len())
	for i := range out {
		out[i], _ = core.Float(v.Index(i))
	}
	return out, nil
}

// DecodeRecord attaches the record described by doc to its entity in m,
// replacing any record it had. Stored deltas are written into a storage
// copy the next Update consumes.
func DecodeRecord(m *Main, doc *RecordDoc) (Entity, error) {
	e, err := m.Resolve(&doc.Entity)
	if err != nil {
		return nil, err
	}
	ref, err := m.Resolve(doc.Reference)
	if err != nil {
		return nil, fmt.Errorf("override: reference of %s: %w", entityName(e), err)
	}
	root, err := m.Resolve(doc.HierarchyRoot)
	if err != nil {
		// Roots are rebuilt by HierarchyRootEnsure.
		m.logger.Warn().Err(err).Str("entity", entityName(e)).Msg("override hierarchy root not found")
	}

	rec := &Record{Reference: ref, HierarchyRoot: root, Flag: doc.Flag}
	withDeltas := false
	for _, pd := range doc.Properties {
		p := &Property{Path: pd.Path, PropType: pd.Type}
		for _, od := range pd.Operations {
			kind, err := ParseOpKind(od.Kind)
			if err != nil {
				return nil, fmt.Errorf("override: %s %s: %w", entityName(e), pd.Path, err)
			}
			op := &Operation{
				Kind: kind,
				SubItem: SubItem{
					RefName:    od.RefName,
					LocalName:  od.LocalName,
					RefIndex:   od.RefIndex,
					LocalIndex: od.LocalIndex,
				},
				Flag: od.Flag,
			}
			if op.RefID, err = m.Resolve(od.RefID); err != nil {
				return nil, fmt.Errorf("override: %s %s: %w", entityName(e), pd.Path, err)
			}
			if op.LocalID, err = m.Resolve(od.LocalID); err != nil {
				return nil, fmt.Errorf("override: %s %s: %w", entityName(e), pd.Path, err)
			}
			p.Operations = append(p.Operations, op)
		}
		withDeltas = withDeltas || len(pd.Deltas) > 0
		rec.Properties = append(rec.Properties, p)
	}
	e.Base().Override = rec
	e.Base().ClearTag(TagRefOK)

	if withDeltas {
		// The reference gives the storage its shape: e may still be blank
		// when it is being restored.
		shape := e
		if ref != nil {
			shape = ref
		}
		storage, err := CopyEntity(shape)
		if err != nil {
			return nil, err
		}
		storage.Base().Override = nil
		for _, pd := range doc.Properties {
			if len(pd.Deltas) == 0 {
				continue
			}
			if err := writeDeltas(storage, pd.Path, pd.Deltas); err != nil {
				return nil, fmt.Errorf("override: decode %s: %w", entityName(e), err)
			}
		}
		rec.Storage = storage
	}
	return e, nil
}

func writeDeltas(storage Entity, path string, deltas []float64) error {
	h, prop, _, err := rna.ResolvePath(rna.IDPointer(storage), path)
	if err != nil {
		return err
	}
	v := h.Get(prop)
	if !prop.IsArray() {
		return core.SetFloat(v, deltas[0])
	}
	if v.Kind() == reflect.Slice && v.Len() < len(deltas) {
		return fmt.Errorf("%d deltas for %d elements at %s", len(deltas), v.Len(), path)
	}
	for i, d := range deltas {
		if i >= v.Len() {
			break
		}
		if err := core.SetFloat(v.Index(i), d); err != nil {
			return err
		}
	}
	return nil
}

// EncodeRecords returns the records of every overridden entity of m, in
// dependency order.
func EncodeRecords(m *Main) ([]*RecordDoc, error) {
	var docs []*RecordDoc
	for _, e := range Order(m) {
		doc, err := EncodeRecord(e)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// DecodeRecords attaches every record of docs. Records that
// cannot be restored are skipped and reported; the returned error joins
// their errors.
func DecodeRecords(m *Main, docs []*RecordDoc, rep *Report) error {
	var errs []error
	for _, doc := range docs {
		if _, err := DecodeRecord(m, doc); err != nil {
			rep.Errorf("cannot restore override of %s: %v", &doc.Entity, err)
			m.logger.Error().Err(err).Stringer("entity", &doc.Entity).Msg("cannot restore override record")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func MarshalRecords(m *Main) ([]byte, error) {
	docs, err := EncodeRecords(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(docs)
}

func UnmarshalRecords(m *Main, data []byte, rep *Report) error {
	var docs []*RecordDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("override: decode records: %w", err)
	}
	return DecodeRecords(m, docs, rep)
}
