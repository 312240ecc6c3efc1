// Package store persists the override records of a Main in a badger
// database, together with the local containers instancing them. Only the
// overridden values of local overrides are stored: everything else is
// rebuilt from their references on load.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/brunoga/override"
	"github.com/brunoga/override/rna"
)

var (
	recordPrefix    = []byte("record/")
	containerPrefix = []byte("container/")
)

type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     zerolog.Logger
}

// badgerLogger forwards badger's own logging to zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msgf(format, args...)
}

type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Entry is the persisted form of one override.
type Entry struct {
	Record *override.RecordDoc `json:"r"`
	Values []ValueDoc          `json:"v,omitempty"`
}

// ValueDoc holds the local value of an overridden property: plain data
// as JSON, entity links as references.
type ValueDoc struct {
	Path  string               `json:"p"`
	Value json.RawMessage      `json:"v,omitempty"`
	Ref   *override.EntityRef  `json:"r,omitempty"`
	Refs  []override.EntityRef `json:"rs,omitempty"`
}

// ContainerDoc is the persisted membership of a local container.
type ContainerDoc struct {
	Entity  override.EntityRef   `json:"e"`
	Members []override.EntityRef `json:"m,omitempty"`
}

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: cfg.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db, logger: cfg.Logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(ref *override.EntityRef) []byte {
	return append(append([]byte(nil), recordPrefix...), ref.String()...)
}

func containerKey(ref *override.EntityRef) []byte {
	return append(append([]byte(nil), containerPrefix...), ref.String()...)
}

// Save replaces the stored state with the override records and the local
// containers of m. Differential rules are saved with the deltas they hold against the
// current references.
func (s *Store) Save(m *override.Main) error {
	var docs []*override.RecordDoc
	err := override.WithStorage(m, localOverrides(m), func() error {
		var err error
		docs, err = override.EncodeRecords(m)
		return err
	})
	if err != nil {
		return err
	}

	entries := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		entry := Entry{Record: doc}
		if doc.Entity.Library == "" {
			e, err := m.Resolve(&doc.Entity)
			if err != nil {
				return err
			}
			entry.Values = s.values(e)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", &doc.Entity, err)
		}
		entries[string(recordKey(&doc.Entity))] = data
	}
	for _, c := range localContainers(m) {
		doc := ContainerDoc{Entity: *override.RefOf(c)}
		for _, member := range c.Members() {
			doc.Members = append(doc.Members, *override.RefOf(member))
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", &doc.Entity, err)
		}
		entries[string(containerKey(&doc.Entity))] = data
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{recordPrefix, containerPrefix} {
			stale, err := keys(txn, prefix)
			if err != nil {
				return err
			}
			for _, k := range stale {
				if _, ok := entries[string(k)]; ok {
					continue
				}
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		for k, v := range entries {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	s.logger.Debug().Int("records", len(docs)).Int("entries", len(entries)).Msg("overrides saved")
	return nil
}

// Entries returns the stored overrides.
func (s *Store) Entries() ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, recordPrefix, func(data []byte) error {
			entry := &Entry{}
			if err := json.Unmarshal(data, entry); err != nil {
				return err
			}
			if entry.Record == nil {
				return errors.New("entry without record")
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: read records: %w", err)
	}
	return entries, nil
}

func (s *Store) Containers() ([]*ContainerDoc, error) {
	var docs []*ContainerDoc
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, containerPrefix, func(data []byte) error {
			doc := &ContainerDoc{}
			if err := json.Unmarshal(data, doc); err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: read containers: %w", err)
	}
	return docs, nil
}

// Load restores the stored state into m, whose libraries must already be
// linked. Local overrides and containers missing from m are created, their
// records attached and their content rebuilt from their references.
// Entries that cannot be restored are reported and skipped.
func (s *Store) Load(m *override.Main, rep *override.Report) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	containers, err := s.Containers()
	if err != nil {
		return err
	}

	created := make(map[override.Entity]*Entry)
	docs := make([]*override.RecordDoc, len(entries))
	for i, entry := range entries {
		docs[i] = entry.Record
		e, err := ensureLocal(m, &entry.Record.Entity)
		if err != nil {
			return err
		}
		if e != nil {
			created[e] = entry
		}
	}
	for _, doc := range containers {
		if _, err := ensureLocal(m, &doc.Entity); err != nil {
			return err
		}
	}

	var errs []error
	if err := override.DecodeRecords(m, docs, rep); err != nil {
		errs = append(errs, err)
	}
	for _, e := range override.Order(m) {
		entry, ok := created[e]
		if !ok || !e.Base().IsRealOverride() {
			continue
		}
		if err := seed(m, e, entry.Values, rep); err != nil {
			errs = append(errs, err)
		}
	}
	for _, doc := range containers {
		e, err := m.Resolve(&doc.Entity)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c, ok := e.(override.Container)
		if !ok {
			errs = append(errs, fmt.Errorf("store: %s is not a container", &doc.Entity))
			continue
		}
		for i := range doc.Members {
			member, err := m.Resolve(&doc.Members[i])
			if err != nil {
				rep.Warnf("%s lost member %s", &doc.Entity, &doc.Members[i])
				continue
			}
			if err := c.Link(member); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := override.MainUpdate(m, rep); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info().Int("records", len(docs)).Int("containers", len(containers)).Msg("overrides loaded")
	return errors.Join(errs...)
}

// ensureLocal adds an empty local entity named by ref to m when it is not
// there yet, and returns it. Linked entities come from their libraries
// only.
func ensureLocal(m *override.Main, ref *override.EntityRef) (override.Entity, error) {
	if ref.Library != "" {
		return nil, nil
	}
	info, ok := override.KindByName(ref.Kind)
	if !ok {
		return nil, fmt.Errorf("store: unknown kind %q", ref.Kind)
	}
	if m.Find(info.Kind, ref.Name, nil) != nil {
		return nil, nil
	}
	e := info.New()
	e.Base().Name = ref.Name
	if err := m.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

// values snapshots the local values of the overridden properties of e.
func (s *Store) values(e override.Entity) []ValueDoc {
	var out []ValueDoc
	root := rna.IDPointer(e)
	for _, p := range e.Base().Override.Properties {
		ptr, prop, idx, err := rna.ResolvePath(root, p.Path)
		if err != nil || idx >= 0 {
			continue
		}
		v := ValueDoc{Path: p.Path}
		switch {
		case prop.Type == rna.PropPointer && prop.IsIDRef():
			if target, ok := ptr.PointerGet(prop).AsID(); ok {
				v.Ref = override.RefOf(target.(override.Entity))
			}
		case prop.Type == rna.PropCollection && prop.IsIDRef():
			for i := 0; i < ptr.Len(prop); i++ {
				if item, ok := ptr.ItemValue(prop, i).Interface().(override.Entity); ok {
					v.Refs = append(v.Refs, *override.RefOf(item))
				}
			}
		default:
			data, err := json.Marshal(ptr.Get(prop).Interface())
			if err != nil {
				s.logger.Warn().Err(err).Stringer("entity", e.Base()).Str("path", p.Path).Msg("value not stored")
				continue
			}
			v.Value = data
		}
		out = append(out, v)
	}
	return out
}

// seed fills a freshly created local override from its reference, then
// writes back its stored values.
func seed(m *override.Main, e override.Entity, values []ValueDoc, rep *override.Report) error {
	rec := e.Base().Override
	props, storage := rec.Properties, rec.Storage
	rec.Properties = nil
	err := override.Update(m, e)
	rec.Properties, rec.Storage = props, storage
	if err != nil {
		return err
	}

	root := rna.IDPointer(e)
	for _, v := range values {
		ptr, prop, _, err := rna.ResolvePath(root, v.Path)
		if err != nil {
			rep.Warnf("%s: stored value %s dropped: %v", e.Base(), v.Path, err)
			continue
		}
		if err := restoreValue(m, ptr, prop, v); err != nil {
			rep.Warnf("%s: stored value %s dropped: %v", e.Base(), v.Path, err)
		}
	}
	return nil
}

func restoreValue(m *override.Main, ptr rna.Pointer, prop *rna.Property, v ValueDoc) error {
	switch {
	case prop.Type == rna.PropPointer && prop.IsIDRef():
		target, err := m.Resolve(v.Ref)
		if err != nil {
			return err
		}
		if target == nil {
			return ptr.PointerSet(prop, reflect.Value{})
		}
		return ptr.PointerSet(prop, reflect.ValueOf(target))
	case prop.Type == rna.PropCollection && prop.IsIDRef():
		items := reflect.MakeSlice(prop.GoType(), 0, len(v.Refs))
		for i := range v.Refs {
			item, err := m.Resolve(&v.Refs[i])
			if err != nil {
				return err
			}
			items = reflect.Append(items, reflect.ValueOf(item))
		}
		return ptr.PointerSet(prop, items)
	}
	if v.Value == nil {
		return nil
	}
	val := reflect.New(prop.GoType())
	if err := json.Unmarshal(v.Value, val.Interface()); err != nil {
		return err
	}
	return ptr.PointerSet(prop, val.Elem())
}

// localOverrides returns the local real overrides of m, the ones whose
// differential rules need storage when saved.
func localOverrides(m *override.Main) []override.Entity {
	var out []override.Entity
	for _, e := range override.Order(m) {
		if id := e.Base(); !id.IsLinked() && id.IsRealOverride() {
			out = append(out, e)
		}
	}
	return out
}

// localContainers returns the local containers of m that are not
// overrides: the ones only the store can bring back.
func localContainers(m *override.Main) []override.Container {
	var out []override.Container
	for _, e := range override.Order(m) {
		c, ok := e.(override.Container)
		if !ok || c.Base().IsLinked() || c.Base().Override != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func keys(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out, nil
}

func scan(txn *badger.Txn, prefix []byte, fn func(data []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if err := item.Value(func(v []byte) error {
			return fn(v)
		}); err != nil {
			return fmt.Errorf("%s: %w", item.Key(), err)
		}
	}
	return nil
}
