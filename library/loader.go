// Package library links scene entities from library documents into a
// Main, and reloads them in place when their files change.
package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/barkimedes/go-deepcopy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brunoga/override"
	"github.com/brunoga/override/rna"
	"github.com/brunoga/override/scene"
)

// LinkResult tells apart the entities that were already in the Main from
// the ones linked by the call.
type LinkResult struct {
	Libraries []*override.Library
	Existing  []override.Entity
	Linked    []override.Entity
}

// ReloadResult lists what a reload did to the entities of a library.
type ReloadResult struct {
	Updated []override.Entity
	Added   []override.Entity
	// Missing entities are left in the Main as placeholders tagged
	// override.TagMissing.
	Missing []override.Entity
}

type cachedDoc struct {
	modTime time.Time
	size    int64
	doc     *Document
}

// Loader reads library documents and links their entities. Parsed
// documents are cached per path until the file changes.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedDoc
}

type LoaderOption func(*Loader)

func WithLogger(l zerolog.Logger) LoaderOption {
	return func(ld *Loader) {
		ld.logger = l
	}
}

func NewLoader(opts ...LoaderOption) *Loader {
	ld := &Loader{
		logger: zerolog.Nop(),
		cache:  make(map[string]cachedDoc),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Read returns the document stored at path. The returned document is the
// caller's own copy.
func (ld *Loader) Read(path string) (*Document, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}

	ld.mu.Lock()
	c, ok := ld.cache[path]
	ld.mu.Unlock()
	if !ok || !c.modTime.Equal(fi.ModTime()) || c.size != fi.Size() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("library: %w", err)
		}
		doc, err := Decode(path, data)
		if err != nil {
			return nil, err
		}
		c = cachedDoc{modTime: fi.ModTime(), size: fi.Size(), doc: doc}
		ld.mu.Lock()
		ld.cache[path] = c
		ld.mu.Unlock()
		ld.logger.Debug().Str("path", path).Msg("library document parsed")
	}

	cp, err := deepcopy.Anything(c.doc)
	if err != nil {
		return nil, fmt.Errorf("library: copy %s: %w", path, err)
	}
	return cp.(*Document), nil
}

// Forget drops the cached document of path.
func (ld *Loader) Forget(path string) {
	ld.mu.Lock()
	delete(ld.cache, path)
	ld.mu.Unlock()
}

// LinkFiles links the entities of the library documents at paths into m.
// Documents are read concurrently and linked in the order of paths. A
// library already known to m only gets the entities it does not hold yet.
func (ld *Loader) LinkFiles(ctx context.Context, m *override.Main, paths ...string) (*LinkResult, error) {
	docs := make([]*Document, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := ld.Read(path)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &LinkResult{}
	for i, path := range paths {
		lib := libraryFor(m, path)
		res.Libraries = append(res.Libraries, lib)
		b := newBuilder(m, lib)
		if err := b.build(docs[i], false); err != nil {
			return res, err
		}
		res.Existing = append(res.Existing, b.existing...)
		res.Linked = append(res.Linked, b.added...)
		ld.logger.Info().
			Str("library", lib.Name).
			Int("linked", len(b.added)).
			Int("existing", len(b.existing)).
			Msg("library linked")
	}
	return res, nil
}

// Reload refreshes the linked entities of lib from its document. Entities
// keep their identity so that overrides using them as references follow.
func (ld *Loader) Reload(ctx context.Context, m *override.Main, lib *override.Library) (*ReloadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ld.Forget(lib.Path)
	doc, err := ld.Read(lib.Path)
	if err != nil {
		return nil, err
	}

	b := newBuilder(m, lib)
	if err := b.build(doc, true); err != nil {
		return nil, err
	}
	res := &ReloadResult{Updated: b.existing, Added: b.added}

	for _, e := range m.Entities() {
		id := e.Base()
		if id.Lib != lib || b.declared[e] || id.IsEmbeddedOverride() {
			continue
		}
		if _, ok := e.(*scene.NodeTree); ok {
			continue
		}
		if !id.HasTag(override.TagMissing) {
			clearLinks(e)
			id.SetTag(override.TagMissing)
		}
		res.Missing = append(res.Missing, e)
	}

	ld.logger.Info().
		Str("library", lib.Name).
		Int("updated", len(res.Updated)).
		Int("added", len(res.Added)).
		Int("missing", len(res.Missing)).
		Msg("library reloaded")
	return res, nil
}

// libraryFor returns the library of m stored at path, adding it when
// missing.
func libraryFor(m *override.Main, path string) *override.Library {
	name := filepath.Base(path)
	if lib := m.FindLibrary(name); lib != nil {
		return lib
	}
	lib := &override.Library{Name: name, Path: path}
	m.AddLibrary(lib)
	return lib
}

// clearLinks empties every entity link of e except embedded ones.
// Placeholders for missing data do not use anything.
func clearLinks(e override.Entity) {
	var items []rna.Link
	rna.ForEachID(e, func(l rna.Link) bool {
		switch {
		case l.Flag&rna.LinkEmbedded != 0:
		case l.IsItem():
			items = append(items, l)
		default:
			_ = l.Set(nil)
		}
		return true
	})
	for i := len(items) - 1; i >= 0; i-- {
		_ = items[i].Remove()
	}
}
