package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/config"
	"github.com/brunoga/override/internal/logger"
	"github.com/brunoga/override/internal/metrics"
	"github.com/brunoga/override/library"
	"github.com/brunoga/override/scene"
	"github.com/brunoga/override/store"
)

// session is one run of the tool: the configured Main with its libraries
// linked and its stored overrides loaded.
type session struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer

	main     *override.Main
	loader   *library.Loader
	store    *store.Store
	scene    *scene.Collection
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	report *override.Report
	out    *printer
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.storePath != "" {
		cfg.Store.Path = opts.storePath
	}
	if opts.inMemory {
		cfg.Store.InMemory = true
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	cfg.Libraries = append(cfg.Libraries, opts.libraries...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command, opts *options) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	lc := cfg.Logger()
	lc.Output = cmd.ErrOrStderr()
	if f, ok := lc.Output.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		lc.Pretty = false
	}
	log, logCloser := logger.New(lc)

	s := &session{
		cfg:       cfg,
		log:       log,
		logCloser: logCloser,
		registry:  prometheus.NewRegistry(),
		report:    &override.Report{},
		out:       newPrinter(cmd.OutOrStdout()),
	}
	s.metrics = metrics.New(s.registry)
	s.main = override.NewMain(
		override.WithLogger(logger.Component(log, "engine")),
		override.WithDebug(cfg.Debug),
		override.WithResidualName(cfg.Resync.ResidualName),
	)
	s.loader = library.NewLoader(library.WithLogger(logger.Component(log, "library")))

	if _, err := s.loader.LinkFiles(cmd.Context(), s.main, cfg.Libraries...); err != nil {
		s.close()
		return nil, err
	}

	s.store, err = store.Open(store.Config{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger.Component(log, "store"),
	})
	if err != nil {
		s.close()
		return nil, err
	}
	if err := s.store.Load(s.main, s.report); err != nil {
		s.close()
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	if err := s.ensureScene(opts.sceneName); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// ensureScene finds or adds the local collection instancing new
// overrides.
func (s *session) ensureScene(name string) error {
	if e := s.main.Find(scene.KindCollection, name, nil); e != nil {
		c, ok := e.(*scene.Collection)
		if !ok || c.IsOverride() {
			return fmt.Errorf("%s is an override, not a local collection", name)
		}
		s.scene = c
		return nil
	}
	s.scene = scene.NewCollection(name, nil)
	return s.main.Add(s.scene)
}

func (s *session) save() error {
	return s.store.Save(s.main)
}

func (s *session) close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.logCloser.Close())
	return errors.Join(errs...)
}

// pass runs fn as the named pass and records its metrics.
func (s *session) pass(name string, fn func() error) error {
	return s.metrics.Time(name, s.report, fn)
}

// withSession opens a session, runs fn and prints the report gathered on
// the way, whatever fn returned.
func withSession(cmd *cobra.Command, opts *options, fn func(s *session) error) (err error) {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close())
	}()

	err = fn(s)
	s.out.report(s.report)
	return err
}

// lookup returns the entity of kind named name. An empty library selects
// local data; "*" the first library linking it.
func (s *session) lookup(kind, name, lib string) (override.Entity, error) {
	info, ok := override.KindByName(kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q (want one of %s)", kind, kindNames())
	}
	switch lib {
	case "":
		if e := s.main.Find(info.Kind, name, nil); e != nil {
			return e, nil
		}
		return nil, fmt.Errorf("no local %s named %q", kind, name)
	case "*":
		for _, l := range s.main.Libraries() {
			if e := s.main.Find(info.Kind, name, l); e != nil {
				return e, nil
			}
		}
		return nil, fmt.Errorf("no linked %s named %q", kind, name)
	}
	l := s.main.FindLibrary(lib)
	if l == nil {
		return nil, fmt.Errorf("library %q is not linked", lib)
	}
	if e := s.main.Find(info.Kind, name, l); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("library %s has no %s named %q", lib, kind, name)
}

// localOverride returns the local override of kind named name.
func (s *session) localOverride(kind, name string) (override.Entity, error) {
	e, err := s.lookup(kind, name, "")
	if err != nil {
		return nil, err
	}
	if !e.Base().IsRealOverride() {
		return nil, fmt.Errorf("%s %s is not a library override", kind, name)
	}
	return e, nil
}

// localOverrides returns the local real overrides, dependencies first.
func (s *session) localOverrides() []override.Entity {
	var out []override.Entity
	for _, e := range override.Order(s.main) {
		if id := e.Base(); !id.IsLinked() && id.IsRealOverride() {
			out = append(out, e)
		}
	}
	return out
}

func kindNames() string {
	var names []string
	for _, info := range override.Kinds() {
		names = append(names, info.Name)
	}
	return strings.Join(names, ", ")
}
