package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brunoga/override"
	"github.com/brunoga/override/library"
)

func newWatchCmd(opts *options) *cobra.Command {
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload libraries as they change and keep the overrides in sync",
		Long: `Watch the linked library files. Whenever one changes it is reloaded, the
overrides are updated and resynced, and the store is saved. Metrics are
served over HTTP when enabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				return s.watch(cmd.Context(), settle)
			})
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", library.DefaultSettle, "quiet time before a changed file is reloaded")
	return cmd
}

func (s *session) watch(ctx context.Context, settle time.Duration) error {
	paths := make([]string, 0, len(s.main.Libraries()))
	byPath := make(map[string]*override.Library)
	for _, lib := range s.main.Libraries() {
		if lib.Path == "" {
			continue
		}
		abs, err := filepath.Abs(lib.Path)
		if err != nil {
			return err
		}
		paths = append(paths, abs)
		byPath[abs] = lib
	}
	if len(paths) == 0 {
		return errors.New("no library to watch")
	}

	w, err := library.NewWatcher(s.log, settle, paths...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.Metrics.Enabled {
		srv := s.serveMetrics()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	s.out.ok("watching %d libraries", len(paths))
	watchErrs := w.Errors()
	for {
		select {
		case batch, ok := <-w.Changes():
			if !ok {
				return <-done
			}
			libs := make([]*override.Library, 0, len(batch))
			for _, p := range batch {
				if lib := byPath[p]; lib != nil {
					libs = append(libs, lib)
				}
			}
			s.sync(ctx, libs)

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.log.Warn().Err(err).Msg("watch error")

		case <-ctx.Done():
			return <-done
		}
	}
}

// sync reloads libs, then updates, resyncs and saves the overrides. Each
// run gets its own report.
func (s *session) sync(ctx context.Context, libs []*override.Library) {
	s.report = &override.Report{}
	err := s.pass("reload", func() error {
		var errs []error
		for _, lib := range libs {
			res, err := s.loader.Reload(ctx, s.main, lib)
			if err != nil {
				s.report.Errorf("reload %s: %v", lib.Name, err)
				errs = append(errs, err)
				continue
			}
			s.report.Infof("%s: %d updated, %d added, %d missing", lib.Name, len(res.Updated), len(res.Added), len(res.Missing))
		}
		return errors.Join(errs...)
	})
	if err == nil {
		err = s.pass("update", func() error { return override.MainUpdate(s.main, s.report) })
	}
	if err == nil {
		err = s.resyncAll()
	}
	if err == nil {
		err = s.save()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("sync failed")
	}
	s.out.report(s.report)
}

func (s *session) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              s.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info().Str("address", srv.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
