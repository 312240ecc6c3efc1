package main

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brunoga/override"
)

func newCreateCmd(opts *options) *cobra.Command {
	var lib string
	var editable bool
	cmd := &cobra.Command{
		Use:   "create KIND NAME",
		Short: "Override a linked entity and everything it uses",
		Long: `Create a library override hierarchy rooted at a linked entity. The new
root is instanced in the scene collection. Only the root is editable unless
--editable is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				ref, err := s.lookup(args[0], args[1], lib)
				if err != nil {
					return err
				}
				var root override.Entity
				err = s.pass("create", func() error {
					root, err = override.Create(s.main, ref, s.scene, editable)
					if err != nil {
						return err
					}
					for _, e := range s.main.Entities() {
						if rec := e.Base().Override; rec != nil && !e.Base().IsLinked() && rec.HierarchyRoot == root {
							s.report.Counts.Created++
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				s.out.ok("%s %s overrides %s (%d overrides)", root.Kind(), root.Base().Name, ref.Base(), s.report.Counts.Created)
				return s.save()
			})
		},
	}
	cmd.Flags().StringVar(&lib, "library", "*", "library linking the entity")
	cmd.Flags().BoolVar(&editable, "editable", false, "make every created override editable")
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KIND NAME",
		Short: "Delete the override hierarchy holding an override",
		Long: `Delete the whole override hierarchy the named override belongs to. Its
users go back to the linked data.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				e, err := s.localOverride(args[0], args[1])
				if err != nil {
					return err
				}
				root := e.Base().Override.HierarchyRoot
				if root == nil {
					root = e
				}
				if err := override.Delete(s.main, root); err != nil {
					return err
				}
				s.out.ok("deleted the hierarchy of %s", root.Base())
				return s.save()
			})
		},
	}
}

func newMakeLocalCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "make-local KIND NAME",
		Short: "Turn an override into plain local data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				e, err := s.localOverride(args[0], args[1])
				if err != nil {
					return err
				}
				override.MakeLocal(e)
				s.out.ok("%s is now local data", e.Base())
				return s.save()
			})
		},
	}
}

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set KIND NAME PATH VALUE",
		Short: "Edit a property of an override",
		Long: `Set the property at PATH of a local override and record the edit as an
override rule. VALUE is parsed as YAML; entity pointers take NAME,
LIBRARY:NAME or "none". System overrides become user overrides.

Example:
  liboverride set Object Chair '/modifiers["Bevel"]/levels' 3`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				e, err := s.localOverride(args[0], args[1])
				if err != nil {
					return err
				}
				e.Base().Override.Flag &^= override.RecordSystemDefined
				if err := s.setValue(e, args[2], args[3]); err != nil {
					return err
				}
				if override.RestoreForbidden(s.main, e) {
					s.report.Warnf("%s: %s is not overridable, value restored", e.Base(), args[2])
					return nil
				}
				var changed bool
				_ = s.pass("diff", func() error {
					changed = override.OperationsCreate(s.main, e)
					return nil
				})
				if changed {
					s.out.ok("recorded %s on %s", args[2], e.Base())
				}
				return s.save()
			})
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	var lib string
	cmd := &cobra.Command{
		Use:   "get KIND NAME PATH",
		Short: "Print a property value as JSON",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				e, err := s.lookup(args[0], args[1], lib)
				if err != nil {
					return err
				}
				v, err := getValue(e, args[2])
				if err != nil {
					return err
				}
				s.out.println(v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lib, "library", "", "read linked data from this library instead of local data")
	return cmd
}

func newDiffCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Diff every override against its reference",
		Long: `Diff every local override against its reference, recording rules for new
divergences and dropping the rules no divergence backs anymore.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				var changed bool
				_ = s.pass("diff", func() error {
					changed = override.MainOperationsCreate(s.main, true)
					return nil
				})
				if changed {
					s.out.ok("new override rules recorded")
				}
				s.out.overrides(s.main)
				return s.save()
			})
		},
	}
}

func newApplyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Rebuild every override from its reference and replay its rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				if err := s.pass("update", func() error { return override.MainUpdate(s.main, s.report) }); err != nil {
					return err
				}
				s.out.ok("overrides updated")
				return s.save()
			})
		},
	}
}

func newResyncCmd(opts *options) *cobra.Command {
	var enforce bool
	cmd := &cobra.Command{
		Use:   "resync [KIND NAME]",
		Short: "Rebuild override hierarchies that no longer match their libraries",
		Long: `Without arguments, resync every override hierarchy flagged as needing it,
library by library. With KIND and NAME, resync the hierarchy of that
override whether it is flagged or not.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				if len(args) == 0 {
					if err := s.resyncAll(); err != nil {
						return err
					}
					return s.save()
				}

				e, err := s.localOverride(args[0], args[1])
				if err != nil {
					return err
				}
				root := e.Base().Override.HierarchyRoot
				if root == nil {
					root = e
				}
				var newRoot override.Entity
				err = s.pass("resync", func() error {
					newRoot, err = override.Resync(s.main, root, nil, override.ResyncOptions{
						Instancer:        s.scene,
						Report:           s.report,
						HierarchyEnforce: enforce,
					})
					return err
				})
				if err != nil {
					return err
				}
				s.out.ok("resynced %s", newRoot.Base())
				return s.save()
			})
		},
	}
	cmd.Flags().BoolVar(&enforce, "enforce", false, "reset the hierarchy's entity pointers to match the library")
	return cmd
}

// resyncAll runs a whole-main resync and warns about libraries used too
// indirectly.
func (s *session) resyncAll() error {
	err := s.pass("resync", func() error {
		return override.MainResync(s.main, s.scene, s.report)
	})
	for _, lib := range s.main.Libraries() {
		if lib.Level > s.cfg.Resync.LevelWarning {
			s.report.Warnf("library %s is used %d levels deep", lib.Name, lib.Level)
		}
	}
	if err != nil {
		return err
	}
	if s.report.Summary() == "" {
		s.out.ok("nothing to resync")
	}
	return nil
}

func newResetCmd(opts *options) *cobra.Command {
	var hierarchy, system bool
	cmd := &cobra.Command{
		Use:   "reset KIND NAME",
		Short: "Drop the rules of an override",
		Long: `Drop the rules of an override, keeping only the entity pointer rules its
hierarchy needs. With --hierarchy every override it depends on is reset too.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				e, err := s.localOverride(args[0], args[1])
				if err != nil {
					return err
				}
				reset := override.IDReset
				if hierarchy {
					reset = override.HierarchyReset
				}
				if err := reset(s.main, e, system); err != nil {
					return err
				}
				s.out.ok("reset %s", e.Base())
				return s.save()
			})
		},
	}
	cmd.Flags().BoolVar(&hierarchy, "hierarchy", false, "also reset the overrides it depends on")
	cmd.Flags().BoolVar(&system, "system", false, "turn the reset overrides back into system overrides")
	return cmd
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the overrides and their references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				override.MainValidate(s.main, s.report)
				stale := 0
				for _, e := range s.main.Entities() {
					if !e.Base().IsRealOverride() || e.Base().IsLinked() {
						continue
					}
					if !override.StatusCheckReference(s.main, e) {
						s.report.Warnf("%s: reference changed since the last update", e.Base())
						stale++
					}
					if !override.StatusCheckLocal(s.main, e) {
						s.report.Warnf("%s: edits not recorded as rules yet", e.Base())
						stale++
					}
				}
				if s.report.HasErrors() {
					return fmt.Errorf("invalid overrides")
				}
				if stale == 0 {
					s.out.ok("overrides are consistent")
				}
				return nil
			})
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List linked libraries and local overrides with their rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				s.out.libraries(s.main)
				s.out.overrides(s.main)
				return nil
			})
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the override records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				var docs []*override.RecordDoc
				err := override.WithStorage(s.main, s.localOverrides(), func() (err error) {
					docs, err = override.EncodeRecords(s.main)
					return err
				})
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				switch format {
				case "json":
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(docs)
				case "yaml":
					enc := yaml.NewEncoder(w)
					enc.SetIndent(2)
					if err := enc.Encode(docs); err != nil {
						return err
					}
					return enc.Close()
				case "toml":
					return toml.NewEncoder(w).Encode(map[string]any{"records": docs})
				}
				return fmt.Errorf("unknown format %q (want json, yaml or toml)", format)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, yaml or toml")
	return cmd
}
