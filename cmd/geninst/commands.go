package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"geninst/internal/app"
	"geninst/internal/host"
	"geninst/internal/janitor"
	"geninst/internal/pipeline"
)

var errDrift = errors.New("generated stubs drifted from their definitions")

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the registry with the declared generic definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		build, _ := cmd.Flags().GetBool("build")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Cycle(ctx, build)
			if err != nil {
				return err
			}
			printCycle(cmd.OutOrStdout(), res, build)
			return nil
		})
	},
}

var requestCmd = &cobra.Command{
	Use:   "request <definition> <arg>...",
	Short: "Request the concrete artifact for a generic definition",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		build, _ := cmd.Flags().GetBool("build")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			outcome, err := a.Request(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s[%s]\n", okColor.Sprint(outcome.String()), args[0], strings.Join(args[1:], ", "))
			if !build || !a.Toolchain.Pending() {
				return nil
			}
			res, err := a.Cycle(ctx, true)
			if err != nil {
				return err
			}
			printCycle(out, res, true)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered definitions and their instantiations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			defs := a.Registry.Definitions()
			if len(defs) == 0 {
				dimColor.Fprintln(out, "no definitions registered")
				return nil
			}
			for _, def := range defs {
				okColor.Fprintf(out, "%s", def.Name)
				fmt.Fprintf(out, "[%s]\n", strings.Join(def.ArgNames, ", "))
				for _, inst := range a.Registry.Instantiations(def.Name) {
					fmt.Fprintf(out, "  %-40s %s %s\n", inst.DisplayName(), inst.Artifact.TypeName, dimColor.Sprint(inst.Artifact.ID))
				}
			}
			return nil
		})
	},
}

var janitorCmd = &cobra.Command{
	Use:   "janitor [file|-]",
	Short: "Clean generated code named by build errors read from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		diags, err := janitor.ReadDiagnostics(r)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cleaned, err := a.Clean(ctx, diags)
			if err != nil {
				return err
			}
			if cleaned == 0 {
				dimColor.Fprintln(cmd.OutOrStdout(), "nothing to clean")
				return nil
			}
			okColor.Fprintf(cmd.OutOrStdout(), "cleaned %d generated files\n", cleaned)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every generated stub matches what would be generated now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			drifts, err := a.Generator.Verify(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(drifts) == 0 {
				okColor.Fprintln(out, "all stubs up to date")
				return nil
			}
			for _, d := range drifts {
				if d.Missing {
					errColor.Fprintf(out, "missing  %s (%s)\n", d.Instantiation.DisplayName(), d.Instantiation.Artifact.TypeName)
					continue
				}
				warnColor.Fprintf(out, "drifted  %s (%s)\n", d.Instantiation.DisplayName(), d.Instantiation.Artifact.TypeName)
				fmt.Fprintln(out, d.Diff)
			}
			return errDrift
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile whenever Go sources change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		build, _ := cmd.Flags().GetBool("build")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg := a.Config
			w, err := host.NewWatcher(host.WatchConfig{
				Root:        cfg.Project.Root,
				Ignore:      []string{cfg.GeneratedDirAbs()},
				DebounceDur: time.Duration(cfg.Watch.DebounceMS) * time.Millisecond,
			})
			if err != nil {
				return err
			}
			defer func() { _ = w.Stop() }()
			onChange, err := w.Start()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			dimColor.Fprintf(out, "watching %s\n", cfg.Project.Root)
			for {
				res, err := a.Cycle(ctx, build)
				if err != nil {
					errColor.Fprintln(out, "reconcile failed:", err)
				} else {
					printCycle(out, res, build)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-onChange:
				}
			}
		})
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Show or clear the pending artifact request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		drop, _ := cmd.Flags().GetBool("clear")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			req, ok, err := a.Relay.Peek(ctx)
			if err != nil {
				return err
			}
			if !ok {
				dimColor.Fprintln(out, "no pending request")
				return nil
			}
			fmt.Fprintf(out, "%s  %s  %s\n", req.DisplayName(), req.FileStem, dimColor.Sprint(req.RequestedAt.Format(time.RFC3339)))
			if !drop {
				return nil
			}
			if err := a.Relay.Clear(ctx); err != nil {
				return err
			}
			warnColor.Fprintln(out, "cleared")
			return nil
		})
	},
}

func init() {
	reconcileCmd.Flags().Bool("build", false, "build the project afterwards and repair generated code")
	requestCmd.Flags().Bool("build", false, "run the build cycle when the artifact is pending")
	watchCmd.Flags().Bool("build", false, "build after each reconcile")
	relayCmd.Flags().Bool("clear", false, "drop the pending request")
}

func printCycle(out io.Writer, res *app.CycleResult, build bool) {
	for _, rep := range res.Reports {
		printReport(out, rep)
	}
	if !build {
		return
	}
	switch {
	case res.BuildOK:
		okColor.Fprintf(out, "build ok after %d pass(es)", res.Builds)
		fmt.Fprintf(out, ", %d cleaned\n", res.Cleaned)
	default:
		errColor.Fprintf(out, "build failed after %d pass(es)\n", res.Builds)
		if res.Output != "" {
			fmt.Fprint(out, res.Output)
		}
	}
}

func printReport(out io.Writer, rep *pipeline.Report) {
	if !rep.Changed() && len(rep.Failures) == 0 {
		dimColor.Fprintln(out, "up to date")
		return
	}
	for _, name := range rep.Added {
		okColor.Fprintf(out, "+ %s\n", name)
	}
	for _, name := range rep.Renamed {
		warnColor.Fprintf(out, "~ %s\n", name)
	}
	for _, name := range rep.ArgsUpdated {
		warnColor.Fprintf(out, "~ %s (type parameters)\n", name)
	}
	for _, name := range rep.Removed {
		errColor.Fprintf(out, "- %s\n", name)
	}
	if rep.InstantiationsRemoved > 0 {
		errColor.Fprintf(out, "- %d instantiations\n", rep.InstantiationsRemoved)
	}
	if rep.Resumed {
		okColor.Fprintln(out, "registered pending artifact")
	}
	if rep.DispatchWritten {
		dimColor.Fprintln(out, "dispatch file written")
	}
	for _, f := range rep.Failures {
		errColor.Fprintf(out, "! %s\n", f.Error())
	}
}
