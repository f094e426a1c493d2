package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"admind/internal/app"
	"admind/internal/config"
)

// Set with -ldflags at build time.
var (
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"
)

type rootFlags struct {
	cfgPath  string
	envFiles []string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "admind",
		Short: "admind - periodic admin maintenance for the ID server",
		Long: `admind calls the ID server's admin endpoints on a fixed interval and
launches the transaction scanner every few hours.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotenv(f.envFiles...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), f)
		},
	}
	root.PersistentFlags().StringVar(&f.cfgPath, "config", "", "path to a YAML or JSON config file (optional)")
	root.PersistentFlags().StringSliceVar(&f.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newRunCmd(f),
		newOnceCmd(f),
		newCheckConfigCmd(f),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), f)
		},
	}
}

func newOnceCmd(f *rootFlags) *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single tick and exit",
		Long: `Runs the admin calls once. The scanner is launched when the cadence is due,
which is always the case for a fresh process, or when --scan is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := app.New(f.cfgPath)
			if err != nil {
				return err
			}
			rep, err := a.Once(ctx, scan)
			_ = a.Stop(context.Background(), app.StopAppStop)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tick done in %s (scanner due=%t launched=%t)\n",
				rep.Took.Round(time.Millisecond), rep.ScanDue, rep.Launched)
			return nil
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "launch the scanner even when it is not due")
	return cmd
}

func newCheckConfigCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(f.cfgPath).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok (environment=%s)\n", cfg.Environment)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short, _ := cmd.Flags().GetBool("short"); short {
				fmt.Fprintln(out, BuildVersion)
				return
			}
			fmt.Fprintf(out, "admind %s\n", BuildVersion)
			fmt.Fprintf(out, "Commit: %s\n", BuildCommit)
			fmt.Fprintf(out, "Built: %s\n", BuildDate)
		},
	}
	cmd.Flags().BoolP("short", "s", false, "Show only version number")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runDaemon(parent context.Context, f *rootFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(f.cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigCh:
		reason = stopReasonFor(sig)
	case <-parent.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopReasonFor(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
