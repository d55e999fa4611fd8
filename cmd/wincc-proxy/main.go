package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/wincc-debug-proxy/internal/config"
	"github.com/standardbeagle/wincc-debug-proxy/internal/dump"
	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
	"github.com/standardbeagle/wincc-debug-proxy/internal/proxy"
	"github.com/standardbeagle/wincc-debug-proxy/internal/scaffold"
	"github.com/standardbeagle/wincc-debug-proxy/internal/upstream"
	"github.com/standardbeagle/wincc-debug-proxy/pkg/events"
)

// Version is set at build time
var Version = "dev"

// startProxy is swapped out by tests
var startProxy = runProxy

// runPollInterval is the default for the run subcommand; the bare binary
// keeps config.DefaultPollInterval.
const runPollInterval = time.Second

const longHelp = `Proxies Chrome DevTools Protocol (CDP) connections to the WinCC Unified
runtime, enabling VS Code debugging with automatic reconnection when scripts
reload.

The proxy monitors the WinCC debug server for target changes and restarts the
affected listener, forcing VS Code to reconnect without manual intervention.

Examples:
  wincc-proxy                               Start proxy (localhost:9222)
  wincc-proxy run -t 192.168.1.100          Connect to remote WinCC
  wincc-proxy init                          Create .vscode/launch.json
  wincc-proxy generate -a 192.168.1.100     Generate netsh .bat scripts for remote setup
  wincc-proxy run --dump ./output           Dump runtime scripts as they load`

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "wincc-proxy",
		Short:         "Proxies CDP connections to WinCC Unified for VS Code debugging",
		Long:          longHelp,
		Args:          cobra.NoArgs,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return startProxy(cmd.Context(), cfg, out)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile,
		"Config file (.toml, .yaml or .yml); flags override its values")

	root.AddCommand(newRunCmd(&configPath, out), newInitCmd(out), newGenerateCmd(out))
	return root
}

func newRunCmd(configPath *string, out io.Writer) *cobra.Command {
	var (
		f    config.Config
		poll int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the debug proxy server (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRunConfig(cmd, *configPath, f, poll)
			if err != nil {
				return err
			}
			return startProxy(cmd.Context(), cfg, out)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.TargetHost, "target-host", "t", config.DefaultTargetHost, "Target WinCC host address")
	fl.IntVarP(&f.TargetPort, "target-port", "p", config.DefaultTargetPort, "Target WinCC debug port")
	fl.IntVarP(&f.DynamicsPort, "dynamics-port", "d", config.DefaultDynamicsPort, "Local port for Dynamics proxy")
	fl.IntVarP(&f.EventsPort, "events-port", "e", config.DefaultEventsPort, "Local port for Events proxy")
	fl.IntVarP(&poll, "poll-interval", "i", int(runPollInterval/time.Second), "Poll interval in seconds")
	fl.BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose logging")
	fl.BoolVarP(&f.VeryVerbose, "very-verbose", "V", false, "Enable very verbose logging")
	fl.BoolVarP(&f.LongPaths, "long-paths", "l", false, "Show full (long) script paths instead of shortened ones")
	fl.StringVar(&f.DumpDir, "dump", "", "Continuously dump runtime scripts into this directory as they are loaded")
	fl.StringVar(&f.StyleguideVersion, "styleguide", "", "Styleguide version for the dump directory (v17, v18, v19, v20, v21)")
	return cmd
}

// resolveRunConfig layers defaults, the config file and explicitly set flags,
// in that order.
func resolveRunConfig(cmd *cobra.Command, configPath string, f config.Config, poll int) (config.Config, error) {
	base := config.Default()
	base.PollInterval = runPollInterval
	base.PollSeconds = int(runPollInterval / time.Second)

	cfg, err := config.LoadInto(base, configPath)
	if err != nil {
		return cfg, err
	}

	fl := cmd.Flags()
	if fl.Changed("target-host") {
		cfg.TargetHost = f.TargetHost
	}
	if fl.Changed("target-port") {
		cfg.TargetPort = f.TargetPort
	}
	if fl.Changed("dynamics-port") {
		cfg.DynamicsPort = f.DynamicsPort
	}
	if fl.Changed("events-port") {
		cfg.EventsPort = f.EventsPort
	}
	if fl.Changed("poll-interval") {
		cfg.PollSeconds = poll
		cfg.PollInterval = time.Duration(poll) * time.Second
	}
	if fl.Changed("verbose") {
		cfg.Verbose = f.Verbose
	}
	if fl.Changed("very-verbose") {
		cfg.VeryVerbose = f.VeryVerbose
	}
	if fl.Changed("long-paths") {
		cfg.LongPaths = f.LongPaths
	}
	if fl.Changed("dump") {
		cfg.DumpDir = f.DumpDir
	}
	if fl.Changed("styleguide") {
		cfg.StyleguideVersion = f.StyleguideVersion
	}
	return cfg, nil
}

func newInitCmd(out io.Writer) *cobra.Command {
	var (
		dir      string
		dynamics int
		evts     int
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize .vscode/launch.json for debugging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := scaffold.InitVSCode(dir, dynamics, evts)
			if err != nil {
				return err
			}

			if !res.Created {
				fmt.Fprintf(out, "Warning: %s already exists, not overwriting.\n", res.Path)
				fmt.Fprintln(out, "Add these configurations manually:")
				fmt.Fprintln(out)
				fmt.Fprint(out, string(res.Content))
				return nil
			}

			fmt.Fprintf(out, "Created: %s\n\n", res.Path)
			fmt.Fprintln(out, "Debug configurations:")
			fmt.Fprintf(out, "  %-16s -> localhost:%d\n", scaffold.DynamicsConfigName, dynamics)
			fmt.Fprintf(out, "  %-16s -> localhost:%d\n", scaffold.EventsConfigName, evts)
			fmt.Fprintf(out, "  %-16s -> both\n", scaffold.CompoundName)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "output", "o", ".", "Output directory")
	cmd.Flags().IntVarP(&dynamics, "dynamics-port", "d", config.DefaultDynamicsPort, "Port for Dynamics proxy (used in launch.json)")
	cmd.Flags().IntVarP(&evts, "events-port", "e", config.DefaultEventsPort, "Port for Events proxy (used in launch.json)")
	return cmd
}

func newGenerateCmd(out io.Writer) *cobra.Command {
	var (
		address string
		port    int
		dir     string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate .bat scripts for remote WinCC debugging (netsh port forwarding + firewall)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := scaffold.GenerateScripts(address, port, dir, force)
			if errors.Is(err, scaffold.ErrExists) {
				for _, p := range res.Existing {
					fmt.Fprintf(out, "Exists: %s\n", p)
				}
				return fmt.Errorf("%w; rerun with --force to overwrite", err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Generated scripts in %s:\n\n", res.Dir)
			for _, s := range res.Scripts {
				fmt.Fprintf(out, "  %-40s %s\n", s.Name, s.Purpose)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Usage:")
			fmt.Fprintln(out, "  1. Copy the .bat files to the WinCC machine")
			fmt.Fprintln(out, "  2. Right-click -> Run as administrator")
			fmt.Fprintf(out, "  3. Then run: wincc-proxy run -t %s -p %d\n", address, port)
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "IP address of the WinCC machine")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultTargetPort, "WinCC debug port")
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "Output directory for .bat files")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing scripts")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

// runProxy wires the components for one proxy process and blocks until a
// signal arrives or the orchestrator fails.
func runProxy(parent context.Context, cfg config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}

	log := logging.New(out, logging.Options{Verbose: cfg.Verbose, VeryVerbose: cfg.VeryVerbose})

	var store *dump.Store
	if cfg.DumpDir != "" {
		s, err := dump.Open(cfg.DumpDir, log)
		if err != nil {
			return fmt.Errorf("failed to open dump directory: %w", err)
		}
		defer s.Close()
		store = s
	}

	bus := events.NewEventBus()
	defer bus.Shutdown()

	orch := proxy.NewOrchestrator(cfg, upstream.NewClient(cfg, log), store, bus, log)
	orch.Out = out

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	setupSignalHandling(sigChan)
	defer stopSignalHandling(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(out, "\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return orch.Run(ctx)
}
