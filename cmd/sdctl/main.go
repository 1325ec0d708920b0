package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/EvanSunde/Sinodragon/internal/config"
	"github.com/EvanSunde/Sinodragon/internal/control/client"
	"github.com/EvanSunde/Sinodragon/internal/profile"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/ui/tui"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

// controller is the daemon surface the subcommands drive.
type controller interface {
	State(ctx context.Context) (client.EngineStatus, error)
	Inspect(ctx context.Context) (client.InspectorState, error)
	Root(ctx context.Context) error
	Modifier(ctx context.Context, m state.Modifier, pressed bool) error
	Apply(ctx context.Context, baseline state.Mapping) error
	Invalidate(ctx context.Context, app string) error
	Reload(ctx context.Context) error
	Metrics(ctx context.Context) (client.MetricsSnapshot, error)
}

type globalFlags struct {
	socket  string
	timeout time.Duration
}

func main() {
	if err := newRootCmd(nil, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. A nil connect dials the control socket.
func newRootCmd(connect func(socket string) (controller, error), stdout, stderr io.Writer) *cobra.Command {
	var flags globalFlags
	if connect == nil {
		connect = func(socket string) (controller, error) {
			cli, err := client.New(socket)
			if err != nil {
				return nil, fmt.Errorf("create client: %w", err)
			}
			return cli, nil
		}
	}
	root := &cobra.Command{
		Use:           "sdctl",
		Short:         "Inspect and drive the sinodragon lighting daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.socket, "socket", "", "path to sinodragon control socket")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 3*time.Second, "control request timeout")

	withClient := func(fn func(ctx context.Context, cli controller, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cli, err := connect(flags.socket)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if flags.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flags.timeout)
				defer cancel()
			}
			return fn(ctx, cli, cmd, args)
		}
	}

	var jsonOutput bool
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show the engine state and active lighting",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, _ []string) error {
			status, err := cli.State(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		}),
	}
	stateCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw status as JSON")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of state, lighting and transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := connect(flags.socket)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			renderer := tui.New(cli, cmd.OutOrStdout())
			if err := renderer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	rootTrigger := &cobra.Command{
		Use:   "root",
		Short: "Fire the root trigger (clears held modifiers, restores the app default)",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, _ []string) error {
			if err := cli.Root(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Root trigger sent")
			return nil
		}),
	}

	modifierCmd := &cobra.Command{
		Use:   "modifier <name> press|release",
		Short: "Inject a modifier press or release, as if typed on the keyboard",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, args []string) error {
			m, err := state.ParseModifier(args[0])
			if err != nil {
				return err
			}
			var pressed bool
			switch strings.ToLower(args[1]) {
			case "press", "down":
				pressed = true
			case "release", "up":
			default:
				return fmt.Errorf("modifier action %q must be press or release", args[1])
			}
			if err := cli.Modifier(ctx, m, pressed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sent\n", state.ModifierEvent{Modifier: m, Pressed: pressed})
			return nil
		}),
	}

	var baselineEntries []string
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Re-resolve lighting, optionally replacing the baseline",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, _ []string) error {
			baseline, err := parseBaseline(baselineEntries)
			if err != nil {
				return err
			}
			if err := cli.Apply(ctx, baseline); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Apply requested")
			return nil
		}),
	}
	applyCmd.Flags().StringArrayVar(&baselineEntries, "key", nil, "baseline entry KEY=COLOR; repeat for each key")

	invalidateCmd := &cobra.Command{
		Use:   "invalidate [app]",
		Short: "Drop a cached profile, or every profile when no app is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, args []string) error {
			app := ""
			if len(args) == 1 {
				app = args[0]
			}
			if err := cli.Invalidate(ctx, app); err != nil {
				return err
			}
			if app == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "All profiles invalidated")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Profile %s invalidated\n", app)
			}
			return nil
		}),
	}

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Trigger a live config reload",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, _ []string) error {
			if err := cli.Reload(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reload requested")
			return nil
		}),
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show daemon counters",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cli controller, cmd *cobra.Command, _ []string) error {
			snap, err := cli.Metrics(ctx)
			if err != nil {
				return err
			}
			printMetrics(cmd.OutOrStdout(), snap)
			return nil
		}),
	}

	root.AddCommand(stateCmd, watchCmd, rootTrigger, modifierCmd, applyCmd, invalidateCmd, reloadCmd, metricsCmd, newCheckCmd(), newResolveCmd())
	return root
}

func newCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to configuration file")
	return cmd
}

func runCheck(configPath string, stdout io.Writer, stderr io.Writer) error {
	if configPath == "" {
		return fmt.Errorf("check requires --config <path>")
	}
	lintErrs, err := config.LintFile(configPath)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		fmt.Fprintln(stdout, "Configuration OK")
		return nil
	}

	fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return fmt.Errorf("configuration validation failed")
}

func newResolveCmd() *cobra.Command {
	var (
		configPath string
		chord      string
	)
	cmd := &cobra.Command{
		Use:   "resolve <window-class>",
		Short: "Resolve the lighting for a window class offline, without the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(configPath, args[0], chord, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to configuration file")
	cmd.Flags().StringVar(&chord, "mods", "", "held modifiers, e.g. Ctrl+Shift")
	return cmd
}

// runResolve loads the profiles the daemon would and prints the keys the
// engine would light for class with chord held.
func runResolve(configPath, class, chord string, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := util.NewLoggerWithWriter(util.LevelWarn, os.Stderr)
	store := profile.NewStore(profile.DirSource{Dir: cfg.ProfilesDir}, profile.DefaultCapacity, logger, nil)
	appID := profile.NewResolver(cfg.Aliases).AppID(class)

	source := "baseline"
	keys := cfg.Baseline
	if strings.TrimSpace(class) == "" {
		appID = ""
	} else if chord != "" {
		set, err := state.ParseModifierSet(chord)
		if err != nil {
			return err
		}
		if combo, ok := store.ResolveCombo(appID, set); ok {
			source, keys = "combo "+set.String(), combo
		} else if def := store.ResolveDefaultKeys(appID); def != nil {
			source, keys = "default (no combo for "+set.String()+")", def
		}
	} else if def := store.ResolveDefaultKeys(appID); def != nil {
		source, keys = "default", def
	}

	fmt.Fprintf(stdout, "App: %s\n", displayOr(appID, "(none)"))
	fmt.Fprintf(stdout, "Source: %s\n", source)
	printKeys(stdout, keys)
	return nil
}

func parseBaseline(entries []string) (state.Mapping, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	baseline := make(state.Mapping, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("baseline entry %q must be KEY=COLOR", entry)
		}
		c, err := state.ParseColor(value)
		if err != nil {
			return nil, fmt.Errorf("baseline entry %q: %w", entry, err)
		}
		baseline[key] = c
	}
	return baseline, nil
}

func printStatus(w io.Writer, status client.EngineStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", status.State)
	focus := "(none)"
	if !status.Focus.IsBlank() {
		focus = status.Focus.AppClass
	}
	fmt.Fprintf(tw, "Focus:\t%s\n", focus)
	fmt.Fprintf(tw, "Held:\t%s\n", displayOr(status.Held, "-"))
	fmt.Fprintf(tw, "Bridge available:\t%t\n", status.BridgeAvailable)
	fmt.Fprintf(tw, "Last frame:\t#%d\n", status.FrameSeq)
	tw.Flush()
	printKeys(w, status.Keys)
}

func printKeys(w io.Writer, keys state.Mapping) {
	if len(keys) == 0 {
		fmt.Fprintln(w, "Keys: (none)")
		return
	}
	fmt.Fprintln(w, "Keys:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, key := range keys.Keys() {
		fmt.Fprintf(tw, "  %s\t%s\n", key, keys[key].Hex())
	}
	tw.Flush()
}

func printMetrics(w io.Writer, snap client.MetricsSnapshot) {
	if !snap.Started.IsZero() {
		fmt.Fprintf(w, "Uptime: %s\n", time.Since(snap.Started).Round(time.Second))
	}
	names := make([]string, 0, len(snap.Counters))
	for name := range snap.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%g\n", name, snap.Counters[name])
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
