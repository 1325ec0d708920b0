package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/EvanSunde/Sinodragon/internal/bridge"
	"github.com/EvanSunde/Sinodragon/internal/config"
	"github.com/EvanSunde/Sinodragon/internal/control"
	"github.com/EvanSunde/Sinodragon/internal/engine"
	"github.com/EvanSunde/Sinodragon/internal/ipc"
	"github.com/EvanSunde/Sinodragon/internal/metrics"
	"github.com/EvanSunde/Sinodragon/internal/profile"
	"github.com/EvanSunde/Sinodragon/internal/retry"
	"github.com/EvanSunde/Sinodragon/internal/sink"
	"github.com/EvanSunde/Sinodragon/internal/state"
	"github.com/EvanSunde/Sinodragon/internal/util"
)

type daemonFlags struct {
	configPath string
	dryRun     bool
	logLevel   string
	query      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags daemonFlags
	cmd := &cobra.Command{
		Use:           "sinodragond",
		Short:         "Per-application keyboard lighting driven by window focus and modifiers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, cmd.Flags().Changed("log-level"))
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath(), "path to YAML config")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log frames instead of writing them to the device sink")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	cmd.Flags().StringVar(&flags.query, "query", "", "active window query strategy (socket|hyprctl); overrides the config")
	return cmd
}

func run(parent context.Context, flags daemonFlags, levelFromFlag bool) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := util.NewLogger(util.ParseLogLevel(flags.logLevel))

	cfgPath, err := filepath.Abs(flags.configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	cfgPath = filepath.Clean(cfgPath)
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if flags.query != "" {
		cfg.Compositor.Query = strings.ToLower(flags.query)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if !levelFromFlag {
		logger.SetLevel(util.ParseLogLevel(cfg.LogLevel))
	}
	dryRun := flags.dryRun || cfg.DryRun

	collector := metrics.NewCollector(nil)
	store := profile.NewStore(profile.DirSource{Dir: cfg.ProfilesDir}, profile.DefaultCapacity, logger.WithField("component", "profiles"), collector)
	policy := retry.NewPolicy(cfg.Backoff.Initial, cfg.Backoff.Max, cfg.Backoff.Factor)

	var keymon *bridge.Client
	if cfg.Bridge.Enabled {
		path := cfg.Bridge.Socket
		if path == "" {
			path = bridge.DefaultSocketPath
		}
		keymon = bridge.NewClient(path, policy, logger.WithField("component", "bridge"), collector)
	} else {
		logger.Infof("input bridge disabled; modifier combos will not activate")
	}

	opts := engine.Options{
		QueueSize:     cfg.Engine.QueueSize,
		HistoryLimit:  cfg.Engine.HistoryLimit,
		SinkQueueSize: cfg.Sink.QueueSize,
		SinkTimeout:   cfg.Sink.Timeout,
	}
	if keymon != nil {
		opts.BridgeAvailable = keymon.IsAvailable
	}
	out := sink.New(cfg.Sink.Socket, dryRun, logger.WithField("component", "sink"))
	if dryRun {
		logger.Infof("dry-run enabled; frames are logged only")
	}
	eng := engine.New(store, profile.NewResolver(cfg.Aliases), cfg.Baseline, out, opts, logger.WithField("component", "engine"), collector)

	compositor := ipc.NewClient(ipc.Options{
		Socket:      cfg.Compositor.Socket,
		SearchRoots: cfg.Compositor.SearchRoots,
		Strategy:    ipc.QueryStrategy(cfg.Compositor.Query),
		Resync:      cfg.Compositor.ResyncInterval,
		Backoff:     policy,
	}, logger.WithField("component", "compositor"), collector)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	reloader := newConfigReloader(cfgPath, logger, eng, levelFromFlag, cfg, raw)
	ctrlSrv, err := control.NewServer(eng, collector, logger.WithField("component", "control"), reloader.Reload, cfg.Control.Socket)
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	if err := watcher.Add(cfgPath); err != nil {
		logger.Debugf("unable to watch config file directly: %v", err)
	}
	if err := watcher.Add(cfg.ProfilesDir); err != nil {
		logger.Warnf("profile changes will not be picked up automatically: %v", err)
	}
	reloadRequests := make(chan string, 1)
	go watchFiles(logger, watcher, cfgPath, cfg.ProfilesDir, reloadRequests, func(appID string) {
		ev := engine.InvalidateEvent(appID)
		ev.Source = "watcher"
		if err := eng.Submit(ev); err != nil {
			logger.Warnf("invalidate profile %s: %v", appID, err)
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	group := newRunGroup()
	defer func() {
		cancel()
		group.Wait()
	}()
	group.Go(func() error { return eng.Run(ctx) })
	group.Go(func() error { return ctrlSrv.Serve(ctx) })
	group.Go(func() error {
		return compositor.Run(ctx, func(f state.WindowFocus) {
			_ = eng.Submit(engine.FocusEvent(f))
		})
	})
	if keymon != nil {
		group.Go(func() error {
			return keymon.Run(ctx, func(ev bridge.Event) {
				switch ev.Kind {
				case bridge.EventRoot:
					_ = eng.Submit(engine.RootEvent("bridge"))
				case bridge.EventModifier:
					_ = eng.Submit(engine.ModifierEvent(ev.Modifier))
				}
			})
		})
	}
	if cfg.Metrics.Listen != "" {
		group.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Listen, collector, logger) })
	}

	for {
		select {
		case err := <-group.Errors():
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("daemon exited: %v", err)
				cancel()
				return err
			}
			if ctx.Err() != nil {
				logger.Infof("sinodragond stopped")
				return nil
			}
		case reason := <-reloadRequests:
			if err := reloader.Reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloader.Reload("received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector, logger *util.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	logger.Infof("metrics listening on http://%s/metrics", ln.Addr())
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
