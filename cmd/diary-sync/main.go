package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/diary-sync/diary"
	"github.com/alexjbarnes/diary-sync/internal/config"
	"github.com/alexjbarnes/diary-sync/internal/events"
	"github.com/alexjbarnes/diary-sync/internal/logging"
	"github.com/alexjbarnes/diary-sync/internal/network"
	"github.com/alexjbarnes/diary-sync/internal/state"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "diary-sync",
		Short:         "Offline-first sync engine for the diary backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		runCmd(),
		syncCmd(),
		addCmd(),
		deleteCmd(),
		listCmd(),
		queueCmd(),
		reportCmd(),
		conflictsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what every command opens.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *state.State
	client  *diary.Client
	bus     *events.Bus
	monitor *network.Monitor
	syncer  *diary.Syncer
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogFile)

	st, err := state.LoadAt(cfg.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := diary.NewClient(cfg.APIURL, cfg.APIToken, httpClient)
	bus := events.NewBus(logger)

	monitor := network.NewMonitor(
		network.NewHealthProber(cfg.APIURL+"/health", httpClient),
		cfg.NetworkPollInterval,
		logger.With(slog.String("service", "network")),
	)

	syncer := diary.NewSyncer(diary.SyncerConfig{
		Backend:  client,
		State:    st,
		Bus:      bus,
		Monitor:  monitor,
		FullSync: cfg.FullSync,
	}, logger.With(slog.String("service", "sync")))

	return &app{
		cfg:     cfg,
		logger:  logger,
		state:   st,
		client:  client,
		bus:     bus,
		monitor: monitor,
		syncer:  syncer,
	}, nil
}

func (a *app) Close() {
	a.syncer.StopWatching()
	a.monitor.Close()
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state", slog.String("error", err.Error()))
	}
}

// withApp opens the app for the duration of fn.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(cmd.Context(), a)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run the sync daemon until interrupted.

The daemon drains the upload queue whenever the backend becomes reachable,
syncs after server push notifications and on a periodic foreground tick,
imports markdown drafts from DIARY_DRAFTS_DIR and registers PUSH_TOKEN.
Send SIGUSR1 to simulate the app coming to the foreground.`,
		RunE: withApp(runDaemon),
	}
}

func runDaemon(ctx context.Context, a *app) error {
	logger := a.logger
	logger.Info("diary-sync starting",
		slog.String("version", Version),
		slog.String("api", a.cfg.APIURL),
		slog.Bool("listener", a.cfg.WSURL != ""),
		slog.Bool("inbox", a.cfg.DraftsDir != ""),
		slog.Bool("full_sync", a.cfg.FullSync),
	)

	a.bus.Subscribe(events.DiaryUpdated, func(ev events.Event) {
		logger.Debug("diary updated", slog.Int("entries", len(ev.EntryIDs)))
	})
	a.bus.Subscribe(events.AICommentReceived, func(ev events.Event) {
		logger.Info("new AI comments", slog.Any("entries", ev.EntryIDs))
	})

	unwatchConn := a.monitor.Subscribe(func(st network.Status) {
		logger.Info("connectivity",
			slog.String("connected", st.Connected.String()),
			slog.String("reachable", st.Reachable.String()),
		)
	})
	defer unwatchConn()

	a.syncer.StartWatching(ctx)

	scheduler := diary.NewScheduler(a.syncer, a.cfg.SyncDebounce, a.cfg.ForegroundSyncInterval,
		logger.With(slog.String("service", "scheduler")))
	defer scheduler.WatchNetwork(a.monitor)()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(scheduler.Run(gctx))
	})
	scheduler.Trigger("startup")

	g.Go(func() error {
		foreground(gctx, a.monitor, scheduler)
		return nil
	})

	if a.cfg.WSURL != "" {
		listener := diary.NewListener(a.cfg.WSURL, a.cfg.APIToken, scheduler.Trigger,
			logger.With(slog.String("service", "listener")))
		g.Go(func() error {
			return ignoreCanceled(listener.Listen(gctx))
		})
	}

	if a.cfg.DraftsDir != "" {
		inbox := diary.NewInbox(a.cfg.DraftsDir, a.syncer, logger.With(slog.String("service", "inbox")))
		g.Go(func() error {
			return ignoreCanceled(inbox.Watch(gctx))
		})
	}

	if a.cfg.PushToken != "" {
		g.Go(func() error {
			if err := diary.RegisterPushToken(gctx, a.client, a.state, a.cfg.PushToken, a.cfg.DeviceName, logger); err != nil {
				logger.Warn("push notifications disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	err := g.Wait()
	logger.Info("diary-sync stopped")
	return err
}

// foreground refreshes connectivity and asks for a sync on SIGUSR1.
func foreground(ctx context.Context, monitor *network.Monitor, scheduler *diary.Scheduler) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			monitor.Refresh(ctx)
			scheduler.Trigger("foreground")
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
