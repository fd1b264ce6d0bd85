package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paymesh/paymesh-indexer/internal/checkpoint"
	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/config"
	"github.com/paymesh/paymesh-indexer/internal/correlator"
	"github.com/paymesh/paymesh-indexer/internal/db"
	"github.com/paymesh/paymesh-indexer/internal/distributor"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/internal/migrations"
	"github.com/paymesh/paymesh-indexer/internal/notifier"
	"github.com/paymesh/paymesh-indexer/internal/pipeline"
	"github.com/paymesh/paymesh-indexer/internal/projection"
	"github.com/paymesh/paymesh-indexer/internal/reconcile"
	"github.com/paymesh/paymesh-indexer/internal/rpc"
	pkgconfig "github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║          paymesh-indexer v%s            ║
║   Group payment event projection          ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "paymesh-indexer - chain event indexing for payment groups",
	Long: `paymesh-indexer streams group factory and token events from an Ethereum node,
projects them into a relational store and triggers payouts for inbound group payments.
Every pipeline resumes from its own checkpoint and replays are idempotent.`,
	Version: version,
	RunE:    runIndexer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(listCmd, checkpointCmd, reconcileCmd, schemaCmd)
}

// newLogger builds a component logger honoring the optional logging section.
func newLogger(cfg *pkgconfig.Config, component string) *logger.Logger {
	if cfg.Logging == nil {
		return logger.NewComponentLoggerFromConfig(component, nil)
	}
	return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
}

// app holds what every command needs: the loaded config and the migrated store.
type app struct {
	cfg   *pkgconfig.Config
	store *projection.Store
	log   *logger.Logger
}

func openApp() (*app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg, common.ComponentPipeline)
	logger.SetDefaultLogger(log)

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	if err := migrations.RunMigrations(log, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &app{
		cfg:   cfg,
		store: projection.NewStore(database, newLogger(cfg, common.ComponentProjector)),
		log:   log,
	}, nil
}

func (a *app) Close() {
	if err := a.store.DB().Close(); err != nil {
		a.log.Warnf("failed to close database: %v", err)
	}
	_ = a.log.Sync()
}

func (a *app) correlator() *correlator.Correlator {
	var dist distributor.Distributor
	timeout := pkgconfig.DefaultDistributorTimeout
	if a.cfg.Distributor != nil {
		dist = distributor.NewHTTPDistributor(a.cfg.Distributor, newLogger(a.cfg, common.ComponentDistributor))
		timeout = a.cfg.Distributor.Timeout.Duration
	}

	return correlator.New(a.store, dist, timeout, newLogger(a.cfg, common.ComponentCorrelator))
}

// errNoDistributor is returned when settlement is requested without a payout service.
var errNoDistributor = errors.New("settling payments needs a distributor section in the configuration")

func (a *app) reconciler() (*reconcile.Reconciler, error) {
	if a.cfg.Distributor == nil {
		return nil, errNoDistributor
	}

	var rc pkgconfig.ReconcileConfig
	if a.cfg.Reconcile != nil {
		rc = *a.cfg.Reconcile
	}

	return reconcile.New(a.store, a.correlator(), rc, newLogger(a.cfg, common.ComponentReconciler)), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	cfg := a.cfg
	log := a.log

	log.Info("Connecting to Ethereum node...")
	ethClient, err := rpc.NewClient(ctx, cfg.Source.RPCURL, cfg.Source.Retry, newLogger(cfg, common.ComponentSource))
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()
	log.Infof("Connected to Ethereum node: %s", cfg.Source.RPCURL)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, newLogger(cfg, common.ComponentPipeline))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	notif := notifier.New(cfg.Notifier, newLogger(cfg, common.ComponentNotifier))
	defer notif.Close()

	deps := pipeline.Deps{
		Store:      a.store,
		Projector:  projection.NewProjector(a.store, newLogger(cfg, common.ComponentProjector)),
		Correlator: a.correlator(),
		Notifier:   notif,
		Log:        log,
	}

	checkpoints := checkpoint.NewManager(a.store.DB(), newLogger(cfg, common.ComponentCheckpoint))

	pipelines, err := pipeline.Build(cfg, ethClient, deps, checkpoints, newLogger(cfg, common.ComponentProcessor))
	if err != nil {
		return fmt.Errorf("failed to build pipelines: %w", err)
	}

	log.Infof("Starting %d pipeline(s)...", len(pipelines))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.NewRunner(pipelines, log).Run(gctx)
	})

	if cfg.Reconcile != nil && cfg.Reconcile.Interval.Duration > 0 {
		reconciler, err := a.reconciler()
		if err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
		g.Go(func() error {
			return reconciler.Run(gctx, cfg.Reconcile.Interval.Duration)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("paymesh-indexer stopped successfully")
	return nil
}
