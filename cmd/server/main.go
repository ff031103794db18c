package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quiet-owl-labs/threattriage/internal/api/health"
	"github.com/quiet-owl-labs/threattriage/internal/enrich"
	"github.com/quiet-owl-labs/threattriage/internal/ingest"
	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/notifier"
	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
	"github.com/quiet-owl-labs/threattriage/internal/risk"
	"github.com/quiet-owl-labs/threattriage/internal/rules"
	"github.com/quiet-owl-labs/threattriage/internal/server"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
	"github.com/quiet-owl-labs/threattriage/pkg/config"
)

var (
	configFile string
	listenAddr string
	debugMode  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "threattriage-server",
	Short: "ThreatTriage Server - IOC enrichment and triage pipeline",
	Long: `ThreatTriage Server ingests raw security alerts, enriches their
indicators against reputation sources, scores and classifies them,
and routes notifications for the ones that matter.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("threattriage-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "use mock reputation sources (no API keys needed)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if listenAddr != "" {
		cfg.Server.Address = listenAddr
	}
	if debugMode {
		cfg.Debug = true
	}
	cfg.Verbose = verbose

	// Auto-create data directories
	for _, dir := range []string{cfg.Data.Dir, filepath.Dir(cfg.Data.DatabasePath), cfg.Data.ModelDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	// Initialize storage
	store := storage.NewSQLiteStorage(cfg.Data.DatabasePath)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Printf("database initialized at %s", cfg.Data.DatabasePath)

	connectors, closeConnectors, err := buildConnectors(cfg)
	if err != nil {
		return err
	}
	defer closeConnectors()

	lookupTimeout, _ := cfg.lookupTimeout()
	fusion := enrich.NewFusion(connectors, enrich.FusionOptions{
		LookupTimeout: lookupTimeout,
		MaxParallel:   cfg.Sources.MaxParallel,
	})

	registry := ml.NewRegistry(cfg.Data.ModelDir)
	trainerTimeout, _ := cfg.trainerTimeout()
	trainer := ml.NewExecTrainer(cfg.Trainer.Command, registry, trainerTimeout)

	ruleStore := rules.NewStore(cfg.Data.RulesPath)

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	orchestrator := pipeline.NewOrchestrator(pipeline.Options{
		Fusion:     fusion,
		Policy:     risk.NewPolicy(cfg.Risk),
		Registry:   registry,
		Engine:     rules.NewEngine(ruleStore),
		Dispatcher: dispatcher,
		Store:      store,
		DataDir:    cfg.Data.Dir,
	})

	queryTimeout, _ := cfg.queryTimeout()
	srv, err := server.New(&server.Config{
		Address:        cfg.Server.Address,
		RateLimitPerIP: cfg.Server.RateLimitPerIP,
		QueryTimeout:   queryTimeout,
		Verbose:        cfg.Verbose,
	}, &server.Dependencies{
		Store:       store,
		Runner:      orchestrator,
		Rules:       ruleStore,
		Registry:    registry,
		Trainer:     trainer,
		DatasetPath: orchestrator.DatasetPath,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	srv.RegisterHealthChecker(health.NewModelChecker(registry.LatestVersionID))

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting threattriage-server %s", config.Version)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.Data.WatchRules {
		g.Go(func() error {
			return ruleStore.Watch(gctx)
		})
	}

	if cfg.Kafka.Enabled {
		consumer, err := ingest.NewKafkaConsumer(cfg.Kafka, orchestrator)
		if err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}

// buildConnectors assembles the reputation sources from configuration.
// Debug mode substitutes a deterministic mock so the pipeline runs
// without external API keys.
func buildConnectors(cfg *Config) ([]enrich.Connector, func(), error) {
	var connectors []enrich.Connector
	closeFn := func() {}

	if cfg.Debug {
		log.Printf("[enrich] debug mode: using mock reputation data")
		connectors = append(connectors, enrich.MockAbuseIPDB{})
	} else {
		if cfg.Sources.AbuseIPDB.APIKey != "" {
			connectors = append(connectors, enrich.NewAbuseIPDBClient(enrich.AbuseIPDBConfig{
				APIKey: cfg.Sources.AbuseIPDB.APIKey,
				MaxAge: cfg.Sources.AbuseIPDB.MaxAge,
			}))
		}
		if cfg.Sources.VirusTotal.APIKey != "" {
			connectors = append(connectors, enrich.NewVirusTotalClient(enrich.VirusTotalConfig{
				APIKey: cfg.Sources.VirusTotal.APIKey,
			}))
		}
	}

	if cfg.Sources.GeoIP.CityDB != "" {
		geo, err := enrich.NewGeoIPConnector(cfg.Sources.GeoIP.CityDB, cfg.Sources.GeoIP.ASNDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open geoip databases: %w", err)
		}
		connectors = append(connectors, geo)
		closeFn = func() { geo.Close() }
	}

	names := make([]string, 0, len(connectors))
	for _, c := range connectors {
		names = append(names, c.Name())
	}
	log.Printf("[enrich] %d reputation sources configured: %v", len(connectors), names)

	return connectors, closeFn, nil
}

// buildDispatcher assembles the notification channels from
// configuration. Destinations referenced by rules but not configured
// here are skipped at dispatch time.
func buildDispatcher(cfg *Config) (*notifier.Dispatcher, error) {
	rl := cfg.Notifiers.RateLimit
	if rl.MaxPerWindow == 0 && rl.Window == 0 {
		rl = notifier.DefaultRateLimitConfig()
	}
	dispatcher := notifier.NewDispatcherWithRateLimit(rl)

	if cfg.Notifiers.Slack.WebhookURL != "" {
		slack, err := notifier.NewSlackNotifier(cfg.Notifiers.Slack)
		if err != nil {
			return nil, fmt.Errorf("configure slack notifier: %w", err)
		}
		dispatcher.Register(slack)
	}

	for _, wc := range cfg.Notifiers.Webhooks {
		wh, err := notifier.NewWebhookNotifier(wc)
		if err != nil {
			return nil, fmt.Errorf("configure webhook notifier %q: %w", wc.Name, err)
		}
		dispatcher.Register(wh)
	}

	return dispatcher, nil
}
