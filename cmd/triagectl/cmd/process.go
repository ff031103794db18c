package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiet-owl-labs/threattriage/internal/enrich"
	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/notifier"
	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
	"github.com/quiet-owl-labs/threattriage/internal/risk"
	"github.com/quiet-owl-labs/threattriage/internal/rules"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

var (
	processDBPath   string
	processModelDir string
	processRules    string
	processDataDir  string
	processDebug    bool
	processGeoCity  string
	processGeoASN   string
)

// processCmd runs a CSV batch through the pipeline without the server.
var processCmd = &cobra.Command{
	Use:   "process <file.csv>",
	Short: "Run an alert batch through the local pipeline",
	Long: `Run a CSV alert batch through enrichment, scoring,
classification, and notification without a running server.

The command operates directly on the local data directory: it uses the
same database, model versions, and notification rules the server would.
A trained model must exist; run "triagectl train" first on a fresh
installation.

Reputation sources are configured through environment variables
(ABUSEIPDB_API_KEY, VIRUSTOTAL_API_KEY) or replaced with deterministic
mock data via --debug.

Examples:
  # Process a batch with mock reputation data
  triagectl process alerts.csv --debug

  # Process with live sources and a GeoIP database
  ABUSEIPDB_API_KEY=... triagectl process alerts.csv --geoip-city GeoLite2-City.mmdb`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open batch file: %w", err)
		}
		defer file.Close()

		rows, rowErrs, err := pipeline.ParseCSV(file)
		if err != nil {
			return fmt.Errorf("parse batch file: %w", err)
		}
		PrintVerbose("parsed %d rows (%d malformed)", len(rows), len(rowErrs))

		store := storage.NewSQLiteStorage(processDBPath)
		if err := store.Open(); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		orchestrator := pipeline.NewOrchestrator(pipeline.Options{
			Fusion:     enrich.NewFusion(localConnectors(), enrich.DefaultFusionOptions()),
			Policy:     risk.NewPolicy(risk.DefaultThresholds()),
			Registry:   ml.NewRegistry(processModelDir),
			Engine:     rules.NewEngine(rules.NewStore(processRules)),
			Dispatcher: notifier.NewDispatcher(),
			Store:      store,
			DataDir:    processDataDir,
		})

		report, err := orchestrator.Run(context.Background(), rows, "cli")
		if err != nil {
			return fmt.Errorf("process batch: %w", err)
		}
		report.RowErrors = append(rowErrs, report.RowErrors...)
		report.Failed = len(report.RowErrors)

		return printReport(report)
	},
}

// localConnectors builds reputation sources from the environment, or
// mocks in debug mode.
func localConnectors() []enrich.Connector {
	if processDebug {
		PrintVerbose("debug mode: using mock reputation data")
		return []enrich.Connector{enrich.MockAbuseIPDB{}}
	}

	var connectors []enrich.Connector
	if key := os.Getenv("ABUSEIPDB_API_KEY"); key != "" {
		connectors = append(connectors, enrich.NewAbuseIPDBClient(enrich.AbuseIPDBConfig{APIKey: key}))
	}
	if key := os.Getenv("VIRUSTOTAL_API_KEY"); key != "" {
		connectors = append(connectors, enrich.NewVirusTotalClient(enrich.VirusTotalConfig{APIKey: key}))
	}
	if processGeoCity != "" {
		geo, err := enrich.NewGeoIPConnector(processGeoCity, processGeoASN)
		if err != nil {
			PrintError(fmt.Sprintf("geoip disabled: %v", err), false)
		} else {
			connectors = append(connectors, geo)
		}
	}
	return connectors
}

func printReport(report *pipeline.Report) error {
	if GetOutput() == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("\n%-40s  %-18s  %5s  %-20s  %-8s  %-20s  %5s\n",
		"IOC", "EVENT", "RISK", "ACTION", "MITRE", "PRIORITY", "CONF")
	fmt.Println(strings.Repeat("-", 130))

	for _, a := range report.Alerts {
		fmt.Printf("%-40s  %-18s  %5d  %-20s  %-8s  %-20s  %5.2f\n",
			a.Indicator.Value,
			a.EventCategory,
			a.FusedRiskScore,
			a.SuggestedAction,
			a.Technique.ID,
			a.PriorityLabel,
			a.Confidence,
		)
	}

	fmt.Printf("\nBatch %s: %d processed, %d failed\n", report.BatchID, report.Processed, report.Failed)
	for _, re := range report.RowErrors {
		fmt.Printf("  line %d: %s\n", re.Line, re.Reason)
	}
	return nil
}

func init() {
	processCmd.Flags().StringVar(&processDBPath, "db", "data/triage.db", "SQLite database path")
	processCmd.Flags().StringVar(&processModelDir, "model-dir", "data/models", "model version directory")
	processCmd.Flags().StringVar(&processRules, "rules", "data/notification_rules.json", "notification rules file")
	processCmd.Flags().StringVar(&processDataDir, "data-dir", "data", "derived data directory")
	processCmd.Flags().BoolVar(&processDebug, "debug", false, "use mock reputation sources")
	processCmd.Flags().StringVar(&processGeoCity, "geoip-city", "", "GeoIP city database path")
	processCmd.Flags().StringVar(&processGeoASN, "geoip-asn", "", "GeoIP ASN database path")

	rootCmd.AddCommand(processCmd)
}
