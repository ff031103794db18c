package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/quiet-owl-labs/threattriage/internal/enrich"
	"github.com/quiet-owl-labs/threattriage/internal/history"
	"github.com/quiet-owl-labs/threattriage/internal/metrics"
	"github.com/quiet-owl-labs/threattriage/internal/mitre"
	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/models"
	"github.com/quiet-owl-labs/threattriage/internal/notifier"
	"github.com/quiet-owl-labs/threattriage/internal/risk"
	"github.com/quiet-owl-labs/threattriage/internal/rules"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

const (
	// highRiskMinScore is the fused-score floor for the derived
	// high-risk-country list.
	highRiskMinScore = 80
	// highRiskTopN bounds the derived country list.
	highRiskTopN = 15
	// notifyTimeout bounds outbound delivery per alert.
	notifyTimeout = 30 * time.Second
)

// Report is the outcome of one pipeline run.
type Report struct {
	BatchID   string          `json:"batch_id"`
	Alerts    []*models.Alert `json:"alerts"`
	RowErrors []RowError      `json:"row_errors,omitempty"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Degraded  int             `json:"degraded"`
}

// Orchestrator runs the triage stages over alert batches. One batch
// runs at a time per call; the registry cache and rule store handle
// their own concurrency.
type Orchestrator struct {
	fusion     *enrich.Fusion
	policy     *risk.Policy
	registry   *ml.Registry
	classifier *ml.Classifier
	engine     *rules.Engine
	dispatcher *notifier.Dispatcher
	store      storage.Storage

	dataDir string
	now     func() time.Time
}

// Options collects the orchestrator collaborators.
type Options struct {
	Fusion     *enrich.Fusion
	Policy     *risk.Policy
	Registry   *ml.Registry
	Engine     *rules.Engine
	Dispatcher *notifier.Dispatcher
	Store      storage.Storage
	// DataDir is where derived files (the training dataset) land.
	DataDir string
	// Now overrides the clock for deterministic replay in tests.
	Now func() time.Time
}

// NewOrchestrator wires the pipeline from its components.
func NewOrchestrator(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		fusion:     opts.Fusion,
		policy:     opts.Policy,
		registry:   opts.Registry,
		classifier: ml.NewClassifier(opts.Registry),
		engine:     opts.Engine,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		dataDir:    opts.DataDir,
		now:        now,
	}
}

// DatasetPath returns where the regenerated training dataset is written.
func (o *Orchestrator) DatasetPath() string {
	return filepath.Join(o.dataDir, "alert_dataset.csv")
}

// Run processes a batch of raw rows end to end. A missing trained
// model aborts the run with ml.ErrNoTrainedModel before any side
// effects; persistence failures abort after processing. Row-level
// failures are collected in the report, never fatal.
func (o *Orchestrator) Run(ctx context.Context, rows []Row, source string) (*Report, error) {
	start := o.now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	// Fail fast with the user-actionable signal when no model exists.
	if _, err := o.registry.GetOrLoad(); err != nil {
		if errors.Is(err, ml.ErrNoTrainedModel) {
			return nil, err
		}
		return nil, fmt.Errorf("load model: %w", err)
	}

	highRisk, err := o.store.Stats().HighRiskCountries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load high-risk countries: %w", err)
	}

	previous, err := o.store.Alerts().ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alert history: %w", err)
	}
	index := history.Build(previous)

	report := &Report{BatchID: uuid.New().String()}
	for _, row := range rows {
		ind, err := row.Validate()
		if err != nil {
			log.Printf("[pipeline] row %d rejected: %v", row.Line, err)
			metrics.RowErrors.Inc()
			report.RowErrors = append(report.RowErrors, RowError{Line: row.Line, Reason: err.Error()})
			continue
		}

		alert := o.processAlert(ctx, row, ind, highRisk, index)
		report.Alerts = append(report.Alerts, alert)
		if alert.Degraded() {
			report.Degraded++
			metrics.AlertsProcessed.WithLabelValues("degraded").Inc()
		} else {
			metrics.AlertsProcessed.WithLabelValues("ok").Inc()
		}
	}
	report.Processed = len(report.Alerts)
	report.Failed = len(report.RowErrors)

	batch := &storage.BatchRecord{
		ID:          report.BatchID,
		Source:      source,
		TotalRows:   len(rows),
		Processed:   report.Processed,
		Failed:      report.Failed,
		ProcessedAt: o.now(),
	}
	if err := o.store.Alerts().InsertBatch(ctx, batch, report.Alerts); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	o.refreshDerived(ctx, report.BatchID)

	// Dataset regeneration is fire-and-forget: a failure costs the next
	// training run freshness, not this batch.
	go o.regenerateDataset(context.WithoutCancel(ctx))

	log.Printf("[pipeline] batch %s done: %d processed, %d rejected, %d degraded",
		report.BatchID, report.Processed, report.Failed, report.Degraded)
	return report, nil
}

// processAlert runs one alert through every stage, recording per-stage
// outcomes. No stage failure aborts the alert.
func (o *Orchestrator) processAlert(ctx context.Context, row Row, ind models.Indicator, highRisk []string, index *history.Index) *models.Alert {
	alert := &models.Alert{
		ID:            uuid.New().String(),
		Timestamp:     row.Timestamp,
		Indicator:     ind,
		EventCategory: row.EventType,
	}

	// Enrichment and fusion. Individual source failures are already
	// recorded inside the record; the stage degrades, never fails.
	record := o.fusion.Enrich(ctx, ind)
	alert.Enrichment = record
	alert.Summary = record.Summarize()
	alert.FusedRiskScore = record.FusedRiskScore
	degradedSources := 0
	for name, res := range record.Sources {
		if res.Failed() {
			degradedSources++
			log.Printf("[pipeline] source %s degraded for %s: %s", name, ind.Key(), res.Error)
		}
	}
	if degradedSources > 0 {
		alert.RecordStage("enrich", models.StageDegraded,
			fmt.Errorf("%d source(s) degraded", degradedSources))
	} else {
		alert.RecordStage("enrich", models.StageOK, nil)
	}

	// Heuristic risk score and action.
	alert.LegacyRiskScore = o.policy.Score(record.AbuseIPDB(), alert.EventCategory, highRisk, o.now())
	alert.SuggestedAction = o.policy.SuggestAction(alert.LegacyRiskScore)
	alert.RecordStage("risk", models.StageOK, nil)

	// Technique mapping never fails; unknown categories get the
	// sentinel entry.
	alert.Technique = mitre.Map(alert.EventCategory)
	alert.RecordStage("mitre", models.StageOK, nil)

	// History annotation from the per-run index.
	index.Annotate(alert)
	alert.RecordStage("history", models.StageOK, nil)

	// Classification degrades to the sentinel label on any failure.
	label, confidence, err := o.classifier.Classify(alert)
	alert.PriorityLabel = label
	alert.Confidence = confidence
	if err != nil {
		alert.RecordStage("classify", models.StageDegraded, err)
	} else {
		alert.RecordStage("classify", models.StageOK, nil)
	}

	o.notify(ctx, alert)

	return alert
}

// notify evaluates the rule engine and dispatches to matched
// destinations. Delivery failures are logged, never propagated.
func (o *Orchestrator) notify(ctx context.Context, alert *models.Alert) {
	destinations := o.engine.MatchingDestinations(alert)
	if len(destinations) == 0 {
		alert.RecordStage("notify", models.StageOK, nil)
		return
	}

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := o.dispatcher.Dispatch(nctx, alert, destinations); err != nil {
		log.Printf("[pipeline] notification for %s: %v", alert.Indicator.Key(), err)
		alert.RecordStage("notify", models.StageDegraded, err)
		return
	}
	alert.RecordStage("notify", models.StageOK, nil)
}

// refreshDerived replaces the high-risk-country list wholesale from the
// batch that just persisted. A batch with no qualifying alerts clears
// the list. Failures are logged and the stale list keeps serving.
func (o *Orchestrator) refreshDerived(ctx context.Context, batchID string) {
	counts, err := o.store.Stats().HighRiskCountryCounts(ctx, batchID, highRiskMinScore, highRiskTopN)
	if err != nil {
		log.Printf("[pipeline] compute high-risk countries: %v", err)
		return
	}
	if err := o.store.Stats().ReplaceHighRiskCountries(ctx, counts); err != nil {
		log.Printf("[pipeline] persist high-risk countries: %v", err)
		return
	}
	log.Printf("[pipeline] high-risk country list refreshed: %d entries", len(counts))
}

// regenerateDataset rewrites the training dataset CSV from the full
// persisted history.
func (o *Orchestrator) regenerateDataset(ctx context.Context) {
	all, err := o.store.Alerts().ListAll(ctx)
	if err != nil {
		log.Printf("[pipeline] dataset regeneration: list alerts: %v", err)
		return
	}
	if err := ml.WriteDataset(all, o.DatasetPath()); err != nil {
		log.Printf("[pipeline] dataset regeneration: %v", err)
		return
	}
	log.Printf("[pipeline] training dataset regenerated: %d rows", len(all))
}
