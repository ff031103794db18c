package ml

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/quiet-owl-labs/threattriage/internal/models"
)

// DatasetHeader is the column layout of the training dataset consumed
// by the external trainer.
var DatasetHeader = []string{
	"event_type",
	"abuse_score",
	"country",
	"usage_type",
	"total_reports",
	"legacy_risk_score",
	"suggested_action",
}

// WriteDataset regenerates the training dataset CSV from persisted
// alerts. The file is written atomically (temp file + rename) so a
// concurrent training run never reads a half-written dataset.
func WriteDataset(alerts []*models.Alert, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*.csv")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(DatasetHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset header: %w", err)
	}

	for _, a := range alerts {
		row := []string{
			a.EventCategory,
			strconv.Itoa(a.Summary.AbuseScore),
			a.Summary.Country,
			a.Summary.UsageType,
			strconv.Itoa(a.Summary.TotalReports),
			strconv.Itoa(a.LegacyRiskScore),
			string(a.SuggestedAction),
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("write dataset row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}
