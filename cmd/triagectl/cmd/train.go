package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quiet-owl-labs/threattriage/internal/ml"
)

var (
	trainModelDir string
	trainDataset  string
	trainCommand  string
	trainTimeout  time.Duration
)

// trainCmd runs the external training command and reports the version
// it produced.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a new model version",
	Long: `Invoke the external training command against the regenerated
dataset and activate the version it produces.

The command receives --dataset and --out arguments and must write a
v<timestamp> directory containing model.json, encoders.json, and
metrics.json under the model directory.

Example:
  triagectl train --command "python3 train.py" --dataset data/alert_dataset.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainCommand == "" {
			return fmt.Errorf("--command is required")
		}

		registry := ml.NewRegistry(trainModelDir)
		trainer := ml.NewExecTrainer(strings.Fields(trainCommand), registry, trainTimeout)

		version, err := trainer.Train(context.Background(), trainDataset)
		if err != nil {
			return fmt.Errorf("train: %w", err)
		}

		fmt.Printf("model version %s trained\n", version)
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainModelDir, "model-dir", "data/models", "model version directory")
	trainCmd.Flags().StringVar(&trainDataset, "dataset", "data/alert_dataset.csv", "training dataset path")
	trainCmd.Flags().StringVar(&trainCommand, "command", "", "training command to execute")
	trainCmd.Flags().DurationVar(&trainTimeout, "timeout", 10*time.Minute, "maximum training duration")

	rootCmd.AddCommand(trainCmd)
}
