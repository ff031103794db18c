package ml

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"
)

// Trainer is the external training capability: it consumes a dataset
// and produces a new model version under the registry root. The
// training algorithm itself is outside this system; after a successful
// run the caller must invalidate the registry cache.
type Trainer interface {
	Train(ctx context.Context, datasetPath string) (string, error)
}

// ExecTrainer invokes a configured external command:
//
//	<command> [args...] --dataset <path> --out <model root>
//
// The command is expected to write a v<timestamp> version directory
// containing model.json, encoders.json and metrics.json.
type ExecTrainer struct {
	Command  []string
	Registry *Registry
	Timeout  time.Duration
}

// NewExecTrainer creates an exec-backed trainer.
func NewExecTrainer(command []string, registry *Registry, timeout time.Duration) *ExecTrainer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ExecTrainer{Command: command, Registry: registry, Timeout: timeout}
}

// Train runs the training command and returns the id of the version it
// produced.
func (t *ExecTrainer) Train(ctx context.Context, datasetPath string) (string, error) {
	if len(t.Command) == 0 {
		return "", fmt.Errorf("no training command configured")
	}

	before, err := t.Registry.LatestVersionID()
	if err != nil && err != ErrNoTrainedModel {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := append(t.Command[1:], "--dataset", datasetPath, "--out", t.Registry.Root())
	cmd := exec.CommandContext(ctx, t.Command[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("training command failed: %w (stderr: %s)", err, stderr.String())
	}
	log.Printf("[ml] training completed in %s", time.Since(start).Round(time.Millisecond))

	after, err := t.Registry.LatestVersionID()
	if err != nil {
		return "", fmt.Errorf("training produced no model version: %w", err)
	}
	if after == before {
		return "", fmt.Errorf("training command exited 0 but produced no new version (latest still %s)", after)
	}
	return after, nil
}

// VersionID formats a model version id from a timestamp. Lexicographic
// order of these ids matches chronological order.
func VersionID(t time.Time) string {
	return t.Format("v20060102-150405")
}
