package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quiet-owl-labs/threattriage/internal/metrics"
)

// ErrNoTrainedModel signals that no model version exists yet. This is
// an expected, user-actionable condition ("train before classifying"),
// not an internal fault; callers must test for it with errors.Is.
var ErrNoTrainedModel = errors.New("no trained model versions found")

const (
	modelFile    = "model.json"
	encodersFile = "encoders.json"
	metricsFile  = "metrics.json"
)

// Bundle is a loaded model version: the artifact plus its encoders.
type Bundle struct {
	VersionID string
	Model     *Model
	Encoders  *EncoderSet
	Metrics   *TrainingMetrics
}

// VersionInfo describes one on-disk model version.
type VersionInfo struct {
	ID      string           `json:"version"`
	Metrics *TrainingMetrics `json:"metrics,omitempty"`
}

// Registry manages versioned model artifacts under a storage root.
// Version directories are named v<timestamp> so lexicographic order is
// chronological order; the highest-sorting directory is the active
// version. Loaded bundles are cached in a single slot guarded by a
// mutex: readers share the cached bundle, and Invalidate swaps it out
// atomically so no reader observes a half-replaced bundle.
type Registry struct {
	root string

	mu     sync.RWMutex
	cached *Bundle
}

// NewRegistry creates a registry over the given model storage root.
func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

// Root returns the model storage root.
func (r *Registry) Root() string {
	return r.root
}

// scanVersions returns version directory names sorted ascending.
func (r *Registry) scanVersions() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan model root: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "v") {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// LatestVersionID returns the highest-sorting version id, or
// ErrNoTrainedModel when the registry is empty.
func (r *Registry) LatestVersionID() (string, error) {
	versions, err := r.scanVersions()
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", ErrNoTrainedModel
	}
	return versions[len(versions)-1], nil
}

// ListVersions returns all versions with their training metrics,
// newest first.
func (r *Registry) ListVersions() ([]VersionInfo, error) {
	versions, err := r.scanVersions()
	if err != nil {
		return nil, err
	}

	infos := make([]VersionInfo, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		info := VersionInfo{ID: versions[i]}
		if m, err := loadMetrics(filepath.Join(r.root, versions[i], metricsFile)); err == nil {
			info.Metrics = m
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GetOrLoad returns the cached bundle, loading the latest version on a
// cache miss. The cache deliberately ignores versions created after it
// was filled: new training runs become visible only through Invalidate.
func (r *Registry) GetOrLoad() (*Bundle, error) {
	r.mu.RLock()
	if r.cached != nil {
		b := r.cached
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another loader may have filled the slot while we upgraded the lock.
	if r.cached != nil {
		return r.cached, nil
	}

	versionID, err := r.LatestVersionID()
	if err != nil {
		return nil, err
	}

	bundle, err := r.loadBundle(versionID)
	if err != nil {
		return nil, err
	}
	r.cached = bundle
	return bundle, nil
}

// loadBundle reads a version's artifact and encoders from disk.
func (r *Registry) loadBundle(versionID string) (*Bundle, error) {
	dir := filepath.Join(r.root, versionID)

	model, err := LoadModel(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}

	encoders, err := loadEncoders(filepath.Join(dir, encodersFile))
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", versionID, err)
	}

	bundle := &Bundle{VersionID: versionID, Model: model, Encoders: encoders}
	if m, err := loadMetrics(filepath.Join(dir, metricsFile)); err == nil {
		bundle.Metrics = m
	}
	return bundle, nil
}

// Invalidate drops the cached bundle. Must be called after a training
// run completes so the next classification loads the new version.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
	metrics.ModelCacheInvalidations.Inc()
}

// Reset removes every model version and invalidates the cache.
func (r *Registry) Reset() error {
	versions, err := r.scanVersions()
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := os.RemoveAll(filepath.Join(r.root, v)); err != nil {
			return fmt.Errorf("remove version %s: %w", v, err)
		}
	}
	r.Invalidate()
	return nil
}

func loadEncoders(path string) (*EncoderSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoders: %w", err)
	}
	var set EncoderSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse encoders: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

func loadMetrics(path string) (*TrainingMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m TrainingMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
