// Package modelapi provides HTTP handlers for the model lifecycle:
// listing versions, triggering training, and resetting model state.
package modelapi

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/quiet-owl-labs/threattriage/internal/api"
	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

// Handler serves model version and training endpoints.
type Handler struct {
	registry    *ml.Registry
	trainer     ml.Trainer
	store       storage.Storage
	datasetPath func() string
}

// NewHandler creates a model lifecycle handler. datasetPath resolves
// the training dataset file at request time so the handler does not
// depend on pipeline wiring.
func NewHandler(registry *ml.Registry, trainer ml.Trainer, store storage.Storage, datasetPath func() string) *Handler {
	return &Handler{registry: registry, trainer: trainer, store: store, datasetPath: datasetPath}
}

type versionsResponse struct {
	Active   string           `json:"active"`
	Versions []ml.VersionInfo `json:"versions"`
}

// Versions lists all on-disk model versions, newest first, together
// with the currently active one. An untrained system returns an empty
// list rather than an error.
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.ListVersions()
	if err != nil {
		log.Printf("[api] list model versions: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	if versions == nil {
		versions = []ml.VersionInfo{}
	}

	active, err := h.registry.LatestVersionID()
	if err != nil && !errors.Is(err, ml.ErrNoTrainedModel) {
		log.Printf("[api] resolve active model version: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	api.OK(w, versionsResponse{Active: active, Versions: versions})
}

type trainResponse struct {
	Version string `json:"version"`
}

// Train runs the external trainer against the current dataset and
// activates the new version by invalidating the registry cache. The
// request context is detached so a dropped client does not abort a
// training run already in flight.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	version, err := h.trainer.Train(context.WithoutCancel(r.Context()), h.datasetPath())
	if err != nil {
		log.Printf("[api] training failed: %v", err)
		api.JSONError(w, api.NewConflict("training failed: "+err.Error()))
		return
	}

	h.registry.Invalidate()
	log.Printf("[api] model version %s trained and activated", version)
	api.Created(w, trainResponse{Version: version})
}

// Reset deletes every model version along with all persisted alerts
// and derived statistics, returning the system to its untrained state.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reset(); err != nil {
		log.Printf("[api] model reset: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	if err := h.store.Alerts().DeleteAll(r.Context()); err != nil {
		log.Printf("[api] clear alert data on reset: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	log.Printf("[api] model state reset")
	api.NoContent(w)
}
