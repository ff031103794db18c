// Package rulescfg provides HTTP handlers for managing the
// notification rule document.
package rulescfg

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quiet-owl-labs/threattriage/internal/api"
	"github.com/quiet-owl-labs/threattriage/internal/rules"
)

// Handler serves notification rule CRUD endpoints.
type Handler struct {
	store *rules.Store
}

// NewHandler creates a rules handler over the shared store.
func NewHandler(store *rules.Store) *Handler {
	return &Handler{store: store}
}

// List returns the full rule document keyed by destination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	api.OK(w, h.store.Document())
}

// ListDestination returns the ordered rule list for one destination.
func (h *Handler) ListDestination(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")
	api.OK(w, map[string]any{
		"destination": dest,
		"rules":       h.store.Rules(dest),
	})
}

// Add appends a rule to a destination's list.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")

	rule, apiErr := decodeRule(r)
	if apiErr != nil {
		api.JSONError(w, apiErr)
		return
	}

	if err := h.store.AddRule(dest, rule); err != nil {
		api.JSONError(w, api.NewValidationError(err.Error()))
		return
	}
	api.Created(w, map[string]any{
		"destination": dest,
		"rules":       h.store.Rules(dest),
	})
}

// Edit replaces the rule at an index.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")
	index, apiErr := ruleIndex(r)
	if apiErr != nil {
		api.JSONError(w, apiErr)
		return
	}

	rule, apiErr := decodeRule(r)
	if apiErr != nil {
		api.JSONError(w, apiErr)
		return
	}

	if err := h.store.EditRule(dest, index, rule); err != nil {
		api.JSONError(w, storeError(err))
		return
	}
	api.OK(w, map[string]any{
		"destination": dest,
		"rules":       h.store.Rules(dest),
	})
}

// Delete removes the rule at an index.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")
	index, apiErr := ruleIndex(r)
	if apiErr != nil {
		api.JSONError(w, apiErr)
		return
	}

	if err := h.store.DeleteRule(dest, index); err != nil {
		api.JSONError(w, storeError(err))
		return
	}
	api.NoContent(w)
}

// Toggle flips the enabled flag of the rule at an index.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")
	index, apiErr := ruleIndex(r)
	if apiErr != nil {
		api.JSONError(w, apiErr)
		return
	}

	if err := h.store.ToggleRule(dest, index); err != nil {
		api.JSONError(w, storeError(err))
		return
	}
	api.OK(w, map[string]any{
		"destination": dest,
		"rules":       h.store.Rules(dest),
	})
}

func decodeRule(r *http.Request) (*rules.Rule, *api.Error) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		return nil, api.NewBadRequest("invalid rule JSON: " + err.Error())
	}
	if err := rule.Validate(); err != nil {
		return nil, api.NewValidationError(err.Error())
	}
	return &rule, nil
}

func ruleIndex(r *http.Request) (int, *api.Error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, api.NewBadRequest("rule index must be a non-negative integer")
	}
	return index, nil
}

// storeError maps store failures to API errors: out-of-range indexes
// read as not found, everything else as validation.
func storeError(err error) *api.Error {
	if errors.Is(err, rules.ErrIndexOutOfRange) {
		return api.NewNotFound(err.Error())
	}
	return api.NewValidationError(err.Error())
}
