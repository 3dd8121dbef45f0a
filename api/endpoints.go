package api

import (
	"errors"
	"net/http"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/id"
)

type createEndpointRequest struct {
	TenantID   string            `json:"tenant_id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"`
	Headers    map[string]string `json:"headers,omitempty"`
	RateLimit  int               `json:"rate_limit,omitempty"`
}

type updateEndpointRequest struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"`
	Headers    map[string]string `json:"headers,omitempty"`
	RateLimit  int               `json:"rate_limit,omitempty"`
}

// createEndpointResponse carries the generated secret exactly once; the
// endpoint struct itself never serializes it.
type createEndpointResponse struct {
	*endpoint.Endpoint
	Secret string `json:"secret"`
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req createEndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := endpoint.Input{
		TenantID:   req.TenantID,
		Name:       req.Name,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Headers:    req.Headers,
		RateLimit:  req.RateLimit,
	}

	ep, err := h.endpointSvc.Register(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createEndpointResponse{Endpoint: ep, Secret: ep.Secret})
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	tenantID := queryParam(r, "tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	opts := endpoint.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	eps, err := h.endpointSvc.List(r.Context(), tenantID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, eps)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	ep, getErr := h.endpointSvc.Get(r.Context(), epID)
	if getErr != nil {
		if errors.Is(getErr, herald.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	var req updateEndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := endpoint.Input{
		Name:       req.Name,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Headers:    req.Headers,
		RateLimit:  req.RateLimit,
	}

	ep, updateErr := h.endpointSvc.Update(r.Context(), epID, input)
	if updateErr != nil {
		if errors.Is(updateErr, herald.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusBadRequest, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if deleteErr := h.endpointSvc.Delete(r.Context(), epID); deleteErr != nil {
		if errors.Is(deleteErr, herald.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *Handler) disableEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if setErr := h.endpointSvc.SetEnabled(r.Context(), epID, enabled); setErr != nil {
		if errors.Is(setErr, herald.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, setErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	secret, rotateErr := h.endpointSvc.RotateSecret(r.Context(), epID)
	if rotateErr != nil {
		if errors.Is(rotateErr, herald.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) testEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	result, testErr := h.engine.TestEndpoint(r.Context(), epID)
	if testErr != nil {
		if errors.Is(testErr, herald.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, testErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := delivery.AttemptStatus(s)
		opts.Status = &status
	}

	attempts, listErr := h.store.ListAttempts(r.Context(), epID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, attempts)
}
