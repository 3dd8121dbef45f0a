package api

import (
	"errors"
	"net/http"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/id"
)

func (h *Handler) replayEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	if replayErr := h.replaySvc.ReplayEvent(r.Context(), evtID); replayErr != nil {
		if errors.Is(replayErr, herald.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusConflict, replayErr.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": evtID.String()})
}

func (h *Handler) replayFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.replaySvc.ReplayFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"replayed": n})
}
