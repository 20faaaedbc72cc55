package httpapi

import (
	"net/http"

	"github.com/Freeeeeet/visitor_gate/internal/service"
)

type validateAccessRequest struct {
	Identifier string                 `json:"identifier"`
	Kind       service.CredentialKind `json:"kind"`
}

// validateAccess отказ в допуске это нормальный ответ 200 с valid=false
func (h *Handler) validateAccess(w http.ResponseWriter, r *http.Request) {
	var in validateAccessRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	decision, err := h.access.ValidateAccess(r.Context(), in.Identifier, in.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}
