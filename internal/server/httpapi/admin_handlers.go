package httpapi

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
)

type resetRateLimitRequest struct {
	Identifier string `json:"identifier"`
	Purpose    string `json:"purpose"`
}

// handleAdminResetRateLimit unblocks an identifier for one purpose.
func (a *API) handleAdminResetRateLimit(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	var req resetRateLimitRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if _, ok := a.limiter.Policy(req.Purpose); !ok {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	if err := a.limiter.Reset(r.Context(), req.Identifier, req.Purpose); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.logger.Info(r.Context(), "rate limit reset", "admin_id", caller.UserID, "purpose", req.Purpose)
	w.WriteHeader(http.StatusNoContent)
}
