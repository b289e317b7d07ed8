package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
)

type oauthLinkRequest struct {
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	AccessToken       string     `json:"access_token"`
	RefreshToken      string     `json:"refresh_token"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

type oauthAccountResponse struct {
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (a *API) handleOAuthLink(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	var req oauthLinkRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	err := a.oauth.Link(r.Context(), caller.UserID, services.LinkOAuthInput{
		Provider:          req.Provider,
		ProviderAccountID: req.ProviderAccountID,
		AccessToken:       req.AccessToken,
		RefreshToken:      req.RefreshToken,
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOAuthList(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	accs, err := a.oauth.List(r.Context(), caller.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	out := make([]oauthAccountResponse, 0, len(accs))
	for _, acc := range accs {
		out = append(out, oauthAccountResponse(acc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (a *API) handleOAuthRevoke(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	if err := a.oauth.Revoke(r.Context(), caller.UserID, r.PathValue("provider")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
