package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/go-webauthn/webauthn/protocol"
)

type passkeyFinishRequest struct {
	SessionID  string          `json:"session_id"`
	Credential json.RawMessage `json:"credential"`
}

type passkeyChallengeRequest struct {
	UserID string `json:"user_id"`
}

type passkeyCredentialResponse struct {
	ID         protocol.URLEncodedBase64 `json:"id"`
	SignCount  uint32                    `json:"sign_count"`
	CreatedAt  time.Time                 `json:"created_at"`
	LastUsedAt *time.Time                `json:"last_used_at,omitempty"`
}

func (a *API) handlePasskeyRegisterOptions(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	opts, err := a.passkeys.BeginRegistration(r.Context(), caller.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": opts.SessionID, "options": opts.Options})
}

func (a *API) handlePasskeyRegister(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	var req passkeyFinishRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if req.SessionID == "" || len(req.Credential) == 0 {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	res, err := a.passkeys.FinishRegistration(r.Context(), caller.UserID, req.SessionID, req.Credential)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !res.Verified {
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": msgVerificationFailed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":      true,
		"credential_id": protocol.URLEncodedBase64(res.CredentialID),
	})
}

func (a *API) handlePasskeyChallenge(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req passkeyChallengeRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
			return
		}
	}

	opts, err := a.passkeys.BeginLogin(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": opts.SessionID, "options": opts.Options})
}

func (a *API) handlePasskeyVerify(w http.ResponseWriter, r *http.Request) {
	if !a.consume(w, r, rateLimitKey(r, a.opts.TrustedProxies), common.PurposeBiometric) {
		return
	}
	var req passkeyFinishRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if req.SessionID == "" || len(req.Credential) == 0 {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	res, err := a.passkeys.FinishLogin(r.Context(), req.SessionID, req.Credential)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !res.Verified {
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "error": msgVerificationFailed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":      true,
		"user_id":       res.UserID,
		"access_token":  res.Tokens.AccessToken,
		"refresh_token": res.Tokens.RefreshToken,
	})
}

func (a *API) handlePasskeyList(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	creds, err := a.passkeys.ListCredentials(r.Context(), caller.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	out := make([]passkeyCredentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, passkeyCredentialResponse{
			ID:         c.ID,
			SignCount:  c.SignCount,
			CreatedAt:  c.CreatedAt,
			LastUsedAt: c.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

func (a *API) handlePasskeyDelete(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	id, err := base64.RawURLEncoding.DecodeString(r.PathValue("id"))
	if err != nil || len(id) == 0 {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if err := a.passkeys.DeleteCredential(r.Context(), caller.UserID, id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
