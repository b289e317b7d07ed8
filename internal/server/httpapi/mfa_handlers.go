package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
)

type mfaCodeRequest struct {
	Code string `json:"code"`
}

type mfaVerifyRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

type mfaSetupResponse struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	setup, err := a.mfa.Setup(r.Context(), caller.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mfaSetupResponse{
		Secret:      setup.Secret,
		OTPAuthURL:  setup.OTPAuthURL,
		QRCode:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(setup.QRCodePNG),
		BackupCodes: setup.BackupCodes,
	})
}

func (a *API) handleMFAEnable(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	var req mfaCodeRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if err := a.mfa.Enable(r.Context(), caller.UserID, req.Code); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true})
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if req.MFAToken == "" || req.Code == "" {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	pair, d, err := a.mfa.Verify(r.Context(), req.MFAToken, req.Code)
	if err != nil {
		if d.Limit > 0 && !d.Allowed {
			writeTooManyRequests(w, r, d)
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	setRateLimitHeaders(w, d)
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) handleMFAResend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}

	d, err := a.mfa.Resend(r.Context(), req.Email)
	if err != nil {
		if d.Limit > 0 && !d.Allowed {
			writeTooManyRequests(w, r, d)
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	setRateLimitHeaders(w, d)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Si el email está registrado y tiene MFA activado, recibirás un nuevo código.",
	})
}
