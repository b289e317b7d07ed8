package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
)

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	NationalID string `json:"national_id"`
	BirthDate  string `json:"birth_date"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	*tokenResponse
	MFARequired bool   `json:"mfa_required,omitempty"`
	MFAToken    string `json:"mfa_token,omitempty"`
}

type profileResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	NationalID string    `json:"national_id,omitempty"`
	BirthDate  string    `json:"birth_date,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	MFAEnabled bool      `json:"mfa_enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

func toTokenResponse(p *services.TokenPair) *tokenResponse {
	return &tokenResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.consume(w, r, rateLimitKey(r, a.opts.TrustedProxies), common.PurposeRegistration) {
		return
	}
	var req registerRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}

	u, err := a.users.Register(r.Context(), services.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		NationalID: req.NationalID,
		BirthDate:  req.BirthDate,
		Phone:      req.Phone,
		Address:    req.Address,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "email": u.Email})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	email := common.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	if !a.consume(w, r, email, common.PurposeLogin) {
		return
	}

	res, err := a.users.Login(r.Context(), email, req.Password)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	// Only failed attempts count toward the login budget.
	if err := a.limiter.Reset(r.Context(), email, common.PurposeLogin); err != nil {
		a.logger.Warn(r.Context(), "login limit reset failed", "error", err)
	}
	if res.MFARequired {
		writeJSON(w, http.StatusOK, loginResponse{MFARequired: true, MFAToken: res.MFAToken})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{tokenResponse: toTokenResponse(res.Tokens)})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	pair, err := a.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	var req changePasswordRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if err := a.users.ChangePassword(r.Context(), caller.UserID, req.OldPassword, req.NewPassword); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}

	d, err := a.resets.Forgot(r.Context(), req.Email)
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
		"message": "Si el email está registrado, recibirás un enlace para restablecer tu contraseña.",
	})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	if err := a.resets.Reset(r.Context(), req.Token, req.NewPassword); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, caller auth.Authenticated) {
	p, err := a.users.Profile(r.Context(), caller.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		ID:         p.ID,
		Email:      p.Email,
		Role:       string(p.Role),
		Status:     string(p.Status),
		NationalID: p.NationalID,
		BirthDate:  p.BirthDate,
		Phone:      p.Phone,
		Address:    p.Address,
		MFAEnabled: p.MFAEnabled,
		CreatedAt:  p.CreatedAt,
	})
}
