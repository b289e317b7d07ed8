package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
)

// Client-facing messages. Details stay in the server log.
const (
	msgInternal           = "Error interno del servidor"
	msgVerificationFailed = "Verificación fallida"
	msgInvalidCredentials = "Credenciales inválidas"
	msgTooManyAttempts    = "Demasiados intentos. Por favor, espera unos minutos antes de intentar nuevamente."
	msgInvalidRequest     = "Solicitud inválida"
	msgForbidden          = "Acceso denegado"
	msgNotFound           = "No encontrado"
	msgConflict           = "El recurso ya existe"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := requestIDFrom(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOrReject writes 400 (or 413) and returns false when the body does
// not decode into dst.
func (a *API) decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, msgInvalidRequest)
			return false
		}
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, msgInvalidRequest)
		} else {
			writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		}
		return nil, false
	}
	return body, true
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit == 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
	setRateLimitHeaders(w, d)
	w.Header().Set("Retry-After", strconv.Itoa(max(1, d.RetryAfterSeconds())))
	writeError(w, r, http.StatusTooManyRequests, msgTooManyAttempts)
}

// writeServiceError maps a service error to a status and a generic message.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, common.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, msgTooManyAttempts)
	case errors.Is(err, common.ErrTimeout):
		a.logger.Error(ctx, "store timeout", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, msgInternal)
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
	case errors.Is(err, common.ErrCeremony), errors.Is(err, common.ErrCloneSuspected):
		writeError(w, r, http.StatusBadRequest, msgVerificationFailed)
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		writeError(w, r, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, common.ErrForbidden):
		writeError(w, r, http.StatusForbidden, msgForbidden)
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, r, http.StatusNotFound, msgNotFound)
	case errors.Is(err, common.ErrorAlreadyExists):
		writeError(w, r, http.StatusConflict, msgConflict)
	default:
		a.logger.Error(ctx, "request failed", "path", r.URL.Path, "request_id", requestIDFrom(ctx), "error", err)
		writeError(w, r, http.StatusInternalServerError, msgInternal)
	}
}

// consume charges one attempt to (identifier, purpose). It writes the
// response and returns false when the request must stop.
func (a *API) consume(w http.ResponseWriter, r *http.Request, identifier, purpose string) bool {
	d, err := a.limiter.CheckAndConsume(r.Context(), identifier, purpose)
	if err != nil {
		a.writeServiceError(w, r, err)
		return false
	}
	if !d.Allowed {
		a.metrics.RateLimitDenied(purpose)
		a.logger.Warn(r.Context(), "rate limit exceeded",
			"purpose", purpose, "client_ip", clientIP(r), "retry_after", d.RetryAfterSeconds())
		writeTooManyRequests(w, r, d)
		return false
	}
	setRateLimitHeaders(w, d)
	return true
}
