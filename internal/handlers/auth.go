package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shrimpsizemoose/trekker/logger"

	"qlsv/internal/auth"
	"qlsv/internal/metrics"
	"qlsv/internal/models"
	"qlsv/internal/session"
)

type AuthHandler struct {
	auth       *auth.Authenticator
	sessions   session.Store
	cookieName string
	cookieTTL  time.Duration
	validate   *validator.Validate
}

func NewAuthHandler(a *auth.Authenticator, sessions session.Store, cookieName string, cookieTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		auth:       a,
		sessions:   sessions,
		cookieName: cookieName,
		cookieTTL:  cookieTTL,
		validate:   validator.New(),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=student instructor"`
}

type linkRoleRequest struct {
	Role        string `json:"role" validate:"required,oneof=student instructor"`
	ReferenceID int64  `json:"reference_id" validate:"required"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// clientIP identifies the caller for rate limiting: proxy headers first,
// then the connection address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		// Comma-separated hop list; the first element is the client.
		if i := strings.Index(ip, ","); i >= 0 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *AuthHandler) sessionIDFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, id string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(
			r.URL.Path,
			r.Method,
			"done",
		).Observe(time.Since(start).Seconds())
	}()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := h.auth.Login(r.Context(), req.Email, req.Password, clientIP(r), h.sessionIDFromCookie(r))

	switch result.Status {
	case auth.LoginOK:
		metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
		h.setSessionCookie(w, result.SessionID, h.cookieTTL)
		writeJSON(w, http.StatusOK, result.Session)
	case auth.LoginInvalidInput:
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_input").Inc()
		writeError(w, http.StatusBadRequest, result.Reason)
	case auth.LoginRateLimited:
		metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterMinutes*60))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":               "too many login attempts",
			"retry_after_minutes": result.RetryAfterMinutes,
		})
	case auth.LoginInvalidCredentials:
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	default:
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, result.Reason)
	}
}

func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration data")
		return
	}

	status, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password, models.Role(req.Role))
	switch status {
	case auth.RegisterOK:
		metrics.RegistrationsTotal.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusCreated, map[string]string{"message": "registration successful"})
	case auth.RegisterConflict:
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		writeError(w, http.StatusConflict, "email or username already registered")
	default:
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		logger.Error.Printf("Registration failed: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed, please try again")
	}
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if id := h.sessionIDFromCookie(r); id != "" {
		if err := h.auth.Logout(r.Context(), id); err != nil {
			logger.Error.Printf("Logout failed: %v", err)
		}
	}
	h.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "password reset is not implemented")
}

// HandleLinkRole attaches a student or instructor record to an account.
// Role validity is checked here so LinkRole only ever sees the closed set.
func (h *AuthHandler) HandleLinkRole(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req linkRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "role must be student or instructor")
		return
	}

	if err := h.auth.LinkRole(accountID, models.Role(req.Role), req.ReferenceID); err != nil {
		logger.Error.Printf("Failed to link role for account %d: %v", accountID, err)
		writeError(w, http.StatusInternalServerError, "failed to update account role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "account updated"})
}
