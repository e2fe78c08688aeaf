package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyhinverse/YiBu-sub004/internal/auth"
	"github.com/cyhinverse/YiBu-sub004/internal/config"
	"github.com/cyhinverse/YiBu-sub004/internal/oidc"
	"github.com/cyhinverse/YiBu-sub004/internal/sessions"
	"github.com/cyhinverse/YiBu-sub004/internal/tokens"
	"github.com/cyhinverse/YiBu-sub004/pkg/logger"
	"github.com/cyhinverse/YiBu-sub004/pkg/metrics"
	"github.com/cyhinverse/YiBu-sub004/pkg/middleware"
)

const refreshCookieName = "refreshToken"

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Username string `json:"username"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UpdateEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

type ConnectSocialRequest struct {
	Provider string `json:"provider" binding:"required"`
	IDToken  string `json:"idToken"`
}

type DeleteAccountRequest struct {
	Password string `json:"password" binding:"required"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg *config.Config
	svc *auth.Service
}

func NewAuthHandler(cfg *config.Config, svc *auth.Service) *AuthHandler {
	return &AuthHandler{cfg: cfg, svc: svc}
}

// Register routes under /auth. Protected routes run behind the authn middleware.
func (h *AuthHandler) Register(rg *gin.RouterGroup, authn gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/register", h.RegisterAccount)
	a.POST("/login", h.Login)
	a.POST("/refresh-token", authn, h.Refresh)
	a.POST("/logout", authn, h.Logout)
	a.PUT("/update-email", authn, h.UpdateEmail)
	a.PUT("/update-password", authn, h.UpdatePassword)
	a.POST("/connect-social", authn, h.ConnectSocial)
	a.POST("/verify-account", authn, h.VerifyAccount)
	a.DELETE("/delete-account", authn, h.DeleteAccount)
}

// respond envelope: code 1 success, 0 client error, -1 server error
func respond(c *gin.Context, status int, message string, data interface{}) {
	body := gin.H{"code": 1, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func respondErr(c *gin.Context, err error) {
	var de *auth.Error
	if errors.As(err, &de) {
		c.JSON(de.Status, gin.H{"code": 0, "message": de.Message})
		return
	}
	logger.Errorf("internal error on %s: %v", c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"code": -1, "message": "internal server error"})
}

func bindErr(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": 0, "message": err.Error()})
}

// RegisterAccount creates an account; it does not log the caller in.
func (h *AuthHandler) RegisterAccount(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	a, err := h.svc.Register(c.Request.Context(), req.Name, req.Email, req.Password, req.Username)
	if err != nil {
		respondErr(c, err)
		return
	}
	metrics.Registrations.Inc()
	respond(c, http.StatusCreated, "account created", gin.H{
		"name": a.Name, "email": a.Email, "username": a.Username,
	})
}

// Login returns the public account document and an access token; the rotated
// refresh token travels only in an httpOnly cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	a, access, refresh, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		respondErr(c, err)
		return
	}
	metrics.Logins.WithLabelValues("success").Inc()
	h.setRefreshCookie(c, refresh)
	respond(c, http.StatusOK, "logged in", gin.H{"user": a, "accessToken": access})
}

// Refresh rotates the caller's token pair and returns the new access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := middleware.AccountID(c)
	access, refresh, err := h.svc.Refresh(c.Request.Context(), accountID)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		respondErr(c, err)
		return
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	h.setRefreshCookie(c, refresh)
	respond(c, http.StatusOK, "token refreshed", gin.H{"accessToken": access})
}

// Logout revokes all refresh tokens for the account and blacklists the
// presented access token for its remaining lifetime.
func (h *AuthHandler) Logout(c *gin.Context) {
	accountID := middleware.AccountID(c)
	if raw, ok := c.Get("accessToken"); ok {
		if at, ok := raw.(string); ok && at != "" {
			if claims, err := tokens.ParseAccessToken(h.cfg, at); err == nil && claims.ExpiresAt != nil {
				if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
					if err := sessions.BlacklistAccessToken(c.Request.Context(), at, ttl); err != nil {
						logger.Warnf("failed to blacklist access token for %s: %v", accountID, err)
					}
				}
			}
		}
	}
	if err := h.svc.Logout(c.Request.Context(), accountID); err != nil {
		respondErr(c, err)
		return
	}
	h.clearRefreshCookie(c)
	respond(c, http.StatusOK, "logged out", nil)
}

func (h *AuthHandler) UpdateEmail(c *gin.Context) {
	var req UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if err := h.svc.UpdateEmail(c.Request.Context(), middleware.AccountID(c), req.Email); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "email updated", nil)
}

func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if err := h.svc.UpdatePassword(c.Request.Context(), middleware.AccountID(c), req.CurrentPassword, req.NewPassword); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "password updated", nil)
}

// ConnectSocial links a social provider. When the caller supplies an id_token
// and an OIDC issuer is configured for the provider, the token is verified
// before the link is stored.
func (h *AuthHandler) ConnectSocial(c *gin.Context) {
	var req ConnectSocialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if req.IDToken != "" {
		if err := h.verifyProviderToken(c, req.Provider, req.IDToken); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 0, "message": "provider token verification failed"})
			return
		}
	}
	a, err := h.svc.ConnectSocial(c.Request.Context(), middleware.AccountID(c), req.Provider)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "provider connected", gin.H{"providers": a.Providers})
}

func (h *AuthHandler) verifyProviderToken(c *gin.Context, provider, idToken string) error {
	issuer := h.cfg.Social.Issuers[provider]
	if issuer == "" {
		// no issuer configured: accept only under explicit test opt-in
		if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
			_, err := oidc.NewInsecureVerifier().Verify(c.Request.Context(), idToken)
			return err
		}
		return nil
	}
	ver, err := oidc.NewVerifier(c.Request.Context(), issuer, h.cfg.Social.ClientIDs[provider])
	if err != nil {
		return err
	}
	_, err = ver.Verify(c.Request.Context(), idToken)
	return err
}

// VerifyAccount records a verification request; the mail itself is sent by an
// external worker.
func (h *AuthHandler) VerifyAccount(c *gin.Context) {
	a, err := h.svc.RequestVerification(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "verification requested", gin.H{"sentTo": a.Email})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	var req DeleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErr(c, err)
		return
	}
	if err := h.svc.DeleteAccount(c.Request.Context(), middleware.AccountID(c), req.Password); err != nil {
		respondErr(c, err)
		return
	}
	h.clearRefreshCookie(c)
	respond(c, http.StatusOK, "account deleted", nil)
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	secure := h.cfg.Server.Environment != "development"
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(h.cfg.JWT.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteNoneMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	secure := h.cfg.Server.Environment != "development"
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteNoneMode,
	})
}
