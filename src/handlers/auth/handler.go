// Package auth implements account registration, login, logout, and
// password change against the session-cookie model (C13).
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/cryptvault/api/src/apperr"
	"github.com/cryptvault/api/src/config"
	"github.com/cryptvault/api/src/dek"
	"github.com/cryptvault/api/src/middleware"
	users_repo "github.com/cryptvault/api/src/repository/users"
	"github.com/cryptvault/api/src/session"
)

// Handler holds the auth handlers' dependencies.
type Handler struct {
	cfg      *config.Config
	users    *users_repo.UserRepository
	sessions *session.Store
	logger   *logrus.Logger
}

func NewHandler(cfg *config.Config, users *users_repo.UserRepository, sessions *session.Store, logger *logrus.Logger) *Handler {
	return &Handler{cfg: cfg, users: users, sessions: sessions, logger: logger}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Validation("invalid registration payload"))
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.Error(apperr.Internal("hash password", err))
		return
	}

	envelope, err := dek.New(req.Password)
	if err != nil {
		c.Error(apperr.Crypto("generate dek envelope", err))
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.Name, req.Username, string(passwordHash), envelope.Wrapped, envelope.Salt)
	if err != nil {
		c.Error(err)
		return
	}

	dekPlain, err := dek.Unwrap(envelope, req.Password)
	if err != nil {
		c.Error(apperr.Crypto("unwrap freshly created dek", err))
		return
	}

	h.establishSession(c, user.ID, dekPlain)
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Validation("invalid login payload"))
		return
	}

	user, err := h.users.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		c.Error(err)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		c.Error(apperr.Authentication("invalid username or password"))
		return
	}

	dekPlain, err := dek.Unwrap(dek.Envelope{Wrapped: user.WrappedDEK, Salt: user.DEKSalt}, req.Password)
	if err != nil {
		c.Error(apperr.Authentication("invalid username or password"))
		return
	}

	h.establishSession(c, user.ID, dekPlain)
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username})
}

func (h *Handler) Logout(c *gin.Context) {
	raw, err := c.Cookie(session.CookieName)
	if err == nil && raw != "" {
		if sessionID, _, decodeErr := session.DecodeCookie(h.cfg.CookieSigningKey, raw); decodeErr == nil {
			if err := h.sessions.Destroy(c.Request.Context(), sessionID); err != nil {
				h.logger.WithError(err).Warn("logout: failed to destroy session")
			}
		}
	}
	ClearSessionCookies(c, h.cfg.CookieDomain)
	c.Status(http.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Validation("invalid change-password payload"))
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		c.Error(apperr.Authentication("invalid current password"))
		return
	}

	newEnvelope, err := dek.ChangePassword(dek.Envelope{Wrapped: user.WrappedDEK, Salt: user.DEKSalt}, req.OldPassword, req.NewPassword)
	if err != nil {
		c.Error(apperr.Authentication("invalid current password"))
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.Error(apperr.Internal("hash new password", err))
		return
	}

	if err := h.users.UpdateDEKEnvelope(c.Request.Context(), userID, string(newHash), newEnvelope.Wrapped, newEnvelope.Salt); err != nil {
		c.Error(err)
		return
	}

	// The session's subkey-wrapped DEK was established against the old
	// wrapped value's lineage; force re-login rather than rewrap it live.
	raw, err := c.Cookie(session.CookieName)
	if err == nil && raw != "" {
		if sessionID, _, decodeErr := session.DecodeCookie(h.cfg.CookieSigningKey, raw); decodeErr == nil {
			_ = h.sessions.Destroy(c.Request.Context(), sessionID)
		}
	}
	ClearSessionCookies(c, h.cfg.CookieDomain)

	c.Status(http.StatusNoContent)
}

func (h *Handler) establishSession(c *gin.Context, userID string, dekPlain []byte) {
	sessionID, subkey, err := h.sessions.Create(c.Request.Context(), userID, dekPlain, h.cfg.SessionDuration())
	if err != nil {
		c.Error(apperr.Internal("create session", err))
		return
	}
	csrfToken, err := h.sessions.IssueCSRF(c.Request.Context())
	if err != nil {
		c.Error(apperr.Internal("issue csrf token", err))
		return
	}

	cookieValue := session.EncodeCookie(h.cfg.CookieSigningKey, sessionID, subkey)
	SetSessionCookies(c, h.cfg.CookieDomain, h.cfg.SessionDurationDays*24*3600, cookieValue, csrfToken)
}
