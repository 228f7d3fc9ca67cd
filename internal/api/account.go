package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"userprofile/internal/auth"
	"userprofile/internal/reset"
)

const (
	msgResetRequested = "If an account exists for that email, a password reset link has been sent."
	msgResetDone      = "Your password has been reset."
	msgResetMissing   = "A token and email must be supplied for password reset."
)

type registerRequest struct {
	Username string `json:"username" binding:"required,max=256"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"password_policy"`
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrors(c, err, req.Password)
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	user, err := h.accounts.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	authToken, err := h.auth.IssueToken(ctx, user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		h.writeError(c, err)
		return
	}
	// a fresh session starts with an empty upload count
	if err := h.profiles.ResetGate(ctx, auth.SessionID(authToken)); err != nil {
		h.logger.Warn(ctx, "reset upload gate failed", "user_id", user.ID, "error", err)
	}
	h.auth.SetSessionCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	userID, sessionID, ok := h.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(ctx, authToken); err != nil {
			h.logger.Warn(ctx, "revoke token failed", "user_id", userID, "error", err)
		}
	}
	if err := h.profiles.ResetGate(ctx, sessionID); err != nil {
		h.logger.Warn(ctx, "reset upload gate failed", "user_id", userID, "error", err)
	}
	h.auth.ClearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, sessionID, ok := h.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.auth.RevokeUserTokens(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.accounts.DeleteUser(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}
	// the account row is gone, so leftover files only get logged
	if err := h.profiles.DeleteAllFiles(ctx, userID); err != nil {
		h.logger.Error(ctx, "remove user files failed", "user_id", userID, "error", err)
	}
	if err := h.profiles.ResetGate(ctx, sessionID); err != nil {
		h.logger.Warn(ctx, "reset upload gate failed", "user_id", userID, "error", err)
	}
	h.auth.ClearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrors(c, err, "")
		return
	}
	ctx := c.Request.Context()
	if err := h.reset.RequestReset(ctx, req.Email); err != nil {
		var delivery *reset.DeliveryError
		if errors.As(err, &delivery) {
			h.logger.Error(ctx, "password reset email not delivered", "error", err)
		} else {
			h.logger.Error(ctx, "password reset request failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": msgResetRequested})
}

func (h *Handler) resetPasswordForm(c *gin.Context) {
	token := c.Query("token")
	email := c.Query("email")
	if token == "" || email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgResetMissing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "email": email})
}

type resetPasswordRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Token           string `json:"token" binding:"required"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrors(c, err, req.Password)
		return
	}
	err := h.reset.Redeem(c.Request.Context(), reset.RedeemRequest{
		Email:           req.Email,
		Token:           req.Token,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": msgResetDone})
}
