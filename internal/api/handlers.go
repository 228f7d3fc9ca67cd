package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"userprofile/internal/auth"
	"userprofile/internal/common"
	"userprofile/internal/filestore"
	"userprofile/internal/logging"
	"userprofile/internal/models"
	"userprofile/internal/password"
	"userprofile/internal/profile"
	"userprofile/internal/reset"
)

// Accounts is the identity store behind registration, login and deletion.
type Accounts interface {
	Register(ctx context.Context, username, email, pw string) (*models.User, error)
	Authenticate(ctx context.Context, username, pw string) (*models.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Handler wires HTTP routes to the account, profile and password reset services.
type Handler struct {
	accounts Accounts
	auth     *auth.Service
	profiles *profile.Service
	reset    *reset.Flow
	logger   logging.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(accounts Accounts, authService *auth.Service, profiles *profile.Service, flow *reset.Flow, logger logging.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		auth:     authService,
		profiles: profiles,
		reset:    flow,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := password.RegisterValidation(v); err != nil {
			return err
		}
	}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMW := h.auth.Middleware()
	csrfMW := h.auth.CSRFMiddleware()

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.POST("/account/forgot-password", h.forgotPassword)
	api.GET("/account/reset-password", h.resetPasswordForm)
	api.POST("/account/reset-password", h.resetPassword)

	userRoutes := api.Group("/users")
	userRoutes.Use(authMW, csrfMW)
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("/me", h.deleteUser)

	profileRoutes := api.Group("/profile")
	profileRoutes.Use(authMW, csrfMW)
	profileRoutes.GET("", h.getProfile)
	profileRoutes.POST("", h.saveProfile)
	profileRoutes.POST("/picture", h.uploadPicture)
	profileRoutes.POST("/documents", h.uploadDocument)
	profileRoutes.GET("/files/:name", h.downloadFile)
	profileRoutes.DELETE("/files/:name", h.deleteFile)

	router.GET(filestore.PublicPrefix+"/:userId/:name", authMW, h.serveUpload)
	return nil
}

// caller returns the authenticated user and session, aborting with 401 if the
// middleware did not run.
func (h *Handler) caller(c *gin.Context) (userID, sessionID string, ok bool) {
	userID, ok = auth.UserIDFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", "", false
	}
	sessionID, _ = auth.SessionIDFromContext(c)
	return userID, sessionID, true
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a bare 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	var gateErr *profile.GateError
	if errors.As(err, &gateErr) {
		c.JSON(http.StatusConflict, gin.H{
			"status":   gateErr.Message,
			"profile":  gateErr.Fields,
			"progress": gateErr.Progress,
		})
		return
	}
	if verr, ok := common.AsValidation(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Messages})
		return
	}
	switch {
	case errors.Is(err, common.ErrNotFound), filestore.IsInvalidUser(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, common.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
	case errors.Is(err, common.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
	default:
		h.logger.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method, "route", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindErrors turns binding failures into the same {errors: [...]} shape the
// services use for validation.
func bindErrors(c *gin.Context, err error, pw string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var msgs []string
	for _, fe := range verrs {
		switch fe.Tag() {
		case password.Tag:
			msgs = append(msgs, password.Validate(pw)...)
		case "email":
			msgs = append(msgs, "Email is not a valid email address.")
		case "required":
			msgs = append(msgs, fieldLabel(fe.Field())+" is required.")
		case "max":
			msgs = append(msgs, fieldLabel(fe.Field())+" is too long.")
		default:
			msgs = append(msgs, fieldLabel(fe.Field())+" is invalid.")
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"errors": msgs})
}

func fieldLabel(name string) string {
	switch name {
	case "ConfirmPassword":
		return "Confirm password"
	case "":
		return "Field"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
