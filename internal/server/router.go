package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userContextKey = "fairway_user"

	errorCodeInvalidRequest     = "invalid_request"
	errorCodeUnauthorized       = "unauthorized"
	errorCodeUnknownCollection  = "unknown_collection"
	errorCodeInvalidCredentials = "invalid_credentials"
	errorCodeInvalidAccount     = "invalid_account"
	errorCodeEmailTaken         = "email_taken"
	errorCodeForbidden          = "forbidden"
	errorCodeNoteImmutable      = "note_immutable"
	errorCodeInternal           = "internal_error"
)

var (
	errMissingDocumentStore = errors.New("document store dependency required")
	errMissingAuthProvider  = errors.New("auth provider dependency required")
	errMissingSessions      = errors.New("session validator dependency required")
)

// DocumentStore is the document service exposed over HTTP.
type DocumentStore interface {
	List(ctx context.Context, collection, ownerID string) ([]documents.Record, error)
	Get(ctx context.Context, collection, ownerID, documentID string) (documents.Record, error)
	Add(ctx context.Context, collection, ownerID string, payload json.RawMessage) (string, error)
	Set(ctx context.Context, collection, ownerID, documentID string, payload json.RawMessage) error
	Update(ctx context.Context, collection, ownerID, documentID string, fields map[string]any) error
	Delete(ctx context.Context, collection, ownerID, documentID string) error
	Subscribe(ctx context.Context, collection, ownerID string, onData func([]documents.Record), onError func(error)) (func(), error)
}

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	RequestToken(r *http.Request) string
	CookieName() string
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Documents      DocumentStore
	AuthProvider   auth.Provider
	Sessions       SessionValidator
	Metrics        *metrics.Recorder
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin router serving auth, documents, live streams and metrics.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Documents == nil {
		return nil, errMissingDocumentStore
	}
	if deps.AuthProvider == nil {
		return nil, errMissingAuthProvider
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		documents: deps.Documents,
		provider:  deps.AuthProvider,
		sessions:  deps.Sessions,
		logger:    logger,
		upgrader:  newUpgrader(deps.AllowedOrigins),
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	router.POST("/auth/sign-up", handler.handleSignUp)
	router.POST("/auth/sign-in", handler.handleSignIn)
	router.POST("/auth/sign-out", handler.handleSignOut)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleCurrentUser)
	protected.GET("/api/:collection", handler.handleList)
	protected.POST("/api/:collection", handler.handleAdd)
	protected.GET("/api/:collection/live", handler.handleLive)
	protected.GET("/api/:collection/:id", handler.handleGet)
	protected.PUT("/api/:collection/:id", handler.handleSet)
	protected.PATCH("/api/:collection/:id", handler.handleUpdate)
	protected.DELETE("/api/:collection/:id", handler.handleDelete)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowed) == 0 || containsWildcard(allowed) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowed
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	documents DocumentStore
	provider  auth.Provider
	sessions  SessionValidator
	logger    *zap.Logger
	upgrader  websocketUpgrader
}

type signUpRequestPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidRequest})
		return
	}
	grant, err := h.provider.SignUp(c.Request.Context(), request.Email, request.Password, request.DisplayName)
	if err != nil {
		h.respondAuthError(c, "sign_up", err)
		return
	}
	h.writeGrant(c, http.StatusCreated, grant)
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidRequest})
		return
	}
	grant, err := h.provider.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondAuthError(c, "sign_in", err)
		return
	}
	h.writeGrant(c, http.StatusOK, grant)
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if token := h.sessions.RequestToken(c.Request); token != "" {
		if err := h.provider.SignOut(c.Request.Context(), token); err != nil {
			h.logger.Warn("sign out failed", zap.Error(err))
		}
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *httpHandler) writeGrant(c *gin.Context, status int, grant auth.Grant) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    grant.Token,
		Path:     "/",
		Expires:  grant.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(status, grant)
}

func (h *httpHandler) respondAuthError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorCodeInvalidCredentials})
	case errors.Is(err, users.ErrInvalidAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidAccount})
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": errorCodeEmailTaken})
	default:
		h.logger.Error("auth request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorCodeInternal})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorCodeUnauthorized})
		return
	}
	c.Set(userContextKey, claims.User())
	c.Next()
}

func currentUser(c *gin.Context) auth.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return auth.User{}
	}
	user, _ := value.(auth.User)
	return user
}
