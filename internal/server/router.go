package server

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/users"
)

const (
	profileContextKey = "taskboard_profile"
	collabSocketPath  = "/collab/ws"
)

var (
	errMissingAuthenticator   = errors.New("request authenticator dependency required")
	errMissingProfileResolver = errors.New("profile resolver dependency required")
	errMissingCommentsService = errors.New("comments service dependency required")
	errMissingHub             = errors.New("collaboration hub dependency required")
)

type RequestAuthenticator interface {
	Authenticate(r *http.Request) (auth.Claims, error)
}

type ProfileResolver interface {
	ResolveProfile(claims auth.Claims) (users.Profile, error)
}

type Dependencies struct {
	Authenticator   RequestAuthenticator
	Profiles        ProfileResolver
	CommentsService *comments.Service
	Hub             *collab.Hub
	Conn            collab.ConnConfig
	MetricsGatherer prometheus.Gatherer
	AllowedOrigins  []string
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileResolver
	}
	if deps.CommentsService == nil {
		return nil, errMissingCommentsService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.MetricsGatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	connConfig := deps.Conn
	if connConfig.Logger == nil {
		connConfig.Logger = logger
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		authenticator:  deps.Authenticator,
		profiles:       deps.Profiles,
		comments:       deps.CommentsService,
		hub:            deps.Hub,
		connConfig:     connConfig,
		allowedOrigins: deps.AllowedOrigins,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/projects/:projectId/comments", handler.handleListComments)
	protected.POST("/projects/:projectId/comments", handler.handleCreateComment)
	protected.PUT("/projects/:projectId/comments/:commentId", handler.handleUpdateComment)
	protected.POST("/projects/:projectId/comments/:commentId/replies", handler.handleAddReply)

	// The websocket upgrade hijacks the connection, which gin's response
	// writer refuses once the 101 status has been flushed through it.
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+collabSocketPath, handler.serveCollabSocket)
	mux.Handle("/", router)

	return mux, nil
}

type httpHandler struct {
	authenticator  RequestAuthenticator
	profiles       ProfileResolver
	comments       *comments.Service
	hub            *collab.Hub
	connConfig     collab.ConnConfig
	allowedOrigins []string
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.hub.Sessions()})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	profile, ok := h.authenticate(c.Request)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(profileContextKey, profile)
	c.Next()
}

// authenticate validates the request token and resolves the caller's profile.
// Expired or missing tokens are routine and logged at info.
func (h *httpHandler) authenticate(r *http.Request) (users.Profile, bool) {
	claims, err := h.authenticator.Authenticate(r)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrMissingToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		return users.Profile{}, false
	}
	profile, err := h.profiles.ResolveProfile(claims)
	if err != nil {
		h.logger.Error("profile resolution failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return users.Profile{}, false
	}
	return profile, true
}

func profileFromContext(c *gin.Context) (users.Profile, bool) {
	value, ok := c.Get(profileContextKey)
	if !ok {
		return users.Profile{}, false
	}
	profile, ok := value.(users.Profile)
	return profile, ok
}

// serveCollabSocket upgrades the request and serves the connection until it
// closes. The verified profile becomes the session identity.
func (h *httpHandler) serveCollabSocket(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.authenticate(r)
	if !ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	options := &websocket.AcceptOptions{OriginPatterns: h.allowedOrigins}
	if len(h.allowedOrigins) == 0 {
		options.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, options)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("user_id", profile.UserID), zap.Error(err))
		return
	}

	session := h.hub.Open(collab.Identity{
		UserID:    profile.UserID,
		UserName:  profile.DisplayName,
		UserColor: profile.Color,
	})
	collab.NewConn(ws, session, h.connConfig).Serve(r.Context())
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  originMatcher(allowedOrigins),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// originMatcher matches the Origin host against host patterns such as
// "localhost:5173" or "*.example.com". No patterns allows every origin.
func originMatcher(patterns []string) func(string) bool {
	return func(origin string) bool {
		if len(patterns) == 0 {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Host == "" {
			return false
		}
		host := strings.ToLower(parsed.Host)
		for _, pattern := range patterns {
			if matched, err := path.Match(strings.ToLower(pattern), host); err == nil && matched {
				return true
			}
		}
		return false
	}
}
