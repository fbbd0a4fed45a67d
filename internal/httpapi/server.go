package httpapi

import (
	"net/http"
	"time"

	"github.com/frevagpt/orchestrator/internal/config"
	"github.com/frevagpt/orchestrator/internal/distributed"
	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/orchestrator"
	"github.com/frevagpt/orchestrator/internal/registry"
	"github.com/frevagpt/orchestrator/internal/storage"
	"github.com/frevagpt/orchestrator/internal/toolmanager"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Server wires the Conversation Registry (C4), Streaming Orchestrator (C5),
// and Storage Facade (C7) behind the gin router spec.md §6 describes. This is
// the module's sole C8 HTTP Boundary Adapter: one gin.Engine, grounded on the
// teacher's cmd/server/main.go router assembly (gin.New + rs/cors middleware
// + route groups), generalized from the teacher's proxy/auth surface to this
// module's streaming/control endpoints.
type Server struct {
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Storage      storage.Store
	Config       *config.Config
	Log          *logger.Logger

	toolServers []toolmanager.ServerConfig
	relay       *distributed.CancelRelay
}

// New builds a Server bound to the given components. toolServers is the
// configured set of tool servers (spec.md §6 FREVAGPT_AVAILABLE_MCP_SERVERS)
// every new conversation's Tool Manager connects to. relay is nil unless
// FREVAGPT_NATS_URL is configured, in which case /stop also asks other
// instances to stop the thread when it isn't owned locally.
func New(reg *registry.Registry, orch *orchestrator.Orchestrator, store storage.Store, cfg *config.Config, log *logger.Logger, toolServers []toolmanager.ServerConfig, relay *distributed.CancelRelay) *Server {
	return &Server{
		Registry:     reg,
		Orchestrator: orch,
		Storage:      store,
		Config:       cfg,
		Log:          log,
		toolServers:  toolServers,
		relay:        relay,
	}
}

// Router builds the gin.Engine serving spec.md §6's endpoints.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   s.Config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	r.Use(func(c *gin.Context) {
		corsMiddleware.HandlerFunc(c.Writer, c.Request)
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_conversations": s.Registry.Count()})
	})

	api := r.Group("/api/chatbot")
	api.Use(ResolvePrincipal(s.Config.DevMode))
	{
		api.GET("/streamresponse", s.handleStreamResponse)
		api.GET("/stop", s.handleStop)
		api.GET("/getthread", s.handleGetThread)
		api.GET("/getuserthreads", s.handleGetUserThreads)
		api.GET("/deletethread", s.handleDeleteThread)
		api.GET("/setthreadtopic", s.handleSetThreadTopic)
		api.GET("/searchthreads", s.handleSearchThreads)
		api.GET("/editthread", s.handleEditThread)
		api.GET("/userfeedback", s.handleUserFeedback)
	}

	return r
}

// requestLogger is a minimal access-log middleware: method, path, status,
// latency at Info level, nothing per-body.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
