package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/confops/confops/pkg/apiserver/handlers"
	"github.com/confops/confops/pkg/apiserver/middleware"
	"github.com/confops/confops/pkg/config"
	"github.com/confops/confops/pkg/engine"
	"github.com/confops/confops/pkg/store/postgres"
	redisclient "github.com/confops/confops/pkg/store/redis"
)

type Server struct {
	router *gin.Engine
	db     *postgres.Store
	redis  *redisclient.Client
	engine *engine.Engine
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(db *postgres.Store, redis *redisclient.Client, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		db:     db,
		redis:  redis,
		cfg:    cfg,
		logger: logger,
	}
	if db != nil {
		s.engine = engine.New(db.DB(), logger)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.cfg.Auth))

		workflowHandler := handlers.NewWorkflowHandler(s.db, s.redis, s.engine, s.logger)
		api.POST("/approval-workflows", workflowHandler.Create)
		api.GET("/approval-workflows", workflowHandler.List)
		api.GET("/approval-workflows/:id", workflowHandler.Get)
		api.PUT("/approval-workflows/:id", workflowHandler.Update)
		api.PUT("/approval-workflows/:id/status", workflowHandler.OverrideStatus)
		api.DELETE("/approval-workflows/:id", workflowHandler.Delete)

		reviewerHandler := handlers.NewReviewerHandler(s.db, s.redis, s.engine, s.logger)
		api.GET("/workflow-reviewers", reviewerHandler.List)
		api.POST("/workflow-reviewers", reviewerHandler.Create)
		api.PUT("/workflow-reviewers/:id/status", reviewerHandler.Decide)

		commentHandler := handlers.NewCommentHandler(s.db, s.logger)
		api.GET("/workflow-comments", commentHandler.List)
		api.POST("/workflow-comments", commentHandler.Create)

		historyHandler := handlers.NewHistoryHandler(s.db, s.logger)
		api.GET("/workflow-history/:workflowId", historyHandler.ListByWorkflow)

		stakeholderHandler := handlers.NewStakeholderHandler(s.db, s.logger)
		api.GET("/workflow-stakeholders", stakeholderHandler.List)
		api.PUT("/workflow-stakeholders/:id/notified", stakeholderHandler.MarkNotified)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
