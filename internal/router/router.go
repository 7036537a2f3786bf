// Package router assembles the HTTP route table.
package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/karripar/va-hybrid-api/internal/dto"
	"github.com/karripar/va-hybrid-api/internal/handler"
	"github.com/karripar/va-hybrid-api/internal/middleware"
	"github.com/karripar/va-hybrid-api/internal/service"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	"github.com/karripar/va-hybrid-api/pkg/config"
	"github.com/karripar/va-hybrid-api/pkg/logger"
	corsmiddleware "github.com/karripar/va-hybrid-api/pkg/middleware/cors"
	reqidmiddleware "github.com/karripar/va-hybrid-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers served by the API.
type Handlers struct {
	Applications *handler.ApplicationHandler
	Documents    *handler.DocumentHandler
	Budgets      *handler.BudgetHandler
	Grants       *handler.GrantHandler
	Reports      *handler.ReportHandler
	Metrics      *handler.MetricsHandler
}

// Options configures the engine.
type Options struct {
	APIPrefix  string
	CORS       config.CORSConfig
	EnableDocs bool
	Verifier   middleware.TokenVerifier
	Metrics    *service.MetricsService
	Catalog    *catalog.Catalog
	Logger     *zap.Logger
}

// RegisterValidators installs the request payload tags on gin's validator.
func RegisterValidators(cat *catalog.Catalog) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return dto.RegisterValidations(v, cat)
}

// New builds the gin engine with every route mounted.
func New(h Handlers, opts Options) (*gin.Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}
	if err := RegisterValidators(opts.Catalog); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.CORS))
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(opts.APIPrefix)
	api.Use(middleware.JWT(opts.Verifier))

	applications := api.Group("/applications")
	applications.POST("", h.Applications.Enroll)
	applications.GET("/:id", h.Applications.Get)
	applications.DELETE("/:id", h.Applications.Delete)
	applications.PATCH("/:id/phases/:phase/status", h.Applications.TransitionPhase)
	applications.PUT("/:id/phases/:phase", h.Applications.UpdatePhase)
	applications.POST("/:id/phases/:phase/stages", h.Applications.CreateStage)
	applications.PATCH("/:id/stages/:stageId/status", h.Applications.TransitionStage)
	applications.POST("/:id/documents", h.Applications.AttachDocument)
	applications.PUT("/:id/documents/:documentId", h.Applications.ReplaceDocumentURL)
	applications.DELETE("/:id/documents/:documentId", h.Applications.DeleteDocument)
	applications.GET("/:id/progress", h.Applications.Progress)
	applications.GET("/:id/events", h.Applications.Events)

	api.GET("/users/:userId/application", middleware.SelfOrAdmin(), h.Applications.GetByUser)

	budgets := api.Group("/budgets/:userId", middleware.SelfOrAdmin())
	budgets.PUT("", h.Budgets.Upsert)
	budgets.GET("", h.Budgets.Get)
	budgets.GET("/history", h.Budgets.History)
	budgets.GET("/report", h.Reports.BudgetReport)

	grants := api.Group("/grants/:userId", middleware.SelfOrAdmin())
	grants.PUT("", h.Grants.Upsert)
	grants.GET("", h.Grants.List)
	grants.GET("/summary", h.Grants.Summary)
	grants.GET("/comparison", h.Grants.Comparison)

	documents := api.Group("/documents")
	documents.POST("/classify", h.Documents.Classify)
	documents.POST("/validate", h.Documents.Validate)
	documents.GET("/validations/:id", h.Documents.GetValidation)

	return r, nil
}
