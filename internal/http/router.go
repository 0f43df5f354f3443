package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/studify/video-pipeline/internal/http/handlers"
	httpMW "github.com/studify/video-pipeline/internal/http/middleware"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	ServiceName string

	SignatureVerifier *httpMW.SignatureVerifier

	StepHandler   *httpH.StepHandler
	JobHandler    *httpH.PipelineJobHandler
	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "video-pipeline"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Queue webhook deliveries; authenticated by delivery signature,
		// never by user session.
		if cfg.StepHandler != nil {
			steps := api.Group("/pipeline/steps")
			if cfg.SignatureVerifier != nil {
				steps.Use(cfg.SignatureVerifier.RequireSignature())
			}
			steps.POST("/:step", cfg.StepHandler.RunStep)
		}

		if cfg.JobHandler != nil {
			api.POST("/pipeline/jobs", cfg.JobHandler.StartJob)
			api.GET("/pipeline/jobs/:id", cfg.JobHandler.GetJob)
			api.POST("/pipeline/jobs/:id/cancel", cfg.JobHandler.CancelJob)
			api.GET("/pipeline/queues", cfg.JobHandler.ListQueues)
		}
	}

	return r
}
