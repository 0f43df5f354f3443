package app

import (
	"fmt"

	ihttp "github.com/studify/video-pipeline/internal/http"
	httpH "github.com/studify/video-pipeline/internal/http/handlers"
	httpMW "github.com/studify/video-pipeline/internal/http/middleware"
	"github.com/studify/video-pipeline/internal/platform/logger"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Step   *httpH.StepHandler
	Job    *httpH.PipelineJobHandler
}

type Middleware struct {
	Signature *httpMW.SignatureVerifier
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(),
		Step:   httpH.NewStepHandler(log, services.Runner),
		Job:    httpH.NewPipelineJobHandler(services.Pipeline),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) (Middleware, error) {
	log.Info("Wiring middleware...")
	verifier, err := httpMW.NewSignatureVerifier(log, cfg.QueueCurrentSigningKey, cfg.QueueNextSigningKey)
	if err != nil {
		return Middleware{}, fmt.Errorf("init signature verifier: %w", err)
	}
	return Middleware{Signature: verifier}, nil
}

func wireServer(log *logger.Logger, handlers Handlers, middleware Middleware) *ihttp.Server {
	return ihttp.NewServer(ihttp.RouterConfig{
		Log:               log,
		ServiceName:       "video-pipeline",
		SignatureVerifier: middleware.Signature,
		StepHandler:       handlers.Step,
		JobHandler:        handlers.Job,
		HealthHandler:     handlers.Health,
	})
}
