package http

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// Server runs the router with signal-driven graceful shutdown. Queue
// deliveries can hold a connection for minutes while a provider call
// runs, so in-flight requests get a drain window before the listener
// is torn down and the queue redelivers anything cut off.
type Server struct {
	Engine    *gin.Engine
	DrainWait time.Duration
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{
		Engine:    NewRouter(cfg),
		DrainWait: 30 * time.Second,
	}
}

func (s *Server) Run(address string) error {
	srv := &http.Server{
		Addr:    address,
		Handler: s.Engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.DrainWait)
	defer cancel()
	return srv.Shutdown(drainCtx)
}
