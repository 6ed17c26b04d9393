// Package server exposes the HTTP surface: webhook intake, proof uploads,
// GOM review and decisions, and the operator dead-letter view.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gomflow/payproof/internal/certs"
	"github.com/gomflow/payproof/internal/common"
	"github.com/gomflow/payproof/internal/config"
	"github.com/gomflow/payproof/internal/gateway"
	"github.com/gomflow/payproof/internal/queue"
	"github.com/gomflow/payproof/internal/service"
	"github.com/gomflow/payproof/internal/verify"
)

// Server wires the HTTP handlers to the core services.
type Server struct {
	store      service.Storage
	adapter    *gateway.Adapter
	dispatcher *queue.Dispatcher
	machine    *verify.Machine
	cfg        config.ServerConfig
	httpServer *http.Server
}

// New creates the HTTP server.
func New(store service.Storage, adapter *gateway.Adapter, dispatcher *queue.Dispatcher, machine *verify.Machine, cfg config.ServerConfig) *Server {
	s := &Server{
		store:      store,
		adapter:    adapter,
		dispatcher: dispatcher,
		machine:    machine,
		cfg:        cfg,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// listenAndServe picks HTTPS with a locally generated certificate when a
// cert directory is configured, plain HTTP otherwise.
func (s *Server) listenAndServe() error {
	if s.cfg.TLSCertDir == "" {
		return s.httpServer.ListenAndServe()
	}

	cert, err := certs.NewFileManager(s.cfg.TLSCertDir).GetOrCreateCertificate()
	if err != nil {
		return fmt.Errorf("failed to prepare TLS certificate: %w", err)
	}
	s.httpServer.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return s.httpServer.ListenAndServeTLS("", "")
}

// router builds the gin engine and registers every route.
func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.handleHealthz)

	r.POST("/webhooks/paymongo", s.webhookHandler(gateway.ProviderPayMongo))
	r.POST("/webhooks/billplz", s.webhookHandler(gateway.ProviderBillplz))

	r.POST("/submissions", s.handleCreateSubmission)
	r.POST("/submissions/:id/proof", s.handleSubmissionProof)
	r.POST("/proofs", s.handleProof)

	gom := r.Group("/", s.gomAuth())
	gom.POST("/submissions/:id/decision", s.handleDecision)
	gom.POST("/submissions/:id/cancel", s.handleCancel)
	gom.GET("/gom/review", s.handleReviewQueue)

	r.GET("/ops/deadletter", s.handleDeadLetterList)
	r.POST("/ops/deadletter/:id/replay", s.handleDeadLetterReplay)

	return r
}

// Run serves until the context is canceled, then drains connections within
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Addr, "tls", s.cfg.TLSCertDir != "")
		if err := s.listenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// requestLogger logs each request the way the rest of the service logs:
// structured, one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// gomAuth resolves the bearer token to a GOM id and aborts unauthenticated
// requests. Tokens are configured per GOM; there is no shared secret.
func (s *Server) gomAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		gomID, ok := s.cfg.GomTokens[header[len(prefix):]]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		c.Set("gom_id", gomID)
		c.Next()
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, common.ErrDuplicateEvent):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
		message = "internal error"
	}
	c.JSON(status, errorResponse{Error: message})
}
