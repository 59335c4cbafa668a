package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-gateway/internal/config"
	"github.com/brandon/mail-gateway/internal/email"
	"github.com/brandon/mail-gateway/internal/notify"
	"github.com/brandon/mail-gateway/pkg/types"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests
const shutdownTimeout = 10 * time.Second

// MailGateway is the mail surface behind the HTTP routes. *email.Gateway
// satisfies it.
type MailGateway interface {
	TestConnection(ctx context.Context, cred email.Credential) (uint32, error)
	Fetch(ctx context.Context, cred email.Credential, folder string, w email.FetchWindow) ([]types.MessageSummary, error)
	FetchSent(ctx context.Context, cred email.Credential, limit int) ([]types.MessageSummary, error)
	FetchTrash(ctx context.Context, cred email.Credential, limit int) ([]types.MessageSummary, error)
	Folders(ctx context.Context, cred email.Credential) (map[string]*types.FolderNode, error)
	Send(ctx context.Context, cred email.Credential, msg *email.OutgoingMessage) (*types.SendResult, error)
}

// MailWatcher registers mailboxes for new-mail detection
type MailWatcher interface {
	Watch(ctx context.Context, cred email.Credential) (string, error)
	Unwatch(ctx context.Context, cred email.Credential) (bool, error)
	Authorized(mailbox, token string) bool
}

// SendLog lists journaled sends
type SendLog interface {
	RecentSends(ctx context.Context, mailbox string, limit int) ([]types.SendRecord, error)
}

// Server is the HTTP/JSON front of the gateway
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	gateway MailGateway
	watcher MailWatcher
	hub     *notify.Hub
	sends   SendLog
	router  chi.Router

	// heartbeat is the idle interval between SSE keepalive comments
	heartbeat time.Duration
}

// NewServer creates the HTTP server and registers its routes
func NewServer(cfg *config.Config, gateway MailGateway, watcher MailWatcher, hub *notify.Hub, sends SendLog, logger *logrus.Logger) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		gateway:   gateway,
		watcher:   watcher,
		hub:       hub,
		sends:     sends,
		heartbeat: 25 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	s.router = r

	s.registerRoutes()
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on the configured address until ctx is done, then shuts
// down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.HTTPAddr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Streams end when the hub closes; nothing else holds a request open
	if s.hub != nil {
		s.hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// requestLogger writes one log entry per request
func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.WithFields(logrus.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"request_id":  middleware.GetReqID(r.Context()),
				}).Info("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

var _ MailGateway = (*email.Gateway)(nil)

