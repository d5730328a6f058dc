// Package server baut den HTTP-Router aus den Handlern zusammen.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/api/handlers"
	"facewatch-go/internal/api/middleware"
	"facewatch-go/internal/integrations/opencv/debugview"
	"facewatch-go/internal/server/sse"
	"facewatch-go/internal/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Deps sind die Abhängigkeiten des Routers. Debug und Pool dürfen nil sein.
type Deps struct {
	Gallery    handlers.FaceGallery
	Enroller   handlers.Enroller
	Session    handlers.FrameSession
	Processor  handlers.StillProcessor
	Events     handlers.EventStore
	Hub        *sse.Hub
	Debug      *debugview.Store
	Pool       utils.PoolStats
	Translator *middleware.Translator
}

// NewRouter erstellt den Gin-Router mit allen Routen
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Accept-Language")
	router.Use(cors.New(corsCfg))

	store := cookie.NewStore([]byte(cfg.I18n.SessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 86400 * 30, HttpOnly: true})
	router.Use(sessions.Sessions("facewatch", store))
	router.Use(middleware.I18n(deps.Translator))

	api := router.Group("/api")
	handlers.NewAPIHandler(cfg, deps.Gallery, deps.Enroller, deps.Session, deps.Processor).RegisterRoutes(api)
	handlers.NewEventHandler(deps.Events).RegisterRoutes(api)
	handlers.NewSystemHandler(deps.Pool, deps.Session).RegisterRoutes(api)
	if deps.Debug != nil {
		deps.Debug.RegisterRoutes(api)
	}

	if deps.Hub != nil {
		router.GET("/events", deps.Hub.Handler)
	}

	return router
}

// requestLogger protokolliert jede Anfrage über logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
			"client":   c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("HTTP request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("HTTP request rejected")
		default:
			entry.Debug("HTTP request")
		}
	}
}

// Serve startet den HTTP-Server und fährt ihn herunter, sobald ctx endet
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("Shutting down HTTP server...")
	return srv.Shutdown(shutdownCtx)
}
