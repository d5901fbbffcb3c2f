// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/zip-merge/internal/auth"
	"github.com/yourusername/zip-merge/internal/config"
	"github.com/yourusername/zip-merge/internal/jobs"
	"github.com/yourusername/zip-merge/internal/logging"
	"github.com/yourusername/zip-merge/internal/pdf"
	"github.com/yourusername/zip-merge/internal/storage"
	"github.com/yourusername/zip-merge/internal/web"
)

const (
	serviceName     = "zip-merge"
	serviceVersion  = "0.1.0"
	janitorInterval = time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	store, err := storage.NewLocal(cfg.WorkDir)
	if err != nil {
		return err
	}
	expiry := time.Duration(cfg.JobExpireMinutes) * time.Minute
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	go store.RunJanitor(ctx, janitorInterval, expiry, logger.WithField("component", "janitor"))

	pdfService, err := pdf.NewService(cfg, store, logger.WithField("component", "pdf"))
	if err != nil {
		return err
	}

	var manager *jobs.Manager
	if cfg.QueueRedisURL != "" {
		manager, err = setupJobs(cfg, pdfService, logger)
		if err != nil {
			return err
		}
		manager.StartWorkers()
		defer func() {
			if err := manager.Shutdown(context.Background()); err != nil {
				logger.WithError(err).Warn("failed to shut down job manager")
			}
		}()
	}

	router, err := newRouter(cfg, logger, pdfService, manager)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": srv.Addr, "mode": cfg.GinMode, "auth": cfg.AuthEnabled(), "queue": manager != nil}).Info("starting server")
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, logger *logrus.Logger, pdfService *pdf.Service, manager *jobs.Manager) (*gin.Engine, error) {
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger.WithField("component", "http")))
	router.MaxMultipartMemory = 32 << 20

	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	// セッションストアの設定（release モードでは署名鍵が必須）
	secret := cfg.SessionSecret
	if secret == "" {
		logger.Warn("SESSION_SECRET is empty; using an ephemeral key")
		secret = ephemeralSecret()
	}
	sessionStore := cookie.NewStore([]byte(secret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.CORSAllowedOrigins)
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		auth.CSRFHeader,
	}
	corsConfig.ExposeHeaders = []string{auth.CSRFHeader, "X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, logger, pdfService, manager)
	return router, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// setupRoutes は画面・API・ジョブのルーティングを行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, logger *logrus.Logger, pdfService *pdf.Service, manager *jobs.Manager) {
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg, logger.WithField("component", "auth"))

	// 画面は常に CSRF を検証し、ログインはアクセス制限が有効な場合のみ要求する
	pages := router.Group("")
	pages.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
	web.NewHandler(cfg, pdfService, authManager, logger.WithField("component", "web")).Register(router, pages)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin())
		if authManager.Enabled() {
			protected.Use(authManager.VerifyCSRF())
		}
		{
			opts := pdf.HandlerOptions{}
			if manager != nil {
				opts = pdf.HandlerOptions{
					Scheduler:             manager,
					AsyncThresholdBytes:   cfg.AsyncThresholdBytes,
					AsyncThresholdEntries: cfg.AsyncThresholdEntries,
				}
				protected.GET("/jobs/:id", jobStatusHandler(manager))
				protected.GET("/jobs/:id/download", jobDownloadHandler(pdfService))
			}
			protected.POST("/archive/merge", pdf.MergeHandler(pdfService, opts))
			protected.POST("/archive/inspect", pdf.InspectHandler(pdfService))
		}
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:8080"}
	}
	return origins
}

func ephemeralSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return serviceName
	}
	return hex.EncodeToString(buf)
}
