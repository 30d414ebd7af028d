package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/vectordocs/api/handlers"
	"github.com/feichai0017/vectordocs/api/routes"
	cfg "github.com/feichai0017/vectordocs/config"
	"github.com/feichai0017/vectordocs/internal/app"
	"github.com/feichai0017/vectordocs/internal/service/answer"
	"github.com/feichai0017/vectordocs/internal/service/document"
	"github.com/feichai0017/vectordocs/internal/service/search"
	"github.com/feichai0017/vectordocs/internal/utils/validator"
	"github.com/feichai0017/vectordocs/pkg/citation"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

func main() {
	serverCfg := cfg.GetServerConfig()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/server.log"}),
		logger.WithService("server"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, log)
	if err != nil {
		log.Fatal("Failed to initialize dependencies", logger.Error(err))
	}
	defer a.Close()

	// init services
	docValidator := validator.NewDocumentValidator(log.Named("validator"), &validator.ValidatorConfig{
		MaxFileSize:  serverCfg.MaxUploadSize,
		AllowedTypes: validator.DefaultValidatorConfig().AllowedTypes,
	})
	docService := document.NewService(a.Store, a.Storage, a.Queue, a.Registry, a.Events, log,
		document.WithValidator(docValidator),
	)
	searchService := search.NewService(a.LLM, a.Store, a.Pipeline.Search, log)

	parser := citation.NewParser(a.Pipeline.Citation.TTL)
	go parser.Run(ctx, time.Minute)
	answerService := answer.NewService(searchService, a.LLM, parser, log)

	// init handlers
	h := handlers.NewHandlers(docService, searchService, answerService, serverCfg.MaxUploadSize, log.Named("api"))
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = serverCfg.MaxUploadSize
	routes.SetupRoutes(r, h, log.Named("http"))

	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", serverCfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		os.Exit(1)
	}
}
