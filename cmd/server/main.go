package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/go-helpdesk-rag/internal/bootstrap"
	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/handler"
	"github.com/arturoeanton/go-helpdesk-rag/internal/mcp"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/pkg/config"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting "+cfg.AppName,
		"port", cfg.Port,
		"database", cfg.DSN(),
		"embed_provider", cfg.EmbedProvider,
		"llm_provider", cfg.LLMProvider,
		"vector_backend", cfg.VectorBackend,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Components ───────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	go func() {
		if err := app.IndexIfEmpty(ctx); err != nil {
			slog.Error("initial indexing failed", "error", err)
		}
	}()

	// ── Fiber App ────────────────────────────────────────────────────────
	server := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
	})

	server.Use(recover.New())
	server.Use(fiberlogger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	server.Use(middleware.AuditMiddleware(app.Store))

	v1 := server.Group("/api/v1")

	// ── Public Routes ────────────────────────────────────────────────────
	handler.NewHealthHandler(cfg.AppName, app.Index, app.Assigner.Status).Register(v1)
	handler.NewAuthHandler(app.Auth).Register(v1)

	// ── Protected Routes ─────────────────────────────────────────────────
	api := v1.Group("", middleware.JWTMiddleware(app.Auth.JWTConfig()))

	tracker := handler.NewJobTracker()
	handler.NewQueryHandler(app.Pipeline, app.Store).Register(api)
	handler.NewUserHandler(app.Store).Register(api)
	handler.NewJobsHandler(tracker).Register(api)

	// ── Admin Routes ─────────────────────────────────────────────────────
	admin := api.Group("", middleware.RequireRole(domain.RoleAdmin))
	handler.NewAdminHandler(app.Indexer, app.Clusters, tracker).Register(admin)
	handler.NewAuditHandler(app.Store).Register(admin)

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer, err := mcp.NewServer(mcp.Deps{
			Pipeline:   app.Pipeline,
			Classifier: app.Assigner,
			Searcher:   app.Index,
			Audit:      app.Store,
		}, cfg.MCPPort)
		if err != nil {
			slog.Error("MCP server disabled", "error", err)
		} else {
			go func() {
				if err := mcpServer.Start(ctx); err != nil {
					slog.Error("MCP server failed", "error", err)
				}
			}()
		}
	}

	go func() {
		<-ctx.Done()
		if err := app.Clusters.Save(); err != nil {
			slog.Warn("cluster model not saved", "error", err)
		}
		_ = server.ShutdownWithTimeout(10 * time.Second)
	}()

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
