package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/groupdec/mediator/api"
	"github.com/groupdec/mediator/internal/adapter/llm"
	"github.com/groupdec/mediator/internal/audit"
	"github.com/groupdec/mediator/internal/config"
	"github.com/groupdec/mediator/internal/hub"
	"github.com/groupdec/mediator/internal/service"
	"github.com/groupdec/mediator/internal/store"
	"github.com/groupdec/mediator/internal/transport/rpc"
	"github.com/groupdec/mediator/internal/transport/ws"
	"github.com/groupdec/mediator/policy"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting mediator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("LLM Base URL: %s (model %s)", cfg.LLMBaseURL, cfg.LLMModel)
	log.Printf("Session defaults: %d rounds, %s timeout, %d%% quorum", cfg.MaxRounds, cfg.RoundTimeout, cfg.MinResponsePct)

	// Initialize session store
	sessionStore := store.NewMemoryStore()

	// Initialize LLM client (MEDIATOR_MODE=MOCK swaps in the canned client)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)

	// Initialize audit trail
	trail, err := audit.NewSQLiteTrail(cfg.AuditDB)
	if err != nil {
		log.Fatalf("Failed to initialize audit trail: %v", err)
	}
	defer trail.Close()

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize WebSocket hub (message delivery to participants)
	messageHub := hub.NewHub()

	// Initialize service
	svc := service.New(sessionStore, llmClient, messageHub, trail, policyEngine, cfg)

	// Initialize handlers
	h := api.NewHandler(svc)
	wsServer := ws.NewServer(messageHub)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Mediator API started on port %d", cfg.HTTPPort)

	// Optional JSON-RPC listener for trusted channel adapters
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc)
		if err != nil {
			log.Fatalf("Failed to initialize RPC server: %v", err)
		}
		go func() {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			if err := rpcServer.Start(addr); err != nil {
				log.Fatalf("Failed to start RPC server: %v", err)
			}
		}()
		log.Printf("Mediator RPC started on port %d", cfg.RPCPort)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down mediator...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown RPC server gracefully: %v", err)
		}
	}

	log.Println("Mediator stopped")
}
