package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurnoornatt/code-chat/internal/app"
	"github.com/gurnoornatt/code-chat/internal/auth"
	"github.com/gurnoornatt/code-chat/internal/config"
	"github.com/gurnoornatt/code-chat/internal/logger"
)

func main() {
	adminID := flag.String("issue-admin-token", "", "print a signed admin token for the given id and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *adminID != "" {
		tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)
		if err != nil {
			log.Fatal("token service", "error", err)
		}
		token, err := tokens.IssueDefault(*adminID, auth.RoleAdmin)
		if err != nil {
			log.Fatal("issue admin token", "error", err)
		}
		fmt.Println(token)
		return
	}

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	defer application.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- application.Server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
		}
		return
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("server stopped")
}
