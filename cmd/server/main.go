package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/linkchat/internal/server"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, server.ErrUsage) {
			fmt.Fprintf(os.Stderr, "Usage: %s <port>\n", os.Args[0])
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	port, err := server.ParsePort(args)
	if err != nil {
		return err
	}

	_ = godotenv.Load()
	config, err := server.LoadConfig(port)
	if err != nil {
		return err
	}
	logger := server.NewLogger(os.Stderr, config.LogLevel, config.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := server.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.ListenAddr(), err)
	}

	hub := server.NewHub(config, logger)
	color.Cyan.Println("***** WELCOME TO LINK'S CHATROOM *****")

	var admin *http.Server
	if config.AdminAddr != "" {
		origins := server.NewOriginPolicy(config.AllowedOrigins, logger)
		admin = server.CreateServer(config.AdminAddr, server.SetupRoutes(hub, origins, logger))
		go func() {
			if err := server.StartServer(admin, logger); err != nil {
				logger.Error("Admin server stopped", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.NewServer(hub, logger).Serve(ctx, listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
		logger.Error("Chat listener stopped", "error", serveErr)
	}

	if admin != nil {
		_ = server.ShutdownServer(admin, config.ShutdownTimeout, logger)
	}
	if err := hub.Shutdown(config.ShutdownTimeout); err != nil {
		logger.Warn("Hub shutdown incomplete", "error", err)
	}
	logger.Info("Server stopped")

	return serveErr
}
