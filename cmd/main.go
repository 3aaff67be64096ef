package main

import (
	"context"
	"fmt"
	"log" // standard log for errors before zap is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fathima-sithara/identity-service/internal/bootstrap"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	app, cleanup, err := bootstrap.Init(ctx, configPath)
	cancel()
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	sugar := app.Sugar

	// Start server
	go func() {
		listenAddr := fmt.Sprintf(":%d", app.Config.App.Port)
		sugar.Infof("Server listening on %s", listenAddr)
		if err := app.App.Listen(listenAddr); err != nil {
			sugar.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	sugar.Info("Shutting down server...")

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	cleanup(ctxShut)

	log.Println("Graceful shutdown complete. Goodbye!")
}
