package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragbackend/internal/app"
	"ragbackend/internal/server"
)

// multipart framing on top of the file itself
const bodySlack = 64 * 1024

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Log.Sync()

	e := server.New(a.API.Handle, server.Options{
		MaxBodyBytes: a.Config.MaxUploadBytes + bodySlack,
		RateLimitRPS: a.Config.RateLimitRPS,
	}, a.Log)

	if err := server.Run(ctx, e, ":"+a.Config.Port, a.Log); err != nil {
		a.Log.Fatal("server stopped", zap.Error(err))
	}
	a.Log.Info("server exited properly")
}
