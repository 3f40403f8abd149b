package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/server"
	"roomchat/internal/storage"
)

type config struct {
	Server  server.EnvConfig
	Storage storage.Config
	Auth    struct {
		Secret string        `env:"JWT_SECRET,required"`
		TTL    time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	}
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"5s"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sugar.Fatalf("Cannot load .env file: %v", err)
	}

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	store, err := storage.New(context.Background(), sugar.Named("storage"), cfg.Storage, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		sugar.Fatalf("Cannot migrate database: %v", err)
	}

	srv := server.NewServer(sugar, store, auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TTL),
		server.WithEnvConfig(cfg.Server),
		server.TimeoutHandler(cfg.HandlerTimeout, "Request timed out"),
		server.RegisterAfterShutdown(store.Close),
	)

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
