package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sanaka-srujana/tars-chat/internal/app"
	"github.com/sanaka-srujana/tars-chat/internal/config"
	clog "github.com/sanaka-srujana/tars-chat/internal/log"
	"github.com/sanaka-srujana/tars-chat/internal/server"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	defer c.Close()

	if cfg.TypingSweepInterval > 0 {
		go c.Services.Typing.RunSweeper(ctx, cfg.TypingSweepInterval)
		log.Info().Dur("interval", cfg.TypingSweepInterval).Msg("typing sweeper started")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, c.Services, c.Hub, c.Checks),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
