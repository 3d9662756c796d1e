package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"navsphere/api/internal/app"
	"navsphere/api/internal/auth"
	"navsphere/api/internal/blob"
	"navsphere/api/internal/config"
	"navsphere/api/internal/engine"
	"navsphere/api/internal/github"
	"navsphere/api/internal/gitrepo"
	"navsphere/api/internal/logging"
	"navsphere/api/internal/navigation"
	"navsphere/api/internal/redisblob"
	"navsphere/api/internal/session"
	"navsphere/api/internal/telemetry"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("navigation store: %v", err)
	}
	defer closeStore()

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	eng := engine.New(store, engine.WithStoreTimeout(cfg.StoreTimeout()))
	resolver := navigation.NewResolver(cfg.Coordinates(), log.WithField("component", "icons"))
	service := app.New(cfg, eng, resolver, sessions, credentialVerifier(cfg, store))

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithFields(log.Fields{"addr": cfg.Addr, "store": cfg.Store}).Info("NavSphere API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("api stopped")
		os.Exit(1)
	}
	log.Info("api stopped")
}

// openStore builds the blob store selected by NAVSPHERE_STORE.
func openStore(cfg config.Config) (blob.Store, func(), error) {
	logger := log.WithField("store", cfg.Store)
	switch cfg.Store {
	case config.StoreGitHub:
		store, err := github.New(cfg.GitHub(), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.StoreRedis:
		store, err := redisblob.NewRedisStore(cfg.RedisURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := gitrepo.Open(cfg.ReposDir, cfg.GitHubBranch, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// credentialVerifier picks how login access tokens are checked. The GitHub
// store asks GitHub whether the token may push; the local stores compare it
// against the configured editor secret.
func credentialVerifier(cfg config.Config, store blob.Store) app.CredentialVerifier {
	if verifier, ok := store.(app.CredentialVerifier); ok && cfg.Store == config.StoreGitHub {
		return verifier
	}
	if cfg.EditorSecret == "" {
		log.Warn("NAVSPHERE_EDITOR_SECRET is not set; every session is read-only")
	}
	return auth.NewSharedSecret(cfg.EditorSecret)
}
