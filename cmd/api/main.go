package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asklepios.org/internal/config"
	"asklepios.org/internal/httpapi"
	"asklepios.org/internal/identity"
	"asklepios.org/internal/migrate"
	"asklepios.org/internal/obs"
	"asklepios.org/internal/store/pg"
	"asklepios.org/migrations"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if cfg.AutoMigrate {
		mgr := migrate.NewManager(store.DB(), migrations.FS, migrations.Dir, migrations.SeedsDir)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := mgr.Up(ctx); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
	}

	resolver, err := identity.NewResolver(store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	gate := identity.NewHashGate(cfg.Password.HashWorkers)
	gate.OnWait(obs.ObserveHashWait)
	authn, err := identity.NewAuthenticator(resolver, gate)
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}
	tokens, err := identity.NewTokenIssuer([]byte(cfg.JWT.Secret),
		identity.WithIssuer(cfg.JWT.Issuer),
		identity.WithValidity(cfg.JWT.Validity),
		identity.WithRememberMeValidity(cfg.JWT.RememberMeValidity),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	accounts, err := identity.NewService(store, gate,
		identity.WithPasswordPolicy(identity.PasswordPolicy{
			MinLength: cfg.Password.MinLength,
			MaxLength: cfg.Password.MaxLength,
		}),
		identity.WithBcryptCost(cfg.Password.BcryptCost),
		identity.WithResetKeyValidity(cfg.Password.ResetKeyValidity),
	)
	if err != nil {
		log.Fatalf("account service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{Pinger: store}, version, authn, tokens, accounts, store)
	api.SetRateLimit(cfg.Rate.AuthPerSecond, cfg.Rate.AuthBurst)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Event("info", "starting", map[string]any{
		"service": "asklepios-gateway",
		"version": version,
		"addr":    cfg.Addr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Event("info", "shutting_down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	obs.Event("info", "stopped", nil)
}
