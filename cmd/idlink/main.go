package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/idlink/internal/audit"
	"github.com/dropDatabas3/idlink/internal/cache"
	"github.com/dropDatabas3/idlink/internal/config"
	"github.com/dropDatabas3/idlink/internal/http/handlers"
	"github.com/dropDatabas3/idlink/internal/http/router"
	"github.com/dropDatabas3/idlink/internal/identity"
	"github.com/dropDatabas3/idlink/internal/metrics"
	"github.com/dropDatabas3/idlink/internal/observability/logger"
	"github.com/dropDatabas3/idlink/internal/oidc"
	"github.com/dropDatabas3/idlink/internal/state"
	"github.com/dropDatabas3/idlink/internal/store/pg"
	migrations "github.com/dropDatabas3/idlink/migrations/postgres"
)

const providerTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:   "idlink",
		Short: "Servicio de login externo y vinculación de cuentas locales",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env es opcional: en prod todo viene del entorno real.
			if envFile != "" {
				_ = godotenv.Load(envFile)
			} else {
				_ = godotenv.Load()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path al YAML de configuración")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path a un .env (opcional)")

	root.AddCommand(serveCmd(&configPath), migrateCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "idlink",
	})
	return cfg, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Arranca el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
		MaxConns:        int32(cfg.Storage.Postgres.MaxOpenConns),
		MinConns:        int32(cfg.Storage.Postgres.MaxIdleConns),
		ConnMaxLifetime: cfg.PgConnMaxLifetime(),
	})
	if err != nil {
		return fmt.Errorf("pg: %w", err)
	}
	defer store.Close()

	accounts := pg.NewAccountsPG(store.Pool())
	audits := pg.NewAuditPG(store.Pool())

	// Cache para estado transitorio de los flujos
	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheClient.Close()

	// Provider OIDC
	disco := oidc.NewDiscoveryCache(cfg.OIDC.DiscoveryURL, providerTimeout)
	flow := oidc.NewFlow(oidc.Config{
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURI:  cfg.OIDC.RedirectURI,
		Scopes:       cfg.OIDC.Scopes,
	}, disco, providerTimeout)
	verifier := oidc.NewVerifier(disco, cfg.OIDC.ClientID)

	// Reconciliación
	reconciler := identity.NewReconciler(identity.Deps{
		Flow:                       flow,
		Verifier:                   verifier,
		Resolver:                   identity.NewResolver(accounts),
		Audit:                      audit.NewRecorder(audits),
		UsernameMatchKeepsPassword: cfg.Auth.UsernameMatchKeepsPassword,
	})

	if err := metrics.RegisterAuth(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics register failed", logger.Err(err))
	}

	handler := router.New(router.Deps{
		OIDC: &handlers.OIDCDeps{
			Flow:       flow,
			Reconciler: reconciler,
			States:     state.NewStore(cacheClient),
			Accounts:   accounts,
		},
		Ping: store.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", logger.Addr(cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de schema pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.DSN == "" {
				return fmt.Errorf("config: storage.dsn is required")
			}

			ctx := cmd.Context()
			store, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{})
			if err != nil {
				return fmt.Errorf("pg: %w", err)
			}
			defer store.Close()

			m := pg.NewMigrator(migrations.FS, migrations.Dir)
			res, err := m.Run(ctx, store.Pool())
			if err != nil {
				return err
			}
			logger.L().Info("migrations done",
				logger.Count(len(res.Applied)),
				logger.DurationMs(res.Duration.Milliseconds()),
			)
			return nil
		},
	}
}
