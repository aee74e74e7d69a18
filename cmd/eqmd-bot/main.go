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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carlosapgomes/eqmd-sub012/internal/config"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/conversation"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/dmroom"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/search"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/visibility"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/audit"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/db"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/directory"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/matrix"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/metrics"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/middleware"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/retry"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/roomqueue"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "eqmd-bot",
		Short:        "Matrix patient search bot with delegated directory access",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(bindingCmd())
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateBot(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// stores holds the binding and room repositories for the configured driver.
// pool is nil for the memory driver.
type stores struct {
	pool     *pgxpool.Pool
	bindings binding.Repository
	rooms    dmroom.Repository
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if !cfg.UsesPostgres() {
		return &stores{bindings: binding.NewMemoryRepo(), rooms: dmroom.NewMemoryRepo()}, nil
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}
	return &stores{pool: pool, bindings: binding.NewRepo(pool), rooms: dmroom.NewRepo(pool)}, nil
}

// newIssuer builds the delegated token issuer for TOKEN_MODE.
func newIssuer(cfg *config.Config) (auth.Issuer, error) {
	switch cfg.TokenMode {
	case "local":
		key, err := cfg.SigningKey()
		if err != nil {
			return nil, err
		}
		issuer, err := auth.NewLocalIssuer(key, cfg.TokenIssuer, cfg.BotClientID, cfg.TokenAudience)
		if err != nil {
			return nil, err
		}
		return issuer, nil
	case "idp":
		pk, err := auth.LoadRSAPrivateKey(cfg.BotPrivateKeyFile)
		if err != nil {
			return nil, err
		}
		issuer, err := auth.NewClientCredentialsIssuer(auth.ClientCredentialsConfig{
			TokenURL:   cfg.TokenEndpoint,
			ClientID:   cfg.BotClientID,
			KeyID:      cfg.BotKeyID,
			PrivateKey: pk,
		})
		if err != nil {
			return nil, err
		}
		return issuer, nil
	default:
		return nil, fmt.Errorf("unsupported TOKEN_MODE %q", cfg.TokenMode)
	}
}

func newTokenService(cfg *config.Config, logger zerolog.Logger) (*auth.TokenService, error) {
	issuer, err := newIssuer(cfg)
	if err != nil {
		return nil, err
	}
	scopes, err := cfg.MaxScopes()
	if err != nil {
		return nil, err
	}
	return auth.NewTokenService(issuer, auth.ServiceConfig{
		ClientID:  cfg.BotClientID,
		MaxScopes: scopes,
		Lifetime:  cfg.TokenLifetime,
		Retry:     retry.Once(cfg.RetryBackoff),
	}, auth.NewLedger(), logger)
}

func newMatrixClient(cfg *config.Config, logger zerolog.Logger) (*matrix.Client, error) {
	return matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: cfg.MatrixHomeserverURL,
		AccessToken:   cfg.MatrixAccessToken,
		UserID:        cfg.MatrixUserID,
		SyncTimeout:   cfg.MatrixSyncTimeout,
		Logger:        logger,
	})
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg)
	metrics.Register(prometheus.DefaultRegisterer)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	policy, err := visibility.ParseDenialPolicy(cfg.DenialPolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("stores ready")

	// Delegated tokens and directory
	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	dir, err := directory.NewClient(directory.Config{
		BaseURL: cfg.DirectoryBaseURL,
		Timeout: cfg.DirectoryTimeout,
		Retry:   retry.Once(cfg.RetryBackoff),
	}, tokens, logger)
	if err != nil {
		return fmt.Errorf("directory client: %w", err)
	}

	// Audit trail
	auditLog, err := audit.New(audit.Config{
		Dir:           cfg.AuditDir,
		Location:      loc,
		RetentionDays: cfg.AuditRetentionDays,
	}, logger)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			logger.Error().Err(err).Msg("close audit log")
		}
	}()

	// Chat
	mx, err := newMatrixClient(cfg, logger)
	if err != nil {
		return err
	}

	bindings := binding.NewService(st.bindings, logger)
	registry := dmroom.NewRegistry(st.rooms, bindings, mx, logger)

	store := conversation.NewMemoryStore()
	machine := conversation.NewMachine(
		store,
		search.NewEngine(dir, tokens, logger),
		visibility.NewFilter(dir, tokens, logger),
		dir,
		tokens,
		conversation.MachineConfig{TTL: cfg.SelectionTTL, Policy: policy, Location: loc},
		logger,
	)
	bot := conversation.NewBot(
		bindings,
		registry,
		machine,
		mx,
		auditLog,
		conversation.NewRoomLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		logger,
	)

	// Queued messages finish after a shutdown signal.
	queue := roomqueue.New(context.WithoutCancel(ctx), logger)
	sweeper := conversation.NewSweeper(store, queue, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)
	go tokens.Ledger().Run(ctx, time.Minute)

	// Admin API
	e := newAdminServer(cfg, logger, st, bindings, registry, tokens.Ledger())
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting admin API")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("admin API stopped")
			stop()
		}
	}()

	// Inbound messages, serialized per room
	logger.Info().Str("user_id", mx.UserID()).Msg("listening for messages")
	listenErr := mx.Listen(ctx, func(msg matrix.Message) {
		if err := queue.Submit(msg.RoomID, func(ctx context.Context) {
			bot.HandleEvent(ctx, msg)
		}); err != nil {
			logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("message dropped")
		}
	})
	if listenErr != nil {
		logger.Error().Err(listenErr).Msg("matrix listener failed")
	}
	stop()

	logger.Info().Msg("shutting down")
	queue.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin API shutdown failed")
	}
	logger.Info().Msg("stopped")
	return listenErr
}

func newAdminServer(cfg *config.Config, logger zerolog.Logger, st *stores, bindings *binding.Service, registry *dmroom.Registry, ledger *auth.Ledger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	checks := []db.Check{{
		Name: "audit",
		Probe: func(context.Context) error {
			_, err := os.Stat(cfg.AuditDir)
			return err
		},
	}}
	if st.pool != nil {
		checks = append(checks, db.PoolCheck(st.pool))
	}
	e.GET("/health", db.HealthHandler(checks...))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	admin := e.Group("/admin", middleware.AdminAuth(cfg.AdminToken, logger))
	binding.NewHandler(bindings).RegisterRoutes(admin)
	dmroom.NewHandler(registry).RegisterRoutes(admin)
	auth.RegisterLedgerRoutes(admin, ledger, time.Now)
	return e
}
