// Package server initializes and runs the credkeeper server: it opens the
// database, applies migrations, builds the services and runs the HTTP API
// and the internal gRPC field-cipher endpoint until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/config"
	"github.com/dmitrijs2005/credkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/credkeeper/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	cipher   *cryptox.FieldCipher
	limiter  *ratelimit.Limiter
	passkeys *services.PasskeyService
	metrics  *obs.Metrics
	api      *httpapi.API
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	trusted, err := c.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	mode, err := cryptox.ParseKeyMode(c.KeyDerivation)
	if err != nil {
		return nil, err
	}
	cipher, err := cryptox.NewFieldCipherFromSecret(c.EncryptionKey, mode)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	metrics := obs.NewMetrics()
	limiter := newLimiter(c, db, rm)

	deps := services.Deps{
		DB:       db,
		Repos:    rm,
		Config:   c,
		Cipher:   cipher,
		Hasher:   cryptox.NewPasswordHasher(c.BcryptCost),
		Limiter:  limiter,
		Notifier: services.NewLogNotifier(logger),
		Logger:   logger,
		Metrics:  metrics,
	}

	passkeys, err := services.NewPasskeyService(deps)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("webauthn init error: %w", err)
	}

	api := httpapi.New(httpapi.Deps{
		Users:     services.NewUserService(deps),
		Passkeys:  passkeys,
		MFA:       services.NewMFAService(deps),
		Resets:    services.NewPasswordResetService(deps),
		OAuth:     services.NewOAuthTokenService(deps),
		Limiter:   limiter,
		Metrics:   metrics,
		Logger:    logger,
		JWTSecret: c.SecretKey,
		DB:        db,
	}, httpapi.Options{
		RequestsPerSecond: c.HTTPRequestsPerSecond,
		Burst:             c.HTTPBurst,
		MaxBodyBytes:      c.MaxBodyBytes,
		AllowedOrigins:    c.CORSAllowedOrigins,
		TrustedProxies:    trusted,
	})

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		cipher:   cipher,
		limiter:  limiter,
		passkeys: passkeys,
		metrics:  metrics,
		api:      api,
	}, nil
}

// newLimiter keeps counters in Postgres unless the memory store is
// configured, which only suits a single instance.
func newLimiter(c *config.Config, db *sql.DB, rm repomanager.RepositoryManager) *ratelimit.Limiter {
	policies := ratelimit.DefaultPolicies()
	policies[common.PurposeMFAResend] = ratelimit.Policy{Limit: c.MFAResendLimit, Window: c.MFAResendWindow}

	var store ratelimit.Store
	if strings.EqualFold(c.RateLimitStore, config.RateLimitStoreMemory) {
		store = ratelimit.NewMemoryStore()
	} else {
		store = rm.RateLimits(db)
	}
	return ratelimit.New(store, policies, ratelimit.WithTimeout(c.StoreTimeout))
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.api.Handler(), app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.cipher, app.metrics, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	if app.config.RateLimitSweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.limiter.RunSweeper(ctx, app.config.RateLimitSweepInterval, app.logger)
		}()
	}
	if app.config.WebAuthnSweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.passkeys.RunSweeper(ctx, app.config.WebAuthnSweepInterval)
		}()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
