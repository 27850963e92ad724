// Package server wires configuration, storage, the auth service and the
// HTTP and gRPC listeners into a runnable application.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/dmitrijs2005/socialauth/internal/server/auth"
	"github.com/dmitrijs2005/socialauth/internal/server/config"
	"github.com/dmitrijs2005/socialauth/internal/server/httpapi"
	"github.com/dmitrijs2005/socialauth/internal/server/mailer"
	"github.com/dmitrijs2005/socialauth/internal/server/metrics"
	"github.com/dmitrijs2005/socialauth/internal/server/otp"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/socialauth/internal/server/services"

	gs "github.com/dmitrijs2005/socialauth/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	metrics     *metrics.Metrics
	authService *services.AuthService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := openDB(ctx, pgxDriver, c.DatabaseDSN, dbBackoff(), logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	svc, m, err := buildAuthService(c, db, rm, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{config: c, logger: logger, db: db, metrics: m, authService: svc}, nil
}

func buildAuthService(c *config.Config, db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger) (*services.AuthService, *metrics.Metrics, error) {
	hasher, err := auth.NewHasher(c.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := auth.NewTokenService(tokenConfig(c))
	if err != nil {
		return nil, nil, err
	}

	m := metrics.New()
	registry := otp.NewRegistry(db, rm.OTPs, hasher, otp.WithLogger(logger), otp.WithMetrics(m))

	sender, err := buildMailer(c, logger)
	if err != nil {
		return nil, nil, err
	}

	svc := services.NewAuthService(db, rm, hasher, tokens, registry, sender,
		services.WithLogger(logger),
		services.WithMetrics(m),
	)
	return svc, m, nil
}

func tokenConfig(c *config.Config) auth.TokenConfig {
	return auth.TokenConfig{
		SecretKey:  []byte(c.SecretKey),
		Algorithm:  c.SigningAlgorithm,
		AccessTTL:  c.AccessTokenValidityDuration,
		RefreshTTL: c.RefreshTokenValidityDuration,
		Issuer:     c.TokenIssuer,
	}
}

// buildMailer writes messages to stderr only when dev mail is enabled and
// no SMTP relay is configured.
func buildMailer(c *config.Config, logger logging.Logger) (mailer.Sender, error) {
	if c.SMTPHost == "" {
		if !c.DevMail {
			return nil, errors.New("smtp host is required unless dev mail is enabled")
		}
		logger.Warn(context.Background(), "dev mail enabled, OTP mail goes to stderr")
		return mailer.NewWriterSender(os.Stderr, c.SenderEmail), nil
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SenderEmail,
		Attempts: 3,
		Backoff:  time.Second,
	}, logger), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.HealthAddrGRPC, app.logger, app.db)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.HTTPAddr, app.authService, app.metrics, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives, ctx is cancelled, or one
// of the listeners fails.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
	app.authService.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "close db", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
