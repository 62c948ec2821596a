// Package app wires configuration, storage, and the HTTP surface into a
// runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/how2validate/apiserver/internal/auth"
	"github.com/how2validate/apiserver/internal/config"
	"github.com/how2validate/apiserver/internal/db"
	"github.com/how2validate/apiserver/internal/http/api"
	"github.com/how2validate/apiserver/internal/mail"
	"github.com/how2validate/apiserver/internal/quota"
	"github.com/how2validate/apiserver/internal/report"
	"github.com/how2validate/apiserver/internal/token"
	"github.com/how2validate/apiserver/internal/usage"
	"github.com/how2validate/apiserver/internal/validator"
)

// shutdownGrace bounds how long in-flight requests may run after a stop
// signal.
const shutdownGrace = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// ResetDailyCounters zeroes the per-day usage counters. The external
// scheduler invokes this once per day; all-time totals are untouched.
func ResetDailyCounters(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	return usage.NewAccumulator(conn).ResetDailyCounters(ctx)
}

// RunServer boots the API server with database-backed components and blocks
// until the context is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	sessionCfg, errSession := config.LoadSessionConfig(configPath)
	if errSession != nil {
		return errSession
	}
	keysCfg, errKeys := config.LoadKeysConfig(configPath)
	if errKeys != nil {
		return errKeys
	}
	decryptor, errDecryptor := report.NewDecryptor(keysCfg)
	if errDecryptor != nil {
		return errDecryptor
	}
	mailCfg, errMail := config.LoadMailConfig(configPath)
	if errMail != nil {
		return errMail
	}
	mailer := mail.NewClient(mailCfg)

	engine := gin.New()
	engine.Use(gin.Recovery())

	api.RegisterRoutes(engine, api.Deps{
		DB:         conn,
		Sessions:   auth.NewSessions(sessionCfg),
		Tokens:     token.NewManager(conn),
		Guard:      quota.NewGuard(conn),
		Usage:      usage.NewAccumulator(conn),
		Decryptor:  decryptor,
		Mailer:     mailer,
		Dispatcher: validator.NewDispatcher(conn, mailer),
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("app: listening on %s (%s)", server.Addr, db.DialectName(conn))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("app: shutdown: %w", errShutdown)
		}
		return nil
	case errServe := <-errCh:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	}
}

// openDatabase resolves the DSN from env or config file and opens the
// matching gorm dialect.
func openDatabase(cfg config.AppConfig) (*gorm.DB, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return nil, errDSN
	}
	return db.Open(dsn)
}
