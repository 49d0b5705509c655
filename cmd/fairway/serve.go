package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/config"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/database"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/server"
	"github.com/MarcoPoloResearchLab/fairway/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the document API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	defaults := config.NewViper()
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	recorder := metrics.NewRecorder()

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
		Metrics:    recorder,
	})
	if err != nil {
		return err
	}

	accounts, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	secret := []byte(appConfig.AuthSigningSecret)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: secret,
		Issuer:        appConfig.AuthIssuer,
		TokenTTL:      appConfig.AuthTokenTTL,
	})
	if err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: secret,
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Documents:      documentService,
		AuthProvider:   users.NewProvider(accounts, issuer),
		Sessions:       validator,
		Metrics:        recorder,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
