package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/opalworks/spaledger/internal/billing"
	"github.com/opalworks/spaledger/internal/catalog"
	"github.com/opalworks/spaledger/internal/httpserver"
	"github.com/opalworks/spaledger/internal/store/gormstore"
	"github.com/opalworks/spaledger/pkg/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL   = "database-url"
	flagListenAddr    = "listen-addr"
	flagCatalogPath   = "catalog-path"
	flagOrigins       = "allowed-origins"
	configDatabaseURL = "database_url"
	configListenAddr  = "listen_addr"
	configCatalogPath = "catalog_path"
	configOrigins     = "allowed_origins"
	configSigningKey  = "session_signing_key"
	configIssuer      = "session_issuer"
	configCookieName  = "session_cookie_name"
	configStripeKey   = "stripe_api_key"
	configStripeWhSec = "stripe_webhook_secret"

	defaultDatabaseURL = "sqlite:///tmp/spaledger.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL         string
	ListenAddr          string
	CatalogPath         string
	AllowedOrigins      string
	SessionSigningKey   string
	SessionIssuer       string
	SessionCookieName   string
	StripeAPIKey        string
	StripeWebhookSecret string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spaledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "spaledgerd",
		Short:         "Spa minutes ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagCatalogPath, "", "Path to the plan/service catalog JSON (defaults to the built-in catalog)")
	cmd.Flags().String(flagOrigins, "", "Comma-delimited CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configDatabaseURL: "DATABASE_URL",
		configListenAddr:  "HTTP_LISTEN_ADDR",
		configCatalogPath: "CATALOG_PATH",
		configOrigins:     "ALLOWED_ORIGINS",
		configSigningKey:  "SESSION_SIGNING_KEY",
		configIssuer:      "SESSION_ISSUER",
		configCookieName:  "SESSION_COOKIE_NAME",
		configStripeKey:   "STRIPE_API_KEY",
		configStripeWhSec: "STRIPE_WEBHOOK_SECRET",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configDatabaseURL: flagDatabaseURL,
		configListenAddr:  flagListenAddr,
		configCatalogPath: flagCatalogPath,
		configOrigins:     flagOrigins,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.CatalogPath = viper.GetString(configCatalogPath)
	cfg.AllowedOrigins = viper.GetString(configOrigins)
	cfg.SessionSigningKey = viper.GetString(configSigningKey)
	cfg.SessionIssuer = viper.GetString(configIssuer)
	cfg.SessionCookieName = viper.GetString(configCookieName)
	cfg.StripeAPIKey = viper.GetString(configStripeKey)
	cfg.StripeWebhookSecret = viper.GetString(configStripeWhSec)

	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := gormstore.Migrate(gormDB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	catalogs := catalog.Default()
	if cfg.CatalogPath != "" {
		catalogs, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
	}

	serviceOptions := []engine.ServiceOption{
		engine.WithOperationLogger(httpserver.NewZapOperationLogger(logger)),
		engine.WithNotifier(httpserver.NewLogNotifier(logger)),
	}
	var resolver httpserver.PaymentResolver
	if cfg.StripeAPIKey != "" {
		gateway, gatewayErr := billing.NewStripeGateway(cfg.StripeAPIKey)
		if gatewayErr != nil {
			return gatewayErr
		}
		serviceOptions = append(serviceOptions, engine.WithBillingGateway(gateway))
		resolver, err = billing.NewResolver(cfg.StripeAPIKey)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("stripe api key not configured; plan changes and payment confirmation are disabled")
	}

	ledgerService, err := engine.NewService(
		gormstore.New(gormDB),
		catalogs,
		catalogs,
		func() time.Time { return time.Now().UTC() },
		serviceOptions...,
	)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	var intake *billing.Intake
	if cfg.StripeWebhookSecret != "" {
		intake, err = billing.NewIntake(cfg.StripeWebhookSecret)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("stripe webhook secret not configured; webhook route is disabled")
	}

	server, err := httpserver.New(httpserver.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
	}, logger, ledgerService, intake, resolver)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "spaledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Everything else is treated as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
