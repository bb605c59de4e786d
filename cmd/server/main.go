package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/deaddrop/internal/api"
	"github.com/org/deaddrop/internal/blob"
	"github.com/org/deaddrop/internal/notify"
	"github.com/org/deaddrop/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`

	// BaseURL is the externally visible base URL embedded in mail links and
	// API responses.
	BaseURL string `yaml:"base_url"`

	CronSecret string `yaml:"cron_secret"`

	S3 struct {
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"s3"`

	Mail struct {
		Provider string `yaml:"provider"` // "resend" or "log"
		APIKey   string `yaml:"api_key"`
		From     string `yaml:"from"`
	} `yaml:"mail"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("DEADDROP_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8400",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}
	cfg.Mail.Provider = "resend"

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("DEADDROP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("DEADDROP_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("DEADDROP_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("DEADDROP_CRON_SECRET"); v != "" {
		cfg.CronSecret = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Mail.APIKey = v
	}
	if v := os.Getenv("RESEND_FROM"); v != "" {
		cfg.Mail.From = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Fail fast on required settings.
	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.BaseURL == "" {
		log.Fatal().Msg("base_url must be configured (or DEADDROP_BASE_URL env var)")
	}
	if cfg.S3.Bucket == "" {
		log.Fatal().Msg("s3.bucket must be configured (or DEADDROP_BUCKET env var)")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Object store for envelope blobs
	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up object store")
	}

	// Mail provider
	var notifier notify.Notifier
	switch cfg.Mail.Provider {
	case "log":
		notifier = notify.LogMailer{}
	case "resend":
		if cfg.Mail.APIKey == "" {
			log.Fatal().Msg("mail.api_key must be configured (or RESEND_API_KEY env var)")
		}
		if cfg.Mail.From == "" {
			log.Fatal().Msg("mail.from must be configured (or RESEND_FROM env var)")
		}
		notifier = notify.NewResendMailer(cfg.Mail.APIKey, cfg.Mail.From)
	default:
		log.Fatal().Str("provider", cfg.Mail.Provider).Msg("unknown mail provider")
	}

	// Create server
	srv := api.NewServer(store, blobs, notifier, api.Config{
		ListenAddr: cfg.ListenAddr,
		BaseURL:    cfg.BaseURL,
		CronSecret: cfg.CronSecret,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
