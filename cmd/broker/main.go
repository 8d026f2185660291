package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/credbroker/internal/api"
	"github.com/org/credbroker/internal/audit"
	"github.com/org/credbroker/internal/broker"
	"github.com/org/credbroker/internal/crypto"
	"github.com/org/credbroker/internal/prompt"
	"github.com/org/credbroker/internal/protocol"
	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/internal/transport"
	"github.com/org/credbroker/pkg/models"
)

type databaseConfig struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	KeyFile string `yaml:"key_file"`
}

type config struct {
	SocketPath    string           `yaml:"socket_path"`
	ListenAddr    string           `yaml:"listen_addr"`
	Databases     []databaseConfig `yaml:"databases"`
	MigrationsDir string           `yaml:"migrations_dir"`
	Locale        string           `yaml:"locale"`
	LogLevel      string           `yaml:"log_level"`
	Settings      models.Settings  `yaml:"settings"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("BROKER_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		SocketPath:    "/tmp/credbroker.sock",
		ListenAddr:    "127.0.0.1:8250",
		MigrationsDir: "migrations",
		Locale:        "en",
		LogLevel:      "info",
		Settings:      models.DefaultSettings(),
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("BROKER_SOCKET"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("BROKER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BROKER_DATABASE"); v != "" {
		cfg.Databases = []databaseConfig{{Path: v}}
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if len(cfg.Databases) == 0 {
		log.Fatal().Msg("at least one database must be configured (or BROKER_DATABASE env var)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open databases, migrating each first
	manager := store.NewManager()
	for _, dbCfg := range cfg.Databases {
		if err := store.RunMigrations(dbCfg.Path, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Str("path", dbCfg.Path).Msg("failed to run migrations")
		}
		name := dbCfg.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(dbCfg.Path), filepath.Ext(dbCfg.Path))
		}
		keyFile := dbCfg.KeyFile
		if keyFile == "" {
			keyFile = dbCfg.Path + ".key"
		}
		key, err := crypto.LoadOrCreateKey(keyFile)
		if err != nil {
			log.Fatal().Err(err).Str("key_file", keyFile).Msg("failed to load sealing key")
		}
		db, err := store.OpenSQLite(ctx, name, dbCfg.Path, key)
		if err != nil {
			log.Fatal().Err(err).Str("path", dbCfg.Path).Msg("failed to open database")
		}
		defer db.Close()
		manager.Add(db)
		log.Info().Str("database", name).Msg("database opened")
	}

	// Wire the broker and protocol stack
	auditor := audit.NewLogger(manager)
	b := broker.New(manager, prompt.NewTerminal(), auditor, cfg.Settings, cfg.Locale)
	registry := protocol.NewRegistry(b)
	dispatcher := protocol.NewDispatcher(registry)

	// Offer legacy-data conversion for each opened database, and again
	// whenever a database comes back from the locked state.
	for _, db := range manager.Open() {
		b.MigrateLegacyData(ctx, db)
	}

	sock := transport.NewUnixSocket(cfg.SocketPath, dispatcher)
	manager.Subscribe(func(db store.Database, locked bool) {
		if db == manager.Active() {
			sock.Broadcast(protocol.LockStateMessage(locked))
		}
		if !locked {
			go b.MigrateLegacyData(ctx, db)
		}
	})

	srv := api.NewServer(b, registry, auditor, cfg.Settings, api.Config{
		ListenAddr: cfg.ListenAddr,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := sock.Serve(ctx); err != nil {
			log.Fatal().Err(err).Msg("transport failed")
		}
	}()
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("diagnostics server failed")
		}
	}()

	log.Info().Str("socket", cfg.SocketPath).Str("addr", cfg.ListenAddr).Msg("broker started")
	<-quit

	log.Info().Msg("shutting down...")
	cancel()
	if err := sock.Close(); err != nil {
		log.Error().Err(err).Msg("transport shutdown error")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("broker stopped")
}
