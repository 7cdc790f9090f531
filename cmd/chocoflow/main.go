package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/haroov/chocoflow/internal/api"
	"github.com/haroov/chocoflow/internal/catalog"
	"github.com/haroov/chocoflow/internal/flow"
	"github.com/haroov/chocoflow/internal/store"
	"github.com/haroov/chocoflow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for chocoflow state data
	DefaultStateDir = "/var/lib/chocoflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chocoflow.db"
	// DefaultCatalogDir is the default directory holding the YAML catalogs
	DefaultCatalogDir = "catalogs"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.debug)

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	catalogs, processes, err := catalog.LoadDir(*flags.catalogDir)
	if err != nil {
		slog.Error("Failed to load catalogs", "error", err, "dir", *flags.catalogDir)
		os.Exit(1)
	}

	processor, err := flow.NewProcessor(catalogs, processes, st)
	if err != nil {
		slog.Error("Failed to build flow processor", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags)
	server := api.NewServer(processor, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping chocoflow", "catalogs", len(catalogs), "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("chocoflow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("chocoflow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver    string
	DatabaseURL string
	StateDir    string
	CatalogDir  string
	APIAddr     string
	Debug       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDriver   *string
	dbDSN      *string
	catalogDir *string
	apiAddr    *string
	debug      *bool
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDriver:    os.Getenv("CHOCOFLOW_DB_DRIVER"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    util.ParseStringEnv("CHOCOFLOW_STATE_DIR", DefaultStateDir),
		CatalogDir:  util.ParseStringEnv("CHOCOFLOW_CATALOG_DIR", DefaultCatalogDir),
		APIAddr:     os.Getenv("API_ADDR"),
		Debug:       util.ParseBoolEnv("CHOCOFLOW_DEBUG", false),
	}

	// Default to SQLite in the state directory when no database URL is given.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for chocoflow data (overrides $CHOCOFLOW_STATE_DIR)"),
		dbDriver:   flag.String("db-driver", config.DbDriver, "database driver: memory, sqlite3 or postgres (overrides $CHOCOFLOW_DB_DRIVER)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		catalogDir: flag.String("catalog-dir", config.CatalogDir, "directory holding the YAML catalogs (overrides $CHOCOFLOW_CATALOG_DIR)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		debug:      flag.Bool("debug", config.Debug, "enable debug logging (overrides $CHOCOFLOW_DEBUG)"),
	}

	flag.Parse()

	// Keep the SQLite default in step with an overridden state directory.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	return flags
}

// buildStore selects and initializes the storage backend
func buildStore(flags Flags) (store.Store, error) {
	driver := *flags.dbDriver
	if driver == "" {
		driver = store.DetectDSNType(*flags.dbDSN)
	}
	switch driver {
	case "memory":
		slog.Info("Using in-memory store")
		return store.NewInMemoryStore(), nil
	case "postgres":
		slog.Info("Using PostgreSQL store", "dsn_set", *flags.dbDSN != "")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	default:
		slog.Info("Using SQLite store", "path", *flags.dbDSN)
		return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
