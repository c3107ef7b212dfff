package flags

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/ruteri/content-key-service/api"
	"github.com/ruteri/content-key-service/common"
	"github.com/ruteri/content-key-service/storage"
	"github.com/urfave/cli/v2"
)

// EnvPrefix prefixes the environment variable behind every flag.
const EnvPrefix = "KEYSTORE_"

func envVars(name string) []string {
	return []string{EnvPrefix + name}
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// OpenKeyRepository connects to the database selected by the db flags and
// prepares the key table.
func OpenKeyRepository(cCtx *cli.Context) (*sqlx.DB, *storage.SQLKeyRepository, error) {
	db, err := storage.OpenDB(cCtx.Context, cCtx.String(DBDriverFlag.Name), cCtx.String(DBDSNFlag.Name))
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, 30*time.Second)
	defer cancel()
	repo, err := storage.NewSQLKeyRepository(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repo, nil
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: envVars("LOG_JSON"),
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: envVars("LOG_DEBUG"),
}
var LogUidFlag = &cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	Usage:   "generate a uuid and add to all log messages",
	EnvVars: envVars("LOG_UID"),
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-service",
		Value:   service,
		Usage:   "add 'service' tag to logs",
		EnvVars: envVars("LOG_SERVICE"),
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	Usage:   "enable pprof debug endpoint",
	EnvVars: envVars("PPROF"),
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	Usage:   "seconds to wait in drain HTTP request",
	EnvVars: envVars("DRAIN_SECONDS"),
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: envVars("METRICS_ADDR"),
}

var DBDriverFlag = &cli.StringFlag{
	Name:    "db-driver",
	Value:   storage.DriverSQLite,
	Usage:   "key database driver: 'sqlite3' or 'postgres'",
	EnvVars: envVars("DB_DRIVER"),
}
var DBDSNFlag = &cli.StringFlag{
	Name:    "db-dsn",
	Value:   "keys.db",
	Usage:   "key database DSN, a file path for sqlite3 or a connection string for postgres",
	EnvVars: envVars("DB_DSN"),
}

// StorageFlag lists snapshot storage locations, e.g. file:///var/lib/keys,
// s3://bucket/prefix?region=eu-west-1 or vault://vault:8200/secret/keys.
var StorageFlag = &cli.StringSliceFlag{
	Name:    "storage",
	Usage:   "snapshot storage location URI; repeat to write to several backends",
	EnvVars: envVars("STORAGE"),
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var DBFlags = []cli.Flag{
	DBDriverFlag,
	DBDSNFlag,
}
