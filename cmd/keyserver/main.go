package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/content-key-service/api/keyshandler"
	"github.com/ruteri/content-key-service/cmd/flags"
	"github.com/ruteri/content-key-service/httpserver"
	"github.com/ruteri/content-key-service/interfaces"
	"github.com/ruteri/content-key-service/keystore"
	"github.com/ruteri/content-key-service/snapshot"
	"github.com/ruteri/content-key-service/storage"
	"github.com/urfave/cli/v2"
)

var KeyServerLogFlag = flags.LogServiceFlagFn("keyserver")

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for the key API",
	EnvVars: []string{flags.EnvPrefix + "LISTEN_ADDR"},
}

var SnapshotIntervalFlag = &cli.DurationFlag{
	Name:    "snapshot-interval",
	Usage:   "export a snapshot to --storage at this interval; 0 disables",
	EnvVars: []string{flags.EnvPrefix + "SNAPSHOT_INTERVAL"},
}

var SnapshotIDFlag = &cli.StringFlag{
	Name:     "id",
	Usage:    "content id (64 hex characters) of the snapshot to restore",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "keyserver",
		Usage: "Serve content keys",
		Flags: append(append([]cli.Flag{ListenAddrFlag, SnapshotIntervalFlag, flags.StorageFlag, KeyServerLogFlag}, flags.DBFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			db, repo, err := flags.OpenKeyRepository(cCtx)
			if err != nil {
				logger.Error("Failed to open key database", "err", err)
				return err
			}
			defer db.Close()
			logger.Info("Key database ready", "driver", cCtx.String(flags.DBDriverFlag.Name))

			store := keystore.NewService(repo, logger)

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(ListenAddrFlag.Name))
			cfg.ReadinessCheck = repo.Ping
			srv, err := httpserver.New(cfg, keyshandler.NewHandler(store, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			err = srv.Metrics().RegisterGaugeFunc("keys_stored", "Number of stored content keys.", func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				n, err := store.Count(ctx)
				if err != nil {
					return math.NaN()
				}
				return float64(n)
			})
			if err != nil {
				return err
			}

			ctx, stop := context.WithCancel(cCtx.Context)
			defer stop()
			if interval := cCtx.Duration(SnapshotIntervalFlag.Name); interval > 0 {
				manager, err := snapshotManager(cCtx, store, logger)
				if err != nil {
					logger.Error("Failed to set up snapshots", "err", err)
					return err
				}
				go runPeriodicSnapshots(ctx, manager, interval, logger)
			}

			srv.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			stop()
			srv.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "snapshot",
				Usage: "export or restore wrapped key snapshots",
				Subcommands: []*cli.Command{
					{
						Name:  "export",
						Usage: "write every key, wrapped, to the configured storage",
						Action: func(cCtx *cli.Context) error {
							logger := flags.SetupLogger(cCtx)
							return withSnapshotManager(cCtx, logger, func(m *snapshot.Manager) error {
								res, err := m.Export(cCtx.Context)
								if err != nil {
									return err
								}
								fmt.Printf("%s\t%d keys\n", res.ContentID.String(), res.Keys)
								return nil
							})
						},
					},
					{
						Name:  "restore",
						Usage: "create every key of a snapshot that is not yet stored",
						Flags: []cli.Flag{SnapshotIDFlag},
						Action: func(cCtx *cli.Context) error {
							logger := flags.SetupLogger(cCtx)
							id, err := interfaces.NewContentIDFromHex(cCtx.String(SnapshotIDFlag.Name))
							if err != nil {
								return err
							}
							return withSnapshotManager(cCtx, logger, func(m *snapshot.Manager) error {
								res, err := m.Restore(cCtx.Context, id)
								if err != nil {
									return err
								}
								fmt.Printf("snapshot %s: %d created, %d already present\n", res.SnapshotID, res.Created, res.Existing)
								return nil
							})
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withSnapshotManager(cCtx *cli.Context, logger *slog.Logger, fn func(*snapshot.Manager) error) error {
	db, repo, err := flags.OpenKeyRepository(cCtx)
	if err != nil {
		return err
	}
	defer db.Close()

	manager, err := snapshotManager(cCtx, keystore.NewService(repo, logger), logger)
	if err != nil {
		return err
	}
	return fn(manager)
}

func snapshotManager(cCtx *cli.Context, store interfaces.KeyStore, logger *slog.Logger) (*snapshot.Manager, error) {
	uris := cCtx.StringSlice(flags.StorageFlag.Name)
	if len(uris) == 0 {
		return nil, errors.New("no --storage location configured")
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		return nil, err
	}
	return snapshot.NewManager(store, backend, logger), nil
}

func runPeriodicSnapshots(ctx context.Context, manager *snapshot.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := manager.Export(ctx)
			if err != nil {
				logger.Error("Periodic snapshot failed", "err", err)
				continue
			}
			logger.Info("Periodic snapshot written", "contentID", res.ContentID.String(), "keys", res.Keys)
		}
	}
}
