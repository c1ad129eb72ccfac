package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/swetrack-sync/internal/alert"
	"github.com/nerrad567/swetrack-sync/internal/api"
	"github.com/nerrad567/swetrack-sync/internal/history"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/config"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/database"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/influxdb"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/logging"
	"github.com/nerrad567/swetrack-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/swetrack-sync/internal/publish"
	"github.com/nerrad567/swetrack-sync/internal/tracker"
	"github.com/nerrad567/swetrack-sync/migrations"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll continuously and serve the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
}

// run is the service lifecycle. Deferred closes run in reverse order once
// the coordinator has stopped.
func run(ctx context.Context, flags *globalFlags) error {
	log := logging.Default()
	log.Info("starting swetrack-sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := flags.loadConfig()
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"scan_interval", cfg.GetScanInterval().String(),
		"fetch_extended", cfg.SweTrack.FetchExtended,
	)

	// Database and history
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	repo := history.NewRepository(db.DB)

	store := tracker.NewStore()
	store.SetLogger(log)
	coord := tracker.NewCoordinator(newClient(cfg), store, settingsFrom(cfg))
	coord.SetLogger(log)
	coord.OnCycle(history.NewRecorder(repo, log, cfg.Database.HistoryLimit).HandleCycle)

	// MQTT (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"prefix", cfg.MQTT.TopicPrefix,
		)

		pub := publish.NewMQTTPublisher(mqttClient, coord.Status, log)
		store.Subscribe(pub.HandleSnapshot)
		coord.OnCycle(pub.HandleCycle)
		if subErr := pub.SubscribeRefresh(coord.RequestRefresh); subErr != nil {
			return subErr
		}

		// Retained state may have been lost with a broker restart.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing snapshot")
			pub.Republish(store.Current())
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		writer := publish.NewInfluxWriter(influxClient)
		store.Subscribe(writer.HandleSnapshot)
		coord.OnCycle(writer.HandleCycle)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Alerts (optional)
	if cfg.Alerts.Enabled {
		alerter := alert.New(alert.NewMailSender(cfg.Alerts), log, "swetrack-sync")
		coord.OnCycle(alerter.HandleCycle)
		defer alerter.Wait()
		log.Info("e-mail alerts enabled", "recipients", len(cfg.Alerts.Recipients))
	}

	// REST/WebSocket API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log,
			Coordinator: coord,
			Snapshots:   store,
			History:     repo,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		coord.OnCycle(srv.HandleCycle)
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled, security.jwt.secret is not set")
		}
	}

	go watchReload(ctx, flags, cfg, coord, log)

	log.Info("initialisation complete, polling")
	if err := coord.Run(ctx); err != nil {
		return fmt.Errorf("running coordinator: %w", err)
	}

	log.Info("swetrack-sync stopped")
	return nil
}

// watchReload re-reads the configuration on SIGHUP and applies the runtime
// options. New settings take effect from the next scheduled poll; a changed
// token or base URL swaps the client, which also lifts an auth suspension.
func watchReload(ctx context.Context, flags *globalFlags, current *config.Config, coord *tracker.Coordinator, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, _, err := flags.reloadConfig()
		if err != nil {
			log.Error("configuration reload failed, keeping current settings", "error", err)
			continue
		}

		coord.UpdateSettings(settingsFrom(next))
		if next.SweTrack.Token != current.SweTrack.Token ||
			next.SweTrack.BaseURL != current.SweTrack.BaseURL ||
			next.SweTrack.RequestTimeout != current.SweTrack.RequestTimeout {
			coord.SetAPI(newClient(next))
			log.Info("SweTrack client replaced", "base_url", next.SweTrack.BaseURL)
		}
		current = next

		log.Info("configuration reloaded",
			"scan_interval", next.GetScanInterval().String(),
			"fetch_extended", next.SweTrack.FetchExtended,
			"enrich_workers", next.SweTrack.EnrichWorkers,
		)
	}
}
