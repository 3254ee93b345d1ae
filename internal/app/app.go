package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"cloudpico-publisher/internal/config"
	"cloudpico-publisher/internal/db"
	"cloudpico-publisher/internal/db/migrate"
	"cloudpico-publisher/internal/httpapi"
	"cloudpico-publisher/internal/journal"
	"cloudpico-publisher/internal/mqtt"
	"cloudpico-publisher/internal/publisher"
	"cloudpico-publisher/internal/sensor"
	"cloudpico-publisher/internal/thingspeak"
	"cloudpico-publisher/internal/wifi"
)

const shutdownTimeout = 5 * time.Second

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("initializing publisher",
		"wifi_backend", cfg.WiFiBackend,
		"wifi_interface", cfg.WiFiInterface,
		"cloud_url", cfg.CloudURL,
		"interval", cfg.PublishInterval.String(),
		"sensor", cfg.SensorKind,
		"mqtt_broker", cfg.MQTTBroker,
		"journal", cfg.JournalPath,
		"http_addr", cfg.HTTPAddr,
	)

	sampler, err := sensor.New(cfg)
	if err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	defer func() {
		if err := sampler.Close(); err != nil {
			logger.Warn("close sensor", "error", err)
		}
	}()

	connector, err := wifi.NewConnector(cfg, logger)
	if err != nil {
		return err
	}

	var (
		sinks   []publisher.Sink
		history httpapi.History
	)

	if cfg.JournalPath != "" {
		conn, err := db.Open(ctx, cfg.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := db.Close(conn); err != nil {
				logger.Warn("close journal", "error", err)
			}
		}()
		if err := migrate.Run(ctx, conn); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
		j := journal.New(conn)
		sinks = append(sinks, j)
		history = j
	}

	if cfg.MQTTBroker != "" {
		mqttClient := mqtt.NewClient(cfg, logger)
		defer mqttClient.Disconnect()
		go func() {
			if err := mqttClient.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("mqtt connect failed; publishes will not be mirrored until it recovers", "error", err)
			}
		}()
		sinks = append(sinks, mqttClient)
	}

	pub, err := publisher.New(publisher.Options{
		Connector: connector,
		Credentials: wifi.Credentials{
			SSID:       cfg.WiFiSSID,
			Passphrase: cfg.WiFiPassphrase,
		},
		ConnectTimeout: cfg.WiFiConnectTimeout,
		NewClient: func(pool *wifi.SocketPool) publisher.Poster {
			return thingspeak.NewClient(cfg.CloudURL, pool, cfg.HTTPTimeout)
		},
		Sampler:  sampler,
		APIKey:   cfg.CloudKey,
		Interval: cfg.PublishInterval,
		Sinks:    sinks,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pub.Run(gctx)
	})

	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(history, func() string {
			return pub.State().String()
		}))
		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("publisher stopped", "state", pub.State().String())
	return err
}
