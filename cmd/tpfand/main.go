package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mholtzmann/tpfand/db"
	"github.com/mholtzmann/tpfand/internal/api"
	"github.com/mholtzmann/tpfand/internal/config"
	"github.com/mholtzmann/tpfand/internal/controller"
	"github.com/mholtzmann/tpfand/internal/datadog"
	"github.com/mholtzmann/tpfand/internal/ec"
	"github.com/mholtzmann/tpfand/internal/env"
	"github.com/mholtzmann/tpfand/internal/logging"
	"github.com/mholtzmann/tpfand/internal/notifications"
	"github.com/mholtzmann/tpfand/system/shutdown"
	"github.com/mholtzmann/tpfand/system/startup"
)

func main() {
	configPath := flag.String("config", "/etc/tpfand/config.yaml", "Path to the configuration file")
	once := flag.Bool("once", false, "Run a single control cycle and exit")
	install := flag.Bool("install-service", false, "Install and enable the systemd unit, then exit")
	uninstall := flag.Bool("uninstall-service", false, "Disable and remove the systemd unit, then exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tpfand %s\n", env.Version)
		return
	}
	if *install {
		if err := startup.InstallService(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to install service: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *uninstall {
		if err := startup.UninstallService(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to uninstall service: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpfand: %v\n", err)
		os.Exit(1)
	}
	env.Cfg = cfg
	logging.Init(cfg.Level(), cfg.LogFile)

	log.Info().
		Str("version", env.Version).
		Str("config", *configPath).
		Msg("Starting tpfand")

	datadog.InitMetrics()
	notifications.Init()

	var database *sql.DB
	if cfg.DatabasePath != "" {
		database, err = db.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open database")
		}
	}

	dev, err := ec.Open(ec.Options{LockFile: cfg.LockFile})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open embedded controller")
	}

	ctrl := controller.New(dev, controller.Config{
		SensorIndex:         cfg.SensorIndex,
		UpdateInterval:      cfg.UpdateInterval(),
		Curve:               cfg.Curve(),
		CriticalTemperature: cfg.CriticalTemperature,
	}, database)

	if *once {
		runOnce(ctrl, dev, database)
		return
	}

	if err := ctrl.Start(); err != nil {
		dev.Close()
		log.Fatal().Err(err).Msg("Failed to start fan control loop")
	}

	var server *api.Server
	if cfg.ListenAddr != "" {
		server = api.NewServer(database, ctrl, cfg.ListenAddr)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("REST API server failed")
			}
		}()
	}

	if database != nil && cfg.RetentionDays > 0 {
		go pruneLoop(database, cfg.RetentionDays)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutdown signal received")
		cleanup(ctrl, server, dev, database)
		shutdown.Shutdown()
	case <-ctrl.Done():
		err := ctrl.Err()
		cleanup(ctrl, server, dev, database)
		shutdown.ShutdownWithError(err, "Fan control loop terminated")
	}
}

// runOnce executes one control cycle and reports what it did. The commanded
// level stays applied; automatic control resumes only via a daemon run or
// tpfanctl set-level auto.
func runOnce(ctrl *controller.Controller, dev *ec.Device, database *sql.DB) {
	err := ctrl.Tick()
	status := ctrl.Status()
	dev.Close()
	if database != nil {
		database.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpfand: %v\n", err)
		os.Exit(1)
	}
	if status.LastTemperature == nil {
		fmt.Fprintf(os.Stderr, "tpfand: %s\n", status.LastError)
		os.Exit(1)
	}
	fmt.Printf("sensor %d: %d C\n", status.SensorIndex, *status.LastTemperature)
	if status.LastCommandedLevel != nil {
		fmt.Printf("fan level: %s\n", status.LastCommandedLevel)
	}
	if status.FanRPM != nil {
		fmt.Printf("fan rpm: %d\n", *status.FanRPM)
	}
}

// cleanup winds the daemon down in dependency order. Explicit rather than
// deferred because the shutdown helpers never return.
func cleanup(ctrl *controller.Controller, server *api.Server, dev *ec.Device, database *sql.DB) {
	ctrl.Stop()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("REST API shutdown failed")
		}
		cancel()
	}
	if err := dev.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close EC device")
	}
	if database != nil {
		if err := db.MarkDaemonStopped(database); err != nil {
			log.Warn().Err(err).Msg("Failed to mark daemon stopped")
		}
		database.Close()
	}
}

// pruneLoop applies the retention policy at startup and then daily.
func pruneLoop(database *sql.DB, days int) {
	for {
		cutoff := time.Now().AddDate(0, 0, -days)
		readings, events, err := db.PruneHistory(database, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("History prune failed")
		} else if readings+events > 0 {
			log.Info().
				Int64("readings", readings).
				Int64("events", events).
				Int("retention_days", days).
				Msg("Pruned history")
		}
		time.Sleep(24 * time.Hour)
	}
}
