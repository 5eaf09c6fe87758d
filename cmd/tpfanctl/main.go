package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mholtzmann/tpfand/db"
	"github.com/mholtzmann/tpfand/internal/config"
	"github.com/mholtzmann/tpfand/internal/ec"
	"github.com/mholtzmann/tpfand/internal/env"
	"github.com/mholtzmann/tpfand/internal/model"
)

func main() {
	// Package-level logging stays quiet; the CLI speaks through stdout.
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	var configPath string
	flag.StringVar(&configPath, "config", "/etc/tpfand/config.yaml", "Path to the daemon configuration file")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tpfanctl %s\n", env.Version)
		return
	}
	command := flag.Arg(0)
	if *help || command == "" {
		usage()
		os.Exit(0)
	}

	cfg := loadConfig(configPath)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "status":
		err = cmdStatus(cfg)
	case "history":
		err = cmdHistory(cfg, limitFlag(command, args))
	case "events":
		err = cmdEvents(cfg, limitFlag(command, args))
	case "sensors":
		err = cmdSensors(cfg)
	case "rpm":
		err = cmdRPM(cfg)
	case "fan":
		err = cmdFan(cfg)
	case "set-level":
		if len(args) == 0 {
			fmt.Println("Error: set-level requires a level (0-7, full or auto)")
			os.Exit(1)
		}
		err = cmdSetLevel(cfg, args[0])
	case "prune":
		err = cmdPrune(cfg, daysFlag(args))
	default:
		fmt.Printf("Invalid command %q\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("\nUsage: tpfanctl [-config path] <command> [args]")
	fmt.Println("\nCommands:")
	fmt.Println("  status                     Show the persisted daemon status")
	fmt.Println("  history [-limit n]         Show recent control loop samples")
	fmt.Println("  events [-limit n]          Show recent daemon events")
	fmt.Println("  sensors                    Read all EC temperature sensors")
	fmt.Println("  rpm                        Read the fan tachometer")
	fmt.Println("  fan                        Decode the fan status register")
	fmt.Println("  set-level <0-7|full|auto>  Write the fan level directly")
	fmt.Println("  prune [-days n]            Delete history older than the retention window")
	fmt.Println("\nHardware commands take the device lock and fail while tpfand is running.")
}

// loadConfig reads the daemon config for paths. A missing file is fine for
// the CLI and falls back to the defaults.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default()
		}
		fmt.Fprintf(os.Stderr, "tpfanctl: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func limitFlag(name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of rows to show")
	fs.Parse(args)
	return *limit
}

func daysFlag(args []string) int {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	days := fs.Int("days", 0, "Override the configured retention window")
	fs.Parse(args)
	return *days
}

func openStore(cfg *config.Config) (*sql.DB, error) {
	if cfg.DatabasePath == "" {
		return nil, errors.New("history is disabled (no database_path configured)")
	}
	return db.Open(cfg.DatabasePath)
}

func cmdStatus(cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	row, err := db.GetDaemonStatus(store)
	if err != nil {
		return err
	}
	if row.Running {
		fmt.Printf("daemon: running (pid %d)\n", row.PID)
	} else {
		fmt.Println("daemon: stopped")
	}
	if row.StartedAt != nil {
		fmt.Printf("started: %s\n", row.StartedAt.Format(time.RFC3339))
	}
	fmt.Printf("sensor: %d\n", row.SensorIndex)
	if row.LastTemperature != nil {
		fmt.Printf("temperature: %d C\n", *row.LastTemperature)
	}
	if row.LastFanLevel != nil {
		fmt.Printf("fan level: %s\n", row.LastFanLevel)
	}
	if row.FanRPM != nil {
		fmt.Printf("fan rpm: %d\n", *row.FanRPM)
	}
	if row.LastError != "" {
		fmt.Printf("last error: %s\n", row.LastError)
	}
	return nil
}

func cmdHistory(cfg *config.Config, limit int) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	readings, err := db.RecentReadings(store, limit)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Println("no readings recorded")
		return nil
	}
	for _, r := range readings {
		temp, level, rpm := "n/a", "n/a", "n/a"
		if r.Temperature != nil {
			temp = fmt.Sprintf("%d C", *r.Temperature)
		}
		if r.Level != nil {
			level = r.Level.String()
		}
		if r.RPM != nil {
			rpm = fmt.Sprintf("%d", *r.RPM)
		}
		marker := " "
		if r.Commanded {
			marker = "*"
		}
		fmt.Printf("%s %s sensor=%d temp=%s level=%s rpm=%s\n",
			r.At.Format(time.RFC3339), marker, r.SensorIndex, temp, level, rpm)
	}
	return nil
}

func cmdEvents(cfg *config.Config, limit int) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := db.RecentEvents(store, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no events recorded")
		return nil
	}
	for _, e := range events {
		fmt.Printf("%s  %-20s %s\n", e.At.Format(time.RFC3339), e.Kind, e.Message)
	}
	return nil
}

func cmdSensors(cfg *config.Config) error {
	dev, err := ec.Open(ec.Options{LockFile: cfg.LockFile})
	if err != nil {
		return err
	}
	defer dev.Close()

	for i := 0; i < ec.SensorCount; i++ {
		temp, err := dev.ReadTemperature(i)
		if err != nil {
			if ec.IsHardwareAccess(err) {
				return err
			}
			fmt.Printf("sensor %d: n/a\n", i)
			continue
		}
		fmt.Printf("sensor %d: %d C\n", i, temp)
	}
	return nil
}

func cmdRPM(cfg *config.Config) error {
	dev, err := ec.Open(ec.Options{LockFile: cfg.LockFile})
	if err != nil {
		return err
	}
	defer dev.Close()

	rpm, err := dev.FanRPM()
	if err != nil {
		return err
	}
	fmt.Printf("fan rpm: %d\n", rpm)
	return nil
}

func cmdFan(cfg *config.Config) error {
	dev, err := ec.Open(ec.Options{LockFile: cfg.LockFile})
	if err != nil {
		return err
	}
	defer dev.Close()

	level, raw, err := dev.FanStatus()
	if err != nil {
		return err
	}
	fmt.Printf("fan status: 0x%02X (level %s)\n", raw, level)
	return nil
}

func cmdSetLevel(cfg *config.Config, arg string) error {
	level, err := model.ParseFanLevel(arg)
	if err != nil {
		return err
	}
	dev, err := ec.Open(ec.Options{LockFile: cfg.LockFile})
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.SetFanLevel(level); err != nil {
		return err
	}
	fmt.Printf("fan level set to %s\n", level)
	if !level.IsAutomatic() {
		fmt.Println("the level stays applied until tpfand runs or set-level auto is issued")
	}
	return nil
}

func cmdPrune(cfg *config.Config, days int) error {
	if days <= 0 {
		days = cfg.RetentionDays
	}
	if days <= 0 {
		return errors.New("retention is disabled; pass -days to prune anyway")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().AddDate(0, 0, -days)
	readings, events, err := db.PruneHistory(store, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d readings and %d events older than %d days\n", readings, events, days)
	return nil
}
