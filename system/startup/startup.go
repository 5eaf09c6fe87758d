package startup

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	serviceName = "tpfand.service"
	servicePath = "/etc/systemd/system/" + serviceName
)

// InstallService writes the systemd unit pointing at the current binary and
// enables it. Must run as root.
func InstallService(configPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	unit := fmt.Sprintf(`[Unit]
Description=ThinkPad EC fan control daemon
After=sysinit.target

[Service]
Type=simple
ExecStart=%s -config %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, exe, configPath)

	if err := os.WriteFile(servicePath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	if err := runSystemctl("daemon-reload"); err != nil {
		return err
	}
	if err := runSystemctl("enable", "--now", serviceName); err != nil {
		return err
	}
	log.Info().Str("unit", servicePath).Msg("Service installed and started")
	return nil
}

// UninstallService stops the unit and removes it.
func UninstallService() error {
	if err := runSystemctl("disable", "--now", serviceName); err != nil {
		log.Warn().Err(err).Msg("Failed to disable service, removing unit anyway")
	}
	if err := os.Remove(servicePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	if err := runSystemctl("daemon-reload"); err != nil {
		return err
	}
	log.Info().Str("unit", servicePath).Msg("Service removed")
	return nil
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
