package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// ExitFunc is swapped out by tests that need to observe exits.
var ExitFunc = os.Exit

func Shutdown() {
	log.Info().Msg("Shutting down")
	ExitFunc(0)
}

// ShutdownWithError exits non-zero so systemd's Restart=on-failure kicks in.
func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	ExitFunc(1)
}
