package env

import (
	"github.com/mholtzmann/tpfand/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var Cfg *config.Config
