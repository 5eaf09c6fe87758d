package datadog

import (
	"strings"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/mholtzmann/tpfand/internal/env"
)

var dogstatsd *statsd.Client

func InitMetrics() {
	if !env.Cfg.Datadog.Enabled {
		log.Debug().Msg("Datadog metrics disabled")
		return
	}

	var err error
	dogstatsd, err = statsd.New(env.Cfg.Datadog.Addr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	namespace := env.Cfg.Datadog.Namespace
	if namespace != "" && !strings.HasSuffix(namespace, ".") {
		namespace += "."
	}
	dogstatsd.Namespace = namespace

	log.Info().
		Str("addr", env.Cfg.Datadog.Addr).
		Str("namespace", namespace).
		Msg("Datadog metrics initialized")
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		err := dogstatsd.Gauge(name, value, tags, 1)
		if err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Incr(name string, tags ...string) {
	if dogstatsd != nil {
		err := dogstatsd.Incr(name, tags, 1)
		if err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}
