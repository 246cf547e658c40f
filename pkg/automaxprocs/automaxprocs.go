// Package automaxprocs sets GOMAXPROCS to match the container CPU quota.
package automaxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/forest33/dpipe/pkg/logger"
)

// Init applies the quota-aware GOMAXPROCS value.
func Init(log *logger.Logger) {
	printf := func(format string, v ...interface{}) {
		log.Info().Msgf(format, v...)
	}
	if _, err := maxprocs.Set(maxprocs.Logger(printf)); err != nil {
		log.Error().Err(err).Msg("failed to set GOMAXPROCS")
	}
}
