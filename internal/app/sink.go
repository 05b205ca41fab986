package app

import (
	"github.com/dkeye/roomchat/internal/core"
	"github.com/rs/zerolog"
)

// NewLogSink returns a sink that records every room event at debug level.
func NewLogSink(logger zerolog.Logger) core.EventSink {
	log := logger.With().Str("module", "app.sink").Logger()
	return core.SinkFunc(func(event string, data any) {
		log.Debug().Str("event", event).Interface("data", data).Msg("room event")
	})
}
