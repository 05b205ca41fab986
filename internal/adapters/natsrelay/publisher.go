// Package natsrelay publishes room events to NATS for consumers outside the
// process, such as message persistence.
package natsrelay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Envelope is the body of every published message.
type Envelope struct {
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
	At    time.Time `json:"at"`
}

// Publisher is a core.EventSink writing to <prefix>.<event>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

func Connect(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	log := logger.With().Str("module", "adapters.natsrelay").Logger()
	nc, err := nats.Connect(url,
		nats.Name("roomchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", url).Str("prefix", prefix).Msg("event relay connected")
	return &Publisher{nc: nc, prefix: prefix, logger: log}, nil
}

func (p *Publisher) Subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

// Emit publishes without waiting for the server; failures are logged.
func (p *Publisher) Emit(event string, data any) {
	b, err := json.Marshal(Envelope{Event: event, Data: data, At: time.Now().UTC()})
	if err != nil {
		p.logger.Error().Err(err).Str("event", event).Msg("marshal event")
		return
	}
	if err := p.nc.Publish(p.Subject(event), b); err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("publish event")
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn().Err(err).Msg("flush before close")
	}
	p.nc.Close()
}
