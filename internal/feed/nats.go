package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	defaultPrefix    = "edgewatch."
	subjectItems     = "items"
	subjectResolved  = "resolutions"
	defaultReconnect = 2 * time.Second
)

// NATSBusConfig configures the NATS-backed bus.
type NATSBusConfig struct {
	URL    string
	Prefix string // Subject prefix (default: "edgewatch.")
}

// NATSBus distributes feed traffic over NATS so connector workers can
// run outside the pipeline process.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	subs   []*nats.Subscription
	logger zerolog.Logger
}

// NewNATSBus connects to NATS with infinite reconnects.
func NewNATSBus(config NATSBusConfig, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "feed_bus").Logger()

	nc, err := nats.Connect(
		config.URL,
		nats.Name("edgewatch-feed"),
		nats.ReconnectWait(defaultReconnect),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}

	log.Info().Str("nats_url", config.URL).Str("prefix", config.Prefix).Msg("Feed bus connected")

	return &NATSBus{nc: nc, prefix: config.Prefix, logger: log}, nil
}

// PublishItems publishes one item batch on the category subject.
func (b *NATSBus) PublishItems(ctx context.Context, batch ItemBatch) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("feed bus not connected")
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal item batch: %w", err)
	}

	subject := fmt.Sprintf("%s%s.%s", b.prefix, subjectItems, batch.Category)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish item batch: %w", err)
	}
	return nil
}

// SubscribeItems receives item batches for all categories. Malformed
// payloads are logged and dropped.
func (b *NATSBus) SubscribeItems(handler ItemHandler) error {
	subject := fmt.Sprintf("%s%s.>", b.prefix, subjectItems)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var batch ItemBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed item batch")
			return
		}
		handler(batch)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to items: %w", err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// PublishResolution publishes one settlement announcement.
func (b *NATSBus) PublishResolution(ctx context.Context, res Resolution) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("feed bus not connected")
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}

	subject := b.prefix + subjectResolved
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish resolution: %w", err)
	}
	return nil
}

// SubscribeResolutions receives settlement announcements.
func (b *NATSBus) SubscribeResolutions(handler ResolutionHandler) error {
	subject := b.prefix + subjectResolved
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var res Resolution
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			b.logger.Warn().Err(err).Msg("Dropping malformed resolution")
			return
		}
		handler(res)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to resolutions: %w", err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if b.nc != nil && !b.nc.IsClosed() {
		b.nc.Close()
	}
	return nil
}
