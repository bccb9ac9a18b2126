// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/replaylog/internal/config"
	"github.com/tomtom215/replaylog/internal/logging"
	"github.com/tomtom215/replaylog/internal/metrics"
	"github.com/tomtom215/replaylog/internal/models"
)

// DefaultTopic is used when the NATS config leaves the topic empty.
const DefaultTopic = "history.merged"

// MergeHandler reacts to a merge notification. Returning an error makes the
// router retry the message.
type MergeHandler func(ctx context.Context, event models.HistoryMerged) error

// Notifier publishes merge notifications and dispatches them to handlers.
type Notifier struct {
	topic  string
	logger watermill.LoggerAdapter
	local  *gochannel.GoChannel
	remote message.Publisher // nil unless NATS is enabled
	router *message.Router

	remoteURL string
	embedded  *EmbeddedServer // nil unless nats.embedded

	mu     sync.Mutex
	closed bool
}

// NewNotifier creates the in-process bus and, if cfg.Enabled, a NATS
// publisher. With cfg.Embedded the publisher targets a NATS server started
// in process on the loopback interface. Handlers must be added before Run.
func NewNotifier(cfg *config.NATSConfig) (*Notifier, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())

	topic := DefaultTopic
	if cfg != nil && cfg.Topic != "" {
		topic = cfg.Topic
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	n := &Notifier{
		topic:  topic,
		logger: logger,
		local: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger),
		router: router,
	}

	if cfg != nil && cfg.Enabled {
		url := cfg.URL
		if cfg.Embedded {
			embedded, err := NewEmbeddedServer(embeddedHost, cfg.EmbeddedPort)
			if err != nil {
				_ = n.local.Close()
				return nil, err
			}
			n.embedded = embedded
			url = embedded.ClientURL()
			logging.Info().Str("url", url).Msg("Embedded NATS server started")
		}

		remote, err := newNATSPublisher(url, logger)
		if err != nil {
			if n.embedded != nil {
				n.embedded.Shutdown()
			}
			_ = n.local.Close()
			return nil, err
		}
		n.remote = remote
		n.remoteURL = url
		logging.Info().Str("url", url).Str("topic", topic).Msg("Publishing merge notifications to NATS")
	}
	return n, nil
}

const embeddedHost = "127.0.0.1"

// newNATSPublisher connects to core NATS. The connection retries in the
// background so a broker outage never blocks startup.
func newNATSPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("replaylog"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}

// Topic returns the topic notifications are published on.
func (n *Notifier) Topic() string { return n.topic }

// RemoteURL returns the NATS URL notifications are published to, or "" when
// NATS is disabled.
func (n *Notifier) RemoteURL() string { return n.remoteURL }

// AddHandler subscribes h to merge notifications.
func (n *Notifier) AddHandler(name string, h MergeHandler) {
	n.router.AddConsumerHandler(name, n.topic, n.local, func(msg *message.Message) error {
		var event models.HistoryMerged
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// Retrying cannot fix a payload; drop it.
			metrics.NotificationErrors.WithLabelValues("decode").Inc()
			logging.Error().Err(err).Str("handler", name).Str("message_id", msg.UUID).Msg("Dropping undecodable merge notification")
			return nil
		}
		if err := h(msg.Context(), event); err != nil {
			metrics.NotificationErrors.WithLabelValues("handle").Inc()
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// PublishMerged publishes event locally and, if configured, to NATS. A NATS
// failure is logged and reported but does not stop local delivery.
func (n *Notifier) PublishMerged(ctx context.Context, event models.HistoryMerged) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return errors.New("notifier is closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal merge notification: %w", err)
	}

	msgID := event.ID
	if msgID == "" {
		msgID = watermill.NewUUID()
	}

	msg := message.NewMessage(msgID, payload)
	msg.Metadata.Set("source", event.Source)
	if err := n.local.Publish(n.topic, msg); err != nil {
		metrics.NotificationErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish local notification: %w", err)
	}
	metrics.NotificationsPublished.WithLabelValues("local").Inc()

	if n.remote != nil {
		remoteMsg := message.NewMessage(msgID, payload)
		remoteMsg.Metadata.Set("source", event.Source)
		if err := n.remote.Publish(n.topic, remoteMsg); err != nil {
			metrics.NotificationErrors.WithLabelValues("publish").Inc()
			return fmt.Errorf("publish NATS notification: %w", err)
		}
		metrics.NotificationsPublished.WithLabelValues("nats").Inc()
	}
	return nil
}

// Run dispatches notifications until ctx is cancelled or Close is called.
func (n *Notifier) Run(ctx context.Context) error {
	return n.router.Run(ctx)
}

// Running is closed once handlers are subscribed.
func (n *Notifier) Running() chan struct{} {
	return n.router.Running()
}

// Close stops the router and releases publishers.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	var errs []error
	if err := n.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close router: %w", err))
	}
	if err := n.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local pubsub: %w", err))
	}
	if n.remote != nil {
		if err := n.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close NATS publisher: %w", err))
		}
	}
	if n.embedded != nil {
		n.embedded.Shutdown()
	}
	return errors.Join(errs...)
}
