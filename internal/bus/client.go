// Package bus wraps the NATS connection shared by Core and its agents:
// durable JetStream publishing for event subjects, ephemeral pub/sub for
// everything else, queue-group subscriptions, and mTLS transport when agent
// certificates are available.
package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Handler processes one bus message
type Handler func(subject string, data []byte)

// Options configures a Client
type Options struct {
	URL  string
	Name string

	// mTLS material; all three must be set to enable TLS
	CertFile string
	KeyFile  string
	CAFile   string

	// ReconnectBufBytes bounds the outbound buffer held while disconnected.
	// Buffered messages flush in order on reconnect. Zero means the default
	// (8 MiB).
	ReconnectBufBytes int
}

// Client is a thin connection wrapper. Every subscription callback runs
// behind a recover so one malformed message can never kill a worker.
type Client struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log zerolog.Logger
}

// Connect dials the server and ensures the durable event stream exists
func Connect(opts Options, log zerolog.Logger) (*Client, error) {
	l := log.With().Str("component", "bus").Logger()

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn().Err(err).Msg("Bus disconnected, buffering outbound messages")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info().Str("url", nc.ConnectedUrl()).Msg("Bus reconnected")
		}),
	}
	if opts.ReconnectBufBytes > 0 {
		natsOpts = append(natsOpts, nats.ReconnectBufSize(opts.ReconnectBufBytes))
	}
	if opts.CertFile != "" && opts.KeyFile != "" && opts.CAFile != "" {
		natsOpts = append(natsOpts,
			nats.ClientCert(opts.CertFile, opts.KeyFile),
			nats.RootCAs(opts.CAFile),
		)
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	c := &Client{nc: nc, js: js, log: l}
	if err := c.ensureEventStream(); err != nil {
		l.Warn().Err(err).Msg("Could not ensure event stream; durable publish degraded to core NATS")
	}

	l.Info().Str("url", opts.URL).Msg("Connected to bus")
	return c, nil
}

// ensureEventStream idempotently creates the stream backing events.>
func (c *Client) ensureEventStream() error {
	_, err := c.js.StreamInfo(EventStreamName)
	if err == nil {
		return nil
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      EventStreamName,
		Subjects:  []string{SubjectEventsWildcard},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", EventStreamName, err)
	}
	return nil
}

// PublishDurable publishes on a stream-backed subject and waits for the
// server ack. Falls back to a plain publish when JetStream is unavailable.
func (c *Client) PublishDurable(subject string, data []byte) error {
	if _, err := c.js.Publish(subject, data); err != nil {
		if pubErr := c.nc.Publish(subject, data); pubErr != nil {
			return fmt.Errorf("publish %s: %w", subject, pubErr)
		}
		c.log.Debug().Err(err).Str("subject", subject).Msg("JetStream ack unavailable, published fire-and-forget")
	}
	return nil
}

// Publish is fire-and-forget for ephemeral subjects
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers an ephemeral subscription
func (c *Client) Subscribe(subject string, handler Handler) error {
	_, err := c.nc.Subscribe(subject, c.wrap(subject, handler))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.log.Info().Str("subject", subject).Msg("Subscribed")
	return nil
}

// QueueSubscribe registers a load-balanced subscription: messages on subject
// are partitioned across the members of queue.
func (c *Client) QueueSubscribe(subject, queue string, handler Handler) error {
	_, err := c.nc.QueueSubscribe(subject, queue, c.wrap(subject, handler))
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	c.log.Info().Str("subject", subject).Str("queue", queue).Msg("Subscribed")
	return nil
}

// wrap shields the subscription from handler panics; a poison message is
// logged with its subject and dropped so the subscription stays alive.
func (c *Client) wrap(subject string, handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().
					Str("subject", msg.Subject).
					Interface("panic", r).
					Msg("Recovered from handler panic, message dropped")
			}
		}()
		handler(msg.Subject, msg.Data)
	}
}

// IsConnected reports the current connection state
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Drain stops accepting new messages, lets in-flight handlers finish, then
// closes the connection. Used on shutdown.
func (c *Client) Drain() error {
	if c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	if err := c.nc.Drain(); err != nil && !strings.Contains(err.Error(), "connection closed") {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// Close force-closes the connection
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
