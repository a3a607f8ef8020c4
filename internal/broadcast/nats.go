package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds connection settings for the NATS event bus.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// publisher is the subset of *nats.Conn used for publishing.
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSBroadcaster publishes events as JSON on "<prefix>.<kind>".
type NATSBroadcaster struct {
	conn   publisher
	prefix string
}

func NewNATSBroadcaster(conn publisher, prefix string) *NATSBroadcaster {
	if prefix == "" {
		prefix = "weather"
	}
	return &NATSBroadcaster{conn: conn, prefix: prefix}
}

// Subject returns the subject an event kind is published on.
func (b *NATSBroadcaster) Subject(kind Kind) string {
	return fmt.Sprintf("%s.%s", b.prefix, kind)
}

func (b *NATSBroadcaster) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.conn.Publish(b.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// ConnectNATS opens the connection with reconnect handling.
func ConnectNATS(cfg NATSConfig, log *zap.SugaredLogger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnw("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Infow("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return nc, nil
}
