package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DialNATS connects to url, retrying while the server comes up.
func DialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("flowchain"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATS publishes and subscribes over core NATS subjects derived from topics.
type NATS struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATS wraps an open connection. Close closes it.
func NewNATS(nc *nats.Conn, logger *zap.Logger) *NATS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{nc: nc, logger: logger}
}

func (n *NATS) Publish(ctx context.Context, topic string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.nc.Publish(Subject(topic), msg); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, 16)
	sub, err := n.nc.ChanSubscribe(Subject(topic), msgs)
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe %s: %w", topic, err)
	}
	// Make sure the server registered the interest before returning.
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", topic, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				n.logger.Debug("nats unsubscribe", zap.String("topic", topic), zap.Error(err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				select {
				case out <- m.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}
