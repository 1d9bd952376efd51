// Package realtime carries flow UI change events from the server to every
// client watching a work request. Events are hints to refetch; nothing is
// stored or replayed.
package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/meikuraledutech/flowchain"
)

// ErrUnavailable is returned by Disabled for every subscription.
var ErrUnavailable = errors.New("realtime: broker not configured")

// Subscriber delivers messages published on a topic until ctx is done,
// then closes the returned channel.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// Broker is a transport that can both publish and subscribe.
type Broker interface {
	flowchain.Publisher
	Subscriber
	Close() error
}

// Subject maps a slash separated topic onto a NATS subject,
// e.g. "work-requests/15/flow-ui" -> "work-requests.15.flow-ui".
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Disabled is the broker used when no transport is configured. Publishing
// succeeds silently and subscribing fails with ErrUnavailable.
type Disabled struct{}

func (Disabled) Publish(context.Context, string, []byte) error { return nil }

func (Disabled) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, ErrUnavailable
}

func (Disabled) Close() error { return nil }
