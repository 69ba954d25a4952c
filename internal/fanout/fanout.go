// Package fanout implements the best-effort broadcast half of both
// external-adapter contracts that share one underlying broker in this
// deployment: the fast KV store's pub/sub operations and the
// subscriber fan-out contract's trades:<instrument> / orders:<instrument>
// / orderbook:<instrument> channels (spec.md §6). Both are specified as
// no-durability, no-replay, so one in-process watermill gochannel
// broker serves both — exactly as a single Redis instance would serve
// a production deployment's KV and PUBLISH/SUBSCRIBE surface at once.
package fanout

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Bus is a best-effort, non-durable publish/subscribe broker.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

// New creates a Bus, grounded on the teacher's
// internal/architecture/cqrs/eventbus/watermill_adapter.go gochannel
// configuration, with Persistent left false: late subscribers never
// see history, matching "no replay" (spec.md §6).
func New(logger *zap.Logger) *Bus {
	wmLogger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          false,
	}, wmLogger)
	return &Bus{pubsub: pubsub, logger: logger}
}

// Publish fires payload on channel. Errors are logged and swallowed —
// fan-out delivery is best-effort by contract (spec.md §6).
func (b *Bus) Publish(channel string, payload []byte) {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(channel, msg); err != nil {
		b.logger.Warn("fanout publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribe returns the channel's message stream. Closing ctx stops
// the subscription.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, channel)
}

// Close releases broker resources.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
