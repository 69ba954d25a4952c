package eventlog

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// GoChannelLog is the default/dev-mode event log driver: an in-process
// watermill gochannel pub/sub, grounded on the teacher's
// internal/architecture/cqrs/eventbus/watermill_adapter.go. Persistent
// is true here (unlike internal/fanout, which is a separate,
// explicitly non-durable contract) so a consumer subscribing after a
// publish within the process lifetime still observes it.
type GoChannelLog struct {
	pubsub *gochannel.GoChannel
}

// NewGoChannelLog creates a GoChannelLog.
func NewGoChannelLog() *GoChannelLog {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1000,
		Persistent:          true,
	}, watermill.NopLogger{})
	return &GoChannelLog{pubsub: pubsub}
}

func (l *GoChannelLog) Publish(_ context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return l.pubsub.Publish(topic, msg)
}

func (l *GoChannelLog) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return l.pubsub.Subscribe(ctx, topic)
}

func (l *GoChannelLog) Close() error {
	return l.pubsub.Close()
}
