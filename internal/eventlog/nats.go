package eventlog

import (
	"context"
	"fmt"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
)

// NatsLog is the production event log driver: NATS JetStream via
// watermill-nats, grounded on the teacher's
// internal/architecture/fx/eventbus_adapters.go NewNatsEventBus wiring
// (there hand-rolled over raw nats.go/JetStreamContext; here delegated
// to the watermill-nats publisher so it shares the Log interface with
// GoChannelLog).
type NatsLog struct {
	publisher *wmnats.Publisher
}

// NatsConfig configures the NATS event log driver.
type NatsConfig struct {
	URLs []string
}

// NewNatsLog connects to NATS and configures a JetStream-backed
// publisher.
func NewNatsLog(cfg NatsConfig) (*NatsLog, error) {
	url := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		url = cfg.URLs[0]
	}
	publisher, err := wmnats.NewPublisher(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: []nats.Option{nats.Name("matching-core-eventlog")},
			Marshaler:   &wmnats.NATSMarshaler{},
			JetStream: wmnats.JetStreamConfig{
				Disabled: false,
			},
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: connect nats: %w", err)
	}
	return &NatsLog{publisher: publisher}, nil
}

func (l *NatsLog) Publish(_ context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return l.publisher.Publish(topic, msg)
}

func (l *NatsLog) Close() error {
	return l.publisher.Close()
}
