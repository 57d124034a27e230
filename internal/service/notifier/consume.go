package notifier

import (
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/pkg/kafka"
)

// Consumer drains the notifications topic and hands each event to the
// delivery hook. The default hook just logs; real email delivery lives
// outside this service.
type Consumer struct {
	deliver func(event kafka.Event) error
	log     *zap.Logger
	ready   chan bool
}

func NewConsumer(deliver func(event kafka.Event) error, log *zap.Logger) *Consumer {
	c := &Consumer{
		deliver: deliver,
		log:     log.Named("consumer"),
		ready:   make(chan bool),
	}
	if c.deliver == nil {
		c.deliver = func(event kafka.Event) error {
			c.log.Info("notification delivered",
				zap.String("type", event.Type),
				zap.String("username", event.Username),
				zap.String("message", event.Message),
			)
			return nil
		}
	}
	return c
}

func (consumer *Consumer) Setup(sarama.ConsumerGroupSession) error {
	// Mark the consumer as ready
	close(consumer.ready)
	return nil
}

func (consumer *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (consumer *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				consumer.log.Warn("message channel was closed")
				return nil
			}
			var event kafka.Event
			if err := json.Unmarshal(message.Value, &event); err != nil {
				consumer.log.Error("unmarshal event", zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}

			if err := consumer.deliver(event); err != nil {
				consumer.log.Error("deliver notification", zap.Error(err))
				continue
			}

			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
