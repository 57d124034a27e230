package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	NotificationsTopic = "library.notifications"

	NotifierConsumerGroup = "notifier"
)

// Event is the payload published to NotificationsTopic whenever the
// borrowing lifecycle produces a fact a borrower should hear about.
type Event struct {
	Type     string    `json:"type"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	BookUid  string    `json:"bookUid,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

const (
	EventLoanIssued           = "loan.issued"
	EventLoanReturned         = "loan.returned"
	EventLoanReminder         = "loan.reminder"
	EventLoanOverdue          = "loan.overdue"
	EventFineAssessed         = "fine.assessed"
	EventReservationAvailable = "reservation.available"
)

type Config struct {
	Addrs []string `envconfig:"KAFKA_ADDRS" default:"localhost:9092"`
}

func NewProducer(cfg Config) (sarama.SyncProducer, error) {
	defaultCfg := sarama.NewConfig()

	defaultCfg.Producer.RequiredAcks = sarama.WaitForAll
	defaultCfg.Producer.Return.Successes = true

	return sarama.NewSyncProducer(cfg.Addrs, defaultCfg)
}

func NewConsumer(cfg Config, group string) (sarama.ConsumerGroup, error) {
	defaultCfg := sarama.NewConfig()
	defaultCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	return sarama.NewConsumerGroup(cfg.Addrs, group, defaultCfg)
}

// Consume runs the consumer group loop until ctx is cancelled.
// Consume must be re-called after a rebalance, hence the loop.
func Consume(ctx context.Context, group sarama.ConsumerGroup, handler sarama.ConsumerGroupHandler, log *zap.Logger, topics ...string) {
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			log.Error("consumer group", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
