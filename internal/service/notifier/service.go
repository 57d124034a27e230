// Package notifier fans borrowing-lifecycle facts out to the
// notifications topic. Delivery failures are logged, never surfaced to
// the operation that produced the fact.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/pkg/circuitbreaker"
	"github.com/openshelf/library-service/pkg/kafka"
)

type Enqueuer interface {
	Enqueue(topic string, v any) error
}

type enqueuerImpl struct {
	producer sarama.SyncProducer
	cb       circuitbreaker.CircuitBreaker
}

// NewEnqueuer wraps the sync producer with a circuit breaker so a
// broker outage degrades to fast failures instead of stalling returns.
func NewEnqueuer(producer sarama.SyncProducer, cb circuitbreaker.CircuitBreaker) Enqueuer {
	return &enqueuerImpl{
		producer: producer,
		cb:       cb,
	}
}

func (q *enqueuerImpl) Enqueue(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return q.cb.Call(func() error {
		msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.StringEncoder(data)}
		_, _, err := q.producer.SendMessage(msg)
		return err
	})
}

type Service struct {
	log *zap.Logger
	enq Enqueuer
}

// NewService accepts a nil enqueuer; events are then dropped, which
// keeps the lifecycle usable without a broker.
func NewService(enq Enqueuer, log *zap.Logger) *Service {
	return &Service{
		log: log,
		enq: enq,
	}
}

func (s *Service) emit(event kafka.Event) {
	if s.enq == nil {
		return
	}
	event.At = time.Now()
	if err := s.enq.Enqueue(kafka.NotificationsTopic, event); err != nil {
		s.log.Error("enqueue notification", zap.String("type", event.Type), zap.Error(err))
	}
}

func (s *Service) LoanIssued(loan model.Loan) {
	s.emit(kafka.Event{
		Type:     kafka.EventLoanIssued,
		Username: loan.Username,
		BookUid:  loan.BookUid,
		Message:  fmt.Sprintf("%q is due back on %s", loan.BookTitle, loan.DueDate.Format(time.DateOnly)),
	})
}

func (s *Service) LoanReturned(loan model.Loan) {
	s.emit(kafka.Event{
		Type:     kafka.EventLoanReturned,
		Username: loan.Username,
		BookUid:  loan.BookUid,
		Message:  fmt.Sprintf("thanks for returning %q", loan.BookTitle),
	})
}

func (s *Service) FineAssessed(fine model.Fine) {
	s.emit(kafka.Event{
		Type:     kafka.EventFineAssessed,
		Username: fine.Username,
		Message:  fmt.Sprintf("a fine of %s is pending (%s)", fine.Amount.StringFixed(2), fine.Reason),
	})
}

func (s *Service) ReservationAvailable(rsv model.Reservation) {
	s.emit(kafka.Event{
		Type:     kafka.EventReservationAvailable,
		Username: rsv.Username,
		BookUid:  rsv.BookUid,
		Message:  fmt.Sprintf("%q is now available, you are next in line", rsv.BookTitle),
	})
}

func (s *Service) LoanReminder(loan model.Loan, overdue bool) {
	typ := kafka.EventLoanReminder
	msg := fmt.Sprintf("%q is due on %s", loan.BookTitle, loan.DueDate.Format(time.DateOnly))
	if overdue {
		typ = kafka.EventLoanOverdue
		msg = fmt.Sprintf("%q was due on %s, please return it", loan.BookTitle, loan.DueDate.Format(time.DateOnly))
	}
	s.emit(kafka.Event{
		Type:     typ,
		Username: loan.Username,
		BookUid:  loan.BookUid,
		Message:  msg,
	})
}

type LoanScanner interface {
	ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Loan, error)
}

// RunReminderScan periodically scans open loans around their due date
// and emits reminder/overdue events. It only reads the overdue
// predicate; loan state is never mutated here.
func (s *Service) RunReminderScan(ctx context.Context, loans LoanScanner, window time.Duration, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			dueSoon, err := loans.ListDueBetween(ctx, now, now.Add(window))
			if err != nil {
				s.log.Error("reminder scan", zap.Error(err))
				continue
			}
			for _, loan := range dueSoon {
				s.LoanReminder(loan, false)
			}
			overdue, err := loans.ListDueBetween(ctx, time.Time{}, now)
			if err != nil {
				s.log.Error("overdue scan", zap.Error(err))
				continue
			}
			for _, loan := range overdue {
				s.LoanReminder(loan, true)
			}
		}
	}
}
