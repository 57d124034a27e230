package app

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openshelf/library-service/config"
	"github.com/openshelf/library-service/internal/handler"
	"github.com/openshelf/library-service/internal/repository"
	"github.com/openshelf/library-service/internal/server"
	"github.com/openshelf/library-service/internal/service/borrowing"
	"github.com/openshelf/library-service/internal/service/catalog"
	"github.com/openshelf/library-service/internal/service/circulation"
	"github.com/openshelf/library-service/internal/service/fines"
	"github.com/openshelf/library-service/internal/service/inventory"
	"github.com/openshelf/library-service/internal/service/notifier"
	"github.com/openshelf/library-service/internal/service/reservations"
	"github.com/openshelf/library-service/internal/service/users"
	"github.com/openshelf/library-service/migrations"
	"github.com/openshelf/library-service/pkg/circuitbreaker"
	"github.com/openshelf/library-service/pkg/kafka"
	"github.com/openshelf/library-service/pkg/logger"
	"github.com/openshelf/library-service/pkg/postgres"
)

const (
	expireSweepEvery  = time.Minute
	reminderScanEvery = time.Hour
)

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "library")
	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		log.Fatal("db init", zap.Error(err))
	}
	defer db.Close()
	repo, err := repository.NewRepository(db, log)
	if err != nil {
		log.Fatal("repo", zap.Error(err))
	}

	policy := cfg.Lending.Policy()

	// A missing broker degrades notifications, never the lifecycle.
	var enq notifier.Enqueuer
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Warn("kafka producer unavailable, notifications disabled", zap.Error(err))
	} else {
		cb := circuitbreaker.New(10, time.Second*30, 0.5, 3)
		enq = notifier.NewEnqueuer(producer, cb)
	}

	notifierSvc := notifier.NewService(enq, log.Named("notifier"))
	inventorySvc := inventory.NewService(repo, log.Named("inventory"))
	circulationSvc := circulation.NewService(repo, policy, log.Named("circulation"))
	finesSvc := fines.NewService(repo, log.Named("fines"))
	reservationSvc := reservations.NewService(repo, policy, log.Named("reservations"))
	borrowingSvc := borrowing.NewService(repo, policy, inventorySvc, circulationSvc, finesSvc, reservationSvc, notifierSvc, log.Named("borrowing"))
	catalogSvc := catalog.NewService(repo, log.Named("catalog"))
	usersSvc := users.NewService(repo, cfg.Auth, log.Named("users"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	h := handler.New(usersSvc, catalogSvc, inventorySvc, borrowingSvc, circulationSvc, finesSvc, reservationSvc, cfg.Auth, log)
	srv := server.NewServer(cfg.Server, h.NewRouter())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server start ON: ",
			zap.String("addr",
				net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
		return srv.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		return srv.Stop(closeCtx)
	})

	if enq != nil {
		consumer, err := kafka.NewConsumer(cfg.Kafka, kafka.NotifierConsumerGroup)
		if err != nil {
			log.Warn("kafka consumer unavailable", zap.Error(err))
		} else {
			g.Go(func() error {
				defer consumer.Close()
				kafka.Consume(gctx, consumer, notifier.NewConsumer(nil, log), log, kafka.NotificationsTopic)
				return nil
			})
		}
	}

	g.Go(func() error {
		notifierSvc.RunReminderScan(gctx, repo, time.Duration(policy.ReminderDays)*24*time.Hour, reminderScanEvery)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(expireSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n, err := reservationSvc.AutoExpire(gctx); err != nil {
					log.Error("reservation sweep", zap.Error(err))
				} else if n > 0 {
					log.Info("reservations expired", zap.Int("count", n))
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("Graceful shutdown finished")
}
