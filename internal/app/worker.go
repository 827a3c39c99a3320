package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/queue/rabbitmq"
)

// RunWorker consumes dispatch notifications from RabbitMQ and runs a pipeline
// tick for each one
func RunWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logrus.Info("Starting Resume Mail Import Worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := Build(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.Rabbit.URL, cfg.Rabbit.Queue)
	if err != nil {
		return fmt.Errorf("failed to create dispatch consumer: %w", err)
	}
	defer consumer.Close()

	return consumer.Start(ctx, func(ctx context.Context, msg rabbitmq.DispatchMessage) error {
		logrus.WithField("run_id", msg.RunID).Debug("Dispatch notification received")
		return c.Pipeline.Tick(ctx)
	})
}
