package main

import (
	"time"

	"go.uber.org/zap"

	"mailsync/config"
	mqcontracts "mailsync/contracts/mq"
	"mailsync/internal/mqhandler"
	"mailsync/internal/remote"
	"mailsync/pkg/logger"
	"mailsync/pkg/mq"
	"mailsync/pkg/redisclient"
	"mailsync/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting worker service...")

	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)
	retries := util.NewRetryCounter(rdb, time.Hour)

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	dlqKeys := []string{
		mqcontracts.RoutingMarkRead,
		mqcontracts.RoutingMarkUnread,
		mqcontracts.RoutingLabelAdd,
		mqcontracts.RoutingLabelRemove,
		"conversation.malformed",
	}
	if err := publisher.SetupDLQ(dlqKeys); err != nil {
		log.Fatal("failed to set up DLQ", zap.Error(err))
	}

	client := remote.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Rate, log)
	handler := mqhandler.NewLabelOpHandler(client, deduper, retries, publisher, log)

	routes := []struct {
		queue      string
		routingKey string
	}{
		{"conversation.mark_read.q", mqcontracts.RoutingMarkRead},
		{"conversation.mark_unread.q", mqcontracts.RoutingMarkUnread},
		{"conversation.label_add.q", mqcontracts.RoutingLabelAdd},
		{"conversation.label_remove.q", mqcontracts.RoutingLabelRemove},
	}

	for _, route := range routes {
		log.Info("Initializing consumer", zap.String("queue", route.queue))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, route.queue, route.routingKey, log)
		if err != nil {
			log.Fatal("failed to init consumer",
				zap.String("queue", route.queue),
				zap.Error(err),
			)
		}
		consumer.SetHandler(handler.Handle)
		go func(c *mq.Consumer, queue string) {
			if err := c.StartConsuming(); err != nil {
				log.Fatal("consumer failed", zap.String("queue", queue), zap.Error(err))
			}
		}(consumer, route.queue)
		defer consumer.Close()
	}

	log.Info("All consumers started, worker is ready to process operations")

	// Keep worker running
	select {}
}
