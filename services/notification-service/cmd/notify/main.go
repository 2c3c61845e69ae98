package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/you/tutorspool/pkg/config"
	"github.com/you/tutorspool/pkg/mq"
	"github.com/you/tutorspool/services/notification-service/internal/notifier"
	"github.com/you/tutorspool/services/notification-service/internal/worker"
)

func main() {
	var cfg config.Notification
	if err := config.Load(&cfg); err != nil {
		log.Fatal(err)
	}
	mqCfg := mq.ConsumerConfig{
		URL:       cfg.RabbitURL,
		Exchanges: config.SplitCSV(cfg.Exchanges),
		Queue:     cfg.Queue,
		Bindings:  config.SplitCSV(cfg.Bindings),
		Prefetch:  16,
		DLX:       cfg.DLX,
		DLQ:       cfg.DLQ,
		Tag:       "notification-service",
	}

	var src *mq.Consumer
	for {
		c, err := mq.NewConsumer(mqCfg)
		if err != nil {
			log.Printf("[notify] connect failed: %v; retry in 2s", err)
			time.Sleep(2 * time.Second)
			continue
		}
		src = c
		break
	}
	defer src.Close()

	cons := worker.NewConsumer(src, notifier.NewConsole())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := cons.Run(ctx); err != nil {
			log.Printf("[notify] run error: %v", err)
		}
	}()

	log.Printf("[notify] started. queue=%s exchanges=%v bindings=%v",
		mqCfg.Queue, mqCfg.Exchanges, mqCfg.Bindings)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	time.Sleep(200 * time.Millisecond)
}
