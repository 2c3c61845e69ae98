package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/you/tutorspool/pkg/auth"
	"github.com/you/tutorspool/pkg/clock"
	"github.com/you/tutorspool/pkg/config"
	"github.com/you/tutorspool/pkg/db"
	"github.com/you/tutorspool/pkg/events"
	"github.com/you/tutorspool/pkg/mq"
	"github.com/you/tutorspool/pkg/obs"
	cons "github.com/you/tutorspool/services/booking-service/internal/consumer"
	"github.com/you/tutorspool/services/booking-service/internal/domain"
	httpx "github.com/you/tutorspool/services/booking-service/internal/http"
	"github.com/you/tutorspool/services/booking-service/internal/meeting"
	"github.com/you/tutorspool/services/booking-service/internal/repository"
	"github.com/you/tutorspool/services/booking-service/internal/scheduler"
	"github.com/you/tutorspool/services/booking-service/internal/service"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	var cfg config.Booking
	must(0, config.Load(&cfg))
	scope := must(domain.ParseConflictScope(cfg.ConflictScope))

	shutdownTracer := must(obs.InitTracer("booking-service", cfg.OTelEnabled))
	defer func() { _ = shutdownTracer(context.Background()) }()

	// DB
	gdb := db.Open(cfg.PGBookingDSN)
	repo := repository.NewBookingRepo(gdb)
	must(0, repo.Migrate())
	avail := repository.NewAvailabilityRepo(gdb)

	// booking.* and meeting.* events
	pub := must(mq.NewPublisher(cfg.URL, cfg.BookingExchange))
	defer pub.Close()

	meetings := meeting.NewClient(cfg.MeetingBaseURL, cfg.MeetingToken, time.Duration(cfg.MeetingTimeoutSec)*time.Second)
	svc := service.NewBookingSvc(repo, avail, pub, meetings, clock.System(), service.Options{
		Scope:              scope,
		MeetingMaxAttempts: cfg.MeetingMaxAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	paymentCons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL:       cfg.URL,
		Exchanges: []string{cfg.PaymentExchange},
		Queue:     cfg.PaymentQueue,
		Bindings:  []string{events.RKPaymentSucceeded, events.RKPaymentFailed, events.RKPaymentRefunded},
		DLX:       cfg.DLX,
		DLQ:       cfg.DLQ,
		Tag:       "booking-payment",
	}))
	defer paymentCons.Close()
	must(0, cons.NewPaymentConsumer(svc, paymentCons).Run(ctx))
	log.Println("[booking] consumer started (payment.*)")

	meetingCons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL:       cfg.URL,
		Exchanges: []string{cfg.BookingExchange},
		Queue:     cfg.MeetingQueue,
		Bindings:  []string{events.RKMeetingProvision},
		Prefetch:  1,
		DLX:       cfg.DLX,
		DLQ:       cfg.DLQ,
		Tag:       "booking-meeting",
	}))
	defer meetingCons.Close()
	must(0, cons.NewMeetingConsumer(svc, meetingCons).Run(ctx))
	log.Println("[booking] consumer started (meeting.provision)")

	sweeper := must(scheduler.StartCompletionSweeper(svc, cfg.CompletionCron))
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(svc, auth.NewSigner(cfg.JWTSecret), config.SplitCSV(cfg.CORSOrigins)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Println("[booking] http listening on", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
	shutCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutCtx)
	log.Println("[booking] stopped")
}
