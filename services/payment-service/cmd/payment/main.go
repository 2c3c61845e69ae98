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
	"github.com/you/tutorspool/pkg/config"
	"github.com/you/tutorspool/pkg/mq"
	"github.com/you/tutorspool/pkg/obs"
	"github.com/you/tutorspool/services/payment-service/internal/bookingcli"
	httpx "github.com/you/tutorspool/services/payment-service/internal/http"
	midtranscli "github.com/you/tutorspool/services/payment-service/internal/midtrans"
	omisecli "github.com/you/tutorspool/services/payment-service/internal/omise"
	paysvc "github.com/you/tutorspool/services/payment-service/internal/service"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	var cfg config.Payment
	must(0, config.Load(&cfg))

	shutdownTracer := must(obs.InitTracer("payment-service", cfg.OTelEnabled))
	defer func() { _ = shutdownTracer(context.Background()) }()

	omc := must(omisecli.NewOmiseClient(cfg.OmisePub, cfg.OmiseSec))

	// Midtrans is optional
	var mt paysvc.MidtransAPI
	if cfg.MidtransServerKey != "" {
		mt = midtranscli.NewGateway(cfg.MidtransServerKey, cfg.MidtransProduction)
		log.Println("[payment] midtrans enabled, production =", cfg.MidtransProduction)
	}

	pub := must(mq.NewPublisher(cfg.URL, cfg.PaymentExchange))
	defer pub.Close()

	signer := auth.NewSigner(cfg.JWTSecret)
	bookings := bookingcli.NewClient(cfg.BookingBaseURL, signer, time.Duration(cfg.BookingTimeoutSec)*time.Second)
	svc := paysvc.NewPaymentSvc(omisecli.NewGateway(omc), mt, bookings, pub)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(svc, signer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Println("[payment] http listening on", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	shutCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutCtx)
	log.Println("[payment] stopped")
}
