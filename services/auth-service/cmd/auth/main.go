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
	"github.com/you/tutorspool/pkg/db"
	"github.com/you/tutorspool/pkg/obs"
	httpx "github.com/you/tutorspool/services/auth-service/internal/http"
	"github.com/you/tutorspool/services/auth-service/internal/repository"
	"github.com/you/tutorspool/services/auth-service/internal/service"
)

func main() {
	var cfg config.Auth
	if err := config.Load(&cfg); err != nil {
		log.Fatal(err)
	}
	shutdownTracer, err := obs.InitTracer("auth-service", cfg.OTelEnabled)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	gdb := db.Open(cfg.PGAuthDSN)
	repo := repository.NewUserRepo(gdb)
	if err := repo.Migrate(); err != nil {
		log.Fatal(err)
	}
	signer := auth.NewSigner(cfg.JWTSecret)
	svc := service.NewAuthSvc(repo, signer,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTTLHours)*time.Hour)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(svc, signer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[auth] http on %s", cfg.HTTPAddr)
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
}
