package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/stockwatch"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for stock alerts
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockLow, 256)
	prod.Start(ctx)

	reg := prometheus.NewRegistry()
	mc := metrics.New(reg)

	name := cfg.ServiceName + "-stockwatch"
	svc := &stockwatch.Service{
		Products:    &orders.Repo{DB: db},
		Alerts:      &redisx.StockAlerts{R: rdb, Service: name},
		Events:      prod,
		ServiceName: name,
		OnLow:       mc.StockLow,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.StockwatchGroup, orders.TopicBillLifecycle, cfg.StockwatchWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("stockwatch consumer started: group=%s topic=%s workers=%d", cfg.StockwatchGroup, orders.TopicBillLifecycle, cfg.StockwatchWorkers)
		return cons.Start(gctx, svc.HandleBillEvent)
	})
	if cfg.PrometheusEnabled {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mc.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("consumer exit: %v", err)
	}
	log.Println("shutting down consumer...")
	prod.Close()
}
