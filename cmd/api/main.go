package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/billno"
	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var store orders.Store
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Println("[api] using in-memory store with demo data")
		store = memstore.NewSeeded()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresConns)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		store = &orders.Repo{DB: db}
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.New(reg)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicBillLifecycle, 1024)
	prod.Start(ctx)

	ctrl := orders.NewController(store)
	ctrl.Service = cfg.ServiceName
	ctrl.Events = prod
	ctrl.Metrics = mc
	ctrl.Bills = &billno.Generator{Source: store, Attempts: cfg.BillAttempts, OnRetry: mc.BillNumberRetry}

	h := &httpx.BillsHandler{Ctrl: ctrl, Timeout: cfg.RequestTimeout}

	// Redis is optional: without it checkout has no idempotency keys and
	// bill views are not cached.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb, 2*time.Second); err != nil {
		log.Printf("[api] WARN: redis %s unavailable, idempotency and cache off: %v", cfg.RedisAddr, err)
	} else {
		h.Idem = &redisx.Idempotency{R: rdb}
		h.Cache = &redisx.BillCache{R: rdb}
	}

	router := httpx.NewRouter()
	if cfg.PrometheusEnabled {
		router.Handle("/metrics", mc.Handler())
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening at %s (store=%s)", cfg.HTTPAddr, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Printf("[api] exit: %v", err)
	}
	prod.Close()
}
