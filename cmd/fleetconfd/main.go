package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetconf/fleetconf/core/catalog"
	"github.com/fleetconf/fleetconf/core/gateway"
	"github.com/fleetconf/fleetconf/core/infra/buildinfo"
	"github.com/fleetconf/fleetconf/core/infra/bus"
	"github.com/fleetconf/fleetconf/core/infra/config"
	infraMetrics "github.com/fleetconf/fleetconf/core/infra/metrics"
	"github.com/fleetconf/fleetconf/core/staleness"
	"github.com/fleetconf/fleetconf/core/store"
)

func main() {
	log.Println("fleetconfd starting...")
	buildinfo.Log("fleetconfd")

	cfg := config.Load()

	stackCatalog, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("failed to load stack catalog (%s): %v", cfg.CatalogPath, err)
	}
	log.Printf("loaded stack catalog %s", stackCatalog.Stack())

	clusterStore, err := store.NewClusterStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for cluster state: %v", err)
	}
	defer clusterStore.Close()

	componentStore, err := store.NewComponentStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis for component state: %v", err)
	}
	defer componentStore.Close()

	staleMetrics := infraMetrics.NewProm("fleetconf")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("metrics on %s/metrics", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	evaluator := staleness.NewEvaluator(clusterStore, stackCatalog, componentStore)
	cache := staleness.NewCache(evaluator, cfg.StaleCacheEnabled, cfg.StaleCacheTTL).
		WithMetrics(staleMetrics)

	var events bus.Bus
	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		log.Printf("invalidation bus disabled: failed to connect to NATS: %v", err)
	} else {
		defer natsBus.Close()
		events = natsBus
	}

	srv := gateway.New(clusterStore, cache, events, infraMetrics.NewGatewayProm("fleetconf_gateway"))
	if err := srv.Start(); err != nil {
		log.Fatalf("failed to subscribe to invalidation events: %v", err)
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("api on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	log.Println("fleetconfd running. waiting for signals...")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("fleetconfd shutting down")
	gracefulShutdown(10*time.Second, httpSrv, metricsSrv)
}

// gracefulShutdown stops the listeners, letting in-flight requests drain
// within the timeout.
func gracefulShutdown(timeout time.Duration, servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}
}
