/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/898djh/scalewave/internal/config"
	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/logging"
	"github.com/898djh/scalewave/internal/metrics"
	"github.com/898djh/scalewave/internal/metricsadapter"
	"github.com/898djh/scalewave/internal/observer"
	"github.com/898djh/scalewave/internal/platform"
	"github.com/898djh/scalewave/internal/scheduler"
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Run the Observer tick loop until interrupted",
	RunE:  runObserve,
}

func runObserve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.NewProcessLogger(devMode)
	ctx := logging.IntoContext(cmd.Context(), log)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := metrics.Init(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	go serveMetrics(ctx, log)

	metricsAdapter, err := metricsadapter.New(cfg.PrometheusURL, cfg.ObserverWindow.String(), cfg.MasterNodeInstance, domain.DefaultClusterCapacityBenchmarks())
	if err != nil {
		return fmt.Errorf("constructing metrics adapter: %w", err)
	}

	stateCache, closeCache := newStateCache(cfg)
	defer closeCache()

	deps := observer.Deps{
		Platform:                platform.New(cfg.Namespace, cfg.GPURevisionMarker),
		Metrics:                 metricsAdapter,
		Cache:                   stateCache,
		Emitter:                 metrics.NewEmitter(),
		Namespace:               cfg.Namespace,
		TargetConcurrencyPerPod: cfg.TargetConcurrencyPerPod,
		RegressionThreshold:     cfg.RegressionThreshold,
		PanicFactor:             cfg.PanicFactor,
		GPUDampingDivisor:       cfg.GPUDampingDivisor,
		AdjustmentFactor:        cfg.AdjustmentFactor,
		GPUNodeName:             cfg.GPUNodeName,
		OptimizerSettleDelay:    cfg.OptimizerSettleDelay,
	}
	deps.Scheduler = scheduler.New(deps.Cache)

	log.Info("observer: starting tick loop", "panic_timer", cfg.PanicTimer, "stable_timer", cfg.StableTimer)

	timer := cfg.StableTimer
	for {
		select {
		case <-ctx.Done():
			log.Info("observer: shutting down")
			return nil
		case <-time.After(timer):
		}

		if observer.Tick(ctx, deps) {
			timer = cfg.PanicTimer
		} else {
			timer = cfg.StableTimer
		}
	}
}

// serveMetrics runs the Prometheus /metrics endpoint until ctx is
// cancelled, the promhttp.Handler idiom used across the example pack's
// standalone services.
func serveMetrics(ctx context.Context, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "observer: metrics server failed")
	}
}
