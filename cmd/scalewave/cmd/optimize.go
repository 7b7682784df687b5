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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/898djh/scalewave/internal/config"
	"github.com/898djh/scalewave/internal/domain"
	"github.com/898djh/scalewave/internal/logging"
	"github.com/898djh/scalewave/internal/metrics"
	"github.com/898djh/scalewave/internal/optimizer"
	"github.com/898djh/scalewave/internal/platform"
	"github.com/898djh/scalewave/internal/utils"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize <service>",
	Short: "Run one Optimizer pass for a service immediately, bypassing the Observer's regression trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  runOptimize,
}

func runOptimize(cmd *cobra.Command, args []string) error {
	serviceName := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.NewProcessLogger(devMode)
	ctx := logging.IntoContext(cmd.Context(), log)

	platformAdapter := platform.New(cfg.Namespace, cfg.GPURevisionMarker)
	stateCache, closeCache := newStateCache(cfg)
	defer closeCache()

	services, err := utils.DiscoverServices(ctx, platformAdapter)
	if err != nil {
		return fmt.Errorf("discovering services: %w", err)
	}

	var (
		svc   domain.Service
		found bool
	)
	for _, s := range services {
		if s.Name == serviceName {
			svc = s
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("service %q not found", serviceName)
	}

	replicas := utils.ReplicaCounts(ctx, platformAdapter, svc)

	deps := optimizer.Deps{
		Cache:                   stateCache,
		Platform:                platformAdapter,
		Emitter:                 metrics.NewEmitter(),
		Namespace:               cfg.Namespace,
		GPUNodeName:             cfg.GPUNodeName,
		AdjustmentFactor:        cfg.AdjustmentFactor,
		GPUDampingDivisor:       cfg.GPUDampingDivisor,
		TargetConcurrencyPerPod: cfg.TargetConcurrencyPerPod,
		OptimizerSettleDelay:    0,
	}
	req := optimizer.Request{Service: svc, Replicas: replicas}

	if err := optimizer.Run(ctx, deps, req, serviceName+"-manual"); err != nil {
		return fmt.Errorf("optimizer run: %w", err)
	}
	log.Info("optimize: run completed", "service", serviceName)
	return nil
}
