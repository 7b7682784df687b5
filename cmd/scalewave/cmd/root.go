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

// Package cmd wires cobra subcommands onto the ScaleWave binary: the
// long-running observe loop and a one-shot manual optimize command,
// both built from internal/config's merged configuration.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	devMode     bool
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "scalewave",
		Short: "A throughput-driven traffic-split autoscaler",
	}
)

// Execute runs the root command. It is called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file overriding the defaults")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "use human-readable, colorized logging instead of JSON")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address the Prometheus /metrics endpoint listens on")

	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(optimizeCmd)
}
