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

// Package logging centralizes the verbosity levels used with the logr
// logger carried on context.Context throughout the core, and the process
// logger bootstrap shared by the observer and optimizer entrypoints.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels passed to logr.Logger.V. Mirrors the DEBUG/VERBOSE split
// used across the reconciliation loop this codebase's tick loop descends
// from.
const (
	DEBUG   = 1
	VERBOSE = 2
)

// NewProcessLogger builds the root zap-backed logr.Logger for a ScaleWave
// process. devMode enables human-readable, colorized output; production
// runs should leave it false for JSON output.
func NewProcessLogger(devMode bool) logr.Logger {
	opts := []zap.Opts{zap.UseDevMode(devMode)}
	return zap.New(opts...)
}

// IntoContext attaches logger to ctx the way controller-runtime does, so
// downstream code retrieves it with FromContext instead of threading it
// through every function signature.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return ctrl.LoggerInto(ctx, logger)
}

// FromContext retrieves the logger attached by IntoContext, or a no-op
// logger if none was attached.
func FromContext(ctx context.Context) logr.Logger {
	return ctrl.LoggerFrom(ctx)
}
