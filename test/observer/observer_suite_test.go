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

package observer_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/898djh/scalewave/internal/logging"
)

func TestObserverSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Observer Tick Loop Suite")
}

// testContext returns a background context carrying a dev-mode zap logger,
// the same bootstrap the e2e suites use for their ginkgo runs.
func testContext() context.Context {
	return logging.IntoContext(context.Background(), zap.New(zap.UseDevMode(true)))
}
