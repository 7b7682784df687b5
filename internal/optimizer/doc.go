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

// Package optimizer is the Optimizer (SPEC_FULL.md §4.5): given a service's
// cached per-revision metrics and available cluster capacity, it searches
// for a replica allocation with a genetic algorithm, shapes the winning
// allocation into a traffic split, rate-limits the change against the
// currently-committed split, dampens any GPU-bearing revision's share, and
// commits the result through the Platform Adapter.
//
// A run is triggered once per service per detected throughput regression
// and is expected to be preemptible: the caller cancels ctx when a newer
// run for the same service starts, and Run reports that as errs.Preempted
// rather than treating it as a failure.
package optimizer
