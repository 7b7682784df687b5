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

package optimizer

import (
	"math"
	"sort"

	"github.com/898djh/scalewave/internal/domain"
)

const smoothingEpsilon = 1e-9

// normalizeTo100 rescales d so its values sum to 100. An all-zero (or
// empty) input is split evenly across its keys.
func normalizeTo100(d map[string]float64) map[string]float64 {
	total := 0.0
	for _, v := range d {
		total += v
	}
	out := make(map[string]float64, len(d))
	if total <= smoothingEpsilon {
		even := 0.0
		if len(d) > 0 {
			even = 100.0 / float64(len(d))
		}
		for k := range d {
			out[k] = even
		}
		return out
	}
	for k, v := range d {
		out[k] = v / total * 100.0
	}
	return out
}

// largestRemainder converts a map of percentages summing to ~100 into
// non-negative integer percentages summing to exactly 100, distributing
// the rounding remainder to the largest fractional parts first (and, on
// overshoot, removing from the smallest).
func largestRemainder(values map[string]float64) domain.TrafficSplit {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	floored := make(map[string]int, len(keys))
	for _, k := range keys {
		floored[k] = int(math.Floor(values[k]))
	}

	remainder := 100 - sum(floored)

	byFracDesc := append([]string{}, keys...)
	sort.SliceStable(byFracDesc, func(i, j int) bool {
		return frac(values, floored, byFracDesc[i]) > frac(values, floored, byFracDesc[j])
	})
	for i := 0; remainder > 0 && i < len(byFracDesc); i++ {
		floored[byFracDesc[i]]++
		remainder--
	}

	for remainder < 0 {
		byFracAsc := append([]string{}, keys...)
		sort.SliceStable(byFracAsc, func(i, j int) bool {
			return frac(values, floored, byFracAsc[i]) < frac(values, floored, byFracAsc[j])
		})
		progressed := false
		for _, k := range byFracAsc {
			if remainder == 0 {
				break
			}
			if floored[k] > 0 {
				floored[k]--
				remainder++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	out := make(domain.TrafficSplit, len(floored))
	for k, v := range floored {
		out[k] = v
	}
	return out
}

func frac(values map[string]float64, floored map[string]int, k string) float64 {
	return values[k] - float64(floored[k])
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

// smoothTraffic moves current toward proposal, capping each revision's
// change to at most adjustmentFactor of its current-or-proposed share
// (§4.5). Negative inputs are clipped to zero; both inputs are normalized
// to sum to 100 before the cap is applied, and the result is renormalized
// and converted to integer percentages summing to exactly 100.
func smoothTraffic(current, proposal domain.TrafficSplit, adjustmentFactor float64) domain.TrafficSplit {
	keys := make(map[string]struct{}, len(current)+len(proposal))
	for k := range current {
		keys[k] = struct{}{}
	}
	for k := range proposal {
		keys[k] = struct{}{}
	}

	prev := make(map[string]float64, len(keys))
	next := make(map[string]float64, len(keys))
	for k := range keys {
		prev[k] = math.Max(0, float64(current[k]))
		next[k] = math.Max(0, float64(proposal[k]))
	}

	prevNorm := normalizeTo100(prev)
	nextNorm := normalizeTo100(next)

	capped := make(map[string]float64, len(keys))
	for k := range keys {
		desired := nextNorm[k] - prevNorm[k]
		base := math.Max(prevNorm[k], math.Max(nextNorm[k], 1.0))
		capAbs := adjustmentFactor * base

		delta := desired
		if desired > capAbs {
			delta = capAbs
		} else if desired < -capAbs {
			delta = -capAbs
		}
		capped[k] = math.Max(0, prevNorm[k]+delta)
	}

	return largestRemainder(normalizeTo100(capped))
}

// dampGPU replaces a GPU-bearing revision's share of split with
// floor(share/divisor) and redistributes the released share
// equally across the other revisions present, then renormalizes to
// integer percentages summing to 100 (§4.5).
func dampGPU(split domain.TrafficSplit, gpuRevision string, divisor float64) domain.TrafficSplit {
	allocated, present := split[gpuRevision]
	if !present || divisor <= 0 {
		return split
	}

	damped := int(math.Floor(float64(allocated) / divisor))
	released := allocated - damped

	others := make([]string, 0, len(split)-1)
	for k := range split {
		if k != gpuRevision {
			others = append(others, k)
		}
	}
	if len(others) == 0 {
		return split
	}

	shifted := make(map[string]float64, len(split))
	shifted[gpuRevision] = float64(damped)
	share := float64(released) / float64(len(others))
	for _, k := range others {
		shifted[k] = float64(split[k]) + share
	}

	return largestRemainder(normalizeTo100(shifted))
}
