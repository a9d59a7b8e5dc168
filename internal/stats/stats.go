// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Basic image statistics. NaNs are ignored
type Basic struct {
	Min    float32
	Max    float32
	Mean   float32
	StdDev float32
}

func (s Basic) String() string {
	return fmt.Sprintf("min %.4g max %.4g mean %.4g stddev %.4g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculates min, max, mean and population standard deviation in two passes
func CalcBasicStats(data []float32) Basic {
	min, max := MinMax(data)
	sum, n := float64(0), 0
	for _, d := range data {
		if !math.IsNaN(float64(d)) {
			sum += float64(d)
			n++
		}
	}
	if n == 0 {
		return Basic{Min: min, Max: max}
	}
	mean := sum / float64(n)
	sumSq := float64(0)
	for _, d := range data {
		if !math.IsNaN(float64(d)) {
			diff := float64(d) - mean
			sumSq += diff * diff
		}
	}
	return Basic{Min: min, Max: max, Mean: float32(mean), StdDev: float32(math.Sqrt(sumSq / float64(n)))}
}

// Returns minimum and maximum of the data, ignoring NaNs. Returns 0, 0 if no valid value is present
func MinMax(data []float32) (min, max float32) {
	min, max = float32(math.MaxFloat32), float32(-math.MaxFloat32)
	found := false
	for _, d := range data {
		if math.IsNaN(float64(d)) {
			continue
		}
		found = true
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	if !found {
		return 0, 0
	}
	return min, max
}

// Upper bound on the number of values considered for sigma clipping. Larger inputs are sampled with a fixed stride
const MaxClipSamples = 1 << 20

// Sigma-clipped mean, median and standard deviation. Iteratively discards values more than sigma
// standard deviations away from the median, until nothing changes or maxIters rounds have passed.
// Standard deviation is the population value, i.e. divides by n.
func SigmaClipped(data []float32, sigma float32, maxIters int) (mean, median, stdDev float32) {
	stride := (len(data) + MaxClipSamples - 1) / MaxClipSamples
	if stride < 1 {
		stride = 1
	}
	xs := make([]float64, 0, len(data)/stride+1)
	for i := 0; i < len(data); i += stride {
		if d := data[i]; !math.IsNaN(float64(d)) {
			xs = append(xs, float64(d))
		}
	}
	if len(xs) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(xs)

	for iter := 0; ; iter++ {
		med := sortedMedian(xs)
		std := math.Sqrt(stat.PopVariance(xs, nil))
		if iter >= maxIters || std == 0 {
			return float32(stat.Mean(xs, nil)), float32(med), float32(std)
		}

		// xs is sorted, so the retained values form a contiguous range
		lower, upper := med-float64(sigma)*std, med+float64(sigma)*std
		lo := sort.SearchFloat64s(xs, lower)
		hi := sort.Search(len(xs), func(i int) bool { return xs[i] > upper })
		if lo == 0 && hi == len(xs) {
			return float32(stat.Mean(xs, nil)), float32(med), float32(std)
		}
		if hi <= lo {
			return float32(stat.Mean(xs, nil)), float32(med), float32(std)
		}
		xs = xs[lo:hi]
	}
}

func sortedMedian(xs []float64) float64 {
	n := len(xs)
	if n&1 != 0 {
		return xs[n/2]
	}
	return 0.5 * (xs[n/2-1] + xs[n/2])
}
