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

package star

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/median"
	"github.com/mlnoga/starreduce/internal/stats"
	"github.com/valyala/fastrand"
)

// Local star detector. Finds pixels significantly above the sigma-clipped background,
// rejects overlaps and implausible candidates, and refines positions to the center of mass
type Detector struct {
	StarSig   float32   // Detection threshold above background location, in multiples of the background scale
	ClipSigma float32   // Sigma for clipping the background estimate
	ClipIters int       // Maximum sigma clipping rounds
	BPSigma   float32   // Bad pixel rejection versus local 3x3 median, multiples of the std dev. 0 disables
	InOut     float32   // Minimal ratio of brightness inside the HFR to outside
	Radius    int32     // Radius for overlap rejection and center of mass, in pixels
	Log       io.Writer // Log output, may be nil
}

// Creates a detector with 5 sigma threshold over a 3 sigma clipped background
func NewDetector(logWriter io.Writer) *Detector {
	return &Detector{
		StarSig:   5,
		ClipSigma: 3,
		ClipIters: 5,
		BPSigma:   0,
		InOut:     1.4,
		Radius:    16,
		Log:       logWriter,
	}
}

func (d *Detector) logf(format string, args ...interface{}) {
	if d.Log != nil {
		fmt.Fprintf(d.Log, format, args...)
	}
}

func (d *Detector) FindStars(ctx context.Context, lum *fits.Image) ([]Star, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	if lum.Channels() != 1 {
		lum = fits.Luminance(lum)
	}
	if d.Radius < 1 || !(d.StarSig > 0) {
		return nil, fmt.Errorf("%w: invalid detector radius %d or sigma %g", ErrDetection, d.Radius, d.StarSig)
	}
	_, location, scale := stats.SigmaClipped(lum.Data, d.ClipSigma, d.ClipIters)
	d.logf("%d: Background location %.4g scale %.4g\n", lum.ID, location, scale)

	stars, avgHFR := d.findStars(lum.Data, int32(lum.Width()), location, scale)
	d.logf("%d: Found %d stars, average HFR %.3g\n", lum.ID, len(stars), avgHFR)
	return stars, nil
}

func (d *Detector) findStars(data []float32, width int32, location, scale float32) (stars []Star, avgHFR float32) {
	height := int32(len(data)) / width
	threshold := location + scale*d.StarSig

	// star identification based on pixels significantly above the background
	stars = findBrightPixels(data, width, threshold, d.Radius)

	// reject bad pixels which differ significantly from the local median
	if d.BPSigma > 0 {
		stars = rejectBadPixels(stars, data, width, d.BPSigma)
	}

	// filter out faint stars overlapped by brighter ones
	sortByMassDesc(stars)
	stars = filterOutOverlaps(stars, width, height, d.Radius)

	// move stars to centroid position, and filter again
	shiftToCenterOfMass(stars, data, width, location+scale*d.StarSig*0.5, d.Radius)
	sortByMassDesc(stars)
	stars = filterOutOverlaps(stars, width, height, d.Radius)

	// remove implausible stars based on HFR and mass
	stars, avgHFR = calcAndFilterHalfFluxRadius(stars, data, width, float32(d.Radius), location, d.InOut)

	// clone the final shortlist so the longer candidate slice can be reclaimed
	return append([]Star(nil), stars...), avgHFR
}

func sortByMassDesc(stars []Star) {
	sort.SliceStable(stars, func(i, j int) bool { return stars[i].Mass > stars[j].Mass })
}

// Find pixels above the threshold and return them as stars. Applies early overlap rejection within a row.
// Uses central pixel value as initial mass, 1 as initial HFR.
func findBrightPixels(data []float32, width int32, threshold float32, radius int32) []Star {
	stars := make([]Star, 0, len(data)/100)

	for i, v := range data {
		if !(v > threshold) {
			continue
		}
		is := Star{Index: int32(i), Value: v, X: float32(int32(i) % width), Y: float32(int32(i) / width), Mass: v, HFR: 1}

		// check if within radius distance of the previously detected candidate in the same row
		if len(stars) > 0 {
			oldS := &stars[len(stars)-1]
			if oldS.Y == is.Y && oldS.X >= is.X-float32(radius) {
				if oldS.Value < is.Value {
					*oldS = is // replace old candidate with brighter new one
				}
				continue
			}
		}
		stars = append(stars, is)
	}
	return stars
}

// Reject bad pixels which differ from the local 3x3 median by more than sigma times the standard deviation
// of such differences, estimated from a random 1% sample of pixels. Returns shortened slice
func rejectBadPixels(stars []Star, data []float32, width int32, sigma float32) []Star {
	height := int32(len(data)) / width
	var buffer [9]float32
	diffFromMedian := func(index int32) float32 {
		x, y := index%width, index/width
		k := 0
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				xx, yy := clamp32(x+dx, width), clamp32(y+dy, height)
				buffer[k] = data[yy*width+xx]
				k++
			}
		}
		return data[index] - median.Median9(buffer[:])
	}

	numSamples := len(data) / 100
	if numSamples < 9 {
		numSamples = len(data)
	}
	samples := make([]float32, numSamples)
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = diffFromMedian(int32(rng.Uint32n(uint32(len(data)))))
	}
	diffStats := stats.CalcBasicStats(samples)

	threshold := diffStats.StdDev * sigma
	remaining := 0
	for _, s := range stars {
		diff := diffFromMedian(s.Index)
		if diff < threshold && -diff < threshold {
			stars[remaining] = s
			remaining++
		}
	}
	return stars[:remaining]
}

func clamp32(v, n int32) int32 {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// Filters out stars overlapped by brighter ones. Input must be sorted by descending mass.
// Stars are binned into a 2D grid to avoid quadratic search effort
func filterOutOverlaps(stars []Star, width, height, radius int32) []Star {
	binSize := int32(256)
	if radius > binSize {
		binSize = radius
	}
	xBins := (width + binSize - 1) / binSize
	yBins := (height + binSize - 1) / binSize
	bins := make([][]int, int(xBins*yBins))
	radiusSquared := float32(radius * radius)

	remaining := 0
forAllStars:
	for _, s := range stars {
		xCell, yCell := clamp32(int32(s.X+0.5)/binSize, xBins), clamp32(int32(s.Y+0.5)/binSize, yBins)

		// for this grid cell and all adjacent cells, check prior stars
		for dy := int32(-1); dy <= 1; dy++ {
			if yCell+dy < 0 || yCell+dy >= yBins {
				continue
			}
			for dx := int32(-1); dx <= 1; dx++ {
				if xCell+dx < 0 || xCell+dx >= xBins {
					continue
				}
				for _, j := range bins[(xCell+dx)+(yCell+dy)*xBins] {
					xDist, yDist := s.X-stars[j].X, s.Y-stars[j].Y
					if xDist*xDist+yDist*yDist <= radiusSquared {
						continue forAllStars
					}
				}
			}
		}

		stars[remaining] = s
		cell := xCell + yCell*xBins
		bins[cell] = append(bins[cell], remaining)
		remaining++
	}
	return stars[:remaining]
}

// Shifts each star to its floating point-valued center of mass over a box of given radius. Modifies stars in place
func shiftToCenterOfMass(stars []Star, data []float32, width int32, threshold float32, radius int32) {
	height := int32(len(data)) / width
	for i := range stars {
		s := stars[i]

		// until the shifts are below 0.01 pixel, or max rounds reached
		shiftSquared := float32(math.MaxFloat32)
		for round := 0; shiftSquared > 0.0001 && round < 10; round++ {
			cx, cy := s.Index%width, s.Index/width
			xMoment, yMoment, mass := float32(0), float32(0), float32(0)
			for dy := -radius; dy <= radius; dy++ {
				y := cy + dy
				if y < 0 || y >= height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					x := cx + dx
					if x < 0 || x >= width {
						continue
					}
					value := data[y*width+x] - threshold
					if !(value > 0) {
						continue
					}
					xMoment += float32(dx) * value
					yMoment += float32(dy) * value
					mass += value
				}
			}
			if mass == 0 {
				break
			}

			newX, newY := float32(cx)+xMoment/mass, float32(cy)+yMoment/mass
			deltaX, deltaY := newX-s.X, newY-s.Y
			shiftSquared = deltaX*deltaX + deltaY*deltaY

			ix, iy := clamp32(int32(newX+0.5), width), clamp32(int32(newY+0.5), height)
			index := iy*width + ix
			s = Star{Index: index, Value: data[index], X: newX, Y: newY, Mass: mass, HFR: s.HFR}
		}
		stars[i] = s
	}
}

// Sums the positive values above location within the given radius of the star center.
// Returns the mass, the distance-weighted moment and the number of pixels in the disc
func discMass(s Star, data []float32, width int32, radius, location float32) (mass, moment float32, pixels int32) {
	height := int32(len(data)) / width
	cx, cy := s.Index%width, s.Index/width
	rad := int32(math.Ceil(float64(radius)))
	distSqLimit := int32(math.Ceil(float64(radius) * float64(radius)))
	for dy := -rad; dy <= rad; dy++ {
		for dx := -rad; dx <= rad; dx++ {
			distSq := dx*dx + dy*dy
			if distSq > distSqLimit {
				continue
			}
			pixels++
			x, y := cx+dx, cy+dy
			if x < 0 || x >= width || y < 0 || y >= height {
				continue
			}
			if v := data[y*width+x] - location; v > 0 {
				moment += float32(math.Sqrt(float64(distSq))) * v
				mass += v
			}
		}
	}
	return mass, moment, pixels
}

// Calculate the Half-Flux Radius of each star, and filters out implausible candidates
// Based on the algorithm in https://en.wikipedia.org/wiki/Half_flux_diameter
func calcAndFilterHalfFluxRadius(stars []Star, data []float32, width int32, radius, location, starInOut float32) (res []Star, avgHFR float32) {
	remaining := 0
	for _, s := range stars {
		mass, moment, pixels := discMass(s, data, width, radius, location)
		if mass == 0 {
			mass = 1e-8
		}
		hfr := moment / mass

		// sanity check results to avoid long lockups
		if hfr > radius {
			continue
		}

		// is the average inner brightness significantly higher than the outer one?
		innerMass, _, innerPixels := discMass(s, data, width, hfr, location)
		outerMass, outerPixels := mass-innerMass, pixels-innerPixels
		if innerMass*float32(outerPixels) <= starInOut*outerMass*float32(innerPixels) {
			continue
		}

		s.HFR, s.Mass = hfr, mass
		stars[remaining] = s
		remaining++
		avgHFR += hfr
	}
	if remaining > 0 {
		avgHFR /= float32(remaining)
	}
	return stars[:remaining], avgHFR
}
