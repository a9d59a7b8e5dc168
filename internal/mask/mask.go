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

// Package mask builds the feathered weight field which selects the smoothed image near stars.
package mask

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/star"
)

// Returned for invalid dimensions or feathering parameters
var ErrShape = errors.New("invalid weight field shape")

// Single-channel weight field with values in [0,1], 1 selecting the smoothed image
type Weights struct {
	Width  int
	Height int
	Data   []float32
}

func NewWeights(width, height int) *Weights {
	return &Weights{Width: width, Height: height, Data: make([]float32, width*height)}
}

func (w *Weights) At(x, y int) float32 {
	return w.Data[y*w.Width+x]
}

// Builds the weight field for the given stars: filled discs of the given radius around the truncated
// centroids, feathered with a Gaussian of the given odd kernel size and standard deviation.
// No stars or radius 0 yield all-zero weights
func BuildWeightField(width, height int, stars []star.Star, radius, kernelSize int, sigma float32) (*Weights, error) {
	switch {
	case width <= 0 || height <= 0:
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, width, height)
	case radius < 0:
		return nil, fmt.Errorf("%w: negative radius %d", ErrShape, radius)
	case kernelSize < 1:
		return nil, fmt.Errorf("%w: kernel size %d", ErrShape, kernelSize)
	case !(sigma > 0):
		return nil, fmt.Errorf("%w: sigma %g", ErrShape, sigma)
	}
	if kernelSize&1 == 0 {
		kernelSize++
	}

	w := NewWeights(width, height)
	if radius == 0 || len(stars) == 0 {
		return w, nil
	}
	feather(w, stars, radius, kernelSize, sigma)
	for i, v := range w.Data {
		if v < 0 || math.IsNaN(float64(v)) {
			w.Data[i] = 0
		} else if v > 1 {
			w.Data[i] = 1
		}
	}
	return w, nil
}

// Rasterizes filled discs dx²+dy²<=r² with 255 into an 8-bit occupancy canvas, clipped to bounds.
// Overlapping discs form a union
func Rasterize(width, height int, stars []star.Star, radius int) []uint8 {
	canvas := make([]uint8, width*height)
	r2 := radius * radius
	for _, s := range stars {
		cx, cy := int(s.X), int(s.Y)
		for dy := -radius; dy <= radius; dy++ {
			y := cy + dy
			if y < 0 || y >= height {
				continue
			}
			row := canvas[y*width : (y+1)*width]
			for dx := -radius; dx <= radius; dx++ {
				x := cx + dx
				if x < 0 || x >= width || dx*dx+dy*dy > r2 {
					continue
				}
				row[x] = 255
			}
		}
	}
	return canvas
}

// Converts the weight field into an 8-bit grayscale display buffer for export
func (w *Weights) ToDisplay() *fits.Display {
	d := fits.NewDisplay(w.Width, w.Height, 1, fits.Gray)
	for i, v := range w.Data {
		d.Pix[i] = uint8(v*255 + 0.5)
	}
	return d
}
