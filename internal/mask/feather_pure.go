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

//go:build !opencv

package mask

import (
	"math"

	"github.com/mlnoga/starreduce/internal/star"
)

func feather(w *Weights, stars []star.Star, radius, kernelSize int, sigma float32) {
	canvas := Rasterize(w.Width, w.Height, stars, radius)
	src := make([]float32, len(canvas))
	for i, c := range canvas {
		src[i] = float32(c) / 255
	}
	kernel := GaussianKernel(kernelSize, sigma)
	sepFilterReflect101(w.Data, src, w.Width, w.Height, kernel)
}

// Normalized 1D Gaussian kernel of given odd size, sampled at integer offsets from the center
func GaussianKernel(size int, sigma float32) []float32 {
	kernel := make([]float32, size)
	center := float64(size-1) / 2
	scale := -0.5 / (float64(sigma) * float64(sigma))
	sum := float64(0)
	vals := make([]float64, size)
	for i := range vals {
		d := float64(i) - center
		vals[i] = math.Exp(scale * d * d)
		sum += vals[i]
	}
	for i, v := range vals {
		kernel[i] = float32(v / sum)
	}
	return kernel
}

// Reflects index into [0,size) without repeating the edge element, i.e. c b | a b c d | c b
func reflect101(idx, size int) int {
	if size == 1 {
		return 0
	}
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx
		}
		if idx >= size {
			idx = 2*size - 2 - idx
		}
	}
	return idx
}

// Separable convolution with the same kernel horizontally and vertically, border mode reflect-101
func sepFilterReflect101(dst, src []float32, width, height int, kernel []float32) {
	half := len(kernel) >> 1
	temp := make([]float32, len(src))

	// horizontal pass
	for y := 0; y < height; y++ {
		row := src[y*width : (y+1)*width]
		out := temp[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			var sum float32
			if x >= half && x+half < width {
				base := x - half
				for k, kv := range kernel {
					sum += row[base+k] * kv
				}
			} else {
				for k, kv := range kernel {
					sum += row[reflect101(x+k-half, width)] * kv
				}
			}
			out[x] = sum
		}
	}

	// vertical pass
	for y := 0; y < height; y++ {
		out := dst[y*width : (y+1)*width]
		for i := range out {
			out[i] = 0
		}
		for k, kv := range kernel {
			row := temp[reflect101(y+k-half, height)*width:]
			for x := 0; x < width; x++ {
				out[x] += row[x] * kv
			}
		}
	}
}
