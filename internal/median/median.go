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

// Package median implements an exact sliding-window median filter for planar float32 images.
// Borders are handled by reflection about the edge, i.e. d c b a | a b c d | d c b a.
package median

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/starreduce/internal/fits"
)

// Applies a size x size median filter independently to every channel of the image, and returns the result
// as a new image of the same shape and order. Even sizes are rounded up to the next odd value. Size 1 returns a copy
func Filter(img *fits.Image, size int) *fits.Image {
	res := fits.NewImageFromImage(img)
	for c := 0; c < img.Channels(); c++ {
		FilterPlane(res.Plane(c), img.Plane(c), img.Width(), size)
	}
	return res
}

// Applies a size x size median filter to a single plane of given width, storing results in dst.
// Dst and src must have the same length and must not overlap
func FilterPlane(dst, src []float32, width, size int) {
	if size <= 1 || width <= 0 || len(src) == 0 {
		copy(dst, src)
		return
	}
	if size&1 == 0 {
		size++
	}
	height := len(src) / width

	workers := NumWorkers()
	if workers > height {
		workers = height
	}
	rowsPerWorker := (height + workers - 1) / workers

	fast := size == 3 && !hasNaN(src)

	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += rowsPerWorker {
		y1 := y0 + rowsPerWorker
		if y1 > height {
			y1 = height
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			if fast {
				filterBand3x3(dst, src, width, height, y0, y1)
			} else {
				filterBand(dst, src, width, height, size, y0, y1)
			}
		}(y0, y1)
	}
	wg.Wait()
}

// Number of goroutines used per plane. Bounded by GOMAXPROCS and the number of physical cores
func NumWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if pc := cpuid.CPU.PhysicalCores; pc > 0 && pc < n {
		n = pc
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Reflects coordinate x into [0,n) with period 2n, so that -1 maps to 0 and n maps to n-1
func reflect(x, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	x %= period
	if x < 0 {
		x += period
	}
	if x >= n {
		x = period - 1 - x
	}
	return x
}

func hasNaN(data []float32) bool {
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}

// Exact median for output rows [y0,y1). Values of the rows the band touches are replaced by their ranks,
// then each row slides a window over a Fenwick tree of rank counts. NaNs rank below all numbers
func filterBand(dst, src []float32, width, height, size, y0, y1 int) {
	radius := size >> 1

	// range of source rows touched by this band
	lo, hi := height, -1
	for y := y0 - radius; y < y1+radius; y++ {
		ry := reflect(y, height)
		if ry < lo {
			lo = ry
		}
		if ry > hi {
			hi = ry
		}
	}
	local := src[lo*width : (hi+1)*width]

	// rank transform, stable so that equal values keep distinct ranks
	order := poolInt32.get(len(local))
	defer poolInt32.put(order)
	for i := range order {
		order[i] = int32(i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := local[order[a]], local[order[b]]
		if math.IsNaN(float64(va)) {
			return !math.IsNaN(float64(vb))
		}
		return va < vb
	})
	ranks := poolInt32.get(len(local))
	defer poolInt32.put(ranks)
	sorted := poolFloat32.get(len(local))
	defer poolFloat32.put(sorted)
	for r, i := range order {
		ranks[i] = int32(r)
		sorted[r] = local[i]
	}

	tree := newFenwick(len(local))
	k := int32((size*size + 1) / 2)
	rows := make([]int, size)
	cols := make([]int, width+2*radius)
	for x := -radius; x < width+radius; x++ {
		cols[x+radius] = reflect(x, width)
	}

	for y := y0; y < y1; y++ {
		for dy := -radius; dy <= radius; dy++ {
			rows[dy+radius] = (reflect(y+dy, height) - lo) * width
		}
		addColumn := func(cx int, delta int32) {
			for _, off := range rows {
				tree.add(ranks[off+cx], delta)
			}
		}

		for i := 0; i < size; i++ {
			addColumn(cols[i], 1)
		}
		out := dst[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			out[x] = sorted[tree.kth(k)]
			if x+1 < width {
				addColumn(cols[x], -1)
				addColumn(cols[x+size], 1)
			}
		}
		// remove the final window so the tree is empty for the next row
		for i := width - 1; i < width-1+size; i++ {
			addColumn(cols[i], -1)
		}
	}
}

// Binary indexed tree over rank counts
type fenwick struct {
	counts []int32
	top    int32 // highest power of two <= len(counts)
}

func newFenwick(n int) *fenwick {
	top := int32(1)
	for int(top)<<1 <= n {
		top <<= 1
	}
	return &fenwick{counts: make([]int32, n+1), top: top}
}

// Adds delta to the count of rank r (0-based)
func (f *fenwick) add(r int32, delta int32) {
	for i := r + 1; int(i) < len(f.counts); i += i & -i {
		f.counts[i] += delta
	}
}

// Returns the 0-based rank of the k-th smallest element (1-based k)
func (f *fenwick) kth(k int32) int32 {
	pos := int32(0)
	for step := f.top; step > 0; step >>= 1 {
		next := pos + step
		if int(next) < len(f.counts) && f.counts[next] < k {
			pos = next
			k -= f.counts[next]
		}
	}
	return pos
}
