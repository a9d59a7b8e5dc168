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

//go:build opencv

package mask

import (
	"image"
	"image/color"

	"github.com/mlnoga/starreduce/internal/star"
	"gocv.io/x/gocv"
)

// OpenCV backend: discs via gocv.Circle on an 8-bit canvas, feathering via gocv.GaussianBlur
func feather(w *Weights, stars []star.Star, radius, kernelSize int, sigma float32) {
	canvas := gocv.NewMatWithSize(w.Height, w.Width, gocv.MatTypeCV8U)
	defer canvas.Close()
	canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))
	white := color.RGBA{255, 255, 255, 255}
	for _, s := range stars {
		gocv.Circle(&canvas, image.Pt(int(s.X), int(s.Y)), radius, white, -1)
	}

	src := gocv.NewMat()
	defer src.Close()
	canvas.ConvertToWithParams(&src, gocv.MatTypeCV32F, 1.0/255, 0)

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Pt(kernelSize, kernelSize), float64(sigma), float64(sigma), gocv.BorderReflect101)

	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			w.Data[y*w.Width+x] = dst.GetFloatAt(y, x)
		}
	}
}

// Normalized 1D Gaussian kernel of given odd size, as computed by OpenCV
func GaussianKernel(size int, sigma float32) []float32 {
	k := gocv.GetGaussianKernel(size, float64(sigma))
	defer k.Close()
	kernel := make([]float32, size)
	for i := range kernel {
		kernel[i] = float32(k.GetDoubleAt(i, 0))
	}
	return kernel
}
