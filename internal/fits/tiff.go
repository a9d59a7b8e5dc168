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

package fits

import (
	"bufio"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/mlnoga/starreduce/internal/stats"
	"golang.org/x/image/tiff"
)

// Read a color or grayscale TIFF image. Values are kept in the 16-bit range [0, 65535]
func (f *Image) ReadTIFF(r io.Reader) error {
	t, err := tiff.Decode(bufio.NewReader(r))
	if err != nil {
		return err
	}

	bounds := t.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	channels := 3
	switch t.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		channels = 1
	}

	f.Bitpix = 16
	f.Naxisn = []int32{int32(width), int32(height), int32(channels)}
	f.Order = RGB
	if channels == 1 {
		f.Naxisn = f.Naxisn[:2]
		f.Order = Gray
	}
	f.Pixels = int32(width * height * channels)
	f.Bzero, f.Bscale = 0, 1
	f.Data = make([]float32, f.Pixels)

	size := width * height
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := t.At(bounds.Min.X+x, bounds.Min.Y+y)
			i := y*width + x
			if channels == 1 {
				f.Data[i] = float32(color.Gray16Model.Convert(c).(color.Gray16).Y)
				continue
			}
			rgba := color.RGBA64Model.Convert(c).(color.RGBA64)
			f.Data[i] = float32(rgba.R)
			f.Data[i+size] = float32(rgba.G)
			f.Data[i+2*size] = float32(rgba.B)
		}
	}
	s := stats.CalcBasicStats(f.Data)
	f.Stats = &s
	return nil
}

// Write an image to 16-bit TIFF, linearly mapping [min, max] to the full range.
func (f *Image) WriteTIFF16ToFile(fileName string, min, max float32) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.WriteTIFF16(writer, min, max); err != nil {
		return err
	}
	return writer.Flush()
}

// Write an image to 16-bit TIFF, linearly mapping [min, max] to the full range.
// Gray images become Gray16, color images RGBA64 with channels mapped according to the order
func (f *Image) WriteTIFF16(writer io.Writer, min, max float32) error {
	width, height := f.Width(), f.Height()
	rect := image.Rect(0, 0, width, height)
	scale := float32(0)
	if max > min {
		scale = 1 / (max - min)
	}
	to16 := func(v float32) uint16 {
		v = (v - min) * scale
		// replace NaNs with zeros for export
		if math.IsNaN(float64(v)) || v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint16(v * 65535)
	}

	if f.Channels() == 1 {
		img := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, y, color.Gray16{to16(f.Data[y*width+x])})
			}
		}
		return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
	}

	r, g, b := f.Plane(0), f.Plane(1), f.Plane(2)
	if f.Order == BGR {
		r, b = b, r
	}
	img := image.NewRGBA64(rect)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			i := yoffset + x
			img.SetRGBA64(x, y, color.RGBA64{to16(r[i]), to16(g[i]), to16(b[i]), 65535})
		}
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}
