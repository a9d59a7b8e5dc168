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
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlnoga/starreduce/internal/stats"
	"golang.org/x/image/tiff"
)

// An 8-bit planar display buffer, same layout as Image
type Display struct {
	Width    int
	Height   int
	Channels int
	Order    ColorOrder
	Pix      []uint8
}

// Creates an all-zero display buffer
func NewDisplay(width, height, channels int, order ColorOrder) *Display {
	return &Display{
		Width:    width,
		Height:   height,
		Channels: channels,
		Order:    order,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Returns the data of channel c
func (d *Display) Plane(c int) []uint8 {
	size := d.Width * d.Height
	return d.Pix[c*size : (c+1)*size]
}

// Linear rescale of all channels jointly to [0,255] using the global min and max of the buffer.
// A constant image yields an all-zero buffer. NaNs map to 0
func NormalizeForDisplay(f *Image) *Display {
	d := NewDisplay(f.Width(), f.Height(), f.Channels(), f.Order)
	min, max := stats.MinMax(f.Data)
	if min == max {
		return d
	}
	scale := max - min
	for i, v := range f.Data {
		if math.IsNaN(float64(v)) {
			continue
		}
		d.Pix[i] = uint8((v - min) / scale * 255)
	}
	return d
}

// Converts to a Go image. Color channels are mapped according to the order
func (d *Display) ToImage() image.Image {
	rect := image.Rect(0, 0, d.Width, d.Height)
	if d.Channels == 1 {
		img := image.NewGray(rect)
		for y := 0; y < d.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+d.Width], d.Pix[y*d.Width:(y+1)*d.Width])
		}
		return img
	}

	r, g, b := d.Plane(0), d.Plane(1), d.Plane(2)
	if d.Order == BGR {
		r, b = b, r
	}
	img := image.NewRGBA(rect)
	for y := 0; y < d.Height; y++ {
		yoffset := y * d.Width
		for x := 0; x < d.Width; x++ {
			i := yoffset + x
			img.SetRGBA(x, y, color.RGBA{r[i], g[i], b[i], 255})
		}
	}
	return img
}

// Writes the display buffer to a file, format chosen by suffix: .png, .jpg/.jpeg or .tif/.tiff.
// Quality only applies to JPEG
func WriteDisplayFile(d *Display, fileName string, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := WriteDisplay(d, writer, formatFromFileName(fileName), quality); err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	return file.Close()
}

// Writes the display buffer in the given format: png, jpg or tif
func WriteDisplay(d *Display, w io.Writer, format string, quality int) error {
	img := d.ToImage()
	switch format {
	case "png":
		return png.Encode(w, img)
	case "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "tif":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
	return fmt.Errorf("unsupported output format '%s'", format)
}

func formatFromFileName(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpg"
	case ".tif", ".tiff":
		return "tif"
	}
	return filepath.Ext(fileName)
}
