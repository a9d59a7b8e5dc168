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
	"fmt"
	"strings"

	"github.com/mlnoga/starreduce/internal/stats"
)

// Channel semantics of a pixel buffer. Carried through every derived buffer
type ColorOrder int

const (
	Gray ColorOrder = iota
	RGB
	BGR
)

func (o ColorOrder) String() string {
	switch o {
	case Gray:
		return "gray"
	case RGB:
		return "RGB"
	case BGR:
		return "BGR"
	}
	return fmt.Sprintf("ColorOrder(%d)", int(o))
}

// A FITS-style image with planar float32 storage.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int32 // Axis dimensions. Width, height, and optionally 3 channels
	Pixels int32   // Number of values in the image. Product of Naxisn[]

	// The image data. Channel c occupies Data[c*w*h:(c+1)*w*h], rows within a plane
	Data []float32

	Order    ColorOrder // Channel semantics
	Exposure float32    // Image exposure in seconds

	Stats *stats.Basic // Basic statistics, set by the readers
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied.
// Three axes imply RGB order, two gray.
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	order := Gray
	if len(naxisn) == 3 {
		order = RGB
	}
	return &Image{
		Header: NewHeader(),
		Bitpix: -32,
		Bscale: 1,
		Naxisn: append([]int32(nil), naxisn...),
		Pixels: numPixels,
		Data:   data,
		Order:  order,
	}
}

// Creates an empty image with the same shape and metadata as the given one. New data array will be allocated
func NewImageFromImage(img *Image) *Image {
	res := NewImageFromNaxisn(img.Naxisn, nil)
	res.ID, res.FileName, res.Exposure, res.Order = img.ID, img.FileName, img.Exposure, img.Order
	return res
}

// Deep copy of the image data and shape
func (f *Image) Clone() *Image {
	res := NewImageFromImage(f)
	copy(res.Data, f.Data)
	res.Stats = f.Stats
	return res
}

func (f *Image) Width() int  { return int(f.Naxisn[0]) }
func (f *Image) Height() int { return int(f.Naxisn[1]) }

// Number of channels, 1 for gray or 3 for color
func (f *Image) Channels() int {
	if len(f.Naxisn) < 3 {
		return 1
	}
	return int(f.Naxisn[2])
}

// Returns the data of channel c
func (f *Image) Plane(c int) []float32 {
	size := f.Width() * f.Height()
	return f.Data[c*size : (c+1)*size]
}

// Reports whether both images have the same width, height and number of channels
func (f *Image) SameShape(o *Image) bool {
	return f.Width() == o.Width() && f.Height() == o.Height() && f.Channels() == o.Channels()
}

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Unweighted mean across channels. Single-channel input returns a copy
func Luminance(f *Image) *Image {
	if f.Channels() == 1 {
		return f.Clone()
	}
	lum := NewImageFromNaxisn(f.Naxisn[:2], nil)
	lum.ID, lum.FileName, lum.Exposure = f.ID, f.FileName, f.Exposure
	chans := f.Channels()
	for c := 0; c < chans; c++ {
		for i, v := range f.Plane(c) {
			lum.Data[i] += v
		}
	}
	for i := range lum.Data {
		lum.Data[i] /= float32(chans)
	}
	return lum
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float32),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header
