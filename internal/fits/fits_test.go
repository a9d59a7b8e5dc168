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
	"bytes"
	"image/color"
	"io"
	"math"
	"testing"
)

func TestLuminance(t *testing.T) {
	rgb := NewImageFromNaxisn([]int32{2, 1, 3}, []float32{1, 2, 3, 4, 8, 12})
	lum := Luminance(rgb)
	if lum.Channels() != 1 || lum.Width() != 2 || lum.Height() != 1 {
		t.Fatalf("shape %s; want 2x1", lum.DimensionsToString())
	}
	want := []float32{4, 6}
	for i, w := range want {
		if lum.Data[i] != w {
			t.Errorf("lum[%d]=%f; want %f", i, lum.Data[i], w)
		}
	}

	mono := NewImageFromNaxisn([]int32{2, 2}, []float32{1, 2, 3, 4})
	cp := Luminance(mono)
	cp.Data[0] = 42
	if mono.Data[0] != 1 {
		t.Errorf("luminance of mono image aliases input")
	}
}

type normalizeTestCase struct {
	Data []float32
	Want []uint8
}

func TestNormalizeForDisplay(t *testing.T) {
	nan := float32(math.NaN())
	tcs := []normalizeTestCase{
		{[]float32{0, 0.5, 1, 0.25}, []uint8{0, 127, 255, 63}},
		{[]float32{-10, 10, 0, 5}, []uint8{0, 255, 127, 191}},
		{[]float32{7, 7, 7, 7}, []uint8{0, 0, 0, 0}},
		{[]float32{nan, 2, 4, 3}, []uint8{0, 0, 255, 127}},
	}
	for _, tc := range tcs {
		img := NewImageFromNaxisn([]int32{2, 2}, tc.Data)
		d := NormalizeForDisplay(img)
		if d.Width != 2 || d.Height != 2 || d.Channels != 1 {
			t.Fatalf("shape %dx%dx%d; want 2x2x1", d.Width, d.Height, d.Channels)
		}
		for i, w := range tc.Want {
			if d.Pix[i] != w {
				t.Errorf("data %v: pix[%d]=%d; want %d", tc.Data, i, d.Pix[i], w)
			}
		}
	}
}

func TestNormalizeJointAcrossChannels(t *testing.T) {
	// channel 0 spans [0,1], channel 1 is constant 2, channel 2 constant 4
	img := NewImageFromNaxisn([]int32{2, 1, 3}, []float32{0, 1, 2, 2, 4, 4})
	img.Order = BGR
	d := NormalizeForDisplay(img)
	want := []uint8{0, 63, 127, 127, 255, 255}
	for i, w := range want {
		if d.Pix[i] != w {
			t.Errorf("pix[%d]=%d; want %d", i, d.Pix[i], w)
		}
	}
	if d.Order != BGR {
		t.Errorf("order %v; want BGR", d.Order)
	}

	// BGR planes map plane 2 to red
	c := d.ToImage().At(1, 0).(color.RGBA)
	if c.R != 255 || c.G != 127 || c.B != 63 {
		t.Errorf("pixel %v; want R=255 G=127 B=63", c)
	}
}

func TestFITSRoundTrip(t *testing.T) {
	img := NewImageFromNaxisn([]int32{3, 2, 3}, nil)
	for i := range img.Data {
		img.Data[i] = float32(i) * 0.5
	}
	img.Data[4] = float32(math.NaN())
	img.Order = BGR
	img.Exposure = 1.5e-5

	var buf bytes.Buffer
	if err := img.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%fitsBlockSize != 0 {
		t.Errorf("length %d not a multiple of %d", buf.Len(), fitsBlockSize)
	}

	res := NewImage()
	if err := res.Read(&buf, true, io.Discard); err != nil {
		t.Fatal(err)
	}
	if !res.SameShape(img) || res.Order != BGR {
		t.Fatalf("got %s %v; want %s BGR", res.DimensionsToString(), res.Order, img.DimensionsToString())
	}
	if math.Abs(float64(res.Exposure-img.Exposure)) > 1e-9 {
		t.Errorf("exposure %g; want %g", res.Exposure, img.Exposure)
	}
	for i, v := range res.Data {
		want := img.Data[i]
		if i == 4 {
			want = 0
		}
		if v != want {
			t.Errorf("data[%d]=%f; want %f", i, v, want)
		}
	}
}

func TestInterleavedFITSIsDeinterleaved(t *testing.T) {
	// 2x2 pixels with interleaved RGB triples
	src := NewImageFromNaxisn([]int32{3, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	var buf bytes.Buffer
	if err := src.Write(&buf); err != nil {
		t.Fatal(err)
	}

	res := NewImage()
	if err := res.Read(&buf, true, io.Discard); err != nil {
		t.Fatal(err)
	}
	if res.Width() != 2 || res.Height() != 2 || res.Channels() != 3 || res.Order != RGB {
		t.Fatalf("got %s %v; want 2x2x3 RGB", res.DimensionsToString(), res.Order)
	}
	want := []float32{1, 4, 7, 10, 2, 5, 8, 11, 3, 6, 9, 12}
	for i, w := range want {
		if res.Data[i] != w {
			t.Errorf("data[%d]=%f; want %f", i, res.Data[i], w)
		}
	}
}

func TestTIFF16RoundTrip(t *testing.T) {
	img := NewImageFromNaxisn([]int32{2, 2}, []float32{0, 0.25, 0.5, 1})
	var buf bytes.Buffer
	if err := img.WriteTIFF16(&buf, 0, 1); err != nil {
		t.Fatal(err)
	}
	res := NewImage()
	if err := res.ReadTIFF(&buf); err != nil {
		t.Fatal(err)
	}
	if res.Channels() != 1 || res.Order != Gray {
		t.Fatalf("got %s %v; want gray", res.DimensionsToString(), res.Order)
	}
	want := []float32{0, 16383, 32767, 65535}
	for i, w := range want {
		if res.Data[i] != w {
			t.Errorf("data[%d]=%f; want %f", i, res.Data[i], w)
		}
	}
}

func TestWriteDisplayUnknownFormat(t *testing.T) {
	d := NewDisplay(1, 1, 1, Gray)
	if err := WriteDisplay(d, io.Discard, "bmp", 0); err == nil {
		t.Errorf("expected error for unsupported format")
	}
	for _, format := range []string{"png", "jpg", "tif"} {
		if err := WriteDisplay(d, io.Discard, format, 90); err != nil {
			t.Errorf("format %s: %v", format, err)
		}
	}
}
