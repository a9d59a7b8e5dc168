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
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/valyala/fastrand"
)

type syntheticStar struct {
	X, Y, Peak, Sigma float32
}

// Flat background of 10 with uniform noise in [-0.5,0.5), plus Gaussian stars
func syntheticImage(width, height int, stars []syntheticStar) *fits.Image {
	img := fits.NewImageFromNaxisn([]int32{int32(width), int32(height)}, nil)
	rng := fastrand.RNG{}
	for i := range img.Data {
		img.Data[i] = 10 + float32(rng.Uint32n(1000))/1000 - 0.5
	}
	for _, s := range stars {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				dx, dy := float32(x)-s.X, float32(y)-s.Y
				img.Data[y*width+x] += s.Peak * float32(math.Exp(float64(-(dx*dx+dy*dy)/(2*s.Sigma*s.Sigma))))
			}
		}
	}
	return img
}

func TestDetectorFindsSyntheticStars(t *testing.T) {
	want := []syntheticStar{{20.3, 30.7, 500, 1.5}, {70, 60, 800, 1.5}, {50, 15, 300, 2}}
	img := syntheticImage(100, 100, want)

	stars, err := NewDetector(io.Discard).FindStars(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if len(stars) != len(want) {
		t.Fatalf("found %d stars %v; want %d", len(stars), stars, len(want))
	}
	for _, w := range want {
		found := false
		for _, s := range stars {
			if math.Abs(float64(s.X-w.X)) < 0.5 && math.Abs(float64(s.Y-w.Y)) < 0.5 {
				found = true
			}
		}
		if !found {
			t.Errorf("no star near (%g,%g) in %v", w.X, w.Y, stars)
		}
	}
}

func TestDetectorFlatImageHasNoStars(t *testing.T) {
	img := fits.NewImageFromNaxisn([]int32{32, 32}, nil)
	for i := range img.Data {
		img.Data[i] = 7
	}
	stars, err := NewDetector(nil).FindStars(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if len(stars) != 0 {
		t.Errorf("found %d stars on a flat image", len(stars))
	}
}

func TestDetectorBadPixelRejection(t *testing.T) {
	img := syntheticImage(64, 64, nil)
	img.Data[32*64+20] = 5000 // hot pixel

	d := NewDetector(nil)
	stars, err := d.FindStars(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if len(stars) != 1 {
		t.Fatalf("without rejection found %d stars; want the hot pixel", len(stars))
	}

	d.BPSigma = 5
	stars, err = d.FindStars(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if len(stars) != 0 {
		t.Errorf("with rejection found %d stars; want 0", len(stars))
	}
}

func TestDetectorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDetector(nil).FindStars(ctx, syntheticImage(8, 8, nil))
	if !errors.Is(err, ErrDetection) || !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v; want ErrDetection wrapping context.Canceled", err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	stars := []Star{{Index: 5, Value: 1.5, X: 5.25, Y: 0.5, Mass: 100, HFR: 1.75}, {X: 99.125, Y: 12}}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, stars); err != nil {
		t.Fatal(err)
	}
	res, err := ReadCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != len(stars) {
		t.Fatalf("read %d stars; want %d", len(res), len(stars))
	}
	for i := range stars {
		if res[i] != stars[i] {
			t.Errorf("star %d = %v; want %v", i, res[i], stars[i])
		}
	}
}

func TestReadCSVMinimalColumns(t *testing.T) {
	res, err := ReadCSV(strings.NewReader("y, x\n1, 2\n3.5, 4.5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].X != 2 || res[0].Y != 1 || res[1].X != 4.5 || res[1].Y != 3.5 {
		t.Errorf("got %v", res)
	}

	if _, err := ReadCSV(strings.NewReader("a,b\n1,2\n")); err == nil {
		t.Errorf("expected error for missing X/Y columns")
	}
}

func TestFileSource(t *testing.T) {
	name := filepath.Join(t.TempDir(), "stars.csv")
	if err := WriteCSVFile(name, []Star{{X: 1, Y: 2}}); err != nil {
		t.Fatal(err)
	}
	stars, err := FileSource{name}.FindStars(context.Background(), nil)
	if err != nil || len(stars) != 1 {
		t.Fatalf("stars=%v err=%v", stars, err)
	}

	os.Remove(name)
	if _, err := (FileSource{name}).FindStars(context.Background(), nil); !errors.Is(err, ErrDetection) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err=%v; want ErrDetection wrapping ErrNotExist", err)
	}
}
