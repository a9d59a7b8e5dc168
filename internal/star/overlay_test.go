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
	"testing"

	"github.com/mlnoga/starreduce/internal/fits"
)

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff0000")
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b := c.RGB255(); r != 255 || g != 0 || b != 0 {
		t.Errorf("got %d %d %d", r, g, b)
	}
	if _, err := ParseColor("red"); err == nil {
		t.Errorf("invalid color accepted")
	}
}

func TestOverlayDrawsRings(t *testing.T) {
	d := fits.NewDisplay(20, 20, 1, fits.Gray)
	col, _ := ParseColor("#00ff00")
	o := Overlay(d, []Star{{X: 10, Y: 10}, {X: 0, Y: 0}}, 4, col, 1)
	if o.Channels != 3 || o.Order != fits.RGB {
		t.Fatalf("got %d channels order %v", o.Channels, o.Order)
	}
	g := o.Plane(1)
	if g[10*20+14] != 255 || g[6*20+10] != 255 {
		t.Errorf("ring not drawn: %d %d", g[10*20+14], g[6*20+10])
	}
	if g[10*20+10] != 0 || g[10*20+16] != 0 {
		t.Errorf("pixels off the ring touched: %d %d", g[10*20+10], g[10*20+16])
	}
	if o.Plane(0)[10*20+14] != 0 {
		t.Errorf("red channel touched")
	}
	if d.Pix[10*20+14] != 0 {
		t.Errorf("input modified")
	}
}

func TestOverlayHonoursBGR(t *testing.T) {
	d := fits.NewDisplay(9, 9, 3, fits.BGR)
	col, _ := ParseColor("#ff0000")
	o := Overlay(d, []Star{{X: 4, Y: 4}}, 2, col, 1)
	if o.Plane(2)[4*9+6] != 255 || o.Plane(0)[4*9+6] != 0 {
		t.Errorf("red not written to the last BGR plane")
	}
}
