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
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/mlnoga/starreduce/internal/fits"
)

// Parses an overlay colour given as hex, e.g. #ff4000
func ParseColor(hex string) (colorful.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return c, fmt.Errorf("overlay color '%s': %w", hex, err)
	}
	return c, nil
}

// Draws a ring of the given radius around each star, blending the colour with the given opacity.
// Returns a new color display; grayscale input is expanded to RGB
func Overlay(d *fits.Display, stars []Star, radius int, col colorful.Color, alpha float64) *fits.Display {
	order := d.Order
	if d.Channels == 1 {
		order = fits.RGB
	}
	res := fits.NewDisplay(d.Width, d.Height, 3, order)
	for c := 0; c < 3; c++ {
		src := 0
		if d.Channels == 3 {
			src = c
		}
		copy(res.Plane(c), d.Plane(src))
	}
	ri, gi, bi := 0, 1, 2
	if order == fits.BGR {
		ri, bi = 2, 0
	}
	rp, gp, bp := res.Plane(ri), res.Plane(gi), res.Plane(bi)

	outer := float64(radius) + 0.5
	inner := math.Max(float64(radius)-0.5, 0)
	r := radius + 1
	for _, s := range stars {
		cx, cy := int(s.X), int(s.Y)
		for y := cy - r; y <= cy+r; y++ {
			if y < 0 || y >= d.Height {
				continue
			}
			for x := cx - r; x <= cx+r; x++ {
				if x < 0 || x >= d.Width {
					continue
				}
				dist := math.Hypot(float64(x-cx), float64(y-cy))
				if dist < inner || dist >= outer {
					continue
				}
				i := y*d.Width + x
				base := colorful.Color{R: float64(rp[i]) / 255, G: float64(gp[i]) / 255, B: float64(bp[i]) / 255}
				rp[i], gp[i], bp[i] = base.BlendRgb(col, alpha).Clamped().RGB255()
			}
		}
	}
	return res
}
