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

package composite

import (
	"errors"
	"fmt"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/mask"
)

var ErrShape = errors.New("composite shape mismatch")

// Blends smoothed and original images per pixel and channel as w*smoothed + (1-w)*original.
// The single-channel weights are broadcast across channels. Where w is 0 the result equals the original exactly
func Blend(original, smoothed *fits.Image, w *mask.Weights) (*fits.Image, error) {
	if !original.SameShape(smoothed) {
		return nil, fmt.Errorf("%w: original %s vs smoothed %s", ErrShape, original.DimensionsToString(), smoothed.DimensionsToString())
	}
	if w.Width != original.Width() || w.Height != original.Height() || len(w.Data) != w.Width*w.Height {
		return nil, fmt.Errorf("%w: image %s vs weights %dx%d", ErrShape, original.DimensionsToString(), w.Width, w.Height)
	}

	res := fits.NewImageFromImage(original)
	for c := 0; c < original.Channels(); c++ {
		o, s, out := original.Plane(c), smoothed.Plane(c), res.Plane(c)
		for i, wi := range w.Data {
			switch wi {
			case 0:
				out[i] = o[i]
			case 1:
				out[i] = s[i]
			default:
				out[i] = wi*s[i] + (1-wi)*o[i]
			}
		}
	}
	return res, nil
}
