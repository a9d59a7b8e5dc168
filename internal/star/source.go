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
	"context"
	"errors"
	"fmt"

	"github.com/mlnoga/starreduce/internal/fits"
)

// Returned, possibly wrapped, when star detection could not run
var ErrDetection = errors.New("star detection failed")

// A source of star centroids for a luminance image. An empty slice means no stars were found,
// an error means detection could not run
type Source interface {
	FindStars(ctx context.Context, lum *fits.Image) ([]Star, error)
}

// Adapts an ordinary function to the Source interface
type SourceFunc func(ctx context.Context, lum *fits.Image) ([]Star, error)

func (f SourceFunc) FindStars(ctx context.Context, lum *fits.Image) ([]Star, error) {
	return f(ctx, lum)
}

// A source which reads stars from a CSV file, ignoring the image
type FileSource struct {
	FileName string
}

func (s FileSource) FindStars(ctx context.Context, lum *fits.Image) ([]Star, error) {
	stars, err := ReadCSVFile(s.FileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	return stars, nil
}
