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

package reduce

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Returned for negative radius, sizes below one or non-positive sigma
var ErrInvalidParams = errors.New("invalid reduction parameters")

// Star reduction parameters
type Params struct {
	MaskRadius     int     `json:"maskRadius"     yaml:"maskRadius"`     // Disc radius around each star. 0 disables reduction
	MedianSize     int     `json:"medianSize"     yaml:"medianSize"`     // Median window size, odd
	GaussianKernel int     `json:"gaussianKernel" yaml:"gaussianKernel"` // Feathering kernel size, odd
	FeatherSigma   float32 `json:"featherSigma"   yaml:"featherSigma"`   // Feathering standard deviation
}

func DefaultParams() Params {
	return Params{
		MaskRadius:     10,
		MedianSize:     5,
		GaussianKernel: 11,
		FeatherSigma:   3,
	}
}

// Validates the parameters and rounds even window sizes up to the next odd value
func (p Params) Normalize() (Params, error) {
	switch {
	case p.MaskRadius < 0:
		return p, fmt.Errorf("%w: mask radius %d", ErrInvalidParams, p.MaskRadius)
	case p.MedianSize < 1:
		return p, fmt.Errorf("%w: median size %d", ErrInvalidParams, p.MedianSize)
	case p.GaussianKernel < 1:
		return p, fmt.Errorf("%w: gaussian kernel %d", ErrInvalidParams, p.GaussianKernel)
	case !(p.FeatherSigma > 0):
		return p, fmt.Errorf("%w: feather sigma %g", ErrInvalidParams, p.FeatherSigma)
	}
	if p.MedianSize&1 == 0 {
		p.MedianSize++
	}
	if p.GaussianKernel&1 == 0 {
		p.GaussianKernel++
	}
	return p, nil
}

func (p Params) String() string {
	return fmt.Sprintf("radius %d median %d kernel %d sigma %g", p.MaskRadius, p.MedianSize, p.GaussianKernel, p.FeatherSigma)
}

// Unmarshal the type from JSON with default values for missing entries
func (p *Params) UnmarshalJSON(data []byte) error {
	type defaults Params
	def := defaults(DefaultParams())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*p = Params(def)
	return nil
}

// Loads parameters from a .json, .yaml or .yml file. Missing entries keep their defaults
func LoadParamsFile(fileName string) (Params, error) {
	p := DefaultParams()
	contents, err := os.ReadFile(fileName)
	if err != nil {
		return p, fmt.Errorf("read '%s': %w", fileName, err)
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".json":
		err = json.Unmarshal(contents, &p)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(contents, &p)
	default:
		return p, fmt.Errorf("parameter file '%s': unknown format", fileName)
	}
	if err != nil {
		return p, fmt.Errorf("parse '%s': %w", fileName, err)
	}
	return p, nil
}
