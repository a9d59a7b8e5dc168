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
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeRoundsEvenSizes(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{4, 5}, {6, 7}, {8, 9}, {5, 5}, {1, 1}, {2, 3}} {
		p := DefaultParams()
		p.MedianSize, p.GaussianKernel = tc.in, tc.in
		got, err := p.Normalize()
		if err != nil {
			t.Fatalf("size %d: %v", tc.in, err)
		}
		if got.MedianSize != tc.want || got.GaussianKernel != tc.want {
			t.Errorf("size %d: got median %d kernel %d; want %d", tc.in, got.MedianSize, got.GaussianKernel, tc.want)
		}
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, p := range []Params{
		{MaskRadius: -1, MedianSize: 5, GaussianKernel: 11, FeatherSigma: 3},
		{MaskRadius: 10, MedianSize: 0, GaussianKernel: 11, FeatherSigma: 3},
		{MaskRadius: 10, MedianSize: 5, GaussianKernel: 0, FeatherSigma: 3},
		{MaskRadius: 10, MedianSize: 5, GaussianKernel: 11, FeatherSigma: 0},
		{MaskRadius: 10, MedianSize: 5, GaussianKernel: 11, FeatherSigma: -2},
	} {
		if _, err := p.Normalize(); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%v: err=%v; want ErrInvalidParams", p, err)
		}
	}
	if _, err := (Params{MaskRadius: 0, MedianSize: 1, GaussianKernel: 1, FeatherSigma: 0.1}).Normalize(); err != nil {
		t.Errorf("minimal params rejected: %v", err)
	}
}

func TestUnmarshalJSONDefaults(t *testing.T) {
	var p Params
	if err := json.Unmarshal([]byte(`{"maskRadius":4}`), &p); err != nil {
		t.Fatal(err)
	}
	want := DefaultParams()
	want.MaskRadius = 4
	if p != want {
		t.Errorf("got %v; want %v", p, want)
	}
}

func TestLoadParamsFile(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "params.yaml")
	if err := os.WriteFile(yamlFile, []byte("medianSize: 7\nfeatherSigma: 1.5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadParamsFile(yamlFile)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultParams()
	want.MedianSize, want.FeatherSigma = 7, 1.5
	if p != want {
		t.Errorf("yaml: got %v; want %v", p, want)
	}

	jsonFile := filepath.Join(dir, "params.json")
	if err := os.WriteFile(jsonFile, []byte(`{"gaussianKernel":9}`), 0644); err != nil {
		t.Fatal(err)
	}
	if p, err = LoadParamsFile(jsonFile); err != nil {
		t.Fatal(err)
	}
	want = DefaultParams()
	want.GaussianKernel = 9
	if p != want {
		t.Errorf("json: got %v; want %v", p, want)
	}

	if _, err := LoadParamsFile(filepath.Join(dir, "params.txt")); err == nil {
		t.Errorf("missing file accepted")
	}
}
