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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// A star, as found on an image by star detection or a remote annotation service
type Star struct {
	Index int32   // Index of the star in the data array. int32(x)+width*int32(y)
	Value float32 // Value of the star in the data array. data[index]
	X     float32 // Precise star x position via center of mass
	Y     float32 // Precise star y position via center of mass
	Mass  float32 // Star mass. Summed pixel values above location estimate, within given radius
	HFR   float32 // Half-Flux Radius of the star, in pixels
}

var csvHeader = []string{"Index", "Value", "X", "Y", "Mass", "HFR"}

// Writes the given stars as CSV with a header line
func WriteCSV(w io.Writer, stars []Star) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
	for _, s := range stars {
		rec := []string{strconv.FormatInt(int64(s.Index), 10), f(s.Value), f(s.X), f(s.Y), f(s.Mass), f(s.HFR)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Reads stars from CSV. Columns are located by header name, X and Y are required, others optional
func ReadCSV(r io.Reader) ([]Star, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading star list header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["x"]; !ok {
		return nil, fmt.Errorf("star list lacks X column")
	}
	if _, ok := cols["y"]; !ok {
		return nil, fmt.Errorf("star list lacks Y column")
	}

	stars := []Star{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return stars, nil
		} else if err != nil {
			return nil, fmt.Errorf("star list line %d: %w", line, err)
		}
		var s Star
		fields := []struct {
			name string
			dest *float32
		}{{"value", &s.Value}, {"x", &s.X}, {"y", &s.Y}, {"mass", &s.Mass}, {"hfr", &s.HFR}}
		for _, fd := range fields {
			i, ok := cols[fd.name]
			if !ok || i >= len(rec) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 32)
			if err != nil {
				return nil, fmt.Errorf("star list line %d column %s: %w", line, fd.name, err)
			}
			*fd.dest = float32(v)
		}
		if i, ok := cols["index"]; ok && i < len(rec) {
			v, err := strconv.ParseInt(strings.TrimSpace(rec[i]), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("star list line %d column index: %w", line, err)
			}
			s.Index = int32(v)
		}
		stars = append(stars, s)
	}
}

// Writes the given stars as CSV to a file
func WriteCSVFile(fileName string, stars []Star) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := WriteCSV(f, stars); err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	return f.Close()
}

// Reads stars from a CSV file
func ReadCSVFile(fileName string) ([]Star, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return stars, nil
}
