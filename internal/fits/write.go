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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Writes an image to a FITS file with the given name, creating or truncating it
func (f *Image) WriteFile(fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := f.Write(writer); err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	return file.Close()
}

// Writes an image as 32-bit float FITS in planar layout. Header and data are padded to full blocks
func (f *Image) Write(w io.Writer) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(f.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(f.Naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), f.Naxisn[i], "[1] Axis size")
	}
	writeFloat32(&sb, "BZERO", 0, "[1] Zero offset")
	writeFloat32(&sb, "BSCALE", 1, "[1] Value scale")
	if f.Exposure != 0 {
		writeFloat32(&sb, "EXPTIME", f.Exposure, "[s] Exposure time")
	}
	if f.Order == BGR {
		writeString(&sb, "COLORORD", "BGR", "Channel order of the planes")
	}
	writeEnd(&sb)
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	// payload with NaNs replaced by zeros for compatibility
	if err := writeFloat32Array(w, f.Data, true); err != nil {
		return err
	}
	if rem := (len(f.Data) * 4) % fitsBlockSize; rem > 0 {
		_, err := w.Write(make([]byte, fitsBlockSize-rem))
		return err
	}
	return nil
}

func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", trunc(key, 8), v, trunc(comment, 47))
}

func writeInt32(w io.Writer, key string, value int32, comment string) {
	fmt.Fprintf(w, "%-8s= %20d / %-47s", trunc(key, 8), value, trunc(comment, 47))
}

func writeFloat32(w io.Writer, key string, value float32, comment string) {
	// the header parser requires a decimal point in floats
	s := strings.ToUpper(fmt.Sprintf("%g", value))
	if !strings.Contains(s, ".") {
		if e := strings.Index(s, "E"); e >= 0 {
			s = s[:e] + "." + s[e:]
		} else {
			s += "."
		}
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", trunc(key, 8), s, trunc(comment, 47))
}

// Short strings only, no continuations
func writeString(w io.Writer, key, value, comment string) {
	value = trunc(strings.ReplaceAll(value, "'", "''"), 18)
	fmt.Fprintf(w, "%-8s= '%-18s' / %-47s", trunc(key, 8), value, trunc(comment, 47))
}

func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", HeaderLineSize-3))
}

func trunc(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Writes FITS binary body data in network byte order.
// Optionally replaces NaNs with zeros for compatibility with other software
func writeFloat32Array(w io.Writer, data []float32, replaceNaNs bool) error {
	buf := make([]byte, bufLen)
	perBuf := bufLen >> 2

	for block := 0; block < len(data); block += perBuf {
		size := len(data) - block
		if size > perBuf {
			size = perBuf
		}
		for offset := 0; offset < size; offset++ {
			d := data[block+offset]
			if replaceNaNs && math.IsNaN(float64(d)) {
				d = 0
			}
			binary.BigEndian.PutUint32(buf[offset<<2:], math.Float32bits(d))
		}
		if _, err := w.Write(buf[:size<<2]); err != nil {
			return err
		}
	}
	return nil
}
