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
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/mlnoga/starreduce/internal/stats"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Loads an image from a FITS, gzipped FITS or TIFF file
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (i *Image, err error) {
	i = NewImage()
	i.ID = id
	if err := i.ReadFile(fileName, true, logWriter); err != nil {
		return nil, fmt.Errorf("%d: loading %s: %w", id, fileName, err)
	}
	return i, nil
}

// Read FITS data from the file with the given name. Decompresses gzip if .gz or gzip suffix is present.
// Reads metadata only (fast) if readData is false.
func (f *Image) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file

	f.FileName = fileName
	lExt := strings.ToLower(path.Ext(fileName))

	if lExt == ".tif" || lExt == ".tiff" {
		return f.ReadTIFF(file)
	} else if lExt == ".gz" || lExt == ".gzip" {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	return f.Read(r, readData, logWriter)
}

func (f *Image) popHeaderInt32(key string) (res int32, err error) {
	if val, ok := f.Header.Ints[key]; ok {
		delete(f.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
}

func (f *Image) popHeaderInt32OrFloat(key string) (res float32, err error) {
	if val, ok := f.Header.Ints[key]; ok {
		delete(f.Header.Ints, key)
		return float32(val), nil
	} else if val, ok := f.Header.Floats[key]; ok {
		delete(f.Header.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", f.ID, key)
}

// Reads a FITS header and optionally the primary data unit
func (f *Image) Read(r io.Reader, readData bool, logWriter io.Writer) (err error) {
	if err = f.Header.read(r, f.ID, logWriter); err != nil {
		return err
	}

	// check mandatory fields as per standard
	if !f.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", f.ID)
	}
	delete(f.Header.Bools, "SIMPLE")

	if f.Bitpix, err = f.popHeaderInt32("BITPIX"); err != nil {
		return err
	}
	var naxis int32
	if naxis, err = f.popHeaderInt32("NAXIS"); err != nil {
		return err
	}
	f.Naxisn = make([]int32, naxis)
	f.Pixels = int32(1)
	for i := int32(1); i <= naxis; i++ {
		var nai int32
		if nai, err = f.popHeaderInt32("NAXIS" + strconv.FormatInt(int64(i), 10)); err != nil {
			return err
		}
		f.Naxisn[i-1] = nai
		f.Pixels *= nai
	}

	if f.Bzero, err = f.popHeaderInt32OrFloat("BZERO"); err != nil {
		f.Bzero = 0
	}
	if f.Bscale, err = f.popHeaderInt32OrFloat("BSCALE"); err != nil {
		f.Bscale = 1
	}
	if f.Exposure, err = f.popHeaderInt32OrFloat("EXPOSURE"); err != nil {
		if f.Exposure, err = f.popHeaderInt32OrFloat("EXPTIME"); err != nil {
			f.Exposure = 0
		}
	}

	if !readData {
		return nil
	}
	if err = f.readData(r, logWriter); err != nil {
		return err
	}
	if err = f.normalizeLayout(); err != nil {
		return err
	}
	if f.Channels() == 3 && f.Header.Strings["COLORORD"] == "BGR" {
		f.Order = BGR
	}
	s := stats.CalcBasicStats(f.Data)
	f.Stats = &s
	return nil
}

// Establishes planar layout and channel order. Color images come either as
// three planes (NAXIS3=3) or interleaved triples (NAXIS1=3), the latter are de-interleaved.
func (f *Image) normalizeLayout() error {
	switch {
	case len(f.Naxisn) == 2:
		f.Order = Gray
	case len(f.Naxisn) == 3 && f.Naxisn[2] == 1:
		f.Naxisn = f.Naxisn[:2]
		f.Order = Gray
	case len(f.Naxisn) == 3 && f.Naxisn[2] == 3:
		f.Order = RGB
	case len(f.Naxisn) == 3 && f.Naxisn[0] == 3:
		width, height := f.Naxisn[1], f.Naxisn[2]
		size := int(width * height)
		planar := make([]float32, len(f.Data))
		for i := 0; i < size; i++ {
			planar[i] = f.Data[3*i]
			planar[i+size] = f.Data[3*i+1]
			planar[i+2*size] = f.Data[3*i+2]
		}
		f.Data = planar
		f.Naxisn = []int32{width, height, 3}
		f.Order = RGB
	default:
		return fmt.Errorf("%d: unsupported image dimensions %s", f.ID, f.DimensionsToString())
	}
	return nil
}

const bufLen int = 16 * 1024 // input buffer length for reading from file, multiple of 8

// Read image data from file, convert to float32 data type, apply Bzero and Bscale, and reset them afterwards.
func (f *Image) readData(r io.Reader, logWriter io.Writer) (err error) {
	var decode func(b []byte) float32
	switch f.Bitpix {
	case 8:
		decode = func(b []byte) float32 { return float32(b[0]) }
	case 16:
		decode = func(b []byte) float32 { return float32(int16(binary.BigEndian.Uint16(b))) }
	case 32:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int%d to float32 values\n", f.ID, f.Bitpix)
		decode = func(b []byte) float32 { return float32(int32(binary.BigEndian.Uint32(b))) }
	case 64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int%d to float32 values\n", f.ID, f.Bitpix)
		decode = func(b []byte) float32 { return float32(int64(binary.BigEndian.Uint64(b))) }
	case -32:
		decode = func(b []byte) float32 { return math.Float32frombits(binary.BigEndian.Uint32(b)) }
	case -64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting float%d to float32 values\n", f.ID, -f.Bitpix)
		decode = func(b []byte) float32 { return float32(math.Float64frombits(binary.BigEndian.Uint64(b))) }
	default:
		return fmt.Errorf("%d: Unknown BITPIX value %d", f.ID, f.Bitpix)
	}

	bytesPerValue := int(f.Bitpix) / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	f.Data = make([]float32, int(f.Pixels))
	buf := make([]byte, bufLen)
	valuesPerBuf := bufLen / bytesPerValue

	for dataIndex := 0; dataIndex < len(f.Data); {
		n := len(f.Data) - dataIndex
		if n > valuesPerBuf {
			n = valuesPerBuf
		}
		if _, err := io.ReadFull(r, buf[:n*bytesPerValue]); err != nil {
			return fmt.Errorf("%d: reading data: %w", f.ID, err)
		}
		for i := 0; i < n; i++ {
			f.Data[dataIndex+i] = decode(buf[i*bytesPerValue:])*f.Bscale + f.Bzero
		}
		dataIndex += n
	}
	f.Bzero, f.Bscale = 0, 1 // reflect that data values incorporate these now
	return nil
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%d: reading header: %w", id, err)
		}
		h.Length += int32(fitsBlockSize)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: Cannot parse '%s', ignoring\n", id, string(line))
				continue
			}
			h.readLine(reParser.SubexpNames(), subValues, id, lineNo, logWriter)
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch c := subNames[i][0]; c {
		case 'E':
			h.End = true
		case 'H':
			h.History = append(h.History, string(subValues[i]))
		case 'C':
			h.Comments = append(h.Comments, string(subValues[i]))
		case 'k':
			key = string(subValues[i])
		case 'b':
			if len(subValues[i]) > 0 {
				v := subValues[i][0]
				h.Bools[key] = v == 't' || v == 'T'
			}
		case 'i':
			if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.Ints[key] = int32(val)
			}
		case 'f':
			s := strings.Replace(string(subValues[i]), "D", "E", 1)
			if val, err := strconv.ParseFloat(s, 64); err == nil {
				h.Floats[key] = float32(val)
			}
		case 's':
			h.Strings[key] = strings.TrimRight(string(subValues[i]), " ")
		case 'd':
			h.Dates[key] = string(subValues[i])
		case 'c':
			// value comments are dropped
		default:
			fmt.Fprintf(logWriter, "%d:%d: Warning: Unknown token '%s'\n", id, lineNo, string(c))
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	rest := ".*"

	histLine := "HISTORY" + white + "(?P<H>" + rest + ")"
	commLine := "COMMENT" + white + "(?P<C>" + rest + ")"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + white + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
