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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/klauspost/cpuid"

	nl "github.com/mlnoga/starreduce/internal"
	"github.com/mlnoga/starreduce/internal/astrometry"
	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/reduce"
	"github.com/mlnoga/starreduce/internal/rest"
	"github.com/mlnoga/starreduce/internal/star"
	"github.com/mlnoga/starreduce/internal/stats"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

var out = flag.String("out", "out.png", "save output to `file`. Suffix selects format: .fits/.fit float FITS, .tif/.tiff 16-bit TIFF, .png/.jpg 8-bit display")
var jpg = flag.String("jpg", "", "also save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var maskOut = flag.String("mask", "", "save feathered weight field as 8-bit grayscale to `file`")
var overlay = flag.String("overlay", "", "save display with markers around detected stars to `file`")
var overlayColor = flag.String("overlayColor", "#ff4000", "marker color for the star overlay, as hex")

var params = flag.String("params", "", "load reduction parameters from .json or .yaml `file`. Flags given explicitly override")
var radius = flag.Int("radius", 10, "mask radius around each star in pixels, 0=no op")
var medianSize = flag.Int("median", 5, "median filter window size, rounded up to odd")
var kernel = flag.Int("kernel", 11, "gaussian feathering kernel size, rounded up to odd")
var sigma = flag.Float64("sigma", 3, "gaussian feathering sigma")

var starSig = flag.Float64("starSig", 5.0, "sigma for star detection as multiple of standard deviations")
var starBpSig = flag.Float64("starBpSig", 0, "sigma for star detection bad pixel removal as multiple of standard deviations, 0=off")
var starInOut = flag.Float64("starInOut", 1.4, "minimal ratio of brightness inside HFR to outside HFR for star detection")
var starRadius = flag.Int64("starRadius", 16, "radius for star detection in pixels")
var stars = flag.String("stars", "", "save star detections as CSV to `file`")
var starsIn = flag.String("starsIn", "", "read stars from CSV `file` instead of detecting them")

var api = flag.Bool("api", false, "find stars with the astrometry.net annotation service instead of local detection")
var apiKey = flag.String("apiKey", "", "astrometry.net API key, default from $ASTROMETRY_API_KEY")
var apiURL = flag.String("apiURL", astrometry.DefaultAPIURL, "astrometry.net API base URL")
var apiPoll = flag.Duration("apiPoll", 10*time.Second, "astrometry.net status polling interval")

var addr = flag.String("addr", ":8080", "listen address for the REST API")
var chroot = flag.String("chroot", "", "serve: change filesystem root to `dir` after loading, requires root")
var setuid = flag.Int("setuid", -1, "serve: change user ID to `uid` after loading, -1=keep")

func main() {
	logWriter := nl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Starreduce Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (reduce|stars|serve|legal|version) (img.fits)

Commands:
  reduce  Reduce stars in the given image
  stars   Find stars in the given image
  serve   Serve the REST API, optionally preloading the given image
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" {
			*log = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}
	defer nl.LogSync()

	// Also auto-select JPEG output target
	if *jpg == "%auto" {
		if *out != "" {
			*jpg = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jpg"
		} else {
			*jpg = ""
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatalf("Could not create CPU profile: %s\n", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatalf("Could not start CPU profile: %s\n", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch args[0] {
	case "reduce":
		err = cmdReduce(ctx, args[1:], logWriter)
	case "stars":
		err = cmdStars(ctx, args[1:], logWriter)
	case "serve":
		err = cmdServe(args[1:], logWriter)
	case "legal":
		fmt.Fprint(logWriter, legal)
	case "version":
		cmdVersion(logWriter)
	case "help", "?":
		flag.Usage()
	default:
		err = fmt.Errorf("unknown command '%s'", args[0])
	}

	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		nl.LogSync()
		pprof.StopCPUProfile()
		os.Exit(-1)
	}
	fmt.Fprintf(logWriter, "Done after %v\n", time.Since(start))
}

func cmdReduce(ctx context.Context, args []string, logWriter io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("reduce expects exactly one image, got %d", len(args))
	}
	p, err := reductionParams()
	if err != nil {
		return err
	}
	c := reduce.NewContext(logWriter)
	c.LogMachine()
	pipeline := reduce.NewPipeline(c, starSource(logWriter))
	if err := pipeline.LoadFile(args[0], 0); err != nil {
		return err
	}

	fmt.Fprintf(logWriter, "Reducing stars with %v\n", p)
	res, err := pipeline.Reduce(ctx, p)
	if err != nil {
		return err
	}
	if res.Warning != "" {
		fmt.Fprintf(logWriter, "Warning: %s\n", res.Warning)
	}

	if err := writeResult(res, *out, logWriter); err != nil {
		return err
	}
	if *jpg != "" {
		if err := saveDisplay(res.Display, *jpg, logWriter); err != nil {
			return err
		}
	}
	if *maskOut != "" {
		if res.Weights == nil {
			fmt.Fprintf(logWriter, "No weight field, skipping mask output %s\n", *maskOut)
		} else if err := saveDisplay(res.Weights.ToDisplay(), *maskOut, logWriter); err != nil {
			return err
		}
	}
	return saveStars(res.Stars, res.Display, res.Params.MaskRadius, logWriter)
}

func cmdStars(ctx context.Context, args []string, logWriter io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("stars expects exactly one image, got %d", len(args))
	}
	img, err := fits.NewImageFromFile(args[0], 0, logWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%d: Loaded %s image with %v from %s\n", img.ID, img.DimensionsToString(), img.Stats, img.FileName)
	found, err := starSource(logWriter).FindStars(ctx, fits.Luminance(img))
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%d: Found %d stars\n", img.ID, len(found))
	p, err := reductionParams()
	if err != nil {
		return err
	}
	return saveStars(found, fits.NormalizeForDisplay(img), p.MaskRadius, logWriter)
}

func cmdServe(args []string, logWriter io.Writer) error {
	c := reduce.NewContext(logWriter)
	c.LogMachine()
	pipeline := reduce.NewPipeline(c, starSource(logWriter))
	if len(args) > 0 {
		if err := pipeline.LoadFile(args[0], 0); err != nil {
			return err
		}
	}
	if err := rest.MakeSandbox(*chroot, *setuid, logWriter); err != nil {
		return err
	}
	return rest.NewServer(pipeline, logWriter).Serve(*addr)
}

func cmdVersion(logWriter io.Writer) {
	fmt.Fprintf(logWriter, "Version %s\n", version)
	fmt.Fprintf(logWriter, "CPU %s, family %d model %d, %d physical cores, %d threads per core, %d logical cores\n",
		cpuid.CPU.BrandName, cpuid.CPU.Family, cpuid.CPU.Model,
		cpuid.CPU.PhysicalCores, cpuid.CPU.ThreadsPerCore, cpuid.CPU.LogicalCores)
	fmt.Fprintf(logWriter, "Cache L1D %d L2 %d L3 %d bytes, line size %d. AVX2 %v\n",
		cpuid.CPU.Cache.L1D, cpuid.CPU.Cache.L2, cpuid.CPU.Cache.L3, cpuid.CPU.CacheLine, cpuid.CPU.AVX2())
}

// Reduction parameters from the optional parameter file, overridden by explicitly given flags
func reductionParams() (reduce.Params, error) {
	p := reduce.DefaultParams()
	if *params != "" {
		var err error
		if p, err = reduce.LoadParamsFile(*params); err != nil {
			return p, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "radius":
			p.MaskRadius = *radius
		case "median":
			p.MedianSize = *medianSize
		case "kernel":
			p.GaussianKernel = *kernel
		case "sigma":
			p.FeatherSigma = float32(*sigma)
		}
	})
	return p.Normalize()
}

// Selects the star source given by the flags
func starSource(logWriter io.Writer) star.Source {
	if *starsIn != "" {
		fmt.Fprintf(logWriter, "Reading stars from %s\n", *starsIn)
		return star.FileSource{FileName: *starsIn}
	}
	if *api {
		key := *apiKey
		if key == "" {
			key = os.Getenv("ASTROMETRY_API_KEY")
		}
		client := astrometry.NewClient(key, logWriter)
		client.APIURL = *apiURL
		client.PollInterval = *apiPoll
		return client
	}
	d := star.NewDetector(logWriter)
	d.StarSig = float32(*starSig)
	d.BPSigma = float32(*starBpSig)
	d.InOut = float32(*starInOut)
	d.Radius = int32(*starRadius)
	return d
}

// Writes the reduced image, format chosen by file suffix
func writeResult(res *reduce.Result, fileName string, logWriter io.Writer) error {
	if fileName == "" {
		return nil
	}
	fmt.Fprintf(logWriter, "Writing %s\n", fileName)
	var err error
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".fits", ".fit":
		err = res.Composite.WriteFile(fileName)
	case ".tif", ".tiff":
		min, max := stats.MinMax(res.Composite.Data)
		err = res.Composite.WriteTIFF16ToFile(fileName, min, max)
	default:
		err = fits.WriteDisplayFile(res.Display, fileName, 95)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", fileName, err)
	}
	return nil
}

func saveDisplay(d *fits.Display, fileName string, logWriter io.Writer) error {
	fmt.Fprintf(logWriter, "Writing %s\n", fileName)
	return fits.WriteDisplayFile(d, fileName, 95)
}

// Writes the star list and the star overlay, if selected. Rings use the given mask radius
func saveStars(found []star.Star, d *fits.Display, maskRadius int, logWriter io.Writer) error {
	if *stars != "" {
		fmt.Fprintf(logWriter, "Writing %d stars to %s\n", len(found), *stars)
		if err := star.WriteCSVFile(*stars, found); err != nil {
			return err
		}
	}
	if *overlay != "" {
		col, err := star.ParseColor(*overlayColor)
		if err != nil {
			return err
		}
		r := overlayRadius(maskRadius, int(*starRadius))
		if err := saveDisplay(star.Overlay(d, found, r, col, 1), *overlay, logWriter); err != nil {
			return err
		}
	}
	return nil
}

// Ring radius for the overlay: the mask radius, or the detection radius if reduction is off
func overlayRadius(maskRadius, detectionRadius int) int {
	if maskRadius > 0 {
		return maskRadius
	}
	return detectionRadius
}
