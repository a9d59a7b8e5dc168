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

// Package reduce orchestrates star reduction: it caches star detections per loaded image,
// builds the weight field, smooths, composites and normalizes for display, one job at a time.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mlnoga/starreduce/internal/composite"
	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/mask"
	"github.com/mlnoga/starreduce/internal/median"
	"github.com/mlnoga/starreduce/internal/star"
)

var (
	ErrNoImage = errors.New("no image loaded")
	ErrBusy    = errors.New("a reduction is already running")
)

// Pipeline state with respect to the loaded image and its star cache
type State int

const (
	Unloaded State = iota
	StarsUnknown
	StarsKnown
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case StarsUnknown:
		return "stars unknown"
	case StarsKnown:
		return "stars known"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome of one reduction
type Result struct {
	Display   *fits.Display // Display-normalized composite, or original in degraded mode
	Composite *fits.Image   // Float composite before normalization, owned by the caller
	Weights   *mask.Weights // Weight field, nil if smoothing was skipped
	Stars     []star.Star   // Stars used for the weight field
	Params    Params        // Normalized parameters
	Warning   string        // Set if star detection failed and the original was returned
	Elapsed   time.Duration
}

// Star reduction pipeline over one loaded image. Safe for concurrent use
type Pipeline struct {
	c      *Context
	source star.Source

	mu       sync.Mutex
	state    State
	image    *fits.Image
	lum      *fits.Image
	original *fits.Display
	stars    []star.Star
	last     *Result
	running  *Job
}

func NewPipeline(c *Context, source star.Source) *Pipeline {
	return &Pipeline{c: c, source: source}
}

// Loads an image, discarding cached stars and the last result. Fails with ErrBusy while a job runs
func (p *Pipeline) Load(img *fits.Image) error {
	if img == nil || len(img.Naxisn) < 2 || (img.Channels() != 1 && img.Channels() != 3) {
		return fmt.Errorf("unsupported image")
	}
	p.mu.Lock()
	busy := p.running != nil
	p.mu.Unlock()
	if busy {
		return ErrBusy
	}

	p.c.CheckMemory(img)
	lum := fits.Luminance(img)
	original := fits.NormalizeForDisplay(img)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running != nil {
		return ErrBusy
	}
	p.image, p.lum, p.original = img, lum, original
	p.stars, p.last = nil, nil
	p.state = StarsUnknown
	median.ClearPools() // buffer sizes depend on the image dimensions
	fmt.Fprintf(p.c.Log, "%d: Loaded %s %v image %s\n", img.ID, img.DimensionsToString(), img.Order, img.FileName)
	return nil
}

// Reads an image from file and loads it. On failure the pipeline keeps its previous state
func (p *Pipeline) LoadFile(fileName string, id int) error {
	if p.Busy() {
		return ErrBusy
	}
	img, err := fits.NewImageFromFile(fileName, id, p.c.Log)
	if err != nil {
		return err
	}
	return p.Load(img)
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reports whether a job is in flight
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running != nil
}

// The loaded image, or nil
func (p *Pipeline) Image() *fits.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.image
}

// The display-normalized original, or nil if nothing is loaded
func (p *Pipeline) Original() *fits.Display {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.original
}

// The cached stars, and whether detection has run successfully for the loaded image
func (p *Pipeline) Stars() ([]star.Star, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stars, p.state == StarsKnown
}

// The result of the last completed reduction, or nil
func (p *Pipeline) Last() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// A reduction running in the background
type Job struct {
	Params Params
	done   chan struct{}
	result *Result
	err    error
}

// Closed when the job has completed
func (j *Job) Done() <-chan struct{} { return j.done }

// Blocks until the job has completed, and returns its outcome
func (j *Job) Wait() (*Result, error) {
	<-j.done
	return j.result, j.err
}

// Starts a reduction in the background. Fails immediately with ErrInvalidParams, ErrNoImage or ErrBusy.
// The context is passed to the star source only
func (p *Pipeline) Submit(ctx context.Context, params Params) (*Job, error) {
	params, err := params.Normalize()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Unloaded {
		return nil, ErrNoImage
	}
	if p.running != nil {
		return nil, ErrBusy
	}
	job := &Job{Params: params, done: make(chan struct{})}
	p.running = job

	in := jobInput{image: p.image, lum: p.lum, stars: p.stars, known: p.state == StarsKnown}
	go p.run(ctx, job, in)
	return job, nil
}

// Runs a reduction and waits for its completion
func (p *Pipeline) Reduce(ctx context.Context, params Params) (*Result, error) {
	job, err := p.Submit(ctx, params)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

type jobInput struct {
	image *fits.Image
	lum   *fits.Image
	stars []star.Star
	known bool
}

func (p *Pipeline) run(ctx context.Context, job *Job, in jobInput) {
	start := time.Now()
	res, detected, err := p.reduce(ctx, job.Params, in)
	if res != nil {
		res.Elapsed = time.Since(start)
	}

	p.mu.Lock()
	if err == nil {
		if detected {
			p.stars, p.state = res.Stars, StarsKnown
		}
		p.last = res
	}
	job.result, job.err = res, err
	p.running = nil
	p.mu.Unlock()

	if err == nil {
		fmt.Fprintf(p.c.Log, "%d: Reduction with %v took %v\n", in.image.ID, job.Params, res.Elapsed)
	}
	close(job.done)
}

// Returns the result, and whether stars were newly detected
func (p *Pipeline) reduce(ctx context.Context, params Params, in jobInput) (res *Result, detected bool, err error) {
	img := in.image
	stars := in.stars
	if !in.known {
		stars, err = p.source.FindStars(ctx, in.lum)
		if err != nil {
			warning := fmt.Sprintf("star detection failed: %v", err)
			fmt.Fprintf(p.c.Log, "%d: Warning: %s, returning the original image\n", img.ID, warning)
			return &Result{Display: fits.NormalizeForDisplay(img), Composite: img.Clone(), Params: params, Warning: warning}, false, nil
		}
		if stars == nil {
			stars = []star.Star{}
		}
		detected = true
		fmt.Fprintf(p.c.Log, "%d: Detected %d stars\n", img.ID, len(stars))
	}

	if len(stars) == 0 || params.MaskRadius == 0 {
		return &Result{Display: fits.NormalizeForDisplay(img), Composite: img.Clone(), Stars: stars, Params: params}, detected, nil
	}

	weights, err := mask.BuildWeightField(img.Width(), img.Height(), stars, params.MaskRadius, params.GaussianKernel, params.FeatherSigma)
	if err != nil {
		return nil, false, err
	}
	smoothed := median.Filter(img, params.MedianSize)
	blended, err := composite.Blend(img, smoothed, weights)
	if err != nil {
		return nil, false, err
	}
	return &Result{
		Display:   fits.NormalizeForDisplay(blended),
		Composite: blended,
		Weights:   weights,
		Stars:     stars,
		Params:    params,
	}, detected, nil
}
