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

package rest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/reduce"
	"github.com/mlnoga/starreduce/internal/star"
	"github.com/mlnoga/starreduce/web"
)

// REST API over a single star reduction pipeline
type Server struct {
	p      *reduce.Pipeline
	log    io.Writer
	lastID int32
}

func NewServer(p *reduce.Pipeline, logWriter io.Writer) *Server {
	return &Server{p: p, log: logWriter}
}

// Returns the router with all routes installed
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.log), gin.Recovery())
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/state", s.getState)
			v1.POST("/load", s.postLoad)
			v1.POST("/reduce", s.postReduce)
			v1.GET("/result", s.getResult)
			v1.GET("/original", s.getOriginal)
			v1.GET("/mask", s.getMask)
			v1.GET("/stars", s.getStars)
		}
	}
	return r
}

// Listens and serves on the given address, e.g. ":8080"
func (s *Server) Serve(addr string) error {
	fmt.Fprintf(s.log, "Serving REST API on %s\n", addr)
	return s.Router().Run(addr)
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": s.p.State().String(),
		"busy":  s.p.Busy(),
	})
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false
	}
	return !strings.Contains(p, "..")
}

type postLoadArgs struct {
	FileName string `json:"fileName" binding:"required"`
}

func (s *Server) postLoad(c *gin.Context) {
	var args postLoadArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !isPathAllowed(args.FileName) {
		c.JSON(http.StatusForbidden, gin.H{"error": "filename outside current directory tree"})
		return
	}

	id := int(atomic.AddInt32(&s.lastID, 1))
	if err := s.p.LoadFile(args.FileName, id); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	img := s.p.Image()
	c.JSON(http.StatusOK, gin.H{
		"id":       img.ID,
		"fileName": img.FileName,
		"width":    img.Width(),
		"height":   img.Height(),
		"channels": img.Channels(),
		"order":    img.Order.String(),
	})
}

func (s *Server) postReduce(c *gin.Context) {
	params := reduce.DefaultParams()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := s.p.Reduce(c.Request.Context(), params)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"params":    res.Params,
		"stars":     len(res.Stars),
		"smoothed":  res.Weights != nil,
		"warning":   res.Warning,
		"elapsedMs": res.Elapsed.Milliseconds(),
	})
}

func (s *Server) getResult(c *gin.Context) {
	res := s.p.Last()
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reduction result"})
		return
	}
	writeDisplay(c, res.Display)
}

func (s *Server) getOriginal(c *gin.Context) {
	d := s.p.Original()
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": reduce.ErrNoImage.Error()})
		return
	}
	writeDisplay(c, d)
}

func (s *Server) getMask(c *gin.Context) {
	res := s.p.Last()
	if res == nil || res.Weights == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no weight field"})
		return
	}
	writeDisplay(c, res.Weights.ToDisplay())
}

var contentTypes = map[string]string{
	"png": "image/png",
	"jpg": "image/jpeg",
	"tif": "image/tiff",
}

// Writes a display buffer in the format given by the format query parameter, default png
func writeDisplay(c *gin.Context, d *fits.Display) {
	format := c.DefaultQuery("format", "png")
	contentType, ok := contentTypes[format]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format '%s'", format)})
		return
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := fits.WriteDisplay(d, c.Writer, format, 95); err != nil {
		c.Error(err)
	}
}

type starJSON struct {
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Mass float32 `json:"mass"`
	HFR  float32 `json:"hfr"`
}

func (s *Server) getStars(c *gin.Context) {
	stars, known := s.p.Stars()
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "stars not detected yet"})
		return
	}
	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := star.WriteCSV(c.Writer, stars); err != nil {
			c.Error(err)
		}
		return
	}
	res := make([]starJSON, len(stars))
	for i, st := range stars {
		res[i] = starJSON{X: st.X, Y: st.Y, Mass: st.Mass, HFR: st.HFR}
	}
	c.JSON(http.StatusOK, gin.H{"stars": res})
}

// Maps pipeline errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, reduce.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, reduce.ErrNoImage):
		return http.StatusPreconditionFailed
	case errors.Is(err, reduce.ErrInvalidParams):
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}
