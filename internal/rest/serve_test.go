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
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/reduce"
	"github.com/mlnoga/starreduce/internal/star"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testImage() *fits.Image {
	img := fits.NewImageFromNaxisn([]int32{32, 24}, nil)
	for i := range img.Data {
		img.Data[i] = float32(i % 7)
	}
	img.Data[12*32+16] = 100
	return img
}

func newTestServer(t *testing.T, source star.Source) (*Server, *reduce.Pipeline) {
	t.Helper()
	p := reduce.NewPipeline(&reduce.Context{Log: io.Discard, MaxThreads: 1}, source)
	return NewServer(p, io.Discard), p
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func fixedSource(stars ...star.Star) star.Source {
	return star.SourceFunc(func(ctx context.Context, lum *fits.Image) ([]star.Star, error) {
		return stars, nil
	})
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t, fixedSource())
	w := do(s, http.MethodGet, "/api/v1/ping", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("pong")) {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}
}

func TestReduceBeforeLoad(t *testing.T) {
	s, _ := newTestServer(t, fixedSource())
	if w := do(s, http.MethodPost, "/api/v1/reduce", nil); w.Code != http.StatusPreconditionFailed {
		t.Errorf("reduce: got %d; want %d", w.Code, http.StatusPreconditionFailed)
	}
	if w := do(s, http.MethodGet, "/api/v1/result", nil); w.Code != http.StatusNotFound {
		t.Errorf("result: got %d; want %d", w.Code, http.StatusNotFound)
	}
	if w := do(s, http.MethodGet, "/api/v1/stars", nil); w.Code != http.StatusNotFound {
		t.Errorf("stars: got %d; want %d", w.Code, http.StatusNotFound)
	}
}

func TestLoadRejectsUnsafePaths(t *testing.T) {
	s, _ := newTestServer(t, fixedSource())
	for _, name := range []string{"/etc/passwd", "../secret.fits", "a/../../b.fits"} {
		body, _ := json.Marshal(postLoadArgs{FileName: name})
		if w := do(s, http.MethodPost, "/api/v1/load", body); w.Code != http.StatusForbidden {
			t.Errorf("%s: got %d; want %d", name, w.Code, http.StatusForbidden)
		}
	}
	if w := do(s, http.MethodPost, "/api/v1/load", []byte(`{}`)); w.Code != http.StatusBadRequest {
		t.Errorf("missing fileName: got %d; want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLoadReduceFetch(t *testing.T) {
	dir, err := os.MkdirTemp(".", "testload")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fileName := filepath.Join(filepath.Base(dir), "img.fits")
	if err := testImage().WriteFile(fileName); err != nil {
		t.Fatal(err)
	}

	s, p := newTestServer(t, fixedSource(star.Star{X: 16, Y: 12, Mass: 93}))
	body, _ := json.Marshal(postLoadArgs{FileName: fileName})
	w := do(s, http.MethodPost, "/api/v1/load", body)
	if w.Code != http.StatusOK {
		t.Fatalf("load: got %d %s", w.Code, w.Body.String())
	}
	if p.State() != reduce.StarsUnknown {
		t.Errorf("state %v after load", p.State())
	}

	w = do(s, http.MethodPost, "/api/v1/reduce", []byte(`{"maskRadius":3,"medianSize":4}`))
	if w.Code != http.StatusOK {
		t.Fatalf("reduce: got %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Params   reduce.Params `json:"params"`
		Stars    int           `json:"stars"`
		Smoothed bool          `json:"smoothed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	want := reduce.DefaultParams()
	want.MaskRadius, want.MedianSize = 3, 5
	if res.Params != want || res.Stars != 1 || !res.Smoothed {
		t.Errorf("got %+v; want params %v with one star smoothed", res, want)
	}

	w = do(s, http.MethodGet, "/api/v1/result", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("result: got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("result bounds %v", b)
	}

	if w := do(s, http.MethodGet, "/api/v1/mask", nil); w.Code != http.StatusOK {
		t.Errorf("mask: got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/result?format=bmp", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bmp: got %d; want %d", w.Code, http.StatusBadRequest)
	}

	w = do(s, http.MethodGet, "/api/v1/stars", nil)
	var stars struct {
		Stars []starJSON `json:"stars"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stars); err != nil {
		t.Fatal(err)
	}
	if len(stars.Stars) != 1 || stars.Stars[0].X != 16 || stars.Stars[0].Y != 12 {
		t.Errorf("stars: got %+v", stars.Stars)
	}
}

func TestReduceWhileBusy(t *testing.T) {
	release, entered := make(chan struct{}), make(chan struct{})
	s, p := newTestServer(t, star.SourceFunc(func(ctx context.Context, lum *fits.Image) ([]star.Star, error) {
		close(entered)
		<-release
		return nil, nil
	}))
	if err := p.Load(testImage()); err != nil {
		t.Fatal(err)
	}
	job, err := p.Submit(context.Background(), reduce.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	<-entered
	if w := do(s, http.MethodPost, "/api/v1/reduce", []byte(`{}`)); w.Code != http.StatusConflict {
		t.Errorf("got %d; want %d", w.Code, http.StatusConflict)
	}
	close(release)
	if _, err := job.Wait(); err != nil {
		t.Fatal(err)
	}
	if w := do(s, http.MethodPost, "/api/v1/reduce", []byte(`{"featherSigma":-1}`)); w.Code != http.StatusBadRequest {
		t.Errorf("invalid params: got %d; want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSandboxNoop(t *testing.T) {
	if err := MakeSandbox("", -1, io.Discard); err != nil {
		t.Errorf("no-op sandbox failed: %v", err)
	}
}

func TestIndexPage(t *testing.T) {
	s, _ := newTestServer(t, fixedSource())
	w := do(s, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("/api/v1/result")) {
		t.Errorf("got %d", w.Code)
	}
}
