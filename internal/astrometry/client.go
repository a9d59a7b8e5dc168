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

// Package astrometry is a client for the nova.astrometry.net web API. It uploads an image,
// waits for the plate solve and turns the returned annotations into star centroids.
package astrometry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/mlnoga/starreduce/internal/star"
)

const DefaultAPIURL = "http://nova.astrometry.net/api/"

// Returned when the service definitively reports a failed solve
var ErrSolveFailed = errors.New("astrometry solve failed")

// A remote annotation client. Implements star.Source
type Client struct {
	APIURL       string        // Base URL of the API, with trailing slash
	APIKey       string        // API key for session login
	HTTP         *http.Client  // HTTP client to use
	PollInterval time.Duration // Delay between status polls
	Log          io.Writer     // Log output, may be nil
}

func NewClient(apiKey string, logWriter io.Writer) *Client {
	return &Client{
		APIURL:       DefaultAPIURL,
		APIKey:       apiKey,
		HTTP:         &http.Client{Timeout: 5 * time.Minute},
		PollInterval: 10 * time.Second,
		Log:          logWriter,
	}
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.Log != nil {
		fmt.Fprintf(c.Log, format, args...)
	}
}

// An annotated object in pixel coordinates
type Annotation struct {
	Type   string   `json:"type"`
	Names  []string `json:"names"`
	PixelX float32  `json:"pixelx"`
	PixelY float32  `json:"pixely"`
	Radius float32  `json:"radius"`
}

type statusResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errormessage"`
}

func (s statusResponse) err(op string) error {
	if s.Status == "error" {
		return fmt.Errorf("%s: %s", op, s.ErrorMessage)
	}
	return nil
}

// Uploads the luminance image, waits for the solve and returns the annotations as stars
func (c *Client) FindStars(ctx context.Context, lum *fits.Image) ([]star.Star, error) {
	var buf bytes.Buffer
	if err := lum.Write(&buf); err != nil {
		return nil, fmt.Errorf("%w: encoding upload: %w", star.ErrDetection, err)
	}
	anns, err := c.Solve(ctx, "luminance.fits", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", star.ErrDetection, err)
	}

	width, height := lum.Width(), lum.Height()
	stars := make([]star.Star, 0, len(anns))
	for _, a := range anns {
		x, y := int(a.PixelX), int(a.PixelY)
		if a.PixelX < 0 || a.PixelY < 0 || x >= width || y >= height {
			continue
		}
		index := int32(y*width + x)
		stars = append(stars, star.Star{Index: index, Value: lum.Data[index], X: a.PixelX, Y: a.PixelY, HFR: a.Radius})
	}
	c.logf("%d: Remote annotation returned %d objects, %d within the image\n", lum.ID, len(anns), len(stars))
	return stars, nil
}

// Runs the full protocol: login, upload, wait for job, wait for success, fetch annotations
func (c *Client) Solve(ctx context.Context, fileName string, data io.Reader) ([]Annotation, error) {
	session, err := c.Login(ctx)
	if err != nil {
		return nil, err
	}
	subID, err := c.Upload(ctx, session, fileName, data)
	if err != nil {
		return nil, err
	}
	c.logf("Uploaded %s as submission %d\n", fileName, subID)
	jobID, err := c.WaitForJob(ctx, session, subID)
	if err != nil {
		return nil, err
	}
	c.logf("Submission %d is job %d\n", subID, jobID)
	if err := c.WaitForSuccess(ctx, session, jobID); err != nil {
		return nil, err
	}
	return c.Annotations(ctx, session, jobID)
}

// Logs in with the API key and returns the session key
func (c *Client) Login(ctx context.Context) (string, error) {
	form, err := requestJSON(map[string]interface{}{"apikey": c.APIKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res struct {
		statusResponse
		Session string `json:"session"`
	}
	if err := c.do(req, &res); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if err := res.err("login"); err != nil {
		return "", err
	}
	if res.Session == "" {
		return "", errors.New("login: no session in response")
	}
	return res.Session, nil
}

// Uploads an image file as multipart form and returns the submission ID
func (c *Client) Upload(ctx context.Context, session, fileName string, data io.Reader) (int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	rj, err := json.Marshal(map[string]interface{}{"session": session})
	if err != nil {
		return 0, err
	}
	if err := mw.WriteField("request-json", string(rj)); err != nil {
		return 0, err
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(fw, data); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"upload", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res struct {
		statusResponse
		SubID int `json:"subid"`
	}
	if err := c.do(req, &res); err != nil {
		return 0, fmt.Errorf("upload: %w", err)
	}
	if err := res.err("upload"); err != nil {
		return 0, err
	}
	return res.SubID, nil
}

// Polls the submission until a job has been assigned, and returns its ID
func (c *Client) WaitForJob(ctx context.Context, session string, subID int) (int, error) {
	for {
		var res struct {
			Jobs []*int `json:"jobs"`
		}
		if err := c.get(ctx, fmt.Sprintf("submissions/%d", subID), session, &res); err != nil {
			return 0, fmt.Errorf("submission %d: %w", subID, err)
		}
		if len(res.Jobs) > 0 && res.Jobs[0] != nil {
			return *res.Jobs[0], nil
		}
		if err := c.sleep(ctx); err != nil {
			return 0, err
		}
	}
}

// Polls the job status until it reports success or failure
func (c *Client) WaitForSuccess(ctx context.Context, session string, jobID int) error {
	for {
		var res statusResponse
		if err := c.get(ctx, fmt.Sprintf("jobs/%d", jobID), session, &res); err != nil {
			return fmt.Errorf("job %d: %w", jobID, err)
		}
		switch res.Status {
		case "success":
			return nil
		case "failure":
			return fmt.Errorf("%w: job %d", ErrSolveFailed, jobID)
		case "error":
			return res.err(fmt.Sprintf("job %d", jobID))
		}
		c.logf("Job %d status %s\n", jobID, res.Status)
		if err := c.sleep(ctx); err != nil {
			return err
		}
	}
}

// Fetches the annotations of a solved job
func (c *Client) Annotations(ctx context.Context, session string, jobID int) ([]Annotation, error) {
	var res struct {
		Annotations []Annotation `json:"annotations"`
	}
	if err := c.get(ctx, fmt.Sprintf("jobs/%d/annotations", jobID), session, &res); err != nil {
		return nil, fmt.Errorf("annotations of job %d: %w", jobID, err)
	}
	return res.Annotations, nil
}

func (c *Client) get(ctx context.Context, path, session string, res interface{}) error {
	u := c.APIURL + path + "?" + url.Values{"session": {session}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, res)
}

func (c *Client) do(req *http.Request, res interface{}) error {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(res)
}

func (c *Client) sleep(ctx context.Context) error {
	t := time.NewTimer(c.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func requestJSON(v interface{}) (url.Values, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return url.Values{"request-json": {string(b)}}, nil
}
