// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRequestTimeout = 30 * time.Second
	ingestMaxElapsed      = 2 * time.Minute
)

// RESTClient implements Service against the warehouse ingestion REST API.
type RESTClient struct {
	baseURL  string
	pipeName string
	httpc    *http.Client
}

// NewRESTClient builds a client bound to one pipe.
func NewRESTClient(baseURL, pipeName string) *RESTClient {
	return &RESTClient{
		baseURL:  baseURL,
		pipeName: pipeName,
		httpc:    &http.Client{Timeout: defaultRequestTimeout},
	}
}

type insertFilesRequest struct {
	Files []insertFile `json:"files"`
}

type insertFile struct {
	Path string `json:"path"`
}

type fileStatusResponse struct {
	Files []struct {
		Path   string `json:"path"`
		Status string `json:"status"`
	} `json:"files"`
}

// IngestFiles submits the batch to the pipe's insertFiles endpoint,
// retrying with exponential backoff until accepted or exhausted. A 4xx
// response other than 429 fails at once without a retry.
func (c *RESTClient) IngestFiles(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	req := insertFilesRequest{Files: make([]insertFile, 0, len(files))}
	for _, f := range files {
		req.Files = append(req.Files, insertFile{Path: f})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal insertFiles request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/data/pipes/%s/insertFiles", c.baseURL, url.PathEscape(c.pipeName))

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = ingestMaxElapsed
	return backoff.Retry(func() error {
		return c.post(ctx, endpoint, body)
	}, backoff.WithContext(policy, ctx))
}

func (c *RESTClient) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("insertFiles %s: status %d", c.pipeName, resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// ReadIngestReport queries the short-window insertReport endpoint.
func (c *RESTClient) ReadIngestReport(ctx context.Context, files []string) (map[string]Status, error) {
	endpoint := fmt.Sprintf("%s/v1/data/pipes/%s/insertReport", c.baseURL, url.PathEscape(c.pipeName))
	return c.readStatuses(ctx, endpoint, files)
}

// ReadOneHourHistory scans the load-history endpoint from sinceMs onward.
func (c *RESTClient) ReadOneHourHistory(ctx context.Context, files []string, sinceMs int64) (map[string]Status, error) {
	endpoint := fmt.Sprintf("%s/v1/data/pipes/%s/loadHistoryScan?startTimeInclusive=%s",
		c.baseURL, url.PathEscape(c.pipeName), strconv.FormatInt(sinceMs, 10))
	return c.readStatuses(ctx, endpoint, files)
}

func (c *RESTClient) readStatuses(ctx context.Context, endpoint string, files []string) (map[string]Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ingest status %s: status %d", c.pipeName, resp.StatusCode)
	}
	var parsed fileStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode ingest status: %w", err)
	}

	wanted := make(map[string]struct{}, len(files))
	for _, f := range files {
		wanted[f] = struct{}{}
	}
	out := make(map[string]Status)
	for _, f := range parsed.Files {
		if _, ok := wanted[f.Path]; !ok {
			continue
		}
		out[f.Path] = parseStatus(f.Status)
	}
	return out, nil
}

func parseStatus(raw string) Status {
	switch raw {
	case "LOADED":
		return StatusLoaded
	case "LOAD_FAILED", "FAILED":
		return StatusFailed
	case "PARTIALLY_LOADED":
		return StatusPartiallyLoaded
	case "LOAD_IN_PROGRESS":
		return StatusLoadInProgress
	default:
		return StatusNotFound
	}
}

// Close releases the underlying transport.
func (c *RESTClient) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}
