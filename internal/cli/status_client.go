package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"yt-job-server/internal/jobs"
	"yt-job-server/internal/model"
)

const (
	defaultServerURL   = "http://127.0.0.1:5000"
	statusRetryElapsed = 15 * time.Second
	statusHTTPTimeout  = 10 * time.Second
)

// statusClient queries a running server. Connection failures and 5xx
// responses are retried with exponential backoff.
type statusClient struct {
	base       string
	http       *http.Client
	maxElapsed time.Duration
}

func newStatusClient(server string) (*statusClient, error) {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		server = defaultServerURL
	}
	u, err := url.Parse(server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", server)
	}
	return &statusClient{
		base:       server,
		http:       &http.Client{Timeout: statusHTTPTimeout},
		maxElapsed: statusRetryElapsed,
	}, nil
}

func (c *statusClient) Status(ctx context.Context, id string) (model.JobStatus, error) {
	var st model.JobStatus
	err := c.get(ctx, "/api/status/"+url.PathEscape(id), &st)
	return st, err
}

func (c *statusClient) List(ctx context.Context) ([]model.JobStatus, error) {
	var resp struct {
		Jobs []model.JobStatus `json:"jobs"`
	}
	if err := c.get(ctx, "/api/jobs", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *statusClient) get(ctx context.Context, path string, v any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(func() error {
		return c.getOnce(ctx, path, v)
	}, backoff.WithContext(b, ctx))
}

func (c *statusClient) getOnce(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(body, v); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response from %s: %w", path, err))
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%s: %w", path, jobs.ErrJobNotFound))
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("server error: %s", apiErrorMessage(resp.Status, body))
	default:
		return backoff.Permanent(errors.New(apiErrorMessage(resp.Status, body)))
	}
}

func apiErrorMessage(status string, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return status + ": " + payload.Error
	}
	return status
}
