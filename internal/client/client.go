// Package client talks to the blogdesk HTTP API on behalf of a Go editor session. It
// implements the collaborator contracts the editor core consumes: draft persistence, AI
// rewrite and enhance, poll vote submission and image upload.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
)

const (
	maxRetries = 3
	userAgent  = "blogdesk-editor/1.0"
)

// Client is an API client with retry on server errors for idempotent requests.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
	// backoff returns the wait before the given retry attempt.
	backoff func(attempt int) time.Duration
}

// New creates a client for the API at baseURL.
func New(baseURL string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logging.Component(logger, "client"),
		backoff: exponentialBackoff,
	}
}

// Exponential backoff: 100ms, 200ms, 400ms.
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(100*(1<<(attempt-1))) * time.Millisecond
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body []byte, out any) error {
	attempts := 1
	if method == http.MethodGet || method == http.MethodPatch {
		attempts = maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return errs.E(errs.Network, op, "request cancelled", ctx.Err())
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return errs.E(errs.Validation, op, "build request", err)
		}
		req.Header.Set("User-Agent", userAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = errs.E(errs.Network, op, "request failed", err)
			continue
		}
		if resp.StatusCode >= 500 && attempt < attempts-1 {
			resp.Body.Close()
			lastErr = errs.E(errs.Network, op, fmt.Sprintf("server returned %d", resp.StatusCode), nil)
			c.log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode, "attempt": attempt + 1}).Debug("retrying")
			continue
		}
		return decodeResponse(op, resp, out)
	}
	return lastErr
}

func decodeResponse(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errs.E(errs.Network, op, "read response", err)
	}
	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.E(errs.Network, op, "decode response", err)
	}
	return nil
}

// statusError rebuilds the server's error kind from the {"code","error"} body, falling back to
// the status code when the body is not ours.
func statusError(op string, status int, raw []byte) error {
	var body apiError
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("server returned %d", status)
	}
	switch kind := errs.Kind(body.Code); kind {
	case errs.Validation, errs.Network, errs.Parse, errs.Concurrency, errs.StateConflict, errs.NotFound:
		return errs.E(kind, op, msg, nil)
	}
	switch {
	case status == http.StatusNotFound:
		return errs.E(errs.NotFound, op, msg, nil)
	case status == http.StatusConflict:
		return errs.E(errs.StateConflict, op, msg, nil)
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		return errs.E(errs.Validation, op, msg, nil)
	default:
		return errs.E(errs.Network, op, msg, nil)
	}
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errs.E(errs.Validation, op, "encode request", err)
		}
	}
	return c.do(ctx, op, method, path, "application/json", body, out)
}
