// Package fetch retrieves interface descriptions over HTTP and normalizes
// them into canonical documents.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/apiwatch/apiwatch/pkg/canonical"
)

var (
	// ErrUnreachable covers connection failures and non-2xx responses.
	ErrUnreachable = errors.New("target unreachable")
	// ErrInvalidDocument covers responses that are not a parsable
	// OpenAPI/Swagger description.
	ErrInvalidDocument = errors.New("invalid interface description")
	// ErrTimeout is returned when a fetch exceeds the configured timeout.
	ErrTimeout = errors.New("fetch timed out")
)

const maxDocumentSize = 32 << 20 // 32 MiB

// Client fetches interface descriptions. Each Fetch is a single attempt
// unless the caller configured retries; the poller owns the retry policy.
type Client struct {
	http    *retryablehttp.Client
	timeout time.Duration
}

// New builds a fetch client. retries is the number of HTTP-level retries
// per Fetch call; pass 0 to make every call a single attempt.
func New(timeout time.Duration, retries int) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	return &Client{http: c, timeout: timeout}
}

// Fetch retrieves the document at rawURL and canonicalizes it.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*canonical.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnreachable, err)
	}

	doc, err := canonical.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return true
	}
	var nerr interface{ Timeout() bool }
	return errors.As(err, &nerr) && nerr.Timeout()
}
