package ipmi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseSize caps how much of a bridge response is read (1MB).
const maxResponseSize = 1 << 20

// Logger is the logging surface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ClientOptions configures a bridge Client.
type ClientOptions struct {
	// BaseURL of the bridge. Default: DefaultBridgeURL.
	BaseURL string

	// Timeout bounds each request. Default: DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport (tests). Its own Timeout is ignored
	// in favour of Timeout above.
	HTTPClient *http.Client
}

// Client performs raw GET requests against the bridge.
//
// A Client holds no per-device state and is safe for concurrent use; one
// Client is normally shared by every Poller and Dispatcher in the process.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// response is a bridge reply that made it over the wire.
type response struct {
	status int
	body   []byte
}

// NewClient creates a bridge client.
func NewClient(opts ClientOptions) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBridgeURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bridge url: %w", ErrInvalidConfig, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: bridge url must be http or https, got %q", ErrInvalidConfig, raw)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		base:    base,
		http:    httpClient,
		timeout: timeout,
	}, nil
}

// BaseURL returns the configured bridge URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Ping checks that the bridge is accepting HTTP requests. Any HTTP status
// counts as up; no BMC credentials are sent.
func (c *Client) Ping(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, c.base.String(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Host: c.base.Host, Path: "ping", Err: scrubURLError(err)}
	}
	resp.Body.Close()
	return nil
}

// get issues one GET for conn against the base URL, or base/path when path
// is set. Any error returned is a transport-level failure.
func (c *Client) get(ctx context.Context, conn ConnectionConfig, path string) (response, error) {
	u := *c.base
	if path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	}
	u.RawQuery = conn.query().Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error embeds the full URL including the password query parameter.
		return response{}, scrubURLError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{}, fmt.Errorf("reading response: %w", err)
	}

	return response{status: resp.StatusCode, body: body}, nil
}

// scrubURLError strips the query string from url.Error so credentials do not
// end up in logs.
func scrubURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, parseErr := url.Parse(uerr.URL)
	if parseErr != nil {
		return uerr.Err
	}
	u.RawQuery = ""
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}
