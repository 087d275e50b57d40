package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedHostname is returned when a host cannot be parsed as a URL
	// or host:port pair.
	ErrMalformedHostname = errors.New("hostname must include port, separated by one colon, like example.com:5000")
	// ErrNotOK wraps non-200 responses from the pull server.
	ErrNotOK = errors.New("did not receive 200 response from API")
	// ErrNotFound specializes ErrNotOK for 404 responses.
	ErrNotFound = errors.Wrap(ErrNotOK, "recv 404 NotFound response from API")
	// ErrConflict specializes ErrNotOK for 409 responses (unknown lease or
	// conflicting confirm outcome).
	ErrConflict = errors.Wrap(ErrNotOK, "recv 409 Conflict response from API")
)

// Client wraps HTTP access to the pull server.
type Client struct {
	hc      *http.Client
	baseURL *url.URL
	token   string
}

// ClientOpt is a functional option for the Client type.
type ClientOpt func(*Client)

// WithTimeout sets the .Timeout attribute of the wrapped http.Client.
func WithTimeout(timeout time.Duration) ClientOpt {
	return func(c *Client) {
		c.hc.Timeout = timeout
	}
}

// WithAuthenticationToken sets the bearer token sent on every request.
func WithAuthenticationToken(token string) ClientOpt {
	return func(c *Client) {
		c.token = token
	}
}

// WithCustomTransport replaces the underlying http transport.
func WithCustomTransport(t http.RoundTripper) ClientOpt {
	return func(c *Client) {
		c.hc.Transport = t
	}
}

// NewClient constructs a new client for the given host. The host can be a URL
// string or a bare host:port pair, in which case http is assumed.
func NewClient(host string, opts ...ClientOpt) (*Client, error) {
	u, err := urlForHost(host)
	if err != nil {
		return nil, err
	}
	c := &Client{hc: &http.Client{}, baseURL: u}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func urlForHost(h string) (*url.URL, error) {
	u, err := url.Parse(h)
	if err == nil && u.Host != "" {
		return u, nil
	}
	host, port, err := net.SplitHostPort(h)
	if err != nil {
		return nil, ErrMalformedHostname
	}
	return &url.URL{Host: net.JoinHostPort(host, port), Scheme: "http"}, nil
}

// BaseURL returns the base url of the client.
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// apiError is the pull server's error envelope.
type apiError struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func non200Err(resp *http.Response) error {
	var base error
	switch resp.StatusCode {
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusConflict:
		base = ErrConflict
	default:
		base = ErrNotOK
	}
	var envelope apiError
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Msg != "" {
		return errors.Wrap(base, envelope.Msg)
	}
	return errors.Wrapf(base, "status=%d", resp.StatusCode)
}

// postJSON executes a JSON round trip against the given path.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	enc, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "could not encode request body")
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(enc))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return non200Err(resp)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "could not decode response body")
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.WithError(err).Debug("Could not close response body")
	}
}

// FileDescriptor mirrors the pull server's leased-file descriptor.
type FileDescriptor struct {
	ID     string `json:"id"`
	PV     string `json:"pv"`
	Name   string `json:"name"`
	Lote   string `json:"lote"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	URL    string `json:"url"`
}

// LeaseBatch is the response of /lease-files and /pull-batch.
type LeaseBatch struct {
	LeaseID string           `json:"lease_id"`
	Files   []FileDescriptor `json:"files"`
}

type leaseRequest struct {
	Limit      int      `json:"limit"`
	Lotes      []string `json:"lotes,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

type confirmRequest struct {
	LeaseID string   `json:"lease_id"`
	OKIDs   []string `json:"ok_ids"`
	FailIDs []string `json:"fail_ids"`
}

// ConfirmResult is the server's answer to a confirm call.
type ConfirmResult struct {
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
}

// LeaseFiles requests a lease of up to limit pending files.
func (c *Client) LeaseFiles(ctx context.Context, limit int, lotes []string, ttlSeconds int) (*LeaseBatch, error) {
	batch := &LeaseBatch{}
	err := c.postJSON(ctx, "/lease-files", leaseRequest{Limit: limit, Lotes: lotes, TTLSeconds: ttlSeconds}, batch)
	if err != nil {
		return nil, errors.Wrap(err, "lease request failed")
	}
	return batch, nil
}

// ConfirmDownload reports the lease outcome. It must be called even with
// empty lists so the server can close the lease.
func (c *Client) ConfirmDownload(ctx context.Context, leaseID string, okIDs, failIDs []string) (*ConfirmResult, error) {
	if okIDs == nil {
		okIDs = []string{}
	}
	if failIDs == nil {
		failIDs = []string{}
	}
	out := &ConfirmResult{}
	err := c.postJSON(ctx, "/confirm-download", confirmRequest{LeaseID: leaseID, OKIDs: okIDs, FailIDs: failIDs}, out)
	if err != nil {
		return nil, errors.Wrap(err, "confirm request failed")
	}
	return out, nil
}

// PullBatch requests a batch that the server marks downloaded immediately.
func (c *Client) PullBatch(ctx context.Context, limit int, lotes []string) (*LeaseBatch, error) {
	batch := &LeaseBatch{}
	err := c.postJSON(ctx, "/pull-batch", leaseRequest{Limit: limit, Lotes: lotes}, batch)
	if err != nil {
		return nil, errors.Wrap(err, "pull-batch request failed")
	}
	return batch, nil
}

// Download streams the file bytes into w.
func (c *Client) Download(ctx context.Context, desc FileDescriptor, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return 0, non200Err(resp)
	}
	n, err := io.Copy(w, resp.Body)
	return n, errors.Wrapf(err, "could not stream %s", desc.Name)
}

// FetchZip streams a consolidated zip from an absolute URL, used by the
// legacy download mode.
func (c *Client) FetchZip(ctx context.Context, zipURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return 0, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return 0, non200Err(resp)
	}
	n, err := io.Copy(w, resp.Body)
	return n, errors.Wrap(err, "could not stream zip")
}
