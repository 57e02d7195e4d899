// Package nodeclient is the coordinator's outbound HTTP client to nodes:
// GET/PATCH/DELETE /test_sets, GET /reports, DELETE / (shutdown).
// Grounded on the original's use of the "requests" library in routes.py
// for the identical set of outbound calls, and on the node-signing flow
// in common/signatures.py. Every call is bounded by a shared *http.Client
// timeout and a per-(ip, port) golang.org/x/time/rate limiter so one slow
// or chatty node can't starve the coordinator's outbound connection pool
// (spec.md §5, grounded on the teacher's infrastructure/ratelimit.go).
package nodeclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/secchiware/coordinator/internal/metrics"
	"github.com/secchiware/coordinator/internal/signing"
)

// ErrUnreachable is returned when the node could not be reached at all
// (connection refused, DNS failure, timeout): spec.md §7's 504 case.
var ErrUnreachable = errors.New("nodeclient: node unreachable")

// Response is the result of a successful (reachable) node RPC: the
// caller still needs to interpret StatusCode against the endpoint's
// status-code mapping (spec.md §4.5).
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client issues signed, rate-limited HTTP requests to nodes.
type Client struct {
	http       *http.Client
	nodeSecret []byte
	metrics    *metrics.Collector

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	perNodeRate rate.Limit
	perNodeBurst int
}

// New builds a Client. timeout bounds every outbound request (spec.md §5
// "All such calls MUST have bounded timeouts").
func New(nodeSecret []byte, timeout time.Duration, collector *metrics.Collector) *Client {
	return &Client{
		http:         &http.Client{Timeout: timeout},
		nodeSecret:   nodeSecret,
		metrics:      collector,
		limiters:     make(map[string]*rate.Limiter),
		perNodeRate:  rate.Limit(20), // 20 req/s per node is generous for a single agent
		perNodeBurst: 20,
	}
}

func (c *Client) limiterFor(ip string, port int) *rate.Limiter {
	key := fmt.Sprintf("%s:%d", ip, port)

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.perNodeRate, c.perNodeBurst)
		c.limiters[key] = l
	}
	return l
}

// sign computes the coordinator's own Authorization header (keyId "C2",
// looked up by the node against NODE_SECRET) for the given method, path and
// (already-set) header recoverer. Grounded on
// _examples/original_source/c2/secchiware_c2/routes.py's
// install_packages/delete_installed_package and tasks.py's
// stop_active_environments, which all sign outbound-to-node requests with
// new_authorization_header("C2", ...).
func (c *Client) sign(method, path string, signedHeaders []string, recover signing.HeaderRecoverer) (string, error) {
	sig, err := signing.New(c.nodeSecret, method, path, "", signedHeaders, recover)
	if err != nil {
		return "", fmt.Errorf("nodeclient: sign: %w", err)
	}
	return signing.AuthorizationHeader("C2", sig, signedHeaders), nil
}

func (c *Client) do(ctx context.Context, req *http.Request, verb string) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveNodeRPC(verb, "unreachable", time.Since(start))
		}
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveNodeRPC(verb, "read-error", time.Since(start))
		}
		return nil, fmt.Errorf("nodeclient: read response body: %w", err)
	}

	if c.metrics != nil {
		c.metrics.ObserveNodeRPC(verb, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}, nil
}

// GetTestSets calls GET http://ip:port/test_sets, unauthenticated
// (spec.md §6's node-side surface has no auth on this read path).
func (c *Client) GetTestSets(ctx context.Context, ip string, port int) (*Response, error) {
	if err := c.limiterFor(ip, port).Wait(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s:%d/test_sets", ip, port)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: build request: %w", err)
	}
	return c.do(ctx, req, "GET /test_sets")
}

// PatchTestSets sends the install archive as a signed, digest-bound
// multipart PATCH to http://ip:port/test_sets. Grounded on routes.py's
// install_packages: the archive is field "packages", a fresh Digest is
// computed over the multipart body, and Authorization signs "Digest"
// with the node key.
func (c *Client) PatchTestSets(ctx context.Context, ip string, port int, archive []byte) (*Response, error) {
	if err := c.limiterFor(ip, port).Wait(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("packages", "packages.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("nodeclient: create form file: %w", err)
	}
	if _, err := part.Write(archive); err != nil {
		return nil, fmt.Errorf("nodeclient: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("nodeclient: close multipart writer: %w", err)
	}

	body := buf.Bytes()
	digest := signing.Digest(body)

	url := fmt.Sprintf("http://%s:%d/test_sets", ip, port)
	req, err := http.NewRequest(http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nodeclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Digest", digest)

	headerValues := map[string]string{"digest": digest}
	auth, err := c.sign(http.MethodPatch, "/test_sets", []string{"Digest"}, func(h string) (string, bool) {
		v, ok := headerValues[h]
		return v, ok
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)

	return c.do(ctx, req, "PATCH /test_sets")
}

// DeleteTestSet sends a node-signed DELETE to
// http://ip:port/test_sets/<pkg>.
func (c *Client) DeleteTestSet(ctx context.Context, ip string, port int, pkg string) (*Response, error) {
	if err := c.limiterFor(ip, port).Wait(ctx); err != nil {
		return nil, err
	}
	path := "/test_sets/" + pkg
	auth, err := c.sign(http.MethodDelete, path, nil, nil)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d%s", ip, port, path)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: build request: %w", err)
	}
	req.Header.Set("Authorization", auth)

	return c.do(ctx, req, "DELETE /test_sets/{pkg}")
}

// GetReports calls GET http://ip:port/reports, optionally with a raw
// query string (already validated by the caller against spec.md §4.5.3's
// allowed filter keys).
func (c *Client) GetReports(ctx context.Context, ip string, port int, rawQuery string) (*Response, error) {
	if err := c.limiterFor(ip, port).Wait(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s:%d/reports", ip, port)
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: build request: %w", err)
	}
	return c.do(ctx, req, "GET /reports")
}

// DeleteRoot sends a node-signed DELETE to http://ip:port/, used at
// coordinator shutdown (spec.md §4.5.5).
func (c *Client) DeleteRoot(ctx context.Context, ip string, port int) (*Response, error) {
	if err := c.limiterFor(ip, port).Wait(ctx); err != nil {
		return nil, err
	}
	auth, err := c.sign(http.MethodDelete, "/", nil, nil)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d/", ip, port)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: build request: %w", err)
	}
	req.Header.Set("Authorization", auth)

	return c.do(ctx, req, "DELETE /")
}
