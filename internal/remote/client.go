// Package remote fetches the version manifest and question dataset over
// plain HTTP.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/conorfennell/mentaton/internal/domain"
	"github.com/conorfennell/mentaton/internal/parser"
)

// ErrNetwork is returned when a document could not be retrieved, including
// timeouts and non-2xx responses.
var ErrNetwork = errors.New("network failure")

// DefaultMaxBytes caps the size of a downloaded document.
const DefaultMaxBytes = 64 << 20

// Client downloads remote content. It is safe for concurrent use.
type Client struct {
	httpClient          *http.Client
	versionURL          string
	defaultQuestionsURL string
	maxBytes            int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// New returns a client reading the manifest from versionURL. Manifests that
// do not name a dataset fall back to defaultQuestionsURL.
func New(versionURL, defaultQuestionsURL string, opts ...Option) *Client {
	c := &Client{
		httpClient:          &http.Client{Timeout: 30 * time.Second},
		versionURL:          versionURL,
		defaultQuestionsURL: defaultQuestionsURL,
		maxBytes:            DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchManifest downloads and decodes the version manifest. The returned
// manifest always carries an absolute dataset URL.
func (c *Client) FetchManifest(ctx context.Context) (domain.Manifest, error) {
	body, err := c.get(ctx, c.versionURL)
	if err != nil {
		return domain.Manifest{}, err
	}

	m, err := parser.ParseManifest(bytes.NewReader(body))
	if err != nil {
		return domain.Manifest{}, err
	}

	if m.QuestionsURL == "" {
		m.QuestionsURL = c.defaultQuestionsURL
	} else if resolved, err := resolve(c.versionURL, m.QuestionsURL); err == nil {
		m.QuestionsURL = resolved
	}
	return m, nil
}

// FetchDataset downloads the dataset at location and returns the raw,
// decompressed body.
func (c *Client) FetchDataset(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		location = c.defaultQuestionsURL
	}
	return c.get(ctx, location)
}

func (c *Client) get(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request for %s: %v", ErrNetwork, location, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrNetwork, location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: unexpected status %s", ErrNetwork, location, resp.Status)
	}

	var body io.Reader = resp.Body
	if isGzip(resp, location) {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad gzip stream: %v", parser.ErrMalformed, location, err)
		}
		defer zr.Close()
		body = zr
	}

	b, err := io.ReadAll(io.LimitReader(body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrNetwork, location, err)
	}
	if int64(len(b)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrNetwork, location, c.maxBytes)
	}
	return b, nil
}

func isGzip(resp *http.Response, location string) bool {
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return true
	}
	u, err := url.Parse(location)
	return err == nil && strings.HasSuffix(u.Path, ".gz")
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
