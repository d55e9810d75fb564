// Package repo talks to the remote extension repository: one flat HTTP
// directory holding .tcz archives, their .dep and .md5.txt sidecars, and
// the repository-wide package index.
package repo

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ErrNotFound reports a 404 from the repository; callers treat it as
// "this sidecar/package does not exist" rather than a transport failure.
var ErrNotFound = errors.New("not found in repository")

// Client fetches files from a single repository directory. There is no
// retry logic anywhere; a failed download is the caller's problem.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// newSecureHTTPClient returns an http.Client with a pinned TLS range.
func newSecureHTTPClient() *http.Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   tlsConfig,
			ForceAttemptHTTP2: true,
		},
	}
}

// NewClient creates a client rooted at the repository's tcz directory URL.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: newSecureHTTPClient(),
		baseURL:    baseURL,
	}
}

// BaseURL returns the repository directory this client is rooted at.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) url(name string) string {
	return c.baseURL + "/" + name
}

// Exists probes whether the named file is present, without downloading it.
func (c *Client) Exists(name string) (bool, error) {
	resp, err := c.httpClient.Head(c.url(name))
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("probing %s: unexpected status %s", name, resp.Status)
	}
}

// FetchBytes downloads a small repository file into memory.
func (c *Client) FetchBytes(name string) ([]byte, error) {
	resp, err := c.httpClient.Get(c.url(name))
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetching %s: %w", name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", name, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// Download streams the named repository file to destPath.
func (c *Client) Download(name, destPath string) error {
	resp, err := c.httpClient.Get(c.url(name))
	if err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("downloading %s: %w", name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", name, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(destPath), err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		// leave no truncated artifact behind
		os.Remove(destPath)
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}
