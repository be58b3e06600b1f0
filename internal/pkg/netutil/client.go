package netutil

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NewHTTPClient returns a client with the given timeout, routed through
// proxyURL when it is set.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return client, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok || base == nil {
		return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyURL(parsed)
	client.Transport = transport
	return client, nil
}
