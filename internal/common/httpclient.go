package common

import (
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient builds an http.Client with the given timeout and an optional
// explicit proxy URL. An empty or unparsable proxy falls back to the
// environment proxy settings.
func NewHTTPClient(timeout time.Duration, proxyURL string) *http.Client {
	transport := http.DefaultTransport
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			t := http.DefaultTransport.(*http.Transport).Clone()
			t.Proxy = http.ProxyURL(u)
			transport = t
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
