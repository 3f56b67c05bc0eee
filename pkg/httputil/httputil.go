// Package httputil provides utilities for HTTP requests.
package httputil

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	RequestHeaderContentType = "Content-Type"
	RequestHeaderAccept      = "Accept"
	RequestHeaderJSON        = "application/json"
	RequestHeaderYAML        = "application/yaml"
	RequestHeaderText        = "text/plain"
	RequestHeaderJSONIndent  = "json-indent"

	RequestHeaderAcceptEncoding = "Accept-Encoding"
	RequestHeaderEncodingGzip   = "gzip"

	// ResponseHeaderCache tells whether an analysis was served from the
	// result cache ("hit") or computed ("miss").
	ResponseHeaderCache = "X-Oomanalyzer-Cache"
	CacheHit            = "hit"
	CacheMiss           = "miss"
)

// CreateURL joins a server address and an API path, e.g.
// CreateURL("", ":15133", "/v1/analyze?config=6.0") returns
// "http://localhost:15133/v1/analyze?config=6.0".
//
// An empty scheme keeps the one of the endpoint, or "http" when it has
// none. A bare ":port" endpoint means localhost.
func CreateURL(scheme string, endpoint string, path string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if i := strings.Index(endpoint, "://"); i >= 0 {
		if scheme == "" {
			scheme = endpoint[:i]
		}
		endpoint = endpoint[i+len("://"):]
	}
	if strings.HasPrefix(endpoint, ":") {
		endpoint = "localhost" + endpoint
	}
	if scheme == "" {
		scheme = "http"
	}

	u, err := url.Parse(scheme + "://" + endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return scheme + "://" + u.Host + path, nil
}
