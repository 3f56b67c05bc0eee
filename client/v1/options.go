// Package v1 provides the oomanalyzer v1 client for the server.
package v1

import (
	"net/http"

	"github.com/leptonai/oomanalyzer/pkg/httputil"
)

type Op struct {
	httpClient            *http.Client
	requestContentType    string
	requestAcceptEncoding string
	configID              string
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	if op.httpClient == nil {
		op.httpClient = createDefaultHTTPClient()
	}
	return nil
}

// WithHTTPClient sets the client used for the requests.
func WithHTTPClient(cli *http.Client) OpOption {
	return func(op *Op) {
		op.httpClient = cli
	}
}

// WithRequestContentTypeYAML asks the server for YAML responses.
func WithRequestContentTypeYAML() OpOption {
	return func(op *Op) {
		op.requestContentType = httputil.RequestHeaderYAML
	}
}

// WithRequestContentTypeJSON asks the server for JSON responses, the default.
func WithRequestContentTypeJSON() OpOption {
	return func(op *Op) {
		op.requestContentType = httputil.RequestHeaderJSON
	}
}

// WithAcceptEncodingGzip requests gzip encoding for the response.
func WithAcceptEncodingGzip() OpOption {
	return func(op *Op) {
		op.requestAcceptEncoding = httputil.RequestHeaderEncodingGzip
	}
}

// WithConfigID forces the kernel configuration of an analysis.
func WithConfigID(id string) OpOption {
	return func(op *Op) {
		op.configID = id
	}
}
