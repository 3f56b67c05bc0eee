package v1

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/httputil"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
	"github.com/leptonai/oomanalyzer/pkg/server"
)

func createDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: time.Minute}
}

// APIError is a non-200 response of the server.
type APIError struct {
	StatusCode int
	Message    string
	// Result is the partial result of a rejected analysis.
	Result *analyzer.Result
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the analyzer rejection the message stands for, so that
// errors.Is(err, analyzer.ErrIncomplete) holds across the wire, or else
// the error kind of the status code.
func (e *APIError) Unwrap() error {
	for _, rej := range []error{analyzer.ErrEmpty, analyzer.ErrNoKernelVersion, analyzer.ErrInvalid, analyzer.ErrIncomplete} {
		if rej.Error() == e.Message {
			return rej
		}
	}
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return errdefs.ErrInvalidArgument
	case http.StatusNotFound:
		return errdefs.ErrNotFound
	case http.StatusServiceUnavailable:
		return errdefs.ErrUnavailable
	}
	return nil
}

// Analyze sends an OOM text to the server. A rejected text returns an
// *APIError carrying the partial result.
func Analyze(ctx context.Context, addr string, text io.Reader, opts ...OpOption) (*server.AnalyzeResponse, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	path := server.URLPathV1Analyze
	if op.configID != "" {
		path += "?" + url.Values{"config": []string{op.configID}}.Encode()
	}

	resp, err := do(ctx, op, http.MethodPost, addr, path, text, httputil.RequestHeaderText)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out server.AnalyzeResponse
	if err := readResponse(resp, op, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListKernels returns the kernel configurations of the server in
// selection order.
func ListKernels(ctx context.Context, addr string, opts ...OpOption) ([]kernelconfig.Info, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	resp, err := do(ctx, op, http.MethodGet, addr, server.URLPathV1Kernels, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var infos []kernelconfig.Info
	if err := readResponse(resp, op, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// DecodeGFP decodes a GFP mask with the flag table the server selects
// for the request.
func DecodeGFP(ctx context.Context, addr string, req server.DecodeGFPRequest, opts ...OpOption) (*kernelconfig.Decoded, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := do(ctx, op, http.MethodPost, addr, server.URLPathV1GFPDecode, bytes.NewReader(b), httputil.RequestHeaderJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded kernelconfig.Decoded
	if err := readResponse(resp, op, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

func do(ctx context.Context, op *Op, method string, addr string, path string, body io.Reader, contentType string) (*http.Response, error) {
	u, err := httputil.CreateURL("", addr, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set(httputil.RequestHeaderContentType, contentType)
	}
	if op.requestContentType != "" {
		req.Header.Set(httputil.RequestHeaderAccept, op.requestContentType)
	}
	if op.requestAcceptEncoding != "" {
		req.Header.Set(httputil.RequestHeaderAcceptEncoding, op.requestAcceptEncoding)
	}

	resp, err := op.httpClient.Do(req)
	if err != nil {
		if errdefs.IsCanceled(err) || errdefs.IsDeadlineExceeded(err) {
			return nil, fmt.Errorf("request %s %s aborted: %w", method, path, err)
		}
		// the server could not be reached
		return nil, fmt.Errorf("failed to make request: %w", errors.Join(errdefs.ErrUnavailable, err))
	}
	return resp, nil
}

// readResponse decodes a 200 response into v, or any other response into
// an *APIError.
func readResponse(resp *http.Response, op *Op, v any) error {
	rd := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == httputil.RequestHeaderEncodingGzip {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		rd = gr
	}

	b, err := io.ReadAll(rd)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var er server.ErrorResponse
		if derr := decode(b, op, &er); derr != nil || er.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: er.Message, Result: er.Result}
	}
	return decode(b, op, v)
}

func decode(b []byte, op *Op, v any) error {
	switch op.requestContentType {
	case httputil.RequestHeaderJSON, "":
		if err := json.Unmarshal(b, v); err != nil {
			return fmt.Errorf("failed to decode json: %w", err)
		}
	case httputil.RequestHeaderYAML:
		if err := yaml.Unmarshal(b, v); err != nil {
			return fmt.Errorf("failed to unmarshal yaml: %w", err)
		}
	default:
		return errors.New("unsupported content type: " + op.requestContentType)
	}
	return nil
}
