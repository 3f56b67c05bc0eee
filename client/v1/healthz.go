package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/httputil"
	"github.com/leptonai/oomanalyzer/pkg/server"
)

var ErrServerNotReady = errors.New("server not ready, timeout waiting")

func CheckHealthz(ctx context.Context, addr string, opts ...OpOption) error {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return err
	}

	req, exp, err := createHealthzRequest(ctx, addr)
	if err != nil {
		return err
	}
	return checkHealthz(op.httpClient, req, exp)
}

func createHealthzRequest(ctx context.Context, addr string) (*http.Request, []byte, error) {
	url, err := httputil.CreateURL("", addr, server.URLPathHealthz)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	exp, err := json.Marshal(server.DefaultHealthz)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal expected healthz response: %w", err)
	}
	return req, exp, nil
}

func checkHealthz(cli *http.Client, req *http.Request, exp []byte) error {
	resp, err := cli.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request to /healthz: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server not ready, response not 200")
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read healthz response: %w", err)
	}

	if !bytes.Equal(b, exp) {
		return fmt.Errorf("unexpected healthz response: %s", string(b))
	}

	return nil
}

// BlockUntilServerReady polls /healthz every interval until the server
// answers, at most 30 times.
func BlockUntilServerReady(ctx context.Context, addr string, interval time.Duration, opts ...OpOption) error {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return err
	}

	req, exp, err := createHealthzRequest(ctx, addr)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range 30 {
		select {
		case <-ticker.C:
			err := checkHealthz(op.httpClient, req, exp)
			if err == nil {
				return nil
			}
			if errdefs.IsCanceled(err) || errdefs.IsDeadlineExceeded(err) {
				return fmt.Errorf("context done: %w", err)
			}
		case <-ctx.Done():
			return fmt.Errorf("context done: %w", ctx.Err())
		}
	}
	return ErrServerNotReady
}
