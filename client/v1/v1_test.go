package v1

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
	"github.com/leptonai/oomanalyzer/pkg/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := server.New(&config.Config{
		APIVersion:   config.DefaultAPIVersion,
		Address:      "127.0.0.1:0",
		CacheTTL:     metav1.Duration{Duration: time.Minute},
		MaxBodyBytes: 1 << 20,
		LogLevel:     "info",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func readCapture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "pkg", "oom", "analyzer", "testdata", name))
	require.NoError(t, err)
	return string(b)
}

func TestCheckHealthz(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, CheckHealthz(context.Background(), ts.URL))
	require.NoError(t, BlockUntilServerReady(context.Background(), ts.URL, 10*time.Millisecond))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	require.Error(t, CheckHealthz(context.Background(), bad.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := BlockUntilServerReady(ctx, bad.URL, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t)
	capture := readCapture(t, "tumbleweed-swap.log")

	tests := []struct {
		name string
		opts []OpOption
	}{
		{name: "json"},
		{name: "yaml", opts: []OpOption{WithRequestContentTypeYAML()}},
		{name: "gzip", opts: []OpOption{WithAcceptEncodingGzip()}},
		{name: "gzip yaml", opts: []OpOption{WithAcceptEncodingGzip(), WithRequestContentTypeYAML()}},
		{name: "forced config", opts: []OpOption{WithConfigID("6.0"), WithHTTPClient(&http.Client{Timeout: 10 * time.Second})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Analyze(context.Background(), ts.URL, strings.NewReader(capture), tt.opts...)
			require.NoError(t, err)
			assert.NotEmpty(t, resp.ID)
			require.NotNil(t, resp.Result)
			assert.Equal(t, int64(3271), resp.Result.Killed.PID)
			assert.Equal(t, analyzer.FailedBelowLowWatermark, resp.Result.Classification)
			require.NotNil(t, resp.Result.Config)
			assert.Equal(t, "6.0", resp.Result.Config.ID)
		})
	}
}

func TestAnalyzeRejected(t *testing.T) {
	ts := newTestServer(t)
	capture := readCapture(t, "tumbleweed-noswap.log")
	incomplete := capture[:strings.Index(capture, "Out of memory: Killed process")]

	tests := []struct {
		name     string
		text     string
		opts     []OpOption
		wantErr  error
		wantKind func(error) bool
	}{
		{name: "empty", text: "", wantErr: analyzer.ErrEmpty, wantKind: errdefs.IsInvalidArgument},
		{name: "not an oom block", text: "hello", wantErr: analyzer.ErrInvalid, wantKind: errdefs.IsInvalidArgument},
		{name: "no kernel version", text: "app invoked oom-killer: gfp_mask=0xcc0(GFP_KERNEL), order=0", wantErr: analyzer.ErrNoKernelVersion, wantKind: errdefs.IsInvalidArgument},
		{name: "incomplete", text: incomplete, wantErr: analyzer.ErrIncomplete, wantKind: errdefs.IsFailedPrecondition},
		{name: "incomplete yaml", text: incomplete, opts: []OpOption{WithRequestContentTypeYAML()}, wantErr: analyzer.ErrIncomplete, wantKind: errdefs.IsFailedPrecondition},
		{name: "unknown config", text: incomplete, opts: []OpOption{WithConfigID("9.9")}, wantKind: errdefs.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(context.Background(), ts.URL, strings.NewReader(tt.text), tt.opts...)
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
				assert.NotNil(t, apiErr.Result)
			} else {
				assert.Nil(t, apiErr.Result)
			}
			assert.True(t, tt.wantKind(err), err.Error())
		})
	}
}

func TestListKernels(t *testing.T) {
	ts := newTestServer(t)

	for _, opts := range [][]OpOption{nil, {WithRequestContentTypeYAML()}, {WithAcceptEncodingGzip()}} {
		infos, err := ListKernels(context.Background(), ts.URL, opts...)
		require.NoError(t, err)
		require.NotEmpty(t, infos)
		assert.Equal(t, "6.1", infos[0].ID)
		assert.Equal(t, "base", infos[len(infos)-1].ID)
	}
}

func TestDecodeGFP(t *testing.T) {
	ts := newTestServer(t)

	decoded, err := DecodeGFP(context.Background(), ts.URL, server.DecodeGFPRequest{Mask: "0x140dca", Config: "6.0"})
	require.NoError(t, err)
	assert.Equal(t, "6.0", decoded.Config)
	assert.Equal(t, uint64(0x140dca), decoded.Decimal)
	assert.Equal(t, []string{"GFP_HIGHUSER", "__GFP_COMP", "__GFP_MOVABLE", "__GFP_ZERO"}, decoded.Flags)

	decoded, err = DecodeGFP(context.Background(), ts.URL, server.DecodeGFPRequest{Mask: "0x0", KernelVersion: "2.6.32"}, WithRequestContentTypeYAML())
	require.NoError(t, err)
	assert.Equal(t, "base", decoded.Config)
	assert.NotEmpty(t, decoded.Warning)

	_, err = DecodeGFP(context.Background(), ts.URL, server.DecodeGFPRequest{Mask: "0xcc0", Config: "9.9"})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	_, err = DecodeGFP(context.Background(), ts.URL, server.DecodeGFPRequest{})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		err  *APIError
		want error
	}{
		{err: &APIError{StatusCode: http.StatusBadRequest, Message: analyzer.ErrInvalid.Error()}, want: analyzer.ErrInvalid},
		{err: &APIError{StatusCode: http.StatusBadRequest, Message: "mask is required"}, want: errdefs.ErrInvalidArgument},
		{err: &APIError{StatusCode: http.StatusRequestEntityTooLarge, Message: "too large"}, want: errdefs.ErrInvalidArgument},
		{err: &APIError{StatusCode: http.StatusNotFound, Message: "not found"}, want: errdefs.ErrNotFound},
		{err: &APIError{StatusCode: http.StatusServiceUnavailable, Message: "down"}, want: errdefs.ErrUnavailable},
		{err: &APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			if tt.want == nil {
				assert.Nil(t, tt.err.Unwrap())
				return
			}
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}
}

func TestRequestErrorKinds(t *testing.T) {
	ts := newTestServer(t)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Analyze(canceled, ts.URL, strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errdefs.IsCanceled(err), err.Error())
	assert.False(t, errdefs.IsUnavailable(err))

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	_, err = ListKernels(expired, ts.URL)
	require.Error(t, err)
	assert.True(t, errdefs.IsDeadlineExceeded(err), err.Error())

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = ListKernels(context.Background(), closed.URL)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err), err.Error())
	assert.False(t, errdefs.IsCanceled(err))
}
