package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
	"github.com/leptonai/oomanalyzer/pkg/server"
)

var (
	swapCapture   = filepath.Join("..", "..", "pkg", "oom", "analyzer", "testdata", "tumbleweed-swap.log")
	noswapCapture = filepath.Join("..", "..", "pkg", "oom", "analyzer", "testdata", "tumbleweed-noswap.log")
)

func runArgs(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"oomanalyzer"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunAnalyze(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantContains []string
	}{
		{
			name:         "plain report",
			args:         []string{"analyze", swapCapture},
			wantContains: []string{"### Summary", "MonsterApp", "failed_below_low_watermark"},
		},
		{
			name:         "query string",
			args:         []string{"analyze", "-q", "$.killed.name", noswapCapture},
			wantContains: []string{"MonsterApp\n"},
		},
		{
			name:         "query number",
			args:         []string{"analyze", "--query", "$.killed.pid", noswapCapture},
			wantContains: []string{"1978"},
		},
		{
			name:         "forced config",
			args:         []string{"analyze", "--config", "6.0", "-o", "yaml", "-q", "$.config.id", swapCapture},
			wantContains: []string{"\"6.0\"\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runArgs(t, tt.args...)
			require.Equal(t, 0, code, stderr)
			for _, s := range tt.wantContains {
				assert.Contains(t, stdout, s)
			}
		})
	}
}

func TestRunAnalyzeJSON(t *testing.T) {
	code, stdout, stderr := runArgs(t, "analyze", "-o", "json", swapCapture)
	require.Equal(t, 0, code, stderr)

	var res analyzer.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, int64(3271), res.Killed.PID)
	assert.True(t, res.Swap.Active)
}

func TestRunAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStderr string
	}{
		{name: "missing file", args: []string{"analyze", "does-not-exist.log"}, wantCode: 1},
		{name: "invalid output", args: []string{"analyze", "-o", "xml", swapCapture}, wantCode: 1, wantStderr: "invalid output format"},
		{name: "invalid log level", args: []string{"analyze", "-l", "loud", swapCapture}, wantCode: 1},
		{name: "unknown config", args: []string{"analyze", "--config", "9.9", swapCapture}, wantCode: 1, wantStderr: "not found"},
		{name: "rejected text", args: []string{"analyze", "main.go"}, wantCode: 2, wantStderr: analyzer.ErrInvalid.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runArgs(t, tt.args...)
			assert.Equal(t, tt.wantCode, code)
			assert.Empty(t, stdout)
			if tt.wantStderr != "" {
				assert.Contains(t, stderr, tt.wantStderr)
			}
		})
	}
}

func TestRunDecodeGFP(t *testing.T) {
	code, stdout, stderr := runArgs(t, "decode-gfp", "--config", "6.0", "0x10000cc0")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "0x10000cc0 (268438720) with kernel config 6.0: GFP_KERNEL | 0x10000000\n", stdout)

	code, stdout, stderr = runArgs(t, "decode-gfp", "-o", "json", "--kernel", "3.10.0-514.6.1.el7.x86_64", "0x201da")
	require.Equal(t, 0, code, stderr)
	var decoded kernelconfig.Decoded
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	assert.Equal(t, "3.10-el7", decoded.Config)
	assert.Equal(t, []string{"GFP_HIGHUSER_MOVABLE", "__GFP_COLD"}, decoded.Flags)

	code, stdout, _ = runArgs(t, "decode-gfp", "--kernel", "2.6.32", "0x0")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "\033[31m"), stdout)

	code, _, _ = runArgs(t, "decode-gfp")
	assert.Equal(t, 1, code)
	code, _, _ = runArgs(t, "decode-gfp", "0xzz")
	assert.Equal(t, 1, code)
}

func TestRunListKernels(t *testing.T) {
	code, stdout, stderr := runArgs(t, "list-kernels")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "3.10-el7")
	assert.Contains(t, stdout, "(fallback)")

	code, stdout, stderr = runArgs(t, "list-kernels", "-o", "yaml")
	require.Equal(t, 0, code, stderr)
	var infos []kernelconfig.Info
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &infos))
	require.NotEmpty(t, infos)
	assert.Equal(t, "6.1", infos[0].ID)
}

func TestRunAgainstServer(t *testing.T) {
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
	defer ts.Close()

	code, stdout, stderr := runArgs(t, "analyze", "--server", ts.URL, "-q", "$.killed.pid", swapCapture)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "3271\n", stdout)

	code, _, stderr = runArgs(t, "analyze", "--server", ts.URL, "main.go")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, analyzer.ErrInvalid.Error())

	code, stdout, stderr = runArgs(t, "decode-gfp", "--server", ts.URL, "--config", "6.0", "0x140dca")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "GFP_HIGHUSER | __GFP_COMP | __GFP_MOVABLE | __GFP_ZERO")

	code, stdout, stderr = runArgs(t, "list-kernels", "--server", ts.URL)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "3.10-el7")
}
