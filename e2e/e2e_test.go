package e2e_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	clientv1 "github.com/leptonai/oomanalyzer/client/v1"
	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/httputil"
	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
	"github.com/leptonai/oomanalyzer/pkg/server"
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var (
	srv *server.Server
	ep  string

	swapCapture   = filepath.Join("..", "pkg", "oom", "analyzer", "testdata", "tumbleweed-swap.log")
	noswapCapture = filepath.Join("..", "pkg", "oom", "analyzer", "testdata", "tumbleweed-noswap.log")
)

var _ = Describe("[OOMANALYZER E2E]", Ordered, func() {
	gCtx, gCancel := context.WithTimeout(context.Background(), 10*time.Minute)

	BeforeAll(func() {
		gin.SetMode(gin.TestMode)

		By("write config file")
		configFile := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(configFile, []byte("cache_size: 16\nmax_body_bytes: 65536\n"), 0o644)).To(Succeed(), "failed to write config file")

		cfg, err := config.DefaultConfig(gCtx, config.WithConfigFile(configFile), config.WithAddress("localhost:0"))
		Expect(err).NotTo(HaveOccurred(), "failed to load config")
		Expect(cfg.CacheSize).To(Equal(16))

		By("start oomanalyzer server")
		srv, err = server.New(cfg)
		Expect(err).NotTo(HaveOccurred(), "failed to create server")
		Expect(srv.Start(gCtx)).To(Succeed(), "failed to start server")
		ep = srv.Addr()

		By("waiting for oomanalyzer started")
		Expect(clientv1.BlockUntilServerReady(gCtx, ep, 100*time.Millisecond)).To(Succeed(), "failed to wait for oomanalyzer started")
		GinkgoLogr.Info("oomanalyzer started", "ep", ep)
	})

	AfterAll(func() {
		By("stop oomanalyzer server")
		srv.Stop()
		gCancel()
	})

	var rootCtx context.Context
	var rootCancel context.CancelFunc
	BeforeEach(func() {
		rootCtx, rootCancel = context.WithTimeout(context.Background(), 3*time.Minute)
	})
	AfterEach(func() {
		rootCancel()
	})

	Describe("/healthz requests", func() {
		It("returns the default status", func() {
			u, err := httputil.CreateURL("", ep, server.URLPathHealthz)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(u)
			Expect(err).NotTo(HaveOccurred(), "failed to get healthz")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			b, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred(), "failed to read response body")
			Expect(string(b)).To(Equal(`{"status":"ok","version":"v1"}`))
		})
	})

	Describe("/v1/analyze requests", func() {
		It("analyzes a capture with swap", func() {
			f, err := os.Open(swapCapture)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()

			resp, err := clientv1.Analyze(rootCtx, ep, f)
			Expect(err).NotTo(HaveOccurred(), "failed to analyze")
			Expect(resp.ID).NotTo(BeEmpty())
			Expect(resp.Result.Killed.PID).To(Equal(int64(3271)))
			Expect(resp.Result.Classification).To(Equal(analyzer.FailedBelowLowWatermark))
			Expect(resp.Result.Swap.Active).To(BeTrue())
			Expect(resp.Result.Config.ID).To(Equal("6.0"))
		})

		It("serves a repeated capture from the cache", func() {
			b, err := os.ReadFile(noswapCapture)
			Expect(err).NotTo(HaveOccurred())

			first, err := clientv1.Analyze(rootCtx, ep, strings.NewReader(string(b)), clientv1.WithAcceptEncodingGzip())
			Expect(err).NotTo(HaveOccurred(), "failed to analyze")
			second, err := clientv1.Analyze(rootCtx, ep, strings.NewReader(string(b)), clientv1.WithRequestContentTypeYAML())
			Expect(err).NotTo(HaveOccurred(), "failed to analyze")

			Expect(second.ID).To(Equal(first.ID))
			Expect(second.Result.Killed.PID).To(Equal(int64(1978)))
		})

		It("rejects an incomplete capture with the partial result", func() {
			b, err := os.ReadFile(noswapCapture)
			Expect(err).NotTo(HaveOccurred())

			_, err = clientv1.Analyze(rootCtx, ep, strings.NewReader(string(b[:2048])))
			Expect(err).To(HaveOccurred())
			Expect(err).To(MatchError(analyzer.ErrIncomplete))

			var apiErr *clientv1.APIError
			Expect(err).To(BeAssignableToTypeOf(apiErr))
			apiErr = err.(*clientv1.APIError)
			Expect(apiErr.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(apiErr.Result).NotTo(BeNil())
		})

		It("rejects a body over the configured limit", func() {
			_, err := clientv1.Analyze(rootCtx, ep, strings.NewReader(strings.Repeat("x", 64*1024+1)))
			Expect(err).To(HaveOccurred())
			Expect(errdefs.IsInvalidArgument(err)).To(BeTrue())
		})

		It("returns not found for an unknown config", func() {
			_, err := clientv1.Analyze(rootCtx, ep, strings.NewReader("x"), clientv1.WithConfigID("9.9"))
			Expect(err).To(HaveOccurred())
			Expect(errdefs.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("/v1/kernels requests", func() {
		It("lists the kernel configs in selection order", func() {
			infos, err := clientv1.ListKernels(rootCtx, ep)
			Expect(err).NotTo(HaveOccurred(), "failed to list kernels")
			Expect(infos).NotTo(BeEmpty())
			Expect(infos[0].ID).To(Equal("6.1"))
			Expect(infos[len(infos)-1].ID).To(Equal("base"))
		})
	})

	Describe("/v1/gfp/decode requests", func() {
		It("decodes with the table of a kernel version", func() {
			decoded, err := clientv1.DecodeGFP(rootCtx, ep, server.DecodeGFPRequest{Mask: "0x140dca", KernelVersion: "6.0.3-1-default"})
			Expect(err).NotTo(HaveOccurred(), "failed to decode")
			Expect(decoded.Config).To(Equal("6.0"))
			Expect(decoded.Flags).To(Equal([]string{"GFP_HIGHUSER", "__GFP_COMP", "__GFP_MOVABLE", "__GFP_ZERO"}))
		})
	})

	Describe("/metrics requests", func() {
		It("exports the analysis counters", func() {
			u, err := httputil.CreateURL("", ep, server.URLPathMetrics)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Get(u)
			Expect(err).NotTo(HaveOccurred(), "failed to get metrics")
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(ContainSubstring("oomanalyzer_"))
		})
	})

	Describe("oomanalyzer analyze", func() {
		BeforeEach(func() {
			if os.Getenv("OOMANALYZER_BIN") == "" {
				Skip("OOMANALYZER_BIN is not set")
			}
		})

		It("analyzes through the server", func() {
			out, err := exec.CommandContext(rootCtx, os.Getenv("OOMANALYZER_BIN"), "analyze", "--server", ep, "-o", "json", swapCapture).Output()
			Expect(err).NotTo(HaveOccurred(), "failed to run analyze")

			var res analyzer.Result
			Expect(json.Unmarshal(out, &res)).To(Succeed())
			Expect(res.Killed.PID).To(Equal(int64(3271)))
		})

		It("exits 2 on a rejected text", func() {
			c := exec.CommandContext(rootCtx, os.Getenv("OOMANALYZER_BIN"), "analyze", "-")
			c.Stdin = strings.NewReader("no kernel here")
			err := c.Run()
			Expect(err).To(HaveOccurred())

			var exitErr *exec.ExitError
			Expect(err).To(BeAssignableToTypeOf(exitErr))
			Expect(err.(*exec.ExitError).ExitCode()).To(Equal(2))
		})
	})
})
