package server

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"sigs.k8s.io/yaml"

	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/httputil"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/log"
)

const (
	URLPathHealthz = "/healthz"
	URLPathMetrics = "/metrics"

	URLPathV1        = "/v1"
	URLPathAnalyze   = "/analyze"
	URLPathKernels   = "/kernels"
	URLPathGFPDecode = "/gfp/decode"

	urlPathAdmin  = "/admin"
	urlPathConfig = "/config"
)

var (
	URLPathV1Analyze   = path.Join(URLPathV1, URLPathAnalyze)
	URLPathV1Kernels   = path.Join(URLPathV1, URLPathKernels)
	URLPathV1GFPDecode = path.Join(URLPathV1, URLPathGFPDecode)
	URLPathAdminConfig = path.Join(urlPathAdmin, urlPathConfig)
)

type globalHandler struct {
	cfg         *config.Config
	registry    *kernelconfig.Registry
	cache       *resultCache
	auditLogger log.AuditLogger
}

func newGlobalHandler(cfg *config.Config, registry *kernelconfig.Registry, cache *resultCache, auditLogger log.AuditLogger) *globalHandler {
	return &globalHandler{
		cfg:         cfg,
		registry:    registry,
		cache:       cache,
		auditLogger: auditLogger,
	}
}

func (g *globalHandler) registerRoutes(r gin.IRouter) {
	r.POST(URLPathAnalyze, g.analyze)
	r.GET(URLPathKernels, g.listKernels)
	r.GET(URLPathKernels+"/:id", g.getKernel)
	r.POST(URLPathGFPDecode, g.decodeGFP)
}

// wantsYAML reports whether the response is to be YAML encoded, asked for
// with an "Accept" or a "Content-Type" header.
func wantsYAML(c *gin.Context) bool {
	return c.GetHeader(httputil.RequestHeaderAccept) == httputil.RequestHeaderYAML ||
		c.GetHeader(httputil.RequestHeaderContentType) == httputil.RequestHeaderYAML
}

func writeResponse(c *gin.Context, status int, v any) {
	if wantsYAML(c) {
		yb, err := yaml.Marshal(v)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to marshal response " + err.Error()})
			return
		}
		c.Data(status, httputil.RequestHeaderYAML, yb)
		return
	}
	if c.GetHeader(httputil.RequestHeaderJSONIndent) == "true" {
		c.IndentedJSON(status, v)
		return
	}
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, message string) {
	writeResponse(c, status, gin.H{"code": status, "message": message})
}
