package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/httputil"
	"github.com/leptonai/oomanalyzer/pkg/log"
	"github.com/leptonai/oomanalyzer/pkg/metrics"
	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
)

// AnalyzeResponse is the body of a successful analysis.
type AnalyzeResponse struct {
	// ID identifies the analysis. A cached response keeps the id of the
	// analysis that produced it.
	ID     string           `json:"id"`
	Result *analyzer.Result `json:"result"`
}

// ErrorResponse is the body of every failed request. Result is set when
// the text was rejected by the analyzer and holds the partial result.
type ErrorResponse struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Result  *analyzer.Result `json:"result,omitempty"`
}

// analyze runs the analyzer on the request body. The kernel configuration
// can be forced with "?config=<id>".
func (g *globalHandler) analyze(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
			return
		}
		writeError(c, http.StatusBadRequest, "failed to read request body "+err.Error())
		return
	}

	configID := c.Query("config")
	key := cacheKey(configID, body)
	if g.cache.enabled() {
		if resp, ok := g.cache.get(key); ok {
			metrics.RecordCacheHit()
			g.audit(c, resp.ID, resp.Result, nil, 0, log.WithCached())
			c.Header(httputil.ResponseHeaderCache, httputil.CacheHit)
			writeResponse(c, http.StatusOK, resp)
			return
		}
		metrics.RecordCacheMiss()
		c.Header(httputil.ResponseHeaderCache, httputil.CacheMiss)
	}

	opts := []analyzer.OpOption{analyzer.WithRegistry(g.registry)}
	if configID != "" {
		opts = append(opts, analyzer.WithConfigID(configID))
	}

	start := time.Now()
	res, err := analyzer.Analyze(string(body), opts...)
	took := time.Since(start)
	metrics.RecordAnalysis(res, err, took)

	id := uuid.New().String()
	g.audit(c, id, res, err, took)

	if err != nil {
		switch {
		case errdefs.IsNotFound(err):
			writeError(c, http.StatusNotFound, err.Error())
		case errdefs.IsInvalidArgument(err), errdefs.IsFailedPrecondition(err):
			writeResponse(c, http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: err.Error(), Result: res})
		default:
			writeError(c, http.StatusInternalServerError, "failed to analyze "+err.Error())
		}
		return
	}

	resp := &AnalyzeResponse{ID: id, Result: res}
	g.cache.set(key, resp)
	writeResponse(c, http.StatusOK, resp)
}

// audit records the outcome of one analysis request. res is nil when
// the analysis could not be set up, e.g. for an unknown config.
func (g *globalHandler) audit(c *gin.Context, id string, res *analyzer.Result, err error, took time.Duration, extra ...log.AuditOption) {
	opts := []log.AuditOption{
		log.WithAuditID(id),
		log.WithRequestID(requestid.Get(c)),
		log.WithRequest(c.Request.Method, c.Request.RequestURI),
		log.WithError(err),
		log.WithTook(took),
	}
	if res != nil {
		opts = append(opts, log.WithState(string(res.State)))
		if res.Config != nil {
			opts = append(opts, log.WithConfigID(res.Config.ID))
		}
		if err == nil {
			opts = append(opts,
				log.WithClassification(res.Classification.String()),
				log.WithKilledPID(res.Killed.PID),
			)
		}
	}
	g.auditLogger.Log(append(opts, extra...)...)
}
