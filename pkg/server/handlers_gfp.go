package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
)

// DecodeGFPRequest selects the flag table by configuration id or by
// kernel version. With neither, the newest release is used.
type DecodeGFPRequest struct {
	Mask          string `json:"mask"`
	KernelVersion string `json:"kernel_version,omitempty"`
	Config        string `json:"config,omitempty"`
}

func (g *globalHandler) decodeGFP(c *gin.Context) {
	var req DecodeGFPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "failed to parse request "+err.Error())
		return
	}
	if req.Mask == "" {
		writeError(c, http.StatusBadRequest, "mask is required")
		return
	}

	decoded, err := g.registry.DecodeGFP(req.Mask, req.Config, req.KernelVersion)
	if err != nil {
		if errdefs.IsNotFound(err) {
			writeError(c, http.StatusNotFound, err.Error())
			return
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	writeResponse(c, http.StatusOK, decoded)
}
