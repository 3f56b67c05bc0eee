package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
)

// listKernels returns the kernel configurations in selection order,
// the fallback last.
func (g *globalHandler) listKernels(c *gin.Context) {
	configs := g.registry.Configs()
	infos := make([]kernelconfig.Info, 0, len(configs))
	for _, cfg := range configs {
		infos = append(infos, cfg.Info())
	}
	writeResponse(c, http.StatusOK, infos)
}

func (g *globalHandler) getKernel(c *gin.Context) {
	cfg, err := g.registry.Get(c.Param("id"))
	if err != nil {
		if errdefs.IsNotFound(err) {
			writeError(c, http.StatusNotFound, err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	writeResponse(c, http.StatusOK, cfg.Info())
}
