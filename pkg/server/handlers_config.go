package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leptonai/oomanalyzer/pkg/config"
)

func createConfigHandler(cfg *config.Config) func(c *gin.Context) {
	return func(c *gin.Context) {
		writeResponse(c, http.StatusOK, cfg)
	}
}
