package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Healthz struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

var DefaultHealthz = Healthz{
	Status:  "ok",
	Version: "v1",
}

func createHealthzHandler() func(ctx *gin.Context) {
	return func(c *gin.Context) {
		writeResponse(c, http.StatusOK, DefaultHealthz)
	}
}
