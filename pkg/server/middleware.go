package server

import (
	"time"

	"github.com/gin-contrib/requestid"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// installRootGinMiddlewares installs gin middlewares for the root gin engine
func installRootGinMiddlewares(router *gin.Engine) {
	router.Use(requestid.New())
	router.ContextWithFallback = true
}

// installCommonGinMiddlewares installs common gin middlewares
func installCommonGinMiddlewares(router *gin.Engine, logger *zap.Logger) {
	// Logs every request with its latency, RFC3339 in UTC.
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))

	// Logs all panic to error log with the stack.
	router.Use(ginzap.RecoveryWithZap(logger, true))
}
