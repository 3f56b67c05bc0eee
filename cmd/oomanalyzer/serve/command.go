// Package serve implements the "serve" command.
package serve

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/log"
	"github.com/leptonai/oomanalyzer/pkg/server"
	"github.com/leptonai/oomanalyzer/version"
)

func Command(cliContext *cli.Context) error {
	cfg, err := loadConfig(cliContext)
	if err != nil {
		return err
	}

	zapLvl, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLogger(log.CreateLogger(zapLvl, cfg.LogFile))

	if zapLvl.Level() > zap.DebugLevel { // e.g., info, warn, error
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	auditLogger := log.NewNopAuditLogger()
	if cfg.LogFile != "" {
		auditLogger = log.NewAuditLogger(log.CreateAuditLogFilepath(cfg.LogFile))
	}

	start := time.Now()
	log.Logger.Infof("starting oomanalyzer %v", version.Version)

	srv, err := server.New(cfg, server.WithAuditLogger(auditLogger))
	if err != nil {
		return err
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	signals := make(chan os.Signal, 64)
	signal.Notify(signals, server.DefaultSignalsToHandle...)
	defer signal.Stop(signals)
	done := server.HandleSignals(rootCancel, signals, srv)

	if err := srv.Start(rootCtx); err != nil {
		return err
	}
	log.Logger.Infow("successfully booted", "address", srv.Addr(), "tookSeconds", time.Since(start).Seconds())

	<-done
	return nil
}

// loadConfig reads the config file, then applies the flags that were set.
func loadConfig(cliContext *cli.Context) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.DefaultConfig(ctx, config.WithConfigFile(cliContext.String("config-file")))
	if err != nil {
		return nil, err
	}

	if v := cliContext.String("listen-address"); v != "" {
		cfg.Address = v
	}
	if v := cliContext.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := cliContext.String("log-file"); v != "" {
		cfg.LogFile = v
	}
	if v := cliContext.String("kernel-config-dir"); v != "" {
		cfg.KernelConfigDir = v
	}
	if cliContext.IsSet("cache-ttl") {
		cfg.CacheTTL = metav1.Duration{Duration: cliContext.Duration("cache-ttl")}
	}
	if cliContext.IsSet("cache-size") {
		cfg.CacheSize = cliContext.Int("cache-size")
	}
	if cliContext.IsSet("max-body-bytes") {
		cfg.MaxBodyBytes = cliContext.Int64("max-body-bytes")
	}
	if cliContext.Bool("pprof") {
		cfg.Pprof = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
