package server

import (
	"log/slog"
	"time"

	"github.com/alkime/mp3rec/internal/config"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// securityHeaders sets the response headers for the recording API. HSTS is
// only sent in production, where the service sits behind TLS.
func securityHeaders(cfg *config.Config, logger *slog.Logger) gin.HandlerFunc {
	production := cfg.Env == config.EnvProduction

	var sts int64
	if production {
		sts = int64(cfg.HSTSMaxAge)
	}

	logger.Debug("security headers",
		"hsts", production,
		"cspMode", cfg.CSPMode)

	return secure.New(secure.Config{
		STSSeconds:            sts,
		STSIncludeSubdomains:  production,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: config.BuildCSP(cfg.CSPMode),
	})
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
