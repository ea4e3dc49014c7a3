package router

import (
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/filebox/config"
	"github.com/pterodactyl/filebox/filesystem"
	"github.com/pterodactyl/filebox/metrics"
	"github.com/pterodactyl/filebox/router/middleware"
)

// Configure configures the routing infrastructure for this instance, every
// file route operates on the provided filesystem.
func Configure(fs *filesystem.Filesystem) *gin.Engine {
	gin.SetMode("release")

	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		log.WithField("error", err).Warn("router: failed to clear trusted proxies")
	}
	router.Use(middleware.AttachRequestID(), middleware.RecordMetrics(), middleware.CaptureErrors())
	// @see https://github.com/gin-gonic/gin#custom-log-format
	router.Use(gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		log.WithFields(log.Fields{
			"client_ip":  params.ClientIP,
			"status":     params.StatusCode,
			"latency":    params.Latency,
			"request_id": params.Keys["request_id"],
		}).Debugf("%s %s", params.MethodColor()+params.Method+params.ResetColor(), params.Path)

		return ""
	}))

	if config.Get().Api.Metrics {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api")
	api.Use(middleware.AttachFilesystem(fs))
	{
		api.GET("/system", getSystemInformation)

		api.GET("/list", getListDirectory)
		api.GET("/list_dirs", getListDirectories)
		api.GET("/read", getReadFile)
		api.GET("/download", getDownloadFile)

		api.POST("/save", postSaveFile)
		api.POST("/upload", postUploadFile)
		api.POST("/create", postCreateItem)
		api.POST("/delete", postDeleteItems)
		api.POST("/rename", postRenameItem)
		api.POST("/chmod", postChmodItem)
		api.POST("/move", postMoveItems)
		api.POST("/copy", postCopyItems)
		api.POST("/compress", postCompressItems)
		api.POST("/extract", postExtractItem)
	}

	return router
}
