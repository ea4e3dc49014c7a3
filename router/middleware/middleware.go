package middleware

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pterodactyl/filebox/filesystem"
	"github.com/pterodactyl/filebox/metrics"
)

// AttachRequestID attaches a unique ID to the incoming HTTP request so that any
// errors that are generated or returned to the client will include this reference
// allowing for an easier time identifying the specific request that failed for
// the user.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Set("logger", log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AttachFilesystem attaches the sandboxed filesystem to the request context so
// that routes can operate on the managed root directory.
func AttachFilesystem(fs *filesystem.Filesystem) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("filesystem", fs)
		c.Next()
	}
}

// RecordMetrics counts every handled request and how long it took, keyed by
// the matched route rather than the raw URL.
func RecordMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// CaptureAndAbort aborts the request and attaches the provided error to the gin
// context, so it can be reported properly. If the error is missing a stacktrace
// at the time it is called the stack will be attached.
func CaptureAndAbort(c *gin.Context, err error) {
	c.Abort()
	c.Error(errors.WithStackDepthIf(err, 1))
}

// CaptureErrors is custom handler function allowing for errors bubbled up by
// c.Error() to be returned in a standardized format with tracking UUIDs on them
// for easier log searching.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		err := c.Errors.Last()
		if err == nil || err.Err == nil {
			return
		}

		reqId := c.Writer.Header().Get("X-Request-Id")
		// Body binding failures have already set a 400 on the response, all that
		// is left is to give the client something readable.
		if err.IsType(gin.ErrorTypeBind) || err.Error() == io.EOF.Error() {
			ExtractLogger(c).WithField("error", err.Err).Debug("failed to parse request body")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "The data passed in the request was not in a parsable format. Please try again.", "request_id": reqId})
			return
		}

		status := http.StatusInternalServerError
		if c.Writer.Status() != 200 {
			status = c.Writer.Status()
		}
		captured := NewError(err.Err)
		if status, msg := captured.asFilesystemError(); msg != "" {
			ExtractLogger(c).WithField("status", status).WithField("error", err.Err).Debug("filesystem error while handling HTTP request")
			c.AbortWithStatusJSON(status, gin.H{"error": msg, "request_id": reqId})
			return
		}
		captured.Abort(c, status)
	}
}

// ExtractLogger pulls the logger out of the request context and returns it. By
// default this will include the request ID.
func ExtractLogger(c *gin.Context) *log.Entry {
	v, ok := c.Get("logger")
	if !ok {
		panic("middleware/middleware: cannot extract logger: not present in request context")
	}
	return v.(*log.Entry)
}

// ExtractFilesystem returns the filesystem attached to the request context.
func ExtractFilesystem(c *gin.Context) *filesystem.Filesystem {
	if v, ok := c.Get("filesystem"); ok {
		return v.(*filesystem.Filesystem)
	}
	panic("middleware/middleware: cannot extract filesystem: not present in context")
}
