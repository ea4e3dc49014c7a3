package middleware

import (
	"context"
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/filebox/filesystem"
)

// RequestError is a custom error type returned when something goes wrong with
// any of the HTTP endpoints.
type RequestError struct {
	err    error
	status int
	msg    string
}

// NewError returns a new RequestError for the provided error.
func NewError(err error) *RequestError {
	return &RequestError{
		// Attach a stacktrace to the error if it is missing at this point and mark it
		// as originating from the location where NewError was called, rather than this
		// specific point in the code.
		err: errors.WithStackDepthIf(err, 1),
	}
}

// SetMessage allows for a custom error message to be set on an existing
// RequestError instance.
func (re *RequestError) SetMessage(m string) {
	re.msg = m
}

// SetStatus sets the HTTP status code for the error response. By default this
// is a HTTP-500 error.
func (re *RequestError) SetStatus(s int) {
	re.status = s
}

// Abort aborts the given HTTP request with the specified status code and then
// logs the event into the logs. The error that is output will include the unique
// request ID if it is present.
func (re *RequestError) Abort(c *gin.Context, status int) {
	reqId := c.Writer.Header().Get("X-Request-Id")
	event := ExtractLogger(c).WithField("url", c.Request.URL.String())

	if re.status != 0 {
		status = re.status
	}
	if c.Writer.Status() == 200 {
		// The "context canceled" error is generally when a request is terminated
		// before all of the logic is finished running.
		if errors.Is(re.err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
			re.SetMessage("The server could not process this request in time, please try again.")
		} else if strings.Contains(re.Cause().Error(), "context canceled") {
			status = http.StatusBadRequest
			re.SetMessage("Request aborted by client.")
		}
	}

	if status >= 500 || c.Writer.Status() != 200 {
		event.WithField("status", status).WithField("error", re.err).Error("error while handling HTTP request")
	} else {
		event.WithField("status", status).WithField("error", re.err).Debug("error handling HTTP request (not a server error)")
	}
	if re.msg == "" {
		re.msg = "An unexpected error was encountered while processing this request"
	}
	// Include the request ID in the body for people who cannot view the response
	// headers where X-Request-Id would be present.
	c.AbortWithStatusJSON(status, gin.H{"error": re.msg, "request_id": reqId})
}

// Cause returns the underlying error.
func (re *RequestError) Cause() error {
	return re.err
}

// Error returns the underlying error message for this request.
func (re *RequestError) Error() string {
	return re.err.Error()
}

// Looks at the given RequestError and determines if it is a specific filesystem
// error that we can process and return differently for the user.
//
// If the error passed into this call is nil or does not match empty values will
// be returned to the caller.
func (re *RequestError) asFilesystemError() (int, string) {
	err := re.Cause()
	if err == nil {
		return 0, ""
	}
	switch filesystem.ErrorCodeOf(err) {
	case filesystem.ErrCodePathResolution:
		return http.StatusForbidden, "The requested path resolves to a location outside of the root directory."
	case filesystem.ErrCodeRootDirectory:
		return http.StatusForbidden, "Cannot perform that action on the root directory."
	case filesystem.ErrCodeNotExist:
		return http.StatusNotFound, "The requested resource was not found on the system."
	case filesystem.ErrCodeNotFile:
		return http.StatusBadRequest, "Not a file"
	case filesystem.ErrCodeNotDirectory:
		return http.StatusBadRequest, "Not a directory"
	case filesystem.ErrCodeInvalidKind:
		return http.StatusBadRequest, "Invalid type"
	case filesystem.ErrCodeInvalidMode:
		return http.StatusBadRequest, "Invalid permissions: expected an octal mode such as 755."
	case filesystem.ErrCodeInvalidName:
		return http.StatusBadRequest, "Invalid name: a single non-empty file or folder name is required."
	case filesystem.ErrCodeNotZip:
		return http.StatusBadRequest, "Not a valid zip file."
	case filesystem.ErrCodeInvalidDestination:
		return http.StatusBadRequest, "Cannot perform that action: invalid destination."
	case filesystem.ErrCodeExist:
		return http.StatusConflict, "An item with that name already exists."
	}
	if strings.HasSuffix(err.Error(), "file name too long") {
		return http.StatusBadRequest, "Cannot perform that action: file name is too long."
	}
	return 0, ""
}
