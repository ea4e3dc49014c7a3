package filesystem

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	kzip "github.com/klauspost/compress/zip"
	"golang.org/x/sys/unix"
)

type ErrorCode string

const (
	ErrCodeUnknownError       ErrorCode = "E_UNKNOWN"
	ErrCodePathResolution     ErrorCode = "E_BADPATH"
	ErrCodeNotExist           ErrorCode = "E_NOTEXIST"
	ErrCodeNotFile            ErrorCode = "E_NOTFILE"
	ErrCodeNotDirectory       ErrorCode = "E_NOTDIR"
	ErrCodeExist              ErrorCode = "E_EXIST"
	ErrCodeInvalidKind        ErrorCode = "E_BADKIND"
	ErrCodeInvalidMode        ErrorCode = "E_BADMODE"
	ErrCodeInvalidName        ErrorCode = "E_BADNAME"
	ErrCodeInvalidDestination ErrorCode = "E_BADDEST"
	ErrCodeNotZip             ErrorCode = "E_NOTZIP"
	ErrCodeRootDirectory      ErrorCode = "E_ROOTDIR"
)

// Error is a filesystem error that carries a code callers can switch on
// without having to inspect the underlying OS error.
type Error struct {
	code ErrorCode
	// Contains the underlying error leading to this. This value may or may not be
	// present, it is entirely dependent on how this error was triggered.
	err error
	// This contains the value of the final destination that triggered this specific
	// error event.
	resolved string
	// This value is generally only present on errors stemming from a path resolution
	// error. For everything else you should be setting and reading the resolved path
	// value which will be far more useful.
	path string
}

// newFilesystemError returns a new error instance with a stack trace attached.
func newFilesystemError(code ErrorCode, err error) error {
	if err != nil {
		return errors.WithStackDepth(&Error{code: code, err: err}, 1)
	}
	return errors.WithStackDepth(&Error{code: code}, 1)
}

// newPathError is the same as newFilesystemError but records the caller
// supplied path the error relates to.
func newPathError(code ErrorCode, p string, err error) error {
	return errors.WithStackDepth(&Error{code: code, path: p, err: err}, 1)
}

// Code returns the ErrorCode for this specific error instance.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Returns a human-readable error string to identify the Error by.
func (e *Error) Error() string {
	switch e.code {
	case ErrCodePathResolution:
		r := e.resolved
		if r == "" {
			r = "<empty>"
		}
		return fmt.Sprintf("filesystem: path [%s] resolves to a location outside the root directory: %s", e.path, filepath.Clean(r))
	case ErrCodeNotExist:
		return e.withPath("filesystem: no such file or directory")
	case ErrCodeNotFile:
		return e.withPath("filesystem: not a file")
	case ErrCodeNotDirectory:
		return e.withPath("filesystem: not a directory")
	case ErrCodeExist:
		return e.withPath("filesystem: already exists")
	case ErrCodeInvalidKind:
		return "filesystem: invalid type: expected one of \"file\" or \"dir\""
	case ErrCodeInvalidMode:
		return e.withPath("filesystem: invalid permissions value")
	case ErrCodeInvalidName:
		return e.withPath("filesystem: invalid file name")
	case ErrCodeInvalidDestination:
		return e.withPath("filesystem: cannot move or copy an item into itself or over one of its parents")
	case ErrCodeNotZip:
		return e.withPath("filesystem: not a valid zip file")
	case ErrCodeRootDirectory:
		return "filesystem: operation not permitted on the root directory"
	}
	str := "filesystem: unhandled error"
	if e.path != "" {
		str += " [" + e.path + "]"
	}
	if e.err != nil {
		str += ": " + e.err.Error()
	}
	return str
}

func (e *Error) withPath(msg string) string {
	if e.path == "" {
		return msg
	}
	return msg + ": " + e.path
}

// Unwrap returns the underlying cause of this filesystem error. In some causes
// there may not be a cause present, in which case nil will be returned.
func (e *Error) Unwrap() error {
	return e.err
}

// Generates an error logger instance with some basic information.
func (fs *Filesystem) error(err error) *log.Entry {
	return log.WithField("subsystem", "filesystem").WithField("root", fs.root).WithField("error", err)
}

// NewBadPathResolution returns a new BadPathResolution error.
func NewBadPathResolution(path string, resolved string) error {
	return errors.WithStackDepth(&Error{code: ErrCodePathResolution, path: path, resolved: resolved}, 1)
}

// IsErrorCode checks if "err" is a filesystem Error type. If so, it will then
// drop in and check that the error code is the same as the provided ErrorCode
// passed in "code".
func IsErrorCode(err error, code ErrorCode) bool {
	var fserr *Error
	if errors.As(err, &fserr) {
		return fserr.code == code
	}
	return false
}

// ErrorCodeOf returns the code of the filesystem error wrapped within err, or
// ErrCodeUnknownError if err is not a filesystem error.
func ErrorCodeOf(err error) ErrorCode {
	var fserr *Error
	if errors.As(err, &fserr) {
		return fserr.code
	}
	return ErrCodeUnknownError
}

// classify converts an error returned by the OS into a filesystem Error so that
// every failure leaving this package carries a code. Errors that are already
// filesystem errors pass through untouched.
func classify(err error, p string) error {
	if err == nil {
		return nil
	}
	var fserr *Error
	if errors.As(err, &fserr) {
		return err
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return errors.WithStackDepth(&Error{code: ErrCodeNotExist, path: p, err: err}, 1)
	case errors.Is(err, os.ErrExist), errors.Is(err, unix.ENOTEMPTY):
		return errors.WithStackDepth(&Error{code: ErrCodeExist, path: p, err: err}, 1)
	case errors.Is(err, unix.ENOTDIR):
		return errors.WithStackDepth(&Error{code: ErrCodeNotDirectory, path: p, err: err}, 1)
	case errors.Is(err, unix.EISDIR):
		return errors.WithStackDepth(&Error{code: ErrCodeNotFile, path: p, err: err}, 1)
	case errors.Is(err, zip.ErrFormat), errors.Is(err, kzip.ErrFormat):
		return errors.WithStackDepth(&Error{code: ErrCodeNotZip, path: p, err: err}, 1)
	// Newer zip readers refuse entries with traversal segments before we ever
	// get to see them; treat that the same as our own zip-slip rejection.
	case errors.Is(err, zip.ErrInsecurePath), strings.Contains(err.Error(), "insecure file path"):
		return errors.WithStackDepth(&Error{code: ErrCodePathResolution, path: p, err: err}, 1)
	}
	return errors.WithStackDepth(&Error{code: ErrCodeUnknownError, path: p, err: err}, 1)
}
