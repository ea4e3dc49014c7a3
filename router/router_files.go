package router

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/filebox/config"
	"github.com/pterodactyl/filebox/filesystem"
	"github.com/pterodactyl/filebox/metrics"
	"github.com/pterodactyl/filebox/router/middleware"
	"github.com/pterodactyl/filebox/system"
)

type saveRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type createRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type itemsRequest struct {
	Items []string `json:"items"`
}

type renameRequest struct {
	Path    string `json:"path"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

type chmodRequest struct {
	Path        string `json:"path"`
	Permissions string `json:"permissions"`
}

type transferRequest struct {
	Items       []string `json:"items"`
	Destination string   `json:"destination"`
}

type compressRequest struct {
	Items []string `json:"items"`
	Path  string   `json:"path"`
	Name  string   `json:"name"`
}

type extractRequest struct {
	Path string `json:"path"`
}

// observe records the outcome of a filesystem operation. If err is not nil the
// request is aborted with it and true is returned.
func observe(c *gin.Context, operation string, err error) bool {
	if err == nil {
		metrics.ObserveOperation(operation, "ok")
		return false
	}
	metrics.ObserveOperation(operation, string(filesystem.ErrorCodeOf(err)))
	middleware.CaptureAndAbort(c, err)
	return true
}

func success(c *gin.Context, format string, a ...interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf(format, a...)})
}

// Returns information about the system this instance is running on.
func getSystemInformation(c *gin.Context) {
	c.JSON(http.StatusOK, system.GetSystemInformation())
}

// Returns the contents of a directory.
func getListDirectory(c *gin.Context) {
	stats, err := middleware.ExtractFilesystem(c).ListDirectory(c.Query("path"))
	if observe(c, "list", err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": stats})
}

// Returns the tree of every directory below the root, wrapped in a single
// synthetic root node.
func getListDirectories(c *gin.Context) {
	tree, err := middleware.ExtractFilesystem(c).Tree("")
	if observe(c, "list_dirs", err) {
		return
	}
	c.JSON(http.StatusOK, []*filesystem.TreeNode{tree})
}

// Returns the contents of a file as text.
func getReadFile(c *gin.Context) {
	content, err := middleware.ExtractFilesystem(c).Readfile(c.Query("path"))
	if observe(c, "read", err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

// Replaces the contents of an existing file.
func postSaveFile(c *gin.Context) {
	var data saveRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	err := middleware.ExtractFilesystem(c).Writefile(data.Path, strings.NewReader(data.Content))
	if observe(c, "save", err) {
		return
	}
	metrics.TransferBytesTotal.WithLabelValues("in").Add(float64(len(data.Content)))
	success(c, "File saved successfully!")
}

// Stores an uploaded file in the requested directory, replacing any file with
// the same name.
func postUploadFile(c *gin.Context) {
	if limit := config.Get().Api.UploadLimit; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit*1024*1024)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "The uploaded file exceeds the maximum allowed size."})
			return
		}
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No file part in the request"})
			return
		}
		middleware.CaptureAndAbort(c, err)
		return
	}
	if header.Filename == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No file selected for uploading"})
		return
	}

	f, err := header.Open()
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	defer f.Close()

	err = middleware.ExtractFilesystem(c).Upload(c.PostForm("path"), header.Filename, f)
	if observe(c, "upload", err) {
		return
	}
	metrics.TransferBytesTotal.WithLabelValues("in").Add(float64(header.Size))
	success(c, "File '%s' uploaded successfully.", header.Filename)
}

// Creates a new empty file or directory.
func postCreateItem(c *gin.Context) {
	var data createRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	err := middleware.ExtractFilesystem(c).Create(data.Path, data.Name, data.Type)
	if observe(c, "create", err) {
		return
	}
	if data.Type == filesystem.KindDirectory {
		success(c, "Folder '%s' created.", data.Name)
	} else {
		success(c, "File '%s' created.", data.Name)
	}
}

// Deletes every requested item, stopping at the first failure.
func postDeleteItems(c *gin.Context) {
	var data itemsRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	n, err := middleware.ExtractFilesystem(c).Delete(data.Items)
	metrics.FileItemsTotal.WithLabelValues("delete").Add(float64(n))
	if observe(c, "delete", err) {
		return
	}
	success(c, "%d item(s) deleted.", n)
}

// Renames an item within its directory.
func postRenameItem(c *gin.Context) {
	var data renameRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	err := middleware.ExtractFilesystem(c).Rename(data.Path, data.OldName, data.NewName)
	if observe(c, "rename", err) {
		return
	}
	success(c, "Renamed to '%s'.", data.NewName)
}

// Changes the permission bits of an item.
func postChmodItem(c *gin.Context) {
	var data chmodRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	err := middleware.ExtractFilesystem(c).Chmod(data.Path, data.Permissions)
	if observe(c, "chmod", err) {
		return
	}
	success(c, "Permissions for %s set to %s.", filepath.Base(data.Path), data.Permissions)
}

func postMoveItems(c *gin.Context) {
	var data transferRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	n, err := middleware.ExtractFilesystem(c).Move(data.Items, data.Destination)
	metrics.FileItemsTotal.WithLabelValues("move").Add(float64(n))
	if observe(c, "move", err) {
		return
	}
	success(c, "%d item(s) moved successfully.", n)
}

func postCopyItems(c *gin.Context) {
	var data transferRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	n, err := middleware.ExtractFilesystem(c).Copy(data.Items, data.Destination)
	metrics.FileItemsTotal.WithLabelValues("copy").Add(float64(n))
	if observe(c, "copy", err) {
		return
	}
	success(c, "%d item(s) copied successfully.", n)
}

// Streams a file back to the client as an attachment.
func getDownloadFile(c *gin.Context) {
	f, st, err := middleware.ExtractFilesystem(c).Open(c.Query("path"))
	if observe(c, "download", err) {
		return
	}
	defer f.Close()

	c.Header("X-Mime-Type", st.Mimetype)
	c.DataFromReader(http.StatusOK, st.Size(), "application/octet-stream", f, map[string]string{
		"Content-Disposition": "attachment; filename=" + strconv.Quote(st.Name()),
	})
	metrics.TransferBytesTotal.WithLabelValues("out").Add(float64(st.Size()))
}

// Creates a zip archive of the requested items inside of a directory.
func postCompressItems(c *gin.Context) {
	var data compressRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	st, err := middleware.ExtractFilesystem(c).CompressFiles(data.Items, data.Path, data.Name)
	if observe(c, "compress", err) {
		return
	}
	success(c, "'%s' created successfully.", st.Name())
}

// Extracts a zip archive into a sibling directory named after it.
func postExtractItem(c *gin.Context) {
	var data extractRequest
	if err := c.BindJSON(&data); err != nil {
		return
	}

	dir, err := middleware.ExtractFilesystem(c).ExtractFile(c.Request.Context(), data.Path)
	if observe(c, "extract", err) {
		return
	}
	success(c, "Extracted to '%s'.", dir)
}
