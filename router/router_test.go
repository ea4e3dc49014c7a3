package router

import (
	"archive/zip"
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pterodactyl/filebox/filesystem"
)

type testServer struct {
	t      *testing.T
	root   string
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	fs, err := filesystem.New(root, filesystem.Settings{})
	require.NoError(t, err)

	return &testServer{t: t, root: root, router: Configure(fs)}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(route string, p string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, route+"?"+url.Values{"path": {p}}.Encode(), nil))
}

func (s *testServer) post(route string, body interface{}) *httptest.ResponseRecorder {
	b, err := json.Marshal(body)
	require.NoError(s.t, err)
	req := httptest.NewRequest(http.MethodPost, route, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func names(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v struct {
		Items []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	out := make([]string, 0, len(v.Items))
	for _, i := range v.Items {
		out = append(out, i.Name+":"+i.Type)
	}
	return out
}

func TestCreateWriteReadScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.post("/api/create", map[string]string{"path": "", "name": "notes", "type": "dir"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, "Folder 'notes' created.", decode(t, rec)["message"])

	assert.Equal(t, []string{"notes:dir"}, names(t, s.get("/api/list", "")))

	rec = s.post("/api/create", map[string]string{"path": "notes", "name": "todo.txt", "type": "file"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.post("/api/save", map[string]string{"path": "notes/todo.txt", "content": "buy milk"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "File saved successfully!", decode(t, rec)["message"])

	rec = s.get("/api/read", "notes/todo.txt")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "buy milk", decode(t, rec)["content"])
}

func TestMoveScenario(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(s.root, "notes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "notes/todo.txt"), []byte("buy milk"), 0o644))

	rec := s.post("/api/move", map[string]interface{}{"items": []string{"notes/todo.txt"}, "destination": ""})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1 item(s) moved successfully.", decode(t, rec)["message"])

	assert.Empty(t, names(t, s.get("/api/list", "notes")))
	assert.Equal(t, []string{"notes:dir", "todo.txt:file"}, names(t, s.get("/api/list", "")))
}

func TestSandboxViolation(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/api/read", "../../etc/passwd")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, rec.Header().Get("X-Request-Id"), body["request_id"])

	rec = s.post("/api/delete", map[string]interface{}{"items": []string{""}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err := os.Stat(s.root)
	assert.NoError(t, err)
}

func TestErrorStatusCodes(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "a.txt"), []byte("a"), 0o644))

	cases := []struct {
		name   string
		rec    func() *httptest.ResponseRecorder
		status int
	}{
		{"missing file", func() *httptest.ResponseRecorder { return s.get("/api/list", "nope") }, http.StatusNotFound},
		{"read a directory", func() *httptest.ResponseRecorder { return s.get("/api/read", "") }, http.StatusBadRequest},
		{"save a missing file", func() *httptest.ResponseRecorder {
			return s.post("/api/save", map[string]string{"path": "missing.txt", "content": "x"})
		}, http.StatusBadRequest},
		{"create an existing item", func() *httptest.ResponseRecorder {
			return s.post("/api/create", map[string]string{"path": "", "name": "a.txt", "type": "file"})
		}, http.StatusConflict},
		{"create an unknown kind", func() *httptest.ResponseRecorder {
			return s.post("/api/create", map[string]string{"path": "", "name": "b", "type": "socket"})
		}, http.StatusBadRequest},
		{"chmod with a bad mode", func() *httptest.ResponseRecorder {
			return s.post("/api/chmod", map[string]string{"path": "a.txt", "permissions": "rwx"})
		}, http.StatusBadRequest},
		{"extract a plain file", func() *httptest.ResponseRecorder {
			return s.post("/api/extract", map[string]string{"path": "a.txt"})
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tc.rec()
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/create", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		rec := s.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "parsable format")
	})
}

func TestChmodRenameDelete(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "dir/sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "dir/sub/f.txt"), []byte("f"), 0o644))

	rec := s.post("/api/chmod", map[string]string{"path": "dir/sub/f.txt", "permissions": "600"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Permissions for f.txt set to 600.", decode(t, rec)["message"])
	st, err := os.Stat(filepath.Join(s.root, "dir/sub/f.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	rec = s.post("/api/rename", map[string]string{"path": "dir", "old_name": "sub", "new_name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"renamed:dir"}, names(t, s.get("/api/list", "dir")))

	rec = s.post("/api/delete", map[string]interface{}{"items": []string{"dir"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1 item(s) deleted.", decode(t, rec)["message"])
	assert.Empty(t, names(t, s.get("/api/list", "")))
}

func TestListDirs(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "a/b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "a/file.txt"), []byte("x"), 0o644))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/list_dirs", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tree []filesystem.TreeNode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	require.Len(t, tree, 1)
	assert.Equal(t, "Root", tree[0].Name)
	assert.Equal(t, "", tree[0].Path)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "a", tree[0].Children[0].Name)
	require.Len(t, tree[0].Children[0].Children, 1)
	assert.Equal(t, "a/b", tree[0].Children[0].Children[0].Path)
}

func TestUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(s.root, "incoming"), 0o755))

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("path", "incoming"))
	fw, err := w.CreateFormFile("file", "report.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("quarterly numbers"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "File 'report.txt' uploaded successfully.", decode(t, rec)["message"])

	rec = s.get("/api/download", "incoming/report.txt")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "quarterly numbers", rec.Body.String())
	assert.Equal(t, `attachment; filename="report.txt"`, rec.Header().Get("Content-Disposition"))

	t.Run("missing file part", func(t *testing.T) {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		require.NoError(t, w.WriteField("path", ""))
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", w.FormDataContentType())
		rec := s.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No file part in the request", decode(t, rec)["error"])
	})

	t.Run("download a directory", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, s.get("/api/download", "incoming").Code)
	})
}

func TestCompressAndExtract(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "project/sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "project/a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "project/sub/b.txt"), []byte("bravo"), 0o644))

	rec := s.post("/api/compress", map[string]interface{}{"items": []string{"project"}, "path": "", "name": "bundle.zip"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "'bundle.zip' created successfully.", decode(t, rec)["message"])

	zr, err := zip.OpenReader(filepath.Join(s.root, "bundle.zip"))
	require.NoError(t, err)
	var entries []string
	for _, f := range zr.File {
		entries = append(entries, f.Name)
	}
	require.NoError(t, zr.Close())
	assert.Contains(t, entries, "project/a.txt")
	assert.Contains(t, entries, "project/sub/b.txt")

	rec = s.post("/api/extract", map[string]string{"path": "bundle.zip"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Extracted to 'bundle'.", decode(t, rec)["message"])

	for p, want := range map[string]string{"bundle/project/a.txt": "alpha", "bundle/project/sub/b.txt": "bravo"} {
		f, err := os.Open(filepath.Join(s.root, p))
		require.NoError(t, err)
		b, err := io.ReadAll(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	s.get("/api/list", "")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `filebox_api_http_requests_total{code="200",method="GET",route_path="/api/list"}`)
}

func TestSystemInformation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/system", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["os"])
}
