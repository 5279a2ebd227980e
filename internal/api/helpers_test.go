package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"sitecheck/internal/auth"
	"sitecheck/internal/db"
	"sitecheck/internal/pubsub"
	"sitecheck/internal/schema"
	"sitecheck/internal/service"
	"sitecheck/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	pool *db.Pool
	jwt  *auth.JWTConfig
}

type serverOptions struct {
	redis          bool
	maxFileBytes   int64
	maxUploadBytes int64
}

// newTestServer runs the development API over the demo seed
func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	pool, err := db.NewPool("", nil)
	require.NoError(t, err)

	var bus *pubsub.Bus
	if opts.redis {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		bus = pubsub.New(rdb, nil)
	}

	var instances *service.InstanceService
	if bus != nil {
		instances = service.NewInstanceService(pool.Queries, schema.NewCompilerWithCache(16), bus, nil)
		instances.SetEventLog(bus)
	} else {
		instances = service.NewInstanceService(pool.Queries, schema.NewCompilerWithCache(16), nil, nil)
	}

	ts := &testServer{pool: pool, jwt: auth.NewJWTConfig("test-secret")}
	ts.Server = httptest.NewUnstartedServer(nil)

	files, err := storage.NewLocalStorage(t.TempDir(), "http://"+ts.Listener.Addr().String())
	require.NoError(t, err)

	ts.Config.Handler = Routes(Dependencies{
		Instances:      instances,
		Files:          service.NewFileService(pool.Queries, files, storage.ImagePolicy(opts.maxFileBytes), nil),
		JWT:            ts.jwt,
		MaxUploadBytes: opts.maxUploadBytes,
	})
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) upload(t *testing.T, projectID, fileName, contentType string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("entity_type", "checklist_instance"))
	require.NoError(t, mw.WriteField("entity_id", "inst-demo"))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/projects/"+projectID+"/files", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.send(t, req)
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}
