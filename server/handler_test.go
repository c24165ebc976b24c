package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleverlist/listdav/blob"
	"github.com/cleverlist/listdav/bridge"
	"github.com/cleverlist/listdav/domain"
	"github.com/cleverlist/listdav/tree"
)

type testServer struct {
	handler *Handler
	tree    *tree.Store
	domain  *domain.Store
	blobs   *blob.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	treeStore, err := tree.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { treeStore.Close() })

	domainStore, err := domain.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { domainStore.Close() })

	blobs := blob.New(t.TempDir())
	treeStore.OnDelete = func(res tree.Resource) {
		if !res.IsCollection {
			blobs.Delete(blob.Object{OwnerDir: res.OwnerDir(), UUID: res.UUID, Size: res.Size})
		}
	}

	br := bridge.New(treeStore, blobs, domainStore)
	br.Hook()

	ctx := context.Background()
	require.NoError(t, domainStore.AddUser(ctx, "alice", "pw"))
	require.NoError(t, domainStore.AddUser(ctx, "bob", "pw"))
	require.NoError(t, domainStore.AddUser(ctx, "mallory", "pw"))
	require.NoError(t, domainStore.AddUserToGroup(ctx, "alice", "household"))
	require.NoError(t, domainStore.AddUserToGroup(ctx, "bob", "household"))

	h := New("/dav/", treeStore, blobs, br, domainStore)
	for _, name := range []string{bridge.TaskCollection, bridge.ItemCollection, bridge.InventoryCollection} {
		_, err := h.EnsureCalendar(ctx, tree.SharedOwner, "calendars", name)
		require.NoError(t, err)
	}
	return &testServer{handler: h, tree: treeStore, domain: domainStore, blobs: blobs}
}

func (ts *testServer) do(method, path, user string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.SetBasicAuth(user, "pw")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("PROPFIND", "/dav/alice/", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic realm=")

	req := httptest.NewRequest("PROPFIND", "/dav/alice/", nil)
	req.SetBasicAuth("alice", "wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionsBeforeAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodOptions, "/dav/", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1, 2, calendar-access", rec.Header().Get("DAV"))
	assert.Contains(t, rec.Header().Get("Allow"), "PROPFIND")
}

func TestPutGetDelete(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/dav/alice/files/note.txt", "alice", "hello dav",
		map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, rec.Code)
	firstETag := rec.Header().Get("ETag")
	assert.NotEmpty(t, firstETag)

	rec = ts.do(http.MethodPut, "/dav/alice/files/note.txt", "alice", "hello again",
		map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEqual(t, firstETag, rec.Header().Get("ETag"), "rewriting moves the etag")

	rec = ts.do(http.MethodGet, "/dav/alice/files/note.txt", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello again", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"note.txt"`)

	rec = ts.do(http.MethodHead, "/dav/alice/files/note.txt", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = ts.do(http.MethodDelete, "/dav/alice/files/note.txt", "alice", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/dav/alice/files/note.txt", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutMissingIntermediate(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "/dav/alice/files/no/such/dir.txt", "alice", "x", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMkcol(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("MKCOL", "/dav/alice/files/photos", "alice", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do("MKCOL", "/dav/alice/files/photos", "alice", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "existing collection refuses MKCOL")

	rec = ts.do("MKCOL", "/dav/alice/files/other", "alice", "<mkcol/>", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = ts.do(http.MethodPut, "/dav/alice/files/photos/pic.jpg", "alice", "jpeg-bytes", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodDelete, "/dav/alice/files/photos", "alice", "", map[string]string{"Depth": "0"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "non-empty collection needs Depth infinity")

	rec = ts.do(http.MethodDelete, "/dav/alice/files/photos", "alice", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetCollectionRefused(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do("MKCOL", "/dav/alice/files/dir", "alice", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodGet, "/dav/alice/files/dir", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:getetag/>
    <D:getcontentlength/>
  </D:prop>
</D:propfind>`

func TestPropfind(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/dav/alice/files/a.txt", "alice", "aaa", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPut, "/dav/alice/files/b.txt", "alice", "bb", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do("PROPFIND", "/dav/alice/files/", "alice", propfindBody, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")

	body := rec.Body.String()
	assert.Contains(t, body, "/dav/alice/files/a.txt")
	assert.Contains(t, body, "/dav/alice/files/b.txt")
	assert.Contains(t, body, "getetag")
	assert.Contains(t, body, "HTTP/1.1 200 OK")

	rec = ts.do("PROPFIND", "/dav/alice/files/", "alice", propfindBody, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.NotContains(t, rec.Body.String(), "a.txt", "depth 0 reports only the collection")

	// getcontentlength is absent on collections, reported per-prop
	assert.Contains(t, rec.Body.String(), "HTTP/1.1 404 Not Found")
}

func TestPropfindHome(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "/dav/alice/files/a.txt", "alice", "x", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do("PROPFIND", "/dav/alice/", "alice", propfindBody, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "/dav/alice/files/")
}

func TestProppatch(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "/dav/alice/files/p.txt", "alice", "x", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	patch := `<?xml version="1.0" encoding="utf-8"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:example:zoo">
  <D:set><D:prop><Z:color>red</Z:color></D:prop></D:set>
  <D:set><D:prop><D:getetag>nope</D:getetag></D:prop></D:set>
</D:propertyupdate>`
	rec = ts.do("PROPPATCH", "/dav/alice/files/p.txt", "alice", patch, nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "HTTP/1.1 200 OK", "the dead property is stored")
	assert.Contains(t, body, "HTTP/1.1 403 Forbidden", "live properties are protected")

	find := `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:" xmlns:Z="urn:example:zoo">
  <D:prop><Z:color/></D:prop>
</D:propfind>`
	rec = ts.do("PROPFIND", "/dav/alice/files/p.txt", "alice", find, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "red")

	remove := `<?xml version="1.0" encoding="utf-8"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="urn:example:zoo">
  <D:remove><D:prop><Z:color/></D:prop></D:remove>
</D:propertyupdate>`
	rec = ts.do("PROPPATCH", "/dav/alice/files/p.txt", "alice", remove, nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTTP/1.1 200 OK")
}

func TestMoveAndCopy(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "/dav/alice/files/src.txt", "alice", "payload", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPut, "/dav/alice/files/taken.txt", "alice", "other", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do("MOVE", "/dav/alice/files/src.txt", "alice", "", map[string]string{
		"Destination": "/dav/alice/files/taken.txt",
		"Overwrite":   "F",
	})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = ts.do("COPY", "/dav/alice/files/src.txt", "alice", "", map[string]string{
		"Destination": "http://example.com/dav/alice/files/copy.txt",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodGet, "/dav/alice/files/src.txt", "alice", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "copy leaves the source in place")
	rec = ts.do(http.MethodGet, "/dav/alice/files/copy.txt", "alice", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())

	rec = ts.do("MOVE", "/dav/alice/files/src.txt", "alice", "", map[string]string{
		"Destination": "/dav/alice/files/taken.txt",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, "overwrite defaults to allowed")
	rec = ts.do(http.MethodGet, "/dav/alice/files/src.txt", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do("MOVE", "/dav/alice/files/taken.txt", "alice", "", map[string]string{
		"Destination": "http://elsewhere.example/dav/alice/files/x.txt",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code, "cross-server destinations are refused")
}

func TestGroupSharing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "/dav/alice/files/shared-doc.txt", "alice", "for the household", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/dav/alice/files/shared-doc.txt", "bob", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "group members reach each other's trees")

	rec = ts.do(http.MethodGet, "/dav/alice/files/shared-doc.txt", "mallory", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTaskMirrorRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	task := &domain.Task{Name: "Clean gutters"}
	require.NoError(t, ts.domain.SaveTask(ctx, task))

	path := "/dav/shared/calendars/tasks/" + task.UUID + ".ics"
	rec := ts.do(http.MethodGet, path, "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUMMARY:Clean gutters")

	// Editing the calendar file writes back into the record.
	updated := strings.Replace(rec.Body.String(), "SUMMARY:Clean gutters", "SUMMARY:Clean the gutters", 1)
	rec = ts.do(http.MethodPut, path, "alice", updated,
		map[string]string{"Content-Type": "text/calendar; charset=utf-8"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	loaded, err := ts.domain.Task(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clean the gutters", loaded.Name)

	token, _, err := ts.tree.SyncToken(ctx, "tasks")
	require.NoError(t, err)
	assert.NotEqual(t, "sync-0", token)
}

func TestUploadNewTaskFile(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ics := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//client//EN\r\n" +
		"BEGIN:VTODO\r\nUID:client-uid-1\r\nDTSTAMP:20260101T000000Z\r\n" +
		"SUMMARY:From my phone\r\nEND:VTODO\r\nEND:VCALENDAR\r\n"
	rec := ts.do(http.MethodPut, "/dav/shared/calendars/tasks/client-uid-1.ics", "alice", ics,
		map[string]string{"Content-Type": "text/calendar; charset=utf-8"})
	require.Equal(t, http.StatusCreated, rec.Code)

	task, err := ts.domain.TaskByUUID(ctx, "client-uid-1")
	require.NoError(t, err)
	assert.Equal(t, "From my phone", task.Name)
}

func TestCalendarProperties(t *testing.T) {
	ts := newTestServer(t)

	find := `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">
  <D:prop>
    <D:resourcetype/>
    <D:displayname/>
    <CS:getctag/>
  </D:prop>
</D:propfind>`
	rec := ts.do("PROPFIND", "/dav/shared/calendars/tasks/", "alice", find, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "calendar", "provisioned collections are calendars")
	assert.Contains(t, body, "tasks")
	assert.Contains(t, body, "sync-0")
}

func TestProtectedCollectionDelete(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodDelete, "/dav/shared/calendars/tasks", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMoveBumpsSyncToken(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	task := &domain.Task{Name: "Rake leaves"}
	require.NoError(t, ts.domain.SaveTask(ctx, task))
	before, _, err := ts.tree.SyncToken(ctx, "tasks")
	require.NoError(t, err)

	rec := ts.do("MOVE", "/dav/shared/calendars/tasks/"+task.UUID+".ics", "alice", "", map[string]string{
		"Destination": "/dav/shared/calendars/tasks/renamed.ics",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	after, _, err := ts.tree.SyncToken(ctx, "tasks")
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "relocation changes collection membership")
}

func TestPutDeclaredLength(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/dav/alice/files/clip.txt", strings.NewReader("0123456789"))
	req.ContentLength = 4
	req.SetBasicAuth("alice", "pw")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodGet, "/dav/alice/files/clip.txt", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, "0123", rec.Body.String(), "the declared length bounds the stored content")
}

func TestCtagAbsentOnPlainCollections(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPut, "/dav/alice/files/a.txt", "alice", "x", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	find := `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">
  <D:prop><CS:getctag/></D:prop>
</D:propfind>`
	rec = ts.do("PROPFIND", "/dav/alice/files/", "alice", find, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTTP/1.1 404 Not Found")
	assert.NotContains(t, rec.Body.String(), "sync-", "only calendars carry a token")
}

func TestProtectedMirrorDeleteKeepsRecord(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	task := &domain.Task{Name: "Keep me"}
	require.NoError(t, ts.domain.SaveTask(ctx, task))
	res, err := ts.tree.ByTask(ctx, task.ID)
	require.NoError(t, err)
	res.Protected = true
	require.NoError(t, ts.tree.Update(ctx, res))

	rec := ts.do(http.MethodDelete, "/dav/shared/calendars/tasks/"+task.UUID+".ics", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err = ts.domain.Task(ctx, task.ID)
	assert.NoError(t, err, "a refused DELETE keeps the record")
}

func TestMkcolChunkedBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("MKCOL", "/dav/alice/files/chunky", strings.NewReader("<mkcol/>"))
	req.ContentLength = -1
	req.SetBasicAuth("alice", "pw")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestInventoryCalendar(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	p := &domain.Product{Name: "Flour", Stock: 0, MinimumStock: 2}
	require.NoError(t, ts.domain.SaveProduct(ctx, p))

	rec := ts.do(http.MethodGet, "/dav/shared/calendars/inventory/"+p.UUID+".ics", "alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUMMARY:Flour (0/2)")
	assert.Contains(t, rec.Body.String(), "STATUS:COMPLETED")
}

func TestWellKnownRedirect(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/caldav", nil)
	rec := httptest.NewRecorder()
	ts.handler.WellKnown().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dav/", rec.Header().Get("Location"))
}
