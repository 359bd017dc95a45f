package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/ViniZap4/tagkosha-server/auth"
	"github.com/ViniZap4/tagkosha-server/engine"
	"github.com/ViniZap4/tagkosha-server/store/memstore"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("handler-secret")

type testServer struct {
	t      *testing.T
	srv    *Server
	engine *engine.Engine
	store  *memstore.Store
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memstore.New()
	e := engine.New(st, zerolog.Nop(), engine.Options{})
	d := engine.NewDispatcher(e)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	srv := NewServer(e, d, secret, zerolog.Nop())
	t.Cleanup(func() { srv.sessions.closeAll() })
	token, err := auth.MintToken(secret, "user-1")
	require.NoError(t, err)
	return &testServer{t: t, srv: srv, engine: e, store: st, token: token}
}

func (ts *testServer) do(method, path string, body any) (*nethttp.Response, []byte) {
	ts.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.Header, ts.token)
	resp, err := ts.srv.App().Test(req)
	require.NoError(ts.t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp, out
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

type noteBody struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	TagsInput string   `json:"tags_input"`
}

func TestNoteLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do("POST", "/api/notes", noteRequest{Title: "Plan", Content: "x", Tags: "#work/a #home"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(body))
	created := decode[noteBody](t, body)
	assert.Equal(t, []string{"#home", "#work/a"}, created.Tags)

	resp, body = ts.do("GET", "/api/notes/"+created.ID, nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "#home #work/a", decode[noteBody](t, body).TagsInput)

	resp, body = ts.do("PUT", "/api/notes/"+created.ID, noteRequest{Title: "Plan", Tags: ""})
	require.Equal(t, 200, resp.StatusCode, string(body))
	updated := decode[noteBody](t, body)
	assert.Equal(t, []string{"#untagged"}, updated.Tags)
	assert.Empty(t, updated.TagsInput)

	resp, _ = ts.do("DELETE", "/api/notes/"+created.ID, nil)
	assert.Equal(t, 204, resp.StatusCode)

	resp, _ = ts.do("GET", "/api/notes/"+created.ID, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do("POST", "/api/notes", noteRequest{Title: "", Tags: "#a"})
	assert.Equal(t, 422, resp.StatusCode)
	assert.Equal(t, "title", decode[errorResponse](t, body).Field)

	resp, body = ts.do("POST", "/api/notes", noteRequest{Title: "T", Tags: "#untagged"})
	assert.Equal(t, 422, resp.StatusCode)
	assert.Equal(t, "tags", decode[errorResponse](t, body).Field)

	resp, _ = ts.do("GET", "/api/notes?tag=nohash", nil)
	assert.Equal(t, 422, resp.StatusCode)
}

func TestUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	ts.token = "forged.00"
	resp, _ := ts.do("GET", "/api/notes", nil)
	assert.Equal(t, 401, resp.StatusCode)

	resp, _ = ts.do("GET", "/health", nil)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestQueryNotesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	for _, tags := range []string{"#work/a", "#work/a #home", "#home"} {
		resp, _ := ts.do("POST", "/api/notes", noteRequest{Title: "n", Tags: tags})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := ts.do("GET", "/api/notes?tag=%23work&tag=%23home", nil)
	require.Equal(t, 200, resp.StatusCode)
	snap := decode[engine.NoteSnapshot](t, body)
	assert.Len(t, snap.Notes, 1)
	assert.Equal(t, []string{"#home", "#work"}, snap.Filters)

	resp, body = ts.do("GET", "/api/notes?tag=%23work", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Len(t, decode[engine.NoteSnapshot](t, body).Notes, 2)
}

func TestTagEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, tags := range []string{"#a #a/b", "#a/b/c", "#z"} {
		resp, _ := ts.do("POST", "/api/notes", noteRequest{Title: "n", Tags: tags})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := ts.do("GET", "/api/tags/tree?expanded=%23a", nil)
	require.Equal(t, 200, resp.StatusCode)
	roots := decode[[]struct {
		FullName string `json:"full_name"`
		Expanded bool   `json:"expanded"`
		Children []any  `json:"children"`
	}](t, body)
	require.Len(t, roots, 2)
	assert.Equal(t, "#a", roots[0].FullName)
	assert.True(t, roots[0].Expanded)
	assert.Len(t, roots[0].Children, 1)

	resp, body = ts.do("GET", "/api/tags/search?q=B", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Len(t, decode[[]searchHit](t, body), 2)
}

func TestRepairEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do("POST", "/api/notes", noteRequest{Title: "n", Tags: "#a"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, body := ts.do("POST", "/api/tags/repair", tagRequest{Tag: "#a"})
	require.Equal(t, 200, resp.StatusCode, string(body))
	out := decode[[]engine.RepairOutcome](t, body)
	require.Len(t, out, 1)
	assert.False(t, out[0].Repaired)

	resp, body = ts.do("POST", "/api/tags/repair", nil)
	require.Equal(t, 200, resp.StatusCode, string(body))
	assert.Len(t, decode[[]engine.RepairOutcome](t, body), 1)
}

func TestNoteActions(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do("POST", "/api/notes", noteRequest{Title: "Recipe", Content: "flour", Tags: "#home"})
	id := decode[noteBody](t, body).ID

	resp, body := ts.do("POST", "/api/notes/"+id+"/actions", actionRequest{Action: "clone"})
	require.Equal(t, 200, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "Recipe (copy)")

	resp, body = ts.do("POST", "/api/notes/"+id+"/actions", actionRequest{Action: "share"})
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(body), "title: Recipe")

	resp, _ = ts.do("POST", "/api/notes/"+id+"/actions", actionRequest{Action: "pin"})
	assert.Equal(t, 422, resp.StatusCode)

	resp, _ = ts.do("POST", "/api/notes/"+id+"/actions", actionRequest{Action: "delete"})
	assert.Equal(t, 200, resp.StatusCode)
}

func TestSessionFilterEndpoints(t *testing.T) {
	ts := newTestServer(t)
	fs, err := ts.engine.NewSession(context.Background(), "user-1", nil, nil)
	require.NoError(t, err)
	sess := &streamSession{id: uuid.NewString(), ownerID: "user-1", filters: fs, cancel: func() {}}
	ts.srv.sessions.add(sess)

	resp, body := ts.do("POST", "/api/sessions/"+sess.id+"/select", tagRequest{Tag: "#work"})
	require.Equal(t, 200, resp.StatusCode, string(body))
	assert.Equal(t, []string{"#work"}, decode[sessionInfo](t, body).Filters)

	resp, _ = ts.do("POST", "/api/sessions/"+sess.id+"/select", tagRequest{Tag: "work"})
	assert.Equal(t, 422, resp.StatusCode)

	resp, body = ts.do("POST", "/api/sessions/"+sess.id+"/deselect", tagRequest{Tag: "#work"})
	require.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, decode[sessionInfo](t, body).Filters)

	resp, _ = ts.do("POST", "/api/sessions/unknown/select", tagRequest{Tag: "#work"})
	assert.Equal(t, 404, resp.StatusCode)

	ts.srv.sessions.remove(sess.id)
	assert.Equal(t, 0, ts.store.Listeners())
}

func TestLatestKeepsNewest(t *testing.T) {
	l := newLatest[int]()
	l.push(1)
	l.push(2)
	l.push(3)
	assert.Equal(t, 3, <-l.ch)
	select {
	case v := <-l.ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}
