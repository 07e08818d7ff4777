package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogdesk/api/internal/ai"
	"blogdesk/api/internal/config"
	"blogdesk/api/internal/editor"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/nodes"
	"blogdesk/api/internal/poll"
	"blogdesk/api/internal/revisions"
	"blogdesk/api/internal/search"
	"blogdesk/api/internal/store"
)

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.PostRecord
	results []search.Result
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: f.results, Total: len(f.results), Query: q.Text, Engine: "fake"}
}

func (f *fakeSearch) IndexPost(r search.PostRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, r)
}

func (f *fakeSearch) DeletePost(string) {}

type fakeModel struct {
	out string
	err error
}

func (f fakeModel) Rewrite(context.Context, ai.RewriteRequest) (string, error) { return f.out, f.err }
func (f fakeModel) Enhance(context.Context, ai.EnhanceRequest) (string, error) { return f.out, f.err }

type fakeImages struct {
	contentType string
	data        []byte
}

func (f *fakeImages) Upload(_ context.Context, data []byte, contentType string) (string, error) {
	f.data, f.contentType = data, contentType
	return "https://media.test/blogdesk-images/images/a.png", nil
}

type fakePDF struct{}

func (fakePDF) RenderPDF(context.Context, string) ([]byte, error) { return []byte("%PDF"), nil }

type failingPing struct{ *store.Memory }

func (failingPing) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	server *HTTPServer
	posts  *store.Memory
	search *fakeSearch
	images *fakeImages
	redis  *miniredis.Miniredis
}

func newFixture(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	votes := poll.NewRedisStoreWithClient(client)

	f := &fixture{posts: store.NewMemory(), search: &fakeSearch{}, images: &fakeImages{}, redis: mr}
	cfg := config.Config{CORSOrigin: "*", AIRatePerMinute: 100}
	deps := Deps{
		Posts:     f.posts,
		Search:    f.search,
		Revisions: revisions.New(t.TempDir(), logging.Discard()),
		PDF:       fakePDF{},
		Images:    f.images,
		Rewriter:  fakeModel{out: "<b>a dog</b>"},
		Enhancer:  fakeModel{out: "```html\n<h2>Better</h2><p>draft</p>\n```"},
		Votes:     func(voter string) poll.Store { return votes.ForVoter(voter) },
		Logger:    logging.Discard(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	f.server = NewHTTPServer(New(cfg, deps), logging.Discard())
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (f *fixture) createPost(t *testing.T, body map[string]any) store.Post {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/posts", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[store.Post](t, rr)
}

func pollHTML(id string, allowMultiple bool) string {
	return nodes.Render(nodes.PollAttrs{
		PollID:        id,
		Question:      "Cut in June?",
		Options:       []nodes.PollOption{{Text: "Yes"}, {Text: "No"}},
		AllowMultiple: allowMultiple,
	}, "")
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"ok": true}, decode[map[string]any](t, rr))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	f = newFixture(t, func(_ *config.Config, deps *Deps) {
		deps.Posts = failingPing{store.NewMemory()}
	})
	rr = f.do(t, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "not_ready", body["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/api/health", nil, "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
}

func TestCreateAndGetPost(t *testing.T) {
	f := newFixture(t, nil)
	post := f.createPost(t, map[string]any{
		"blogId":      "blog_1",
		"title":       "Fed Holds Rates",
		"contentHtml": "<p>The <strong>Fed</strong> held.</p>",
	})
	assert.Equal(t, "fed-holds-rates", post.Slug)
	assert.Equal(t, store.StatusDraft, post.Status)
	assert.Equal(t, "<p>The <strong>Fed</strong> held.</p>", post.ContentHTML)
	require.Len(t, f.search.indexed, 1)
	assert.Equal(t, "The Fed held.", f.search.indexed[0].Body)

	rr := f.do(t, http.MethodGet, "/api/posts/"+post.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, post.Title, decode[store.Post](t, rr).Title)

	rr = f.do(t, http.MethodGet, "/api/posts?blogId=blog_1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct{ Items []store.Post }](t, rr)
	assert.Len(t, list.Items, 1)

	rr = f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/revisions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	revs := decode[struct{ Items []revisions.Revision }](t, rr)
	require.Len(t, revs.Items, 1)
	assert.Equal(t, "Create post", revs.Items[0].Message)
}

func TestPostErrors(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing title", http.MethodPost, "/api/posts", map[string]any{"blogId": "b"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad status", http.MethodPost, "/api/posts", map[string]any{"blogId": "b", "title": "t", "status": "live"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"invalid json", http.MethodPost, "/api/posts", "{", http.StatusBadRequest, "INVALID_BODY"},
		{"missing post", http.MethodGet, "/api/posts/post_none", nil, http.StatusNotFound, "NOT_FOUND"},
		{"patch missing post", http.MethodPatch, "/api/posts/post_none", map[string]any{"title": "x"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown template", http.MethodPost, "/api/posts", map[string]any{"blogId": "b", "title": "t", "templateId": "tpl_none"}, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, decode[map[string]any](t, rr)["code"])
		})
	}
}

func TestUpdatePostRecordsRevisions(t *testing.T) {
	f := newFixture(t, nil)
	post := f.createPost(t, map[string]any{"blogId": "blog_1", "title": "Draft", "contentHtml": "<p>one</p>"})

	rr := f.do(t, http.MethodPatch, "/api/posts/"+post.ID, map[string]any{"contentHtml": "<p>two</p>", "status": "published"}, headerUserName, "Avery")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[store.Post](t, rr)
	assert.Equal(t, "<p>two</p>", updated.ContentHTML)
	assert.Equal(t, store.StatusPublished, updated.Status)

	rr = f.do(t, http.MethodPatch, "/api/posts/"+post.ID, map[string]any{"contentHtml": "<p>two</p>"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/revisions", nil)
	revs := decode[struct{ Items []revisions.Revision }](t, rr)
	require.Len(t, revs.Items, 2)
	assert.Equal(t, "Avery", revs.Items[0].Author)

	rr = f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/revisions/"+revs.Items[1].Hash, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<p>one</p>", decode[map[string]any](t, rr)["contentHtml"])
}

func TestCreatePostFromTemplate(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodPost, "/api/templates", map[string]any{
		"blogId": "blog_1", "name": "Weekly poll", "contentHtml": "<h2>This week</h2>" + pollHTML("poll_tpl", false),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tpl := decode[store.Template](t, rr)

	post := f.createPost(t, map[string]any{"blogId": "blog_1", "title": "Week 12", "templateId": tpl.ID})
	assert.Contains(t, post.ContentHTML, "<h2>This week</h2>")
	assert.Contains(t, post.ContentHTML, `data-poll-id="poll_tpl"`)

	rr = f.do(t, http.MethodPost, "/api/posts", map[string]any{"blogId": "blog_2", "title": "x", "templateId": tpl.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/templates?blogId=blog_1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[struct{ Items []store.Template }](t, rr).Items, 1)
}

func TestVoteEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	post := f.createPost(t, map[string]any{"blogId": "blog_1", "title": "Poll", "contentHtml": pollHTML("poll_1", false)})
	path := "/api/polls/poll_1/vote"

	rr := f.do(t, http.MethodPost, path, map[string]any{"selectedIndexes": []int{1}, "parentDocId": post.ID}, headerVoterID, "v1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tally := decode[poll.Tally](t, rr)
	assert.Equal(t, 1, tally.TotalVotes)
	assert.Equal(t, []nodes.PollOption{{Text: "Yes", Votes: 0}, {Text: "No", Votes: 1}}, tally.UpdatedOptions)

	stored, err := f.posts.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	doc, issues := editor.Parse(stored.ContentHTML)
	require.Empty(t, issues)
	require.Len(t, doc.Nodes(), 1)
	assert.Equal(t, 1, doc.Nodes()[0].Attrs.(nodes.PollAttrs).TotalVotes)

	rr = f.do(t, http.MethodPost, path, map[string]any{"selectedIndexes": []int{0}, "parentDocId": post.ID}, headerVoterID, "v1")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "STATE_CONFLICT", decode[map[string]any](t, rr)["code"])

	rr = f.do(t, http.MethodGet, path, nil, headerVoterID, "v1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []int{1}, decode[poll.VoteRecord](t, rr).SelectedIndexes)
	assert.True(t, f.redis.Exists("pollvote:v1:poll_1"))

	rr = f.do(t, http.MethodGet, path, nil, headerVoterID, "v2")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestVoteErrors(t *testing.T) {
	f := newFixture(t, nil)
	post := f.createPost(t, map[string]any{"blogId": "blog_1", "title": "Poll", "contentHtml": pollHTML("poll_1", false)})
	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"out of range", "/api/polls/poll_1/vote", map[string]any{"selectedIndexes": []int{5}, "parentDocId": post.ID}, http.StatusUnprocessableEntity},
		{"multi on single choice", "/api/polls/poll_1/vote", map[string]any{"selectedIndexes": []int{0, 1}, "parentDocId": post.ID}, http.StatusUnprocessableEntity},
		{"empty selection", "/api/polls/poll_1/vote", map[string]any{"selectedIndexes": []int{}, "parentDocId": post.ID}, http.StatusUnprocessableEntity},
		{"missing parent", "/api/polls/poll_1/vote", map[string]any{"selectedIndexes": []int{0}}, http.StatusUnprocessableEntity},
		{"unknown post", "/api/polls/poll_1/vote", map[string]any{"selectedIndexes": []int{0}, "parentDocId": "post_none"}, http.StatusNotFound},
		{"unknown poll", "/api/polls/poll_x/vote", map[string]any{"selectedIndexes": []int{0}, "parentDocId": post.ID}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}

	stored, err := f.posts.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ContentHTML, `data-total-votes="0"`)
}

func TestConcurrentVotesAreAllCounted(t *testing.T) {
	f := newFixture(t, nil)
	post := f.createPost(t, map[string]any{"blogId": "blog_1", "title": "Poll", "contentHtml": pollHTML("poll_1", true)})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := f.do(t, http.MethodPost, "/api/polls/poll_1/vote", map[string]any{
				"selectedIndexes": []int{i % 2},
				"parentDocId":     post.ID,
			})
			assert.Equal(t, http.StatusOK, rr.Code)
		}()
	}
	wg.Wait()

	stored, err := f.posts.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	doc, _ := editor.Parse(stored.ContentHTML)
	attrs := doc.Nodes()[0].Attrs.(nodes.PollAttrs)
	assert.Equal(t, 20, attrs.TotalVotes)
	assert.Equal(t, 10, attrs.Options[0].Votes)
	assert.Equal(t, 10, attrs.Options[1].Votes)
}

func TestAIEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/api/ai/rewrite", map[string]any{"text": "a cat", "instruction": "swap the animal"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]any{"result": "a dog"}, decode[map[string]any](t, rr))

	rr = f.do(t, http.MethodPost, "/api/ai/enhance", map[string]any{"content": "<p>draft</p>"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]any{"enhanced": "<h2>Better</h2><p>draft</p>"}, decode[map[string]any](t, rr))

	rr = f.do(t, http.MethodPost, "/api/ai/rewrite", map[string]any{"text": "a cat"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAIFailures(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Deps) {
		deps.Rewriter = nil
		deps.Enhancer = fakeModel{err: errors.New("quota exceeded")}
	})

	rr := f.do(t, http.MethodPost, "/api/ai/rewrite", map[string]any{"text": "a", "instruction": "b"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "NETWORK_ERROR", decode[map[string]any](t, rr)["code"])

	rr = f.do(t, http.MethodPost, "/api/ai/enhance", map[string]any{"content": "<p>x</p>"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestAIRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Deps) { cfg.AIRatePerMinute = 2 })
	body := map[string]any{"text": "a cat", "instruction": "swap"}

	for range 2 {
		rr := f.do(t, http.MethodPost, "/api/ai/rewrite", body)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := f.do(t, http.MethodPost, "/api/ai/rewrite", body)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", decode[map[string]any](t, rr)["code"])

	rr = f.do(t, http.MethodPost, "/api/ai/rewrite", body, "X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	post := f.createPost(t, map[string]any{"blogId": "blog_1", "title": "Rates Weekly", "contentHtml": "<p>held</p>" + pollHTML("poll_1", false)})

	rr := f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Rates-Weekly.html"`, rr.Header().Get("Content-Disposition"))
	assert.Contains(t, rr.Body.String(), `<p class="poll-question">Cut in June?</p>`)

	rr = f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/export?format=pdf", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/posts/"+post.ID+"/export?format=docx", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.search.results = []search.Result{{ID: "post_1", Title: "Rates"}}

	rr := f.do(t, http.MethodGet, "/api/search?q=rates", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[search.Response](t, rr)
	assert.Equal(t, "fake", resp.Engine)
	assert.Len(t, resp.Results, 1)

	rr = f.do(t, http.MethodGet, "/api/search?q=", nil)
	resp = decode[search.Response](t, rr)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}

func TestUploadImageRaw(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/images", strings.NewReader("png-bytes"))
	req.Header.Set("Content-Type", "image/png")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "https://media.test/blogdesk-images/images/a.png", decode[map[string]string](t, rr)["url"])
	assert.Equal(t, "image/png", f.images.contentType)
	assert.Equal(t, []byte("png-bytes"), f.images.data)
}

func TestUploadImageMultipart(t *testing.T) {
	f := newFixture(t, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="a.gif"`)
	header.Set("Content-Type", "image/gif")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, _ = part.Write([]byte("gif-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "image/gif", f.images.contentType)
	assert.Equal(t, []byte("gif-bytes"), f.images.data)
}

func TestUploadWithoutStorage(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *Deps) { deps.Images = nil })
	rr := f.do(t, http.MethodPost, "/api/uploads/images", "x")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/posts", nil)
	req.Header.Set("Origin", "https://editor.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
