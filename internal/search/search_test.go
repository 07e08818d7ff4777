package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogdesk/api/internal/logging"
)

type fakeEngine struct {
	healthy bool
	results []Result
	err     error
	calls   int
}

func (f *fakeEngine) Search(_ context.Context, _ Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	indexed []PostRecord
	deleted []string
}

func (f *fakeIndex) IndexPost(r PostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, r)
	return nil
}

func (f *fakeIndex) IndexPosts(rs []PostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rs...)
	return nil
}

func (f *fakeIndex) DeletePost(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

type staticSource []PostRecord

func (s staticSource) LoadAllRecords(context.Context) ([]PostRecord, error) {
	return s, nil
}

func TestPlainText(t *testing.T) {
	html := `<h2>Rates</h2><p>The <strong>Fed</strong> held.</p>` +
		`<div data-type="poll" data-question="Cut in June?" data-options="[]"></div>` +
		`<script>track()</script><ul><li>one</li><li>two</li></ul>`
	assert.Equal(t, "Rates\nThe Fed held.\nCut in June?\none\ntwo", PlainText(html))
	assert.Equal(t, "", PlainText(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "a", Truncate("aé", 2), "must not split a rune")
}

func TestServiceSearchFallsBack(t *testing.T) {
	tests := []struct {
		name       string
		primary    *fakeEngine
		wantEngine string
		wantID     string
	}{
		{
			name:       "primary healthy",
			primary:    &fakeEngine{healthy: true, results: []Result{{ID: "meili"}}},
			wantEngine: "meilisearch",
			wantID:     "meili",
		},
		{
			name:       "primary unhealthy",
			primary:    &fakeEngine{healthy: false, results: []Result{{ID: "meili"}}},
			wantEngine: "pgfts",
			wantID:     "pg",
		},
		{
			name:       "primary errors",
			primary:    &fakeEngine{healthy: true, err: errors.New("timeout")},
			wantEngine: "pgfts",
			wantID:     "pg",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fallback := &fakeEngine{healthy: true, results: []Result{{ID: "pg"}}}
			s := NewServiceWith(tc.primary, nil, fallback, logging.Discard())
			resp := s.Search(context.Background(), Query{Text: "fed"})
			assert.Equal(t, tc.wantEngine, resp.Engine)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, tc.wantID, resp.Results[0].ID)
		})
	}
}

func TestServiceSearchNeverNil(t *testing.T) {
	s := NewServiceWith(nil, nil, &fakeEngine{healthy: true, err: errors.New("db down")}, logging.Discard())
	resp := s.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestServiceIndexing(t *testing.T) {
	index := &fakeIndex{healthy: true}
	s := NewServiceWith(nil, index, nil, logging.Discard())
	s.IndexPost(PostRecord{ID: "p1", Title: "one"})
	s.DeletePost("p0")
	s.ReindexAll(context.Background(), staticSource{{ID: "p2"}, {ID: "p3"}})
	s.Wait()

	assert.Len(t, index.indexed, 3)
	assert.Equal(t, []string{"p0"}, index.deleted)

	index.healthy = false
	s.IndexPost(PostRecord{ID: "p4"})
	s.Wait()
	assert.Len(t, index.indexed, 3)
}
