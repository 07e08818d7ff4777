package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/logging"
)

const idxPosts = "blogdesk_posts"

// Meili implements post search and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     *logrus.Entry
}

// NewMeili creates a Meilisearch client and configures the posts index. An unreachable
// server is not an error: the health loop picks it up once it answers.
func NewMeili(url, apiKey string, logger logrus.FieldLogger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    logging.Component(logger, "search"),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxPosts, PrimaryKey: "id"}); err != nil {
		m.log.WithError(err).Debug("create index (may already exist)")
	}
	index := m.client.Index(idxPosts)
	filterable := []interface{}{"blogId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.WithError(err).Warn("update filterable attributes")
	}
	searchable := []string{"title", "body", "slug"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.WithError(err).Warn("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the posts index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	req := &meili.SearchRequest{
		Limit:                 int64(q.limit()),
		Offset:                int64(max(q.Offset, 0)),
		AttributesToHighlight: []string{"title", "body"},
		AttributesToCrop:      []string{"body"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.Index(idxPosts).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.BlogID != "" {
		filters = append(filters, fmt.Sprintf("blogId = %q", q.BlogID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:      decodeString(hit, "id"),
		BlogID:  decodeString(hit, "blogId"),
		Slug:    decodeString(hit, "slug"),
		Status:  decodeString(hit, "status"),
		Title:   firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet: firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexPost adds or updates a post in the search index.
func (m *Meili) IndexPost(record PostRecord) error {
	_, err := m.client.Index(idxPosts).AddDocuments([]PostRecord{record}, nil)
	return err
}

// IndexPosts bulk-indexes posts.
func (m *Meili) IndexPosts(records []PostRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPosts).AddDocuments(records, nil)
	return err
}

// DeletePost removes a post from the search index.
func (m *Meili) DeletePost(id string) error {
	_, err := m.client.Index(idxPosts).DeleteDocument(id, nil)
	return err
}
