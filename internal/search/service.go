package search

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/logging"
)

// Engine answers post queries.
type Engine interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index receives post changes.
type Index interface {
	IndexPost(record PostRecord) error
	IndexPosts(records []PostRecord) error
	DeletePost(id string) error
	Healthy() bool
}

// Primary adapts a Meili client to Engine and Index.
type Primary struct {
	*Meili
}

func (p Primary) Search(_ context.Context, q Query) ([]Result, int, error) {
	return p.Meili.Search(q)
}

// Service is the facade that tries the primary engine first and falls back to PG FTS.
type Service struct {
	primary  Engine
	index    Index
	fallback Engine
	log      *logrus.Entry
	wg       sync.WaitGroup
}

// NewService creates a search service. meili may be nil when Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger logrus.FieldLogger) *Service {
	s := &Service{log: logging.Component(logger, "search")}
	if meili != nil {
		s.primary = Primary{meili}
		s.index = Primary{meili}
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// NewServiceWith wires arbitrary engines; any of them may be nil.
func NewServiceWith(primary Engine, index Index, fallback Engine, logger logrus.FieldLogger) *Service {
	return &Service{primary: primary, index: index, fallback: fallback, log: logging.Component(logger, "search")}
}

// Search tries the primary engine if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.log.WithError(err).Warn("primary search failed, falling back to pgfts")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text, Engine: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "pgfts"}
}

// IndexPost indexes a post without waiting for the index to answer.
func (s *Service) IndexPost(record PostRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	record.Body = Truncate(record.Body, maxIndexedBody)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.IndexPost(record); err != nil {
			s.log.WithError(err).WithField("post_id", record.ID).Warn("index post")
		}
	}()
}

// DeletePost removes a post from the index without waiting.
func (s *Service) DeletePost(id string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.DeletePost(id); err != nil {
			s.log.WithError(err).WithField("post_id", id).Warn("delete post from index")
		}
	}()
}

// ReindexAll reads every post from Postgres and pushes it to the index.
func (s *Service) ReindexAll(ctx context.Context, source interface {
	LoadAllRecords(ctx context.Context) ([]PostRecord, error)
}) {
	if s.index == nil || !s.index.Healthy() || source == nil {
		return
	}
	records, err := source.LoadAllRecords(ctx)
	if err != nil {
		s.log.WithError(err).Error("reindex load failed")
		return
	}
	if err := s.index.IndexPosts(records); err != nil {
		s.log.WithError(err).Error("reindex posts")
		return
	}
	s.log.WithField("posts", len(records)).Info("reindexed posts")
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
