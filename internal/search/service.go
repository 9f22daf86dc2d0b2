package search

import (
	"context"

	"github.com/charmbracelet/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn("search: meilisearch error, falling back to pgfts", "err", err)
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Error("search: pgfts error", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) IndexPortfolio(r PortfolioRecord) {
	s.async("index portfolio", r.ID, func() error { return s.meili.IndexPortfolio(r) })
}

func (s *Service) IndexService(r ServiceRecord) {
	s.async("index service", r.ID, func() error { return s.meili.IndexService(r) })
}

func (s *Service) IndexCustomer(r CustomerRecord) {
	s.async("index customer", r.ID, func() error { return s.meili.IndexCustomer(r) })
}

func (s *Service) DeletePortfolio(id string) {
	s.async("delete portfolio", id, func() error { return s.meili.Delete(idxPortfolio, id) })
}

func (s *Service) DeleteService(id string) {
	s.async("delete service", id, func() error { return s.meili.Delete(idxServices, id) })
}

func (s *Service) DeleteCustomer(id string) {
	s.async("delete customer", id, func() error { return s.meili.Delete(idxCustomers, id) })
}

// async runs an index write in the background. Writes are skipped while
// Meilisearch is down; the next reindex catches up.
func (s *Service) async(op, id string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			log.Warn("search: "+op, "id", id, "err", err)
		}
	}()
}

// ReindexAllFromPG pushes every searchable row from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	portfolio, services, customers, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Error("search: reindex load failed", "err", err)
		return
	}
	if err := s.meili.IndexPortfolioBatch(portfolio); err != nil {
		log.Warn("search: reindex portfolio", "err", err)
	}
	if err := s.meili.IndexServiceBatch(services); err != nil {
		log.Warn("search: reindex services", "err", err)
	}
	if err := s.meili.IndexCustomerBatch(customers); err != nil {
		log.Warn("search: reindex customers", "err", err)
	}
	log.Info("search: reindexed from postgres",
		"portfolio", len(portfolio), "services", len(services), "customers", len(customers))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
