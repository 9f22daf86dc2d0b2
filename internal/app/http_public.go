package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"colorcraft/api/internal/search"
)

// publicRoutes serve the marketing site. Only published rows are visible and
// every route shares the per-IP limit.
func (s *HTTPServer) publicRoutes(r chi.Router) {
	if s.opts.PublicLimit != nil {
		r.Use(s.opts.PublicLimit)
	}
	r.Get("/portfolio", s.handlePublicPortfolioList)
	r.Get("/portfolio/{id}", s.handlePublicPortfolioGet)
	r.Get("/services", s.handlePublicServiceList)
	r.Get("/services/{slug}", s.handlePublicServiceGet)
	r.Get("/search", s.handlePublicSearch)
	r.Post("/leads", s.handlePublicLead)
}

func (s *HTTPServer) handlePublicPortfolioList(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListPortfolio(r.Context(), portfolioListInput(r), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePublicPortfolioGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetPortfolioItem(r.Context(), chi.URLParam(r, "id"), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePublicServiceList(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListServices(r.Context(), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handlePublicServiceGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetPublishedServiceBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handlePublicSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query.Get("q"), search.ScopePublic, query.Get("type"), queryInt(r, "limit"), queryInt(r, "offset")))
}

func (s *HTTPServer) handlePublicLead(w http.ResponseWriter, r *http.Request) {
	var body ContactInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.SubmitContact(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}
