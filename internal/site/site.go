// Package site renders the public marketing pages. Only published portfolio
// items and services are ever shown.
package site

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"colorcraft/api/internal/store"
	"colorcraft/api/internal/util"
	"github.com/Masterminds/sprig/v3"
	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"home", "portfolio", "portfolio_item", "services", "service", "contact", "not_found"}

// Content is the read side of the store the pages need.
type Content interface {
	ListPortfolio(ctx context.Context, filter store.PortfolioFilter) ([]store.PortfolioItem, error)
	GetPortfolioItem(ctx context.Context, id string) (store.PortfolioItem, error)
	PortfolioCategories(ctx context.Context, publishedOnly bool) ([]string, error)
	ListServices(ctx context.Context, publishedOnly bool) ([]store.ServiceItem, error)
	GetServiceBySlug(ctx context.Context, slug string) (store.ServiceItem, error)
}

type Options struct {
	SiteName string
	BaseURL  string
}

type Site struct {
	content Content
	opts    Options
	pages   map[string]*template.Template
}

func New(content Content, opts Options) (*Site, error) {
	if opts.SiteName == "" {
		opts.SiteName = "Color & Craft"
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").
			Funcs(sprig.HtmlFuncMap()).
			Funcs(template.FuncMap{"firstImage": firstImage}).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		pages[name] = tmpl
	}
	return &Site{content: content, opts: opts, pages: pages}, nil
}

// Routes mounts the page handlers on r.
func (s *Site) Routes(r chi.Router) {
	r.Get("/", s.home)
	r.Get("/portfolio", s.portfolio)
	r.Get("/portfolio/{id}", s.portfolioItem)
	r.Get("/services", s.services)
	r.Get("/services/{slug}", s.service)
	r.Get("/contact", s.contact)
}

type pageData struct {
	SiteName string
	BaseURL  string
	Title    string
	Path     string
	Year     int
	Data     map[string]any
}

func (s *Site) home(w http.ResponseWriter, r *http.Request) {
	featured := true
	items, err := s.content.ListPortfolio(r.Context(), store.PortfolioFilter{PublishedOnly: true, Featured: &featured, Limit: 6})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	services, err := s.content.ListServices(r.Context(), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "home", "Furniture restoration", map[string]any{
		"Featured": items,
		"Services": services,
	})
}

func (s *Site) portfolio(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	items, err := s.content.ListPortfolio(r.Context(), store.PortfolioFilter{PublishedOnly: true, Category: category})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	categories, err := s.content.PortfolioCategories(r.Context(), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "portfolio", "Portfolio", map[string]any{
		"Items":      items,
		"Categories": categories,
		"Category":   category,
	})
}

func (s *Site) portfolioItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !util.IsUUID(id) {
		s.notFound(w, r)
		return
	}
	item, err := s.content.GetPortfolioItem(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !item.Published) {
		s.notFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "portfolio_item", item.Title, map[string]any{"Item": item})
}

func (s *Site) services(w http.ResponseWriter, r *http.Request) {
	services, err := s.content.ListServices(r.Context(), true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "services", "Services", map[string]any{"Services": services})
}

func (s *Site) service(w http.ResponseWriter, r *http.Request) {
	item, err := s.content.GetServiceBySlug(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !item.Published) {
		s.notFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "service", item.Title, map[string]any{"Service": item})
}

func (s *Site) contact(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "contact", "Contact", map[string]any{})
}

func (s *Site) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "not_found", "Not found", map[string]any{})
}

func (s *Site) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.Error("render page", "path", r.URL.Path, "err", err)
	http.Error(w, "Something went wrong", http.StatusInternalServerError)
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data map[string]any) {
	var buf bytes.Buffer
	err := s.pages[page].Execute(&buf, pageData{
		SiteName: s.opts.SiteName,
		BaseURL:  s.opts.BaseURL,
		Title:    title,
		Path:     r.URL.Path,
		Year:     time.Now().Year(),
		Data:     data,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func firstImage(item store.PortfolioItem) string {
	if len(item.AfterImages) > 0 {
		return item.AfterImages[0]
	}
	if len(item.BeforeImages) > 0 {
		return item.BeforeImages[0]
	}
	return ""
}
