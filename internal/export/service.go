package export

import (
	"context"
	"fmt"
	"time"

	"colorcraft/api/internal/store"
)

// DataStore loads the portfolio row being exported.
type DataStore interface {
	GetPortfolioItem(ctx context.Context, id string) (store.PortfolioItem, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides case-study export
type Service struct {
	store    DataStore
	siteName string
	siteURL  string
	now      func() time.Time
	toPDF    converter
	toDOCX   converter
}

func NewService(store DataStore, siteURL string) *Service {
	return &Service{
		store:    store,
		siteName: "Color & Craft",
		siteURL:  siteURL,
		now:      time.Now,
		toPDF:    exportPDF,
		toDOCX:   exportDOCX,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	item, err := s.store.GetPortfolioItem(ctx, req.PortfolioID)
	if err != nil {
		return nil, fmt.Errorf("get portfolio item: %w", err)
	}

	html, err := RenderCaseStudyHTML(TemplateData{
		SiteName:    s.siteName,
		SiteURL:     s.siteURL,
		Title:       item.Title,
		Category:    item.Category,
		Brief:       item.BriefDescription,
		Description: item.Description,
		Before:      item.BeforeImages,
		After:       item.AfterImages,
		UpdatedAt:   item.UpdatedAt,
		GeneratedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return s.toPDF(ctx, html, item.Title)
	case FormatDOCX:
		return s.toDOCX(ctx, html, item.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
