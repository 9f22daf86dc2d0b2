package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gosimple/slug"

	"colorcraft/api/internal/export"
	"colorcraft/api/internal/imagesync"
	"colorcraft/api/internal/search"
	"colorcraft/api/internal/store"
	"colorcraft/api/internal/util"
)

const MaxImageBytes = 10 << 20

var (
	errStorageUnavailable = domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	errExportUnavailable  = domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export runtime is not installed on this server", nil)
	errImageTooLarge      = domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Images must be 10 MiB or smaller", nil)
	errNotAnImage         = domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Only image uploads are accepted", nil)
)

type PortfolioInput struct {
	Title            string `json:"title" validate:"notblank,max=200"`
	BriefDescription string `json:"brief_description" validate:"notblank,max=500"`
	Description      string `json:"description" validate:"max=10000"`
	Category         string `json:"category" validate:"max=100"`
	Featured         bool   `json:"featured"`
	Published        bool   `json:"published"`
	SortOrder        int    `json:"sort_order" validate:"gte=0"`
}

type ServiceInput struct {
	Slug             string `json:"slug" validate:"max=120"`
	Title            string `json:"title" validate:"notblank,max=200"`
	BriefDescription string `json:"brief_description" validate:"notblank,max=500"`
	Description      string `json:"description" validate:"max=10000"`
	PriceRange       string `json:"price_range" validate:"max=100"`
	Duration         string `json:"duration" validate:"max=100"`
	Published        bool   `json:"published"`
	SortOrder        int    `json:"sort_order" validate:"gte=0"`
}

type PortfolioListInput struct {
	Category string
	Featured *bool
	Limit    int
	Offset   int
}

type ImageUpload struct {
	PortfolioID string
	Type        string
	Data        []byte
}

// requireID turns malformed identifiers into a not-found before they reach
// the uuid columns.
func requireID(id string) error {
	if !util.IsUUID(id) {
		return sql.ErrNoRows
	}
	return nil
}

// Portfolio

func (s *Service) ListPortfolio(ctx context.Context, input PortfolioListInput, publishedOnly bool) (map[string]any, error) {
	items, err := s.store.ListPortfolio(ctx, store.PortfolioFilter{
		Category:      strings.TrimSpace(input.Category),
		Featured:      input.Featured,
		PublishedOnly: publishedOnly,
		Limit:         input.Limit,
		Offset:        input.Offset,
	})
	if err != nil {
		return nil, err
	}
	categories, err := s.store.PortfolioCategories(ctx, publishedOnly)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, portfolioPayload(item))
	}
	return map[string]any{"items": payload, "categories": categories}, nil
}

func (s *Service) GetPortfolioItem(ctx context.Context, id string, publishedOnly bool) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	item, err := s.store.GetPortfolioItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if publishedOnly && !item.Published {
		return nil, sql.ErrNoRows
	}
	return portfolioPayload(item), nil
}

func (s *Service) CreatePortfolioItem(ctx context.Context, session Session, input PortfolioInput) (map[string]any, error) {
	if err := check(input); err != nil {
		return nil, err
	}
	createdBy := session.UserID
	item, err := s.store.InsertPortfolioItem(ctx, store.PortfolioItem{
		ID:               util.NewID(),
		Title:            strings.TrimSpace(input.Title),
		BriefDescription: strings.TrimSpace(input.BriefDescription),
		Description:      input.Description,
		Category:         strings.TrimSpace(input.Category),
		Featured:         input.Featured,
		Published:        input.Published,
		SortOrder:        input.SortOrder,
		CreatedBy:        &createdBy,
	})
	if err != nil {
		return nil, err
	}
	s.search.IndexPortfolio(portfolioRecord(item))
	log.Info("portfolio item created", "id", item.ID, "by", session.UserID)
	return portfolioPayload(item), nil
}

func (s *Service) UpdatePortfolioItem(ctx context.Context, id string, input PortfolioInput) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	if err := check(input); err != nil {
		return nil, err
	}
	item, err := s.store.UpdatePortfolioItem(ctx, store.PortfolioItem{
		ID:               id,
		Title:            strings.TrimSpace(input.Title),
		BriefDescription: strings.TrimSpace(input.BriefDescription),
		Description:      input.Description,
		Category:         strings.TrimSpace(input.Category),
		Featured:         input.Featured,
		Published:        input.Published,
		SortOrder:        input.SortOrder,
	})
	if err != nil {
		return nil, err
	}
	s.search.IndexPortfolio(portfolioRecord(item))
	return portfolioPayload(item), nil
}

// DeletePortfolioItem removes the row, then clears both image folders. Storage
// failures are logged; the row is already gone.
func (s *Service) DeletePortfolioItem(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := s.store.DeletePortfolioItem(ctx, id); err != nil {
		return err
	}
	s.search.DeletePortfolio(id)
	if s.objects == nil {
		return nil
	}
	for _, folder := range []string{"before_images", "after_images"} {
		removed, err := s.objects.RemovePrefix(ctx, imagesync.FolderPrefix(id, folder))
		if err != nil {
			log.Warn("remove portfolio images", "id", id, "folder", folder, "err", err)
			continue
		}
		if removed > 0 {
			log.Info("removed portfolio images", "id", id, "folder", folder, "count", removed)
		}
	}
	return nil
}

func (s *Service) UploadPortfolioImage(ctx context.Context, upload ImageUpload) (map[string]any, error) {
	if s.objects == nil || s.syncer == nil {
		return nil, errStorageUnavailable
	}
	if err := requireID(upload.PortfolioID); err != nil {
		return nil, err
	}
	imageType := strings.ToLower(strings.TrimSpace(upload.Type))
	if imageType != "before" && imageType != "after" {
		return nil, fieldError("type", "must be one of: before, after")
	}
	if len(upload.Data) == 0 {
		return nil, fieldError("file", "is required")
	}
	if len(upload.Data) > MaxImageBytes {
		return nil, errImageTooLarge
	}
	detected := mimetype.Detect(upload.Data)
	if !strings.HasPrefix(detected.String(), "image/") || !imagesync.IsImageKey("upload"+detected.Extension()) {
		return nil, errNotAnImage
	}
	if _, err := s.store.GetPortfolioItem(ctx, upload.PortfolioID); err != nil {
		return nil, err
	}

	key := imagesync.FolderPrefix(upload.PortfolioID, imageType+"_images") + util.NewID() + detected.Extension()
	if err := s.objects.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), detected.String()); err != nil {
		return nil, err
	}
	if _, err := s.syncer.FullSync(ctx, upload.PortfolioID); err != nil {
		return nil, fmt.Errorf("sync after upload: %w", syncError(err))
	}
	item, err := s.store.GetPortfolioItem(ctx, upload.PortfolioID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":  s.objects.PublicURL(key),
		"key":  key,
		"item": portfolioPayload(item),
	}, nil
}

func (s *Service) DeletePortfolioImage(ctx context.Context, id, imageURL string) (map[string]any, error) {
	if s.objects == nil || s.syncer == nil {
		return nil, errStorageUnavailable
	}
	if err := requireID(id); err != nil {
		return nil, err
	}
	key, ok := s.objects.ObjectKey(strings.TrimSpace(imageURL))
	if !ok {
		return nil, fieldError("url", "is not a stored image")
	}
	parsed, ok := imagesync.ParseObjectPath(key)
	if !ok || !strings.EqualFold(parsed.PortfolioID, id) {
		return nil, fieldError("url", "does not belong to this portfolio item")
	}
	if err := s.objects.Remove(ctx, key); err != nil {
		return nil, err
	}
	if _, err := s.syncer.RemoveImage(ctx, id, key); err != nil {
		return nil, syncError(err)
	}
	item, err := s.store.GetPortfolioItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return portfolioPayload(item), nil
}

func (s *Service) ResyncPortfolioImages(ctx context.Context, id string) (map[string]any, error) {
	if s.syncer == nil {
		return nil, errStorageUnavailable
	}
	if err := requireID(id); err != nil {
		return nil, err
	}
	result, err := s.syncer.FullSync(ctx, id)
	if err != nil {
		return nil, syncError(err)
	}
	return map[string]any{
		"portfolioId":  result.PortfolioID,
		"changed":      result.Changed,
		"beforeImages": result.BeforeImages,
		"afterImages":  result.AfterImages,
	}, nil
}

func syncError(err error) error {
	if errors.Is(err, imagesync.ErrPortfolioNotFound) {
		return sql.ErrNoRows
	}
	return err
}

func (s *Service) ExportPortfolio(ctx context.Context, id, format string) (*export.Result, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, fieldError("format", "must be one of: pdf, docx")
	}
	result, err := s.exporter.Export(ctx, export.Request{PortfolioID: id, Format: parsed})
	if err != nil {
		if export.IsUnavailable(err) {
			log.Warn("export runtime missing", "format", parsed, "err", err)
			return nil, errExportUnavailable
		}
		return nil, err
	}
	return result, nil
}

// Services

func (s *Service) ListServices(ctx context.Context, publishedOnly bool) ([]map[string]any, error) {
	items, err := s.store.ListServices(ctx, publishedOnly)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, servicePayload(item))
	}
	return payload, nil
}

func (s *Service) GetService(ctx context.Context, id string) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	item, err := s.store.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	return servicePayload(item), nil
}

func (s *Service) GetPublishedServiceBySlug(ctx context.Context, slugValue string) (map[string]any, error) {
	item, err := s.store.GetServiceBySlug(ctx, strings.ToLower(strings.TrimSpace(slugValue)))
	if err != nil {
		return nil, err
	}
	if !item.Published {
		return nil, sql.ErrNoRows
	}
	return servicePayload(item), nil
}

func (s *Service) CreateService(ctx context.Context, input ServiceInput) (map[string]any, error) {
	item, err := serviceFromInput(input)
	if err != nil {
		return nil, err
	}
	item.ID = util.NewID()
	created, err := s.store.InsertService(ctx, item)
	if err != nil {
		return nil, slugConflict(err)
	}
	s.search.IndexService(serviceRecord(created))
	return servicePayload(created), nil
}

func (s *Service) UpdateService(ctx context.Context, id string, input ServiceInput) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	item, err := serviceFromInput(input)
	if err != nil {
		return nil, err
	}
	item.ID = id
	updated, err := s.store.UpdateService(ctx, item)
	if err != nil {
		return nil, slugConflict(err)
	}
	s.search.IndexService(serviceRecord(updated))
	return servicePayload(updated), nil
}

func (s *Service) DeleteService(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := s.store.DeleteService(ctx, id); err != nil {
		return err
	}
	s.search.DeleteService(id)
	return nil
}

func serviceFromInput(input ServiceInput) (store.ServiceItem, error) {
	if err := check(input); err != nil {
		return store.ServiceItem{}, err
	}
	derived := slug.Make(firstNonBlank(input.Slug, input.Title))
	if derived == "" {
		return store.ServiceItem{}, fieldError("slug", "must contain letters or digits")
	}
	return store.ServiceItem{
		Slug:             derived,
		Title:            strings.TrimSpace(input.Title),
		BriefDescription: strings.TrimSpace(input.BriefDescription),
		Description:      input.Description,
		PriceRange:       strings.TrimSpace(input.PriceRange),
		Duration:         strings.TrimSpace(input.Duration),
		Published:        input.Published,
		SortOrder:        input.SortOrder,
	}, nil
}

func slugConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return domainError(http.StatusConflict, "CONFLICT", "A service with this slug already exists", map[string]any{"field": "slug"})
	}
	return err
}

// Search

func (s *Service) Search(ctx context.Context, text string, scope search.Scope, filterType string, limit, offset int) search.Response {
	return s.search.Search(ctx, search.Query{
		Text:       strings.TrimSpace(text),
		Scope:      scope,
		FilterType: search.ResultType(strings.ToLower(strings.TrimSpace(filterType))),
		Limit:      limit,
		Offset:     offset,
	})
}

// Payloads

func portfolioPayload(item store.PortfolioItem) map[string]any {
	return map[string]any{
		"id":                item.ID,
		"title":             item.Title,
		"brief_description": item.BriefDescription,
		"description":       item.Description,
		"category":          item.Category,
		"before_images":     item.BeforeImages,
		"after_images":      item.AfterImages,
		"featured":          item.Featured,
		"published":         item.Published,
		"sort_order":        item.SortOrder,
		"created_by":        stringOrNil(item.CreatedBy),
		"created_at":        item.CreatedAt,
		"updated_at":        item.UpdatedAt,
	}
}

func servicePayload(item store.ServiceItem) map[string]any {
	return map[string]any{
		"id":                item.ID,
		"slug":              item.Slug,
		"title":             item.Title,
		"brief_description": item.BriefDescription,
		"description":       item.Description,
		"price_range":       item.PriceRange,
		"duration":          item.Duration,
		"published":         item.Published,
		"sort_order":        item.SortOrder,
		"created_at":        item.CreatedAt,
		"updated_at":        item.UpdatedAt,
	}
}

func portfolioRecord(item store.PortfolioItem) search.PortfolioRecord {
	return search.PortfolioRecord{
		ID:               item.ID,
		Title:            item.Title,
		BriefDescription: item.BriefDescription,
		Description:      item.Description,
		Category:         item.Category,
		Featured:         item.Featured,
		Published:        item.Published,
	}
}

func serviceRecord(item store.ServiceItem) search.ServiceRecord {
	return search.ServiceRecord{
		ID:               item.ID,
		Slug:             item.Slug,
		Title:            item.Title,
		BriefDescription: item.BriefDescription,
		Description:      item.Description,
		Published:        item.Published,
	}
}
