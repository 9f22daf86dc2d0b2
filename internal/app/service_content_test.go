package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"colorcraft/api/internal/export"
	"colorcraft/api/internal/imagesync"
	"colorcraft/api/internal/lease"
	"colorcraft/api/internal/search"
	"colorcraft/api/internal/store"
)

const publicBase = "https://cdn.colorcraft.test/portfolio"

type fakeObjects struct {
	puts     map[string][]byte
	removed  []string
	prefixes []string
}

func (f *fakeObjects) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return nil
}

func (f *fakeObjects) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeObjects) RemovePrefix(_ context.Context, prefix string) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	return 0, nil
}

func (f *fakeObjects) PublicURL(key string) string { return publicBase + "/" + key }

func (f *fakeObjects) ObjectKey(publicURL string) (string, bool) {
	key, ok := strings.CutPrefix(publicURL, publicBase+"/")
	return key, ok && key != ""
}

type fakeSyncer struct {
	fullSyncs []string
	removals  []string
	err       error
}

func (f *fakeSyncer) FullSync(_ context.Context, portfolioID string) (imagesync.Result, error) {
	f.fullSyncs = append(f.fullSyncs, portfolioID)
	return imagesync.Result{PortfolioID: portfolioID, Mode: imagesync.ModeFull, Changed: true, BeforeImages: 1}, f.err
}

func (f *fakeSyncer) RemoveImage(_ context.Context, portfolioID, key string) (imagesync.Result, error) {
	f.removals = append(f.removals, key)
	return imagesync.Result{PortfolioID: portfolioID, Mode: imagesync.ModeDelete}, f.err
}

type fakeExporter struct {
	requests []export.Request
	err      error
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &export.Result{Data: []byte("%PDF-1.7"), Filename: "oak-dresser.pdf", MimeType: "application/pdf"}, nil
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

func portfolioStore() *fakeStore {
	return &fakeStore{getPortfolioItemFn: func(_ context.Context, id string) (store.PortfolioItem, error) {
		return store.PortfolioItem{ID: id, Title: "Oak dresser", Published: true}, nil
	}}
}

func TestUploadPortfolioImage(t *testing.T) {
	svc := newTestService(portfolioStore())
	objects, syncer := &fakeObjects{}, &fakeSyncer{}
	svc.objects, svc.syncer = objects, syncer

	payload, err := svc.UploadPortfolioImage(context.Background(), ImageUpload{PortfolioID: itemID, Type: "Before", Data: pngBytes})
	if err != nil {
		t.Fatalf("UploadPortfolioImage: %v", err)
	}
	key, _ := payload["key"].(string)
	if !strings.HasPrefix(key, itemID+"/before_images/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected key %q", key)
	}
	if !bytes.Equal(objects.puts[key], pngBytes) {
		t.Fatal("expected the upload to be stored under its key")
	}
	if payload["url"] != publicBase+"/"+key {
		t.Fatalf("unexpected url %v", payload["url"])
	}
	if len(syncer.fullSyncs) != 1 || syncer.fullSyncs[0] != itemID {
		t.Fatalf("expected a full sync, got %v", syncer.fullSyncs)
	}
}

func TestUploadPortfolioImageRejections(t *testing.T) {
	svc := newTestService(portfolioStore())
	svc.objects, svc.syncer = &fakeObjects{}, &fakeSyncer{}
	ctx := context.Background()

	tests := []struct {
		name   string
		upload ImageUpload
		status int
	}{
		{name: "bad type", upload: ImageUpload{PortfolioID: itemID, Type: "during", Data: pngBytes}, status: http.StatusUnprocessableEntity},
		{name: "empty", upload: ImageUpload{PortfolioID: itemID, Type: "after"}, status: http.StatusUnprocessableEntity},
		{name: "not an image", upload: ImageUpload{PortfolioID: itemID, Type: "after", Data: []byte("just some text")}, status: http.StatusUnsupportedMediaType},
		{name: "too large", upload: ImageUpload{PortfolioID: itemID, Type: "after", Data: make([]byte, MaxImageBytes+1)}, status: http.StatusRequestEntityTooLarge},
		{name: "malformed id", upload: ImageUpload{PortfolioID: "abc", Type: "after", Data: pngBytes}, status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UploadPortfolioImage(ctx, tt.upload)
			if got := mapError(err).Status; got != tt.status {
				t.Fatalf("expected %d, got %d (%v)", tt.status, got, err)
			}
		})
	}
}

func TestStorageRoutesWithoutStorage(t *testing.T) {
	_, handler := newTestHandler(portfolioStore())
	rr := serve(t, handler, http.MethodPost, "/api/portfolio/"+itemID+"/resync", tokenFor(t, adminID), "")
	expectCode(t, rr, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE")
}

func TestUploadThroughMultipartForm(t *testing.T) {
	svc, handler := newTestHandler(portfolioStore())
	svc.objects, svc.syncer = &fakeObjects{}, &fakeSyncer{}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("type", "after")
	part, err := form.CreateFormFile("file", "dresser.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(pngBytes)
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/portfolio/"+itemID+"/images", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, contributorID))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	payload := expectCode(t, rr, http.StatusCreated, "")
	if key, _ := payload["key"].(string); !strings.Contains(key, "/after_images/") {
		t.Fatalf("unexpected key %v", payload["key"])
	}
}

func TestDeletePortfolioImageChecksOwnership(t *testing.T) {
	svc := newTestService(portfolioStore())
	objects, syncer := &fakeObjects{}, &fakeSyncer{}
	svc.objects, svc.syncer = objects, syncer
	ctx := context.Background()

	foreign := publicBase + "/" + otherID + "/after_images/a.png"
	if _, err := svc.DeletePortfolioImage(ctx, itemID, foreign); mapError(err).Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected foreign image to be rejected, got %v", err)
	}
	if _, err := svc.DeletePortfolioImage(ctx, itemID, "https://elsewhere.test/a.png"); mapError(err).Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected unknown host to be rejected, got %v", err)
	}
	if len(objects.removed) != 0 {
		t.Fatalf("nothing should have been removed, got %v", objects.removed)
	}

	owned := itemID + "/after_images/a.png"
	if _, err := svc.DeletePortfolioImage(ctx, itemID, publicBase+"/"+owned); err != nil {
		t.Fatalf("DeletePortfolioImage: %v", err)
	}
	if len(objects.removed) != 1 || objects.removed[0] != owned {
		t.Fatalf("expected %s removed, got %v", owned, objects.removed)
	}
	if len(syncer.removals) != 1 || syncer.removals[0] != owned {
		t.Fatalf("expected delete sync for %s, got %v", owned, syncer.removals)
	}
}

func TestResyncMissingPortfolio(t *testing.T) {
	svc := newTestService(portfolioStore())
	svc.syncer = &fakeSyncer{err: imagesync.ErrPortfolioNotFound}
	_, err := svc.ResyncPortfolioImages(context.Background(), itemID)
	if mapError(err).Status != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDashboardSyncFailuresMapToResponses(t *testing.T) {
	owned := publicBase + "/" + itemID + "/before_images/a.png"
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "lease held", err: fmt.Errorf("acquire: %w", lease.ErrNotAcquired), status: http.StatusServiceUnavailable, code: "LEASE_UNAVAILABLE"},
		{name: "portfolio deleted meanwhile", err: imagesync.ErrPortfolioNotFound, status: http.StatusNotFound, code: "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(portfolioStore())
			svc.objects, svc.syncer = &fakeObjects{}, &fakeSyncer{err: tc.err}
			ctx := context.Background()

			_, uploadErr := svc.UploadPortfolioImage(ctx, ImageUpload{PortfolioID: itemID, Type: "before", Data: pngBytes})
			_, deleteErr := svc.DeletePortfolioImage(ctx, itemID, owned)
			_, resyncErr := svc.ResyncPortfolioImages(ctx, itemID)
			for op, err := range map[string]error{"upload": uploadErr, "delete": deleteErr, "resync": resyncErr} {
				if got := mapError(err); got.Status != tc.status || got.Code != tc.code {
					t.Fatalf("%s: got %d %s, want %d %s", op, got.Status, got.Code, tc.status, tc.code)
				}
			}
		})
	}
}

func TestDeletePortfolioItemClearsFolders(t *testing.T) {
	svc := newTestService(portfolioStore())
	objects := &fakeObjects{}
	svc.objects = objects
	if err := svc.DeletePortfolioItem(context.Background(), itemID); err != nil {
		t.Fatalf("DeletePortfolioItem: %v", err)
	}
	want := []string{itemID + "/before_images/", itemID + "/after_images/"}
	if len(objects.prefixes) != 2 || objects.prefixes[0] != want[0] || objects.prefixes[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, objects.prefixes)
	}
	if deleted := svc.search.(*fakeSearcher).deleted; len(deleted) != 1 || deleted[0] != "portfolio:"+itemID {
		t.Fatalf("expected search delete, got %v", deleted)
	}
}

func TestExportPortfolio(t *testing.T) {
	svc, handler := newTestHandler(portfolioStore())
	exporter := &fakeExporter{}
	svc.exporter = exporter

	rr := serve(t, handler, http.MethodGet, "/api/portfolio/"+itemID+"/export?format=pdf", tokenFor(t, contributorID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "oak-dresser.pdf") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}

	expectCode(t, serve(t, handler, http.MethodGet, "/api/portfolio/"+itemID+"/export?format=rtf", tokenFor(t, contributorID), ""), http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	exporter.err = export.ErrPDFDependencyMissing
	expectCode(t, serve(t, handler, http.MethodGet, "/api/portfolio/"+itemID+"/export", tokenFor(t, contributorID), ""), http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")
}

func TestCreateServiceSlugs(t *testing.T) {
	var saved []store.ServiceItem
	fs := &fakeStore{insertServiceFn: func(_ context.Context, item store.ServiceItem) (store.ServiceItem, error) {
		if len(saved) > 0 && saved[0].Slug == item.Slug {
			return store.ServiceItem{}, &store.ConstraintError{Kind: store.ErrConflict, Constraint: "services_slug_key"}
		}
		saved = append(saved, item)
		return item, nil
	}}
	svc := newTestService(fs)
	ctx := context.Background()
	input := ServiceInput{Title: "Chalk Paint & Wax Finish", BriefDescription: "Matte finish"}

	payload, err := svc.CreateService(ctx, input)
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if payload["slug"] != "chalk-paint-and-wax-finish" {
		t.Fatalf("unexpected slug %v", payload["slug"])
	}
	_, err = svc.CreateService(ctx, input)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusConflict {
		t.Fatalf("expected slug conflict, got %v", err)
	}
}

func TestSearchScopesAndFilters(t *testing.T) {
	svc, handler := newTestHandler(&fakeStore{})
	searcher := svc.search.(*fakeSearcher)

	expectCode(t, serve(t, handler, http.MethodGet, "/api/public/search?q=oak&type=service", "", ""), http.StatusOK, "")
	expectCode(t, serve(t, handler, http.MethodGet, "/api/crm/search?q=smith", tokenFor(t, adminID), ""), http.StatusOK, "")

	if len(searcher.queries) != 2 {
		t.Fatalf("expected two queries, got %d", len(searcher.queries))
	}
	if q := searcher.queries[0]; q.Scope != search.ScopePublic || q.FilterType != search.ResultService || q.Text != "oak" {
		t.Fatalf("unexpected public query %+v", q)
	}
	if q := searcher.queries[1]; q.Scope != search.ScopeCRM {
		t.Fatalf("unexpected crm query %+v", q)
	}
}
