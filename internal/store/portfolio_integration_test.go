package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"colorcraft/api/internal/util"
)

func openIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("COLORCRAFT_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("COLORCRAFT_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPortfolioImagesRoundTripPostgres(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	item, err := s.InsertPortfolioItem(ctx, PortfolioItem{
		ID:               util.NewID(),
		Title:            "Oak dresser",
		BriefDescription: "Stripped and refinished",
	})
	if err != nil {
		t.Fatalf("insert portfolio: %v", err)
	}
	t.Cleanup(func() { _ = s.DeletePortfolioItem(context.Background(), item.ID) })

	if len(item.BeforeImages) != 0 || len(item.AfterImages) != 0 {
		t.Fatalf("expected empty arrays, got %+v", item)
	}

	want := PortfolioImages{
		Before: []string{"http://cdn/portfolio/" + item.ID + "/before_images/a.jpg"},
		After:  []string{"http://cdn/portfolio/" + item.ID + "/after_images/b.png", "http://cdn/portfolio/" + item.ID + "/after_images/c.webp"},
	}
	if err := s.SavePortfolioImages(ctx, item.ID, want); err != nil {
		t.Fatalf("save images: %v", err)
	}
	got, err := s.LoadPortfolioImages(ctx, item.ID)
	if err != nil {
		t.Fatalf("load images: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("images mismatch: got %+v want %+v", got, want)
	}

	if _, err := s.LoadPortfolioImages(ctx, util.NewID()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing portfolio, got %v", err)
	}
}

func TestServiceSlugConflictPostgres(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	slug := "chair-caning-" + util.NewID()[:8]
	first, err := s.InsertService(ctx, ServiceItem{ID: util.NewID(), Slug: slug, Title: "Chair caning", BriefDescription: "Hand woven"})
	if err != nil {
		t.Fatalf("insert service: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteService(context.Background(), first.ID) })

	_, err = s.InsertService(ctx, ServiceItem{ID: util.NewID(), Slug: slug, Title: "Chair caning", BriefDescription: "Duplicate"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
