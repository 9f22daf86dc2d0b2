// Package imagesync keeps the portfolio before/after image arrays in step
// with the objects stored under each portfolio's folders.
package imagesync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"colorcraft/api/internal/lease"
	"colorcraft/api/internal/storage"
	"colorcraft/api/internal/store"
	"github.com/charmbracelet/log"
)

var ErrPortfolioNotFound = errors.New("portfolio not found")

const (
	ModeFull   = "full"
	ModeDelete = "delete"
)

type Repository interface {
	LoadPortfolioImages(ctx context.Context, portfolioID string) (store.PortfolioImages, error)
	SavePortfolioImages(ctx context.Context, portfolioID string, images store.PortfolioImages) error
}

type ObjectLister interface {
	List(ctx context.Context, prefix string) ([]storage.Object, error)
}

type Syncer struct {
	repo    Repository
	objects ObjectLister
	urls    storage.URLMapper
	locker  lease.Locker
	bucket  string
	metrics *Metrics
}

type Options struct {
	Bucket  string
	URLs    storage.URLMapper
	Locker  lease.Locker
	Metrics *Metrics
}

func NewSyncer(repo Repository, objects ObjectLister, opts Options) *Syncer {
	locker := opts.Locker
	if locker == nil {
		locker = lease.NewLocalLocker()
	}
	bucket := opts.Bucket
	if bucket == "" {
		bucket = "portfolio"
	}
	return &Syncer{
		repo:    repo,
		objects: objects,
		urls:    opts.URLs,
		locker:  locker,
		bucket:  bucket,
		metrics: opts.Metrics,
	}
}

type Result struct {
	Ignored      bool
	Reason       string
	PortfolioID  string
	Mode         string
	ImageType    string
	Changed      bool
	BeforeImages int
	AfterImages  int
}

// Handle applies one storage event. Events for other buckets and keys
// outside the portfolio folder layout are acknowledged without changes.
func (s *Syncer) Handle(ctx context.Context, event Event) (Result, error) {
	if err := event.validate(); err != nil {
		return Result{}, err
	}
	object := event.Object()
	if object.BucketID != s.bucket {
		return Result{Ignored: true, Reason: "bucket " + object.BucketID + " is not synced"}, nil
	}
	parsed, ok := ParseObjectPath(object.Name)
	if !ok {
		return Result{Ignored: true, Reason: "path does not match {portfolioId}/(before_images|after_images)/..."}, nil
	}

	if strings.EqualFold(event.Type, EventDelete) {
		return s.RemoveImage(ctx, parsed.PortfolioID, parsed.Key)
	}
	result, err := s.FullSync(ctx, parsed.PortfolioID)
	result.ImageType = parsed.Folder
	return result, err
}

// FullSync lists both folders and merges the arrays against the listing.
func (s *Syncer) FullSync(ctx context.Context, portfolioID string) (result Result, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(ModeFull, outcome(err), time.Since(started)) }()

	result = Result{PortfolioID: portfolioID, Mode: ModeFull}
	err = s.withLease(ctx, portfolioID, func() error {
		current, err := s.load(ctx, portfolioID)
		if err != nil {
			return err
		}
		before, err := s.listImages(ctx, FolderPrefix(portfolioID, FolderBefore))
		if err != nil {
			return err
		}
		after, err := s.listImages(ctx, FolderPrefix(portfolioID, FolderAfter))
		if err != nil {
			return err
		}

		next := store.PortfolioImages{
			Before: mergeListing(current.Before, before, s.urls),
			After:  mergeListing(current.After, after, s.urls),
		}
		result.BeforeImages = len(next.Before)
		result.AfterImages = len(next.After)
		if equalImages(current, next) {
			return nil
		}
		if err := s.repo.SavePortfolioImages(ctx, portfolioID, next); err != nil {
			return fmt.Errorf("save images: %w", err)
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		return result, err
	}
	log.Info("portfolio images synced", "portfolioId", portfolioID, "mode", ModeFull,
		"before", result.BeforeImages, "after", result.AfterImages, "changed", result.Changed)
	return result, nil
}

// RemoveImage drops the URL of a single deleted object from its array.
func (s *Syncer) RemoveImage(ctx context.Context, portfolioID, key string) (result Result, err error) {
	started := time.Now()
	defer func() { s.metrics.observe(ModeDelete, outcome(err), time.Since(started)) }()

	parsed, ok := ParseObjectPath(key)
	if !ok || !strings.EqualFold(parsed.PortfolioID, portfolioID) {
		return Result{}, errors.Join(ErrInvalidEvent, fmt.Errorf("key %q is not an image of portfolio %s", key, portfolioID))
	}

	result = Result{PortfolioID: portfolioID, Mode: ModeDelete, ImageType: parsed.Folder}
	err = s.withLease(ctx, portfolioID, func() error {
		images, err := s.load(ctx, portfolioID)
		if err != nil {
			return err
		}
		changed := false
		if parsed.Folder == FolderBefore {
			images.Before, changed = removeKey(images.Before, key, s.urls)
		} else {
			images.After, changed = removeKey(images.After, key, s.urls)
		}
		result.BeforeImages = len(images.Before)
		result.AfterImages = len(images.After)
		if !changed {
			return nil
		}
		if err := s.repo.SavePortfolioImages(ctx, portfolioID, images); err != nil {
			return fmt.Errorf("save images: %w", err)
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		return result, err
	}
	log.Info("portfolio image removed", "portfolioId", portfolioID, "key", key, "changed", result.Changed)
	return result, nil
}

func (s *Syncer) withLease(ctx context.Context, portfolioID string, fn func() error) error {
	held, err := s.locker.Acquire(ctx, "imagesync:"+portfolioID)
	if err != nil {
		return err
	}
	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			log.Warn("release image sync lease", "portfolioId", portfolioID, "err", err)
		}
	}()
	return fn()
}

func (s *Syncer) load(ctx context.Context, portfolioID string) (store.PortfolioImages, error) {
	images, err := s.repo.LoadPortfolioImages(ctx, portfolioID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PortfolioImages{}, ErrPortfolioNotFound
	}
	if err != nil {
		return store.PortfolioImages{}, fmt.Errorf("load images: %w", err)
	}
	return images, nil
}

func (s *Syncer) listImages(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		if IsImageKey(object.Key) {
			keys = append(keys, object.Key)
		}
	}
	return keys, nil
}

func equalImages(a, b store.PortfolioImages) bool {
	return slices.Equal(a.Before, b.Before) && slices.Equal(a.After, b.After)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPortfolioNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidEvent):
		return "invalid"
	case errors.Is(err, lease.ErrNotAcquired):
		return "busy"
	default:
		return "error"
	}
}
