package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const portfolioColumns = `id, title, brief_description, description, category, before_images, after_images,
	featured, published, sort_order, created_by, created_at, updated_at`

func scanPortfolio(row interface{ Scan(...any) error }) (PortfolioItem, error) {
	var item PortfolioItem
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.BriefDescription,
		&item.Description,
		&item.Category,
		textArray(&item.BeforeImages),
		textArray(&item.AfterImages),
		&item.Featured,
		&item.Published,
		&item.SortOrder,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	item.BeforeImages = nonNil(item.BeforeImages)
	item.AfterImages = nonNil(item.AfterImages)
	return item, err
}

func (s *PostgresStore) ListPortfolio(ctx context.Context, filter PortfolioFilter) ([]PortfolioItem, error) {
	builder := psql.Select(portfolioColumns).From("portfolio")
	if filter.PublishedOnly {
		builder = builder.Where(sq.Eq{"published": true})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Featured != nil {
		builder = builder.Where(sq.Eq{"featured": *filter.Featured})
	}
	query, args, err := builder.
		OrderBy("sort_order ASC", "created_at DESC").
		Limit(uint64(clampLimit(filter.Limit, 100, 500))).
		Offset(uint64(max(filter.Offset, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build portfolio list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list portfolio: %w", err)
	}
	defer rows.Close()

	items := make([]PortfolioItem, 0)
	for rows.Next() {
		item, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolio: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPortfolioItem(ctx context.Context, id string) (PortfolioItem, error) {
	return scanPortfolio(s.db.QueryRowContext(ctx, `SELECT `+portfolioColumns+` FROM portfolio WHERE id=$1`, id))
}

func (s *PostgresStore) InsertPortfolioItem(ctx context.Context, item PortfolioItem) (PortfolioItem, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO portfolio (id, title, brief_description, description, category, featured, published, sort_order, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+portfolioColumns,
		item.ID, item.Title, item.BriefDescription, item.Description, item.Category,
		item.Featured, item.Published, item.SortOrder, item.CreatedBy,
	)
	created, err := scanPortfolio(row)
	if err != nil {
		return PortfolioItem{}, fmt.Errorf("insert portfolio: %w", translate(err))
	}
	return created, nil
}

// UpdatePortfolioItem writes the editable fields. Image arrays are owned by
// the sync path and are left untouched.
func (s *PostgresStore) UpdatePortfolioItem(ctx context.Context, item PortfolioItem) (PortfolioItem, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE portfolio
		SET title=$2, brief_description=$3, description=$4, category=$5, featured=$6, published=$7, sort_order=$8, updated_at=NOW()
		WHERE id=$1
		RETURNING `+portfolioColumns,
		item.ID, item.Title, item.BriefDescription, item.Description, item.Category,
		item.Featured, item.Published, item.SortOrder,
	)
	updated, err := scanPortfolio(row)
	if err != nil {
		return PortfolioItem{}, translate(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeletePortfolioItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM portfolio WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	return requireAffected(result)
}

// LoadPortfolioImages returns sql.ErrNoRows when the portfolio row is absent.
func (s *PostgresStore) LoadPortfolioImages(ctx context.Context, id string) (PortfolioImages, error) {
	var images PortfolioImages
	err := s.db.QueryRowContext(ctx, `SELECT before_images, after_images FROM portfolio WHERE id=$1`, id).
		Scan(textArray(&images.Before), textArray(&images.After))
	if err != nil {
		return PortfolioImages{}, err
	}
	images.Before = nonNil(images.Before)
	images.After = nonNil(images.After)
	return images, nil
}

func (s *PostgresStore) SavePortfolioImages(ctx context.Context, id string, images PortfolioImages) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE portfolio SET before_images=$2::text[], after_images=$3::text[], updated_at=NOW() WHERE id=$1
	`, id, nonNil(images.Before), nonNil(images.After))
	if err != nil {
		return fmt.Errorf("save portfolio images: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) PortfolioCategories(ctx context.Context, publishedOnly bool) ([]string, error) {
	builder := psql.Select("DISTINCT category").From("portfolio").Where(sq.NotEq{"category": ""})
	if publishedOnly {
		builder = builder.Where(sq.Eq{"published": true})
	}
	query, args, err := builder.OrderBy("category").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build categories: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}
