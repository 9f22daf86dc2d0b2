package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const serviceColumns = `id, slug, title, brief_description, description, price_range, duration,
	published, sort_order, created_at, updated_at`

func scanService(row interface{ Scan(...any) error }) (ServiceItem, error) {
	var item ServiceItem
	err := row.Scan(
		&item.ID,
		&item.Slug,
		&item.Title,
		&item.BriefDescription,
		&item.Description,
		&item.PriceRange,
		&item.Duration,
		&item.Published,
		&item.SortOrder,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListServices(ctx context.Context, publishedOnly bool) ([]ServiceItem, error) {
	builder := psql.Select(serviceColumns).From("services")
	if publishedOnly {
		builder = builder.Where(sq.Eq{"published": true})
	}
	query, args, err := builder.OrderBy("sort_order ASC", "title ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build service list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	items := make([]ServiceItem, 0)
	for rows.Next() {
		item, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetService(ctx context.Context, id string) (ServiceItem, error) {
	return scanService(s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id=$1`, id))
}

func (s *PostgresStore) GetServiceBySlug(ctx context.Context, slug string) (ServiceItem, error) {
	return scanService(s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE slug=$1`, slug))
}

func (s *PostgresStore) InsertService(ctx context.Context, item ServiceItem) (ServiceItem, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO services (id, slug, title, brief_description, description, price_range, duration, published, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+serviceColumns,
		item.ID, item.Slug, item.Title, item.BriefDescription, item.Description,
		item.PriceRange, item.Duration, item.Published, item.SortOrder,
	)
	created, err := scanService(row)
	if err != nil {
		return ServiceItem{}, fmt.Errorf("insert service: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateService(ctx context.Context, item ServiceItem) (ServiceItem, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE services
		SET slug=$2, title=$3, brief_description=$4, description=$5, price_range=$6, duration=$7,
			published=$8, sort_order=$9, updated_at=NOW()
		WHERE id=$1
		RETURNING `+serviceColumns,
		item.ID, item.Slug, item.Title, item.BriefDescription, item.Description,
		item.PriceRange, item.Duration, item.Published, item.SortOrder,
	)
	updated, err := scanService(row)
	if err != nil {
		return ServiceItem{}, translate(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteService(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return requireAffected(result)
}
