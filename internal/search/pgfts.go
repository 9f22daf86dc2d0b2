package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements search using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query over the tables the scope allows, ranked
// with ts_rank and snippeted with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	// websearch_to_tsquery tolerates raw user input (quotes, "or", "-term")
	tsQuery := "websearch_to_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string
	published := ""
	if q.publishedOnly() {
		published = " AND published"
	}

	if q.allows(ResultPortfolio) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'portfolio'::text AS type, p.id::text AS id, p.title,
				ts_headline('english', coalesce(p.brief_description, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS slug, p.category, p.published,
				ts_rank(p.fts, %[1]s) AS rank
			FROM portfolio p
			WHERE p.fts @@ %[1]s%[2]s`, tsQuery, published))
	}
	if q.allows(ResultService) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'service'::text AS type, s.id::text AS id, s.title,
				ts_headline('english', coalesce(s.brief_description, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.slug, ''::text AS category, s.published,
				ts_rank(s.fts, %[1]s) AS rank
			FROM services s
			WHERE s.fts @@ %[1]s%[2]s`, tsQuery, published))
	}
	if q.allows(ResultCustomer) {
		// the simple config keeps names and emails intact
		subQueries = append(subQueries, `
			SELECT 'customer'::text AS type, c.id::text AS id, c.name AS title,
				CASE WHEN c.email <> '' THEN c.email ELSE c.phone END AS snippet,
				''::text AS slug, ''::text AS category, TRUE AS published,
				ts_rank(c.fts, plainto_tsquery('simple', $1)) AS rank
			FROM customers c
			WHERE c.fts @@ plainto_tsquery('simple', $1)
				OR c.name ILIKE '%' || $1 || '%'
				OR c.email ILIKE '%' || $1 || '%'`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, slug, category, published
		FROM (%s) sub
		ORDER BY rank DESC, title ASC
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Slug, &r.Category, &r.Published); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PortfolioRecord, []ServiceRecord, []CustomerRecord, error) {
	portfolio := make([]PortfolioRecord, 0)
	err := p.each(ctx, `SELECT id::text, title, brief_description, description, category, featured, published FROM portfolio`,
		func(rows *sql.Rows) error {
			var r PortfolioRecord
			if err := rows.Scan(&r.ID, &r.Title, &r.BriefDescription, &r.Description, &r.Category, &r.Featured, &r.Published); err != nil {
				return err
			}
			portfolio = append(portfolio, r)
			return nil
		})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load portfolio: %w", err)
	}

	services := make([]ServiceRecord, 0)
	err = p.each(ctx, `SELECT id::text, slug, title, brief_description, description, published FROM services`,
		func(rows *sql.Rows) error {
			var r ServiceRecord
			if err := rows.Scan(&r.ID, &r.Slug, &r.Title, &r.BriefDescription, &r.Description, &r.Published); err != nil {
				return err
			}
			services = append(services, r)
			return nil
		})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load services: %w", err)
	}

	customers := make([]CustomerRecord, 0)
	err = p.each(ctx, `SELECT id::text, name, email, phone, status, notes FROM customers`,
		func(rows *sql.Rows) error {
			var r CustomerRecord
			if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.Status, &r.Notes); err != nil {
				return err
			}
			customers = append(customers, r)
			return nil
		})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load customers: %w", err)
	}

	return portfolio, services, customers, nil
}

func (p *PgFTS) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
