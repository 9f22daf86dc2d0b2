package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var ErrAlreadyConverted = errors.New("lead already converted")

const customerColumns = `id, name, email, phone, address, notes, status, created_at, updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Notes, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, int, error) {
	builder := psql.Select().From("customers")
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + q + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"name": pattern},
			sq.ILike{"email": pattern},
			sq.ILike{"phone": pattern},
		})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}

	var total int
	countQuery, countArgs, err := builder.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build customer count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}

	query, args, err := builder.Columns(customerColumns).
		OrderBy("name ASC").
		Limit(uint64(clampLimit(filter.Limit, 50, 200))).
		Offset(uint64(max(filter.Offset, 0))).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build customer list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	items := make([]Customer, 0)
	for rows.Next() {
		item, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan customer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate customers: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=$1`, id))
}

func (s *PostgresStore) GetCustomersByIDs(ctx context.Context, ids []string) ([]Customer, error) {
	if len(ids) == 0 {
		return []Customer{}, nil
	}
	query, args, err := psql.Select(customerColumns).From("customers").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build customer lookup: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup customers: %w", err)
	}
	defer rows.Close()

	items := make([]Customer, 0, len(ids))
	for rows.Next() {
		item, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func insertCustomer(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, c Customer) (Customer, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, email, phone, address, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+customerColumns,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.Notes, c.Status,
	)
	created, err := scanCustomer(row)
	if err != nil {
		return Customer{}, fmt.Errorf("insert customer: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) InsertCustomer(ctx context.Context, c Customer) (Customer, error) {
	return insertCustomer(ctx, s.db, c)
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, c Customer) (Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name=$2, email=$3, phone=$4, address=$5, notes=$6, status=$7, updated_at=NOW()
		WHERE id=$1
		RETURNING `+customerColumns,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.Notes, c.Status,
	)
	updated, err := scanCustomer(row)
	if err != nil {
		return Customer{}, translate(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteCustomer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", translate(err))
	}
	return requireAffected(result)
}

const leadColumns = `id, name, email, phone, source, message, status, customer_id, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Source, &l.Message, &l.Status, &l.CustomerID, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, int, error) {
	builder := psql.Select().From("leads")
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Source != "" {
		builder = builder.Where(sq.Eq{"source": filter.Source})
	}

	var total int
	countQuery, countArgs, err := builder.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build lead count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	query, args, err := builder.Columns(leadColumns).
		OrderBy("created_at DESC").
		Limit(uint64(clampLimit(filter.Limit, 50, 200))).
		Offset(uint64(max(filter.Offset, 0))).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build lead list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		item, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate leads: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1`, id))
}

func (s *PostgresStore) InsertLead(ctx context.Context, l Lead) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO leads (id, name, email, phone, source, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+leadColumns,
		l.ID, l.Name, l.Email, l.Phone, l.Source, l.Message, l.Status,
	)
	created, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("insert lead: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l Lead) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE leads
		SET name=$2, email=$3, phone=$4, source=$5, message=$6, status=$7, updated_at=NOW()
		WHERE id=$1
		RETURNING `+leadColumns,
		l.ID, l.Name, l.Email, l.Phone, l.Source, l.Message, l.Status,
	)
	updated, err := scanLead(row)
	if err != nil {
		return Lead{}, translate(err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteLead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	return requireAffected(result)
}

// ConvertLead creates a customer from the lead and links it in one
// transaction. The lead row is locked so concurrent conversions serialize,
// and a lead that is already converted returns ErrAlreadyConverted.
func (s *PostgresStore) ConvertLead(ctx context.Context, leadID string, customer Customer) (Lead, Customer, error) {
	var (
		lead    Lead
		created Customer
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		lead, err = scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1 FOR UPDATE`, leadID))
		if err != nil {
			return err
		}
		if lead.Status == "converted" {
			return ErrAlreadyConverted
		}
		created, err = insertCustomer(ctx, tx, customer)
		if err != nil {
			return err
		}
		lead, err = scanLead(tx.QueryRowContext(ctx, `
			UPDATE leads SET status='converted', customer_id=$2, updated_at=NOW()
			WHERE id=$1
			RETURNING `+leadColumns, leadID, created.ID))
		if err != nil {
			return fmt.Errorf("mark lead converted: %w", err)
		}
		return nil
	})
	if err != nil {
		return Lead{}, Customer{}, err
	}
	return lead, created, nil
}

const projectColumns = `p.id, p.customer_id, c.name, p.title, p.description, p.status, p.estimate_cents,
	p.start_date, p.due_date, p.created_at, p.updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.CustomerID, &p.CustomerName, &p.Title, &p.Description, &p.Status, &p.EstimateCents,
		&p.StartDate, &p.DueDate, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	builder := psql.Select(projectColumns).From("crm_projects p").Join("customers c ON c.id = p.customer_id")
	if filter.CustomerID != "" {
		builder = builder.Where(sq.Eq{"p.customer_id": filter.CustomerID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"p.status": filter.Status})
	}
	query, args, err := builder.
		OrderBy("p.created_at DESC").
		Limit(uint64(clampLimit(filter.Limit, 100, 500))).
		Offset(uint64(max(filter.Offset, 0))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build project list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM crm_projects p JOIN customers c ON c.id = p.customer_id
		WHERE p.id=$1`, id))
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) (Project, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crm_projects (id, customer_id, title, description, status, estimate_cents, start_date, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.CustomerID, p.Title, p.Description, p.Status, p.EstimateCents, p.StartDate, p.DueDate)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", translate(err))
	}
	return s.GetProject(ctx, p.ID)
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p Project) (Project, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE crm_projects
		SET title=$2, description=$3, status=$4, estimate_cents=$5, start_date=$6, due_date=$7, updated_at=NOW()
		WHERE id=$1
	`, p.ID, p.Title, p.Description, p.Status, p.EstimateCents, p.StartDate, p.DueDate)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", translate(err))
	}
	if err := requireAffected(result); err != nil {
		return Project{}, err
	}
	return s.GetProject(ctx, p.ID)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM crm_projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListCommunications(ctx context.Context, customerID string, limit int) ([]Communication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.customer_id, m.type, m.subject, m.body, m.occurred_at, m.created_by, COALESCE(u.display_name, ''), m.created_at
		FROM communications m
		LEFT JOIN users u ON u.id = m.created_by
		WHERE m.customer_id=$1
		ORDER BY m.occurred_at DESC
		LIMIT $2
	`, customerID, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	defer rows.Close()

	items := make([]Communication, 0)
	for rows.Next() {
		var item Communication
		if err := rows.Scan(&item.ID, &item.CustomerID, &item.Type, &item.Subject, &item.Body, &item.OccurredAt, &item.CreatedBy, &item.CreatedByName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan communication: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertCommunication(ctx context.Context, c Communication) (Communication, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO communications (id, customer_id, type, subject, body, occurred_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.CustomerID, c.Type, c.Subject, c.Body, c.OccurredAt, c.CreatedBy).Scan(&c.CreatedAt)
	if err != nil {
		return Communication{}, fmt.Errorf("insert communication: %w", translate(err))
	}
	return c, nil
}

func (s *PostgresStore) DeleteCommunication(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM communications WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete communication: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) CRMSummary(ctx context.Context, since time.Time) (CRMSummary, error) {
	summary := CRMSummary{
		CustomersByStatus: map[string]int{},
		LeadsByStatus:     map[string]int{},
	}
	if err := s.countBy(ctx, `SELECT status, COUNT(*) FROM customers GROUP BY status`, summary.CustomersByStatus); err != nil {
		return CRMSummary{}, err
	}
	if err := s.countBy(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`, summary.LeadsByStatus); err != nil {
		return CRMSummary{}, err
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM crm_projects WHERE status IN ('scheduled', 'in_progress')),
			(SELECT COUNT(*) FROM communications WHERE occurred_at >= $1)
	`, since).Scan(&summary.ActiveProjects, &summary.RecentCommunications)
	if err != nil {
		return CRMSummary{}, fmt.Errorf("crm summary: %w", err)
	}
	return summary, nil
}

func (s *PostgresStore) countBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan status count: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}
