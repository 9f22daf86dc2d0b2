package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"colorcraft/api/internal/email"
	"colorcraft/api/internal/search"
	"colorcraft/api/internal/store"
	"colorcraft/api/internal/util"
)

const (
	dateLayout          = "2006-01-02"
	recentActivityRange = 30 * 24 * time.Hour
)

type CustomerInput struct {
	Name    string `json:"name" validate:"notblank,max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
	Phone   string `json:"phone" validate:"max=50"`
	Address string `json:"address" validate:"max=500"`
	Notes   string `json:"notes" validate:"max=5000"`
	Status  string `json:"status" validate:"omitempty,oneof=active inactive prospect"`
}

type LeadInput struct {
	Name    string `json:"name" validate:"notblank,max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
	Phone   string `json:"phone" validate:"max=50"`
	Source  string `json:"source" validate:"max=50"`
	Message string `json:"message" validate:"max=5000"`
	Status  string `json:"status" validate:"omitempty,oneof=new contacted qualified lost"`
}

type ContactInput struct {
	Name    string `json:"name" validate:"notblank,max=200"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone" validate:"max=50"`
	Message string `json:"message" validate:"notblank,max=5000"`
}

type ProjectInput struct {
	CustomerID    string `json:"customer_id" validate:"required,uuid"`
	Title         string `json:"title" validate:"notblank,max=200"`
	Description   string `json:"description" validate:"max=10000"`
	Status        string `json:"status" validate:"omitempty,oneof=quote scheduled in_progress completed cancelled"`
	EstimateCents int64  `json:"estimate_cents" validate:"gte=0"`
	StartDate     string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate       string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type CommunicationInput struct {
	Type       string `json:"type" validate:"required,oneof=email call meeting note"`
	Subject    string `json:"subject" validate:"max=200"`
	Body       string `json:"body" validate:"max=10000"`
	OccurredAt string `json:"occurred_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type CRMListInput struct {
	Query  string
	Status string
	Source string
	Limit  int
	Offset int
}

// Customers

func (s *Service) ListCustomers(ctx context.Context, input CRMListInput) (map[string]any, error) {
	customers, total, err := s.store.ListCustomers(ctx, store.CustomerFilter{
		Query:  input.Query,
		Status: strings.TrimSpace(input.Status),
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(customers))
	for _, customer := range customers {
		items = append(items, customerPayload(customer))
	}
	return map[string]any{"items": items, "total": total}, nil
}

// GetCustomer returns the customer with its projects and latest
// communications.
func (s *Service) GetCustomer(ctx context.Context, id string) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	customer, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListProjects(ctx, store.ProjectFilter{CustomerID: id})
	if err != nil {
		return nil, err
	}
	communications, err := s.store.ListCommunications(ctx, id, 20)
	if err != nil {
		return nil, err
	}

	payload := customerPayload(customer)
	payload["projects"] = projectPayloads(projects)
	payload["communications"] = communicationPayloads(communications)
	return payload, nil
}

func (s *Service) CreateCustomer(ctx context.Context, input CustomerInput) (map[string]any, error) {
	input.Email = normalizeEmail(input.Email)
	if err := check(input); err != nil {
		return nil, err
	}
	customer, err := s.store.InsertCustomer(ctx, customerFromInput(util.NewID(), input))
	if err != nil {
		return nil, err
	}
	s.search.IndexCustomer(customerRecord(customer))
	return customerPayload(customer), nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, input CustomerInput) (map[string]any, error) {
	input.Email = normalizeEmail(input.Email)
	if err := requireID(id); err != nil {
		return nil, err
	}
	if err := check(input); err != nil {
		return nil, err
	}
	customer, err := s.store.UpdateCustomer(ctx, customerFromInput(id, input))
	if err != nil {
		return nil, err
	}
	s.search.IndexCustomer(customerRecord(customer))
	return customerPayload(customer), nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := s.store.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.search.DeleteCustomer(id)
	return nil
}

func customerFromInput(id string, input CustomerInput) store.Customer {
	return store.Customer{
		ID:      id,
		Name:    strings.TrimSpace(input.Name),
		Email:   strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:   strings.TrimSpace(input.Phone),
		Address: strings.TrimSpace(input.Address),
		Notes:   input.Notes,
		Status:  firstNonBlank(input.Status, "active"),
	}
}

// Leads

func (s *Service) ListLeads(ctx context.Context, input CRMListInput) (map[string]any, error) {
	leads, total, err := s.store.ListLeads(ctx, store.LeadFilter{
		Status: strings.TrimSpace(input.Status),
		Source: strings.TrimSpace(input.Source),
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, err
	}

	customerIDs := make([]string, 0)
	for _, lead := range leads {
		if lead.CustomerID != nil {
			customerIDs = append(customerIDs, *lead.CustomerID)
		}
	}
	names := map[string]string{}
	if len(customerIDs) > 0 {
		customers, err := s.store.GetCustomersByIDs(ctx, customerIDs)
		if err != nil {
			return nil, err
		}
		for _, customer := range customers {
			names[customer.ID] = customer.Name
		}
	}

	items := make([]map[string]any, 0, len(leads))
	for _, lead := range leads {
		item := leadPayload(lead)
		if lead.CustomerID != nil {
			item["customer_name"] = names[*lead.CustomerID]
		}
		items = append(items, item)
	}
	return map[string]any{"items": items, "total": total}, nil
}

func (s *Service) GetLead(ctx context.Context, id string) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	return leadPayload(lead), nil
}

func (s *Service) CreateLead(ctx context.Context, input LeadInput) (map[string]any, error) {
	input.Email = normalizeEmail(input.Email)
	if err := check(input); err != nil {
		return nil, err
	}
	lead, err := s.store.InsertLead(ctx, leadFromInput(util.NewID(), input))
	if err != nil {
		return nil, err
	}
	return leadPayload(lead), nil
}

// UpdateLead edits a lead. A converted lead keeps its status.
func (s *Service) UpdateLead(ctx context.Context, id string, input LeadInput) (map[string]any, error) {
	input.Email = normalizeEmail(input.Email)
	if err := requireID(id); err != nil {
		return nil, err
	}
	if err := check(input); err != nil {
		return nil, err
	}
	current, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	next := leadFromInput(id, input)
	if current.Status == "converted" {
		next.Status = current.Status
	}
	lead, err := s.store.UpdateLead(ctx, next)
	if err != nil {
		return nil, err
	}
	return leadPayload(lead), nil
}

func (s *Service) DeleteLead(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.store.DeleteLead(ctx, id)
}

func (s *Service) ConvertLead(ctx context.Context, id string) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	current, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	notes := current.Message
	if current.Source != "" {
		notes = strings.TrimSpace("Lead source: " + current.Source + "\n\n" + current.Message)
	}
	lead, customer, err := s.store.ConvertLead(ctx, id, store.Customer{
		ID:     util.NewID(),
		Name:   current.Name,
		Email:  strings.ToLower(current.Email),
		Phone:  current.Phone,
		Notes:  notes,
		Status: "active",
	})
	if errors.Is(err, store.ErrAlreadyConverted) {
		return nil, errAlreadyConverted
	}
	if err != nil {
		return nil, err
	}
	s.search.IndexCustomer(customerRecord(customer))
	log.Info("lead converted", "lead", lead.ID, "customer", customer.ID)
	return map[string]any{
		"lead":     leadPayload(lead),
		"customer": customerPayload(customer),
	}, nil
}

func leadFromInput(id string, input LeadInput) store.Lead {
	return store.Lead{
		ID:      id,
		Name:    strings.TrimSpace(input.Name),
		Email:   strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:   strings.TrimSpace(input.Phone),
		Source:  firstNonBlank(input.Source, "manual"),
		Message: input.Message,
		Status:  firstNonBlank(input.Status, "new"),
	}
}

// SubmitContact stores a website enquiry as a new lead. Notification emails
// are best effort.
func (s *Service) SubmitContact(ctx context.Context, input ContactInput) (map[string]any, error) {
	input.Email = normalizeEmail(input.Email)
	if err := check(input); err != nil {
		return nil, err
	}
	lead, err := s.store.InsertLead(ctx, store.Lead{
		ID:      util.NewID(),
		Name:    strings.TrimSpace(input.Name),
		Email:   strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:   strings.TrimSpace(input.Phone),
		Source:  "website",
		Message: strings.TrimSpace(input.Message),
		Status:  "new",
	})
	if err != nil {
		return nil, err
	}

	if s.mailer.IsConfigured() {
		if s.cfg.NotifyEmail != "" {
			if err := s.mailer.SendLeadNotification(s.cfg.NotifyEmail, email.LeadData{
				Name:      lead.Name,
				Email:     lead.Email,
				Phone:     lead.Phone,
				Message:   lead.Message,
				Source:    lead.Source,
				ManageURL: s.cfg.PublicSiteURL + "/dashboard/crm/leads/" + lead.ID,
			}); err != nil {
				log.Warn("send lead notification", "lead", lead.ID, "err", err)
			}
		}
		if err := s.mailer.SendContactAcknowledgement(lead.Email, lead.Name); err != nil {
			log.Warn("send contact acknowledgement", "lead", lead.ID, "err", err)
		}
	}
	return map[string]any{
		"ok":      true,
		"id":      lead.ID,
		"message": "Thanks! We'll be in touch soon.",
	}, nil
}

// Projects

func (s *Service) ListProjects(ctx context.Context, customerID, status string, limit, offset int) ([]map[string]any, error) {
	if customerID != "" && !util.IsUUID(customerID) {
		return nil, fieldError("customer_id", "must be a valid id")
	}
	projects, err := s.store.ListProjects(ctx, store.ProjectFilter{
		CustomerID: customerID,
		Status:     strings.TrimSpace(status),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	return projectPayloads(projects), nil
}

func (s *Service) GetProject(ctx context.Context, id string) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return projectPayload(project), nil
}

func (s *Service) CreateProject(ctx context.Context, input ProjectInput) (map[string]any, error) {
	project, err := projectFromInput(util.NewID(), input)
	if err != nil {
		return nil, err
	}
	created, err := s.store.InsertProject(ctx, project)
	if err != nil {
		return nil, err
	}
	return projectPayload(created), nil
}

// UpdateProject edits a project. The owning customer cannot change.
func (s *Service) UpdateProject(ctx context.Context, id string, input ProjectInput) (map[string]any, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	project, err := projectFromInput(id, input)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateProject(ctx, project)
	if err != nil {
		return nil, err
	}
	return projectPayload(updated), nil
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.store.DeleteProject(ctx, id)
}

func projectFromInput(id string, input ProjectInput) (store.Project, error) {
	if err := check(input); err != nil {
		return store.Project{}, err
	}
	start := parseDate(input.StartDate)
	due := parseDate(input.DueDate)
	if start != nil && due != nil && due.Before(*start) {
		return store.Project{}, fieldError("due_date", "must not be before start_date")
	}
	return store.Project{
		ID:            id,
		CustomerID:    input.CustomerID,
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		Status:        firstNonBlank(input.Status, "quote"),
		EstimateCents: input.EstimateCents,
		StartDate:     start,
		DueDate:       due,
	}, nil
}

// parseDate expects a value that already passed the datetime rule.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &parsed
}

// Communications

func (s *Service) ListCommunications(ctx context.Context, customerID string, limit int) ([]map[string]any, error) {
	if err := requireID(customerID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	items, err := s.store.ListCommunications(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	return communicationPayloads(items), nil
}

func (s *Service) CreateCommunication(ctx context.Context, session Session, customerID string, input CommunicationInput) (map[string]any, error) {
	if err := requireID(customerID); err != nil {
		return nil, err
	}
	if err := check(input); err != nil {
		return nil, err
	}
	occurredAt := s.now()
	if input.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, input.OccurredAt)
		if err != nil {
			return nil, fieldError("occurred_at", "must be an RFC 3339 timestamp")
		}
		occurredAt = parsed
	}
	createdBy := session.UserID
	item, err := s.store.InsertCommunication(ctx, store.Communication{
		ID:            util.NewID(),
		CustomerID:    customerID,
		Type:          input.Type,
		Subject:       strings.TrimSpace(input.Subject),
		Body:          input.Body,
		OccurredAt:    occurredAt,
		CreatedBy:     &createdBy,
		CreatedByName: session.UserName,
	})
	if err != nil {
		return nil, err
	}
	return communicationPayload(item), nil
}

func (s *Service) DeleteCommunication(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.store.DeleteCommunication(ctx, id)
}

// Dashboard

func (s *Service) CRMDashboard(ctx context.Context) (map[string]any, error) {
	summary, err := s.store.CRMSummary(ctx, s.now().Add(-recentActivityRange))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"customersByStatus":    summary.CustomersByStatus,
		"leadsByStatus":        summary.LeadsByStatus,
		"activeProjects":       summary.ActiveProjects,
		"recentCommunications": summary.RecentCommunications,
	}, nil
}

// Payloads

func customerPayload(c store.Customer) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"name":       c.Name,
		"email":      c.Email,
		"phone":      c.Phone,
		"address":    c.Address,
		"notes":      c.Notes,
		"status":     c.Status,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}

func leadPayload(l store.Lead) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"name":        l.Name,
		"email":       l.Email,
		"phone":       l.Phone,
		"source":      l.Source,
		"message":     l.Message,
		"status":      l.Status,
		"customer_id": stringOrNil(l.CustomerID),
		"created_at":  l.CreatedAt,
		"updated_at":  l.UpdatedAt,
	}
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"customer_id":    p.CustomerID,
		"customer_name":  p.CustomerName,
		"title":          p.Title,
		"description":    p.Description,
		"status":         p.Status,
		"estimate_cents": p.EstimateCents,
		"start_date":     dateOrNil(p.StartDate),
		"due_date":       dateOrNil(p.DueDate),
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	}
}

func projectPayloads(projects []store.Project) []map[string]any {
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectPayload(project))
	}
	return items
}

func communicationPayload(c store.Communication) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"customer_id":     c.CustomerID,
		"type":            c.Type,
		"subject":         c.Subject,
		"body":            c.Body,
		"occurred_at":     c.OccurredAt,
		"created_by":      stringOrNil(c.CreatedBy),
		"created_by_name": c.CreatedByName,
		"created_at":      c.CreatedAt,
	}
}

func communicationPayloads(items []store.Communication) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, communicationPayload(item))
	}
	return payload
}

func customerRecord(c store.Customer) search.CustomerRecord {
	return search.CustomerRecord{
		ID:     c.ID,
		Name:   c.Name,
		Email:  c.Email,
		Phone:  c.Phone,
		Status: c.Status,
		Notes:  c.Notes,
	}
}

func dateOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Format(dateLayout)
}
