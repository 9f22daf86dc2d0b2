package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"colorcraft/api/internal/auth"
	"colorcraft/api/internal/authpw"
	"colorcraft/api/internal/config"
	"colorcraft/api/internal/email"
	"colorcraft/api/internal/search"
	"colorcraft/api/internal/store"
)

const (
	adminID       = "11111111-1111-4111-8111-111111111111"
	contributorID = "22222222-2222-4222-8222-222222222222"
	customerID    = "33333333-3333-4333-8333-333333333333"
	otherID       = "44444444-4444-4444-8444-444444444444"
	itemID        = "55555555-5555-4555-8555-555555555555"
	testSecret    = "test-secret"
)

var testUsers = map[string]store.User{
	adminID:       {ID: adminID, DisplayName: "Ada Admin", Email: "admin@colorcraft.test", Role: "admin", IsEmailVerified: true},
	contributorID: {ID: contributorID, DisplayName: "Cole Contributor", Email: "cole@colorcraft.test", Role: "contributor", IsEmailVerified: true},
	customerID:    {ID: customerID, DisplayName: "Casey Customer", Email: "casey@example.com", Role: "customer", IsEmailVerified: true},
}

// fakeStore implements dataStore. Unset funcs return zero values, and user
// lookups fall back to testUsers.
type fakeStore struct {
	mu sync.Mutex

	pingFn                 func(context.Context) error
	getUserByEmailFn       func(context.Context, string) (store.User, error)
	createUserFn           func(context.Context, store.User) error
	getUserByIDFn          func(context.Context, string) (store.User, error)
	ensureAdminFn          func(context.Context, store.User) (store.User, error)
	listUsersFn            func(context.Context, store.UserFilter) ([]store.User, int, error)
	updateUserRoleFn       func(context.Context, string, string) error
	setUserDeactivatedFn   func(context.Context, string, bool) error
	lookupRefreshSessionFn func(context.Context, string) (store.User, error)
	isAccessTokenRevokedFn func(context.Context, string) (bool, error)

	listPortfolioFn       func(context.Context, store.PortfolioFilter) ([]store.PortfolioItem, error)
	getPortfolioItemFn    func(context.Context, string) (store.PortfolioItem, error)
	insertPortfolioItemFn func(context.Context, store.PortfolioItem) (store.PortfolioItem, error)
	listServicesFn        func(context.Context, bool) ([]store.ServiceItem, error)
	getServiceBySlugFn    func(context.Context, string) (store.ServiceItem, error)
	insertServiceFn       func(context.Context, store.ServiceItem) (store.ServiceItem, error)

	listCustomersFn func(context.Context, store.CustomerFilter) ([]store.Customer, int, error)
	getCustomerFn   func(context.Context, string) (store.Customer, error)
	insertLeadFn    func(context.Context, store.Lead) (store.Lead, error)
	getLeadFn       func(context.Context, string) (store.Lead, error)
	convertLeadFn   func(context.Context, string, store.Customer) (store.Lead, store.Customer, error)
	insertProjectFn func(context.Context, store.Project) (store.Project, error)
	crmSummaryFn    func(context.Context, time.Time) (store.CRMSummary, error)

	createConversationFn func(context.Context, store.Conversation, store.ChatMessage) (store.Conversation, store.ChatMessage, error)
	getConversationFn    func(context.Context, string) (store.Conversation, error)
	listConversationsFn  func(context.Context, store.ConversationFilter) ([]store.Conversation, error)
	getParticipantFn     func(context.Context, string, string) (store.Participant, error)
	addParticipantFn     func(context.Context, string, string, string) error
	insertMessageFn      func(context.Context, store.ChatMessage) (store.ChatMessage, error)
	setStatusFn          func(context.Context, string, string) error
	chatStatsFn          func(context.Context, time.Time) (store.ChatStats, error)

	refreshSessions map[string]string
	revokedJTIs     map[string]bool
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users and accounts

func (f *fakeStore) GetUserByEmail(ctx context.Context, address string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, address)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) VerifyUserEmail(context.Context, string) error             { return nil }
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error   { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	if user, ok := testUsers[userID]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) EnsureAdmin(ctx context.Context, user store.User) (store.User, error) {
	if f.ensureAdminFn != nil {
		return f.ensureAdminFn(ctx, user)
	}
	return user, nil
}

func (f *fakeStore) ListUsers(ctx context.Context, filter store.UserFilter) ([]store.User, int, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	if f.updateUserRoleFn != nil {
		return f.updateUserRoleFn(ctx, userID, role)
	}
	return nil
}

func (f *fakeStore) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	if f.setUserDeactivatedFn != nil {
		return f.setUserDeactivatedFn(ctx, userID, deactivated)
	}
	return nil
}

// Sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshSessions == nil {
		f.refreshSessions = map[string]string{}
	}
	f.refreshSessions[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	f.mu.Lock()
	userID, ok := f.refreshSessions[tokenHash]
	f.mu.Unlock()
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refreshSessions, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokedJTIs == nil {
		f.revokedJTIs = map[string]bool{}
	}
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

// Content

func (f *fakeStore) ListPortfolio(ctx context.Context, filter store.PortfolioFilter) ([]store.PortfolioItem, error) {
	if f.listPortfolioFn != nil {
		return f.listPortfolioFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) GetPortfolioItem(ctx context.Context, id string) (store.PortfolioItem, error) {
	if f.getPortfolioItemFn != nil {
		return f.getPortfolioItemFn(ctx, id)
	}
	return store.PortfolioItem{}, sql.ErrNoRows
}

func (f *fakeStore) InsertPortfolioItem(ctx context.Context, item store.PortfolioItem) (store.PortfolioItem, error) {
	if f.insertPortfolioItemFn != nil {
		return f.insertPortfolioItemFn(ctx, item)
	}
	return item, nil
}

func (f *fakeStore) UpdatePortfolioItem(_ context.Context, item store.PortfolioItem) (store.PortfolioItem, error) {
	return item, nil
}
func (f *fakeStore) DeletePortfolioItem(context.Context, string) error { return nil }
func (f *fakeStore) PortfolioCategories(context.Context, bool) ([]string, error) {
	return []string{}, nil
}

func (f *fakeStore) ListServices(ctx context.Context, publishedOnly bool) ([]store.ServiceItem, error) {
	if f.listServicesFn != nil {
		return f.listServicesFn(ctx, publishedOnly)
	}
	return nil, nil
}

func (f *fakeStore) GetService(context.Context, string) (store.ServiceItem, error) {
	return store.ServiceItem{}, sql.ErrNoRows
}

func (f *fakeStore) GetServiceBySlug(ctx context.Context, slugValue string) (store.ServiceItem, error) {
	if f.getServiceBySlugFn != nil {
		return f.getServiceBySlugFn(ctx, slugValue)
	}
	return store.ServiceItem{}, sql.ErrNoRows
}

func (f *fakeStore) InsertService(ctx context.Context, item store.ServiceItem) (store.ServiceItem, error) {
	if f.insertServiceFn != nil {
		return f.insertServiceFn(ctx, item)
	}
	return item, nil
}

func (f *fakeStore) UpdateService(_ context.Context, item store.ServiceItem) (store.ServiceItem, error) {
	return item, nil
}
func (f *fakeStore) DeleteService(context.Context, string) error { return nil }

// CRM

func (f *fakeStore) ListCustomers(ctx context.Context, filter store.CustomerFilter) ([]store.Customer, int, error) {
	if f.listCustomersFn != nil {
		return f.listCustomersFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeStore) GetCustomer(ctx context.Context, id string) (store.Customer, error) {
	if f.getCustomerFn != nil {
		return f.getCustomerFn(ctx, id)
	}
	return store.Customer{}, sql.ErrNoRows
}

func (f *fakeStore) GetCustomersByIDs(context.Context, []string) ([]store.Customer, error) {
	return nil, nil
}

func (f *fakeStore) InsertCustomer(_ context.Context, customer store.Customer) (store.Customer, error) {
	return customer, nil
}

func (f *fakeStore) UpdateCustomer(_ context.Context, customer store.Customer) (store.Customer, error) {
	return customer, nil
}
func (f *fakeStore) DeleteCustomer(context.Context, string) error { return nil }

func (f *fakeStore) ListLeads(context.Context, store.LeadFilter) ([]store.Lead, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) GetLead(ctx context.Context, id string) (store.Lead, error) {
	if f.getLeadFn != nil {
		return f.getLeadFn(ctx, id)
	}
	return store.Lead{}, sql.ErrNoRows
}

func (f *fakeStore) InsertLead(ctx context.Context, lead store.Lead) (store.Lead, error) {
	if f.insertLeadFn != nil {
		return f.insertLeadFn(ctx, lead)
	}
	return lead, nil
}

func (f *fakeStore) UpdateLead(_ context.Context, lead store.Lead) (store.Lead, error) {
	return lead, nil
}
func (f *fakeStore) DeleteLead(context.Context, string) error { return nil }

func (f *fakeStore) ConvertLead(ctx context.Context, id string, customer store.Customer) (store.Lead, store.Customer, error) {
	if f.convertLeadFn != nil {
		return f.convertLeadFn(ctx, id, customer)
	}
	return store.Lead{ID: id, Status: "converted", CustomerID: &customer.ID}, customer, nil
}

func (f *fakeStore) ListProjects(context.Context, store.ProjectFilter) ([]store.Project, error) {
	return nil, nil
}

func (f *fakeStore) GetProject(context.Context, string) (store.Project, error) {
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) (store.Project, error) {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, project)
	}
	return project, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, project store.Project) (store.Project, error) {
	return project, nil
}
func (f *fakeStore) DeleteProject(context.Context, string) error { return nil }

func (f *fakeStore) ListCommunications(context.Context, string, int) ([]store.Communication, error) {
	return nil, nil
}

func (f *fakeStore) InsertCommunication(_ context.Context, c store.Communication) (store.Communication, error) {
	return c, nil
}
func (f *fakeStore) DeleteCommunication(context.Context, string) error { return nil }

func (f *fakeStore) CRMSummary(ctx context.Context, since time.Time) (store.CRMSummary, error) {
	if f.crmSummaryFn != nil {
		return f.crmSummaryFn(ctx, since)
	}
	return store.CRMSummary{}, nil
}

// Chat

func (f *fakeStore) CreateConversation(ctx context.Context, c store.Conversation, m store.ChatMessage) (store.Conversation, store.ChatMessage, error) {
	if f.createConversationFn != nil {
		return f.createConversationFn(ctx, c, m)
	}
	c.Status = "open"
	m.ConversationID = c.ID
	return c, m, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	if f.getConversationFn != nil {
		return f.getConversationFn(ctx, id)
	}
	return store.Conversation{}, sql.ErrNoRows
}

func (f *fakeStore) ListConversations(ctx context.Context, filter store.ConversationFilter) ([]store.Conversation, error) {
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) GetParticipant(ctx context.Context, conversationID, userID string) (store.Participant, error) {
	if f.getParticipantFn != nil {
		return f.getParticipantFn(ctx, conversationID, userID)
	}
	return store.Participant{}, sql.ErrNoRows
}

func (f *fakeStore) AddParticipant(ctx context.Context, conversationID, userID, role string) error {
	if f.addParticipantFn != nil {
		return f.addParticipantFn(ctx, conversationID, userID, role)
	}
	return nil
}

func (f *fakeStore) ListMessages(context.Context, string, *time.Time, int) ([]store.ChatMessage, error) {
	return nil, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error) {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, m)
	}
	return m, nil
}

func (f *fakeStore) MarkConversationRead(context.Context, string, string) error { return nil }

func (f *fakeStore) SetConversationStatus(ctx context.Context, id, status string) error {
	if f.setStatusFn != nil {
		return f.setStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeStore) ChatStats(ctx context.Context, dayStart time.Time) (store.ChatStats, error) {
	if f.chatStatsFn != nil {
		return f.chatStatsFn(ctx, dayStart)
	}
	return store.ChatStats{}, nil
}

type fakeSearcher struct {
	mu        sync.Mutex
	queries   []search.Query
	indexed   []string
	deleted   []string
	responses search.Response
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	resp := f.responses
	resp.Query = q.Text
	if resp.Results == nil {
		resp.Results = []search.Result{}
	}
	return resp
}

func (f *fakeSearcher) record(list *[]string, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*list = append(*list, id)
}

func (f *fakeSearcher) IndexPortfolio(r search.PortfolioRecord) { f.record(&f.indexed, "portfolio:"+r.ID) }
func (f *fakeSearcher) IndexService(r search.ServiceRecord)     { f.record(&f.indexed, "service:"+r.ID) }
func (f *fakeSearcher) IndexCustomer(r search.CustomerRecord)   { f.record(&f.indexed, "customer:"+r.ID) }
func (f *fakeSearcher) DeletePortfolio(id string)               { f.record(&f.deleted, "portfolio:"+id) }
func (f *fakeSearcher) DeleteService(id string)                 { f.record(&f.deleted, "service:"+id) }
func (f *fakeSearcher) DeleteCustomer(id string)                { f.record(&f.deleted, "customer:"+id) }

type fakeMailer struct {
	configured      bool
	verifications   []string
	resets          []string
	notifications   []email.LeadData
	acknowledgments []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendVerificationEmail(to, _, _ string) error {
	f.verifications = append(f.verifications, to)
	return nil
}

func (f *fakeMailer) SendPasswordResetEmail(to, _, _ string) error {
	f.resets = append(f.resets, to)
	return nil
}

func (f *fakeMailer) SendLeadNotification(_ string, lead email.LeadData) error {
	f.notifications = append(f.notifications, lead)
	return nil
}

func (f *fakeMailer) SendContactAcknowledgement(to, _ string) error {
	f.acknowledgments = append(f.acknowledgments, to)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func (f *fakePublisher) Publish(_ context.Context, conversationID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frames == nil {
		f.frames = map[string][][]byte{}
	}
	f.frames[conversationID] = append(f.frames[conversationID], payload)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:     testSecret,
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			PublicSiteURL: "https://colorcraft.test",
		},
		store:     fs,
		sessions:  fs,
		passwords: authpw.NewService(fs),
		mailer:    &fakeMailer{},
		search:    &fakeSearcher{},
		now:       time.Now,
	}
}

// tokenFor issues an access token for one of the testUsers.
func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	user := testUsers[userID]
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  "jti-" + user.ID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func sessionOf(userID string) Session {
	user := testUsers[userID]
	return Session{UserID: user.ID, UserName: user.DisplayName, Email: user.Email, Role: user.Role}
}
