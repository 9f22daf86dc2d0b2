package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"colorcraft/api/internal/auth"
	"colorcraft/api/internal/authpw"
	"colorcraft/api/internal/config"
	"colorcraft/api/internal/email"
	"colorcraft/api/internal/export"
	"colorcraft/api/internal/imagesync"
	"colorcraft/api/internal/rbac"
	"colorcraft/api/internal/realtime"
	"colorcraft/api/internal/search"
	"colorcraft/api/internal/session"
	"colorcraft/api/internal/storage"
	"colorcraft/api/internal/store"
	"colorcraft/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type dataStore interface {
	authpw.UserStore
	sessionStore
	Ping(context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	EnsureAdmin(context.Context, store.User) (store.User, error)
	ListUsers(context.Context, store.UserFilter) ([]store.User, int, error)
	UpdateUserRole(context.Context, string, string) error
	SetUserDeactivated(context.Context, string, bool) error

	ListPortfolio(context.Context, store.PortfolioFilter) ([]store.PortfolioItem, error)
	GetPortfolioItem(context.Context, string) (store.PortfolioItem, error)
	InsertPortfolioItem(context.Context, store.PortfolioItem) (store.PortfolioItem, error)
	UpdatePortfolioItem(context.Context, store.PortfolioItem) (store.PortfolioItem, error)
	DeletePortfolioItem(context.Context, string) error
	PortfolioCategories(context.Context, bool) ([]string, error)
	ListServices(context.Context, bool) ([]store.ServiceItem, error)
	GetService(context.Context, string) (store.ServiceItem, error)
	GetServiceBySlug(context.Context, string) (store.ServiceItem, error)
	InsertService(context.Context, store.ServiceItem) (store.ServiceItem, error)
	UpdateService(context.Context, store.ServiceItem) (store.ServiceItem, error)
	DeleteService(context.Context, string) error

	ListCustomers(context.Context, store.CustomerFilter) ([]store.Customer, int, error)
	GetCustomer(context.Context, string) (store.Customer, error)
	GetCustomersByIDs(context.Context, []string) ([]store.Customer, error)
	InsertCustomer(context.Context, store.Customer) (store.Customer, error)
	UpdateCustomer(context.Context, store.Customer) (store.Customer, error)
	DeleteCustomer(context.Context, string) error
	ListLeads(context.Context, store.LeadFilter) ([]store.Lead, int, error)
	GetLead(context.Context, string) (store.Lead, error)
	InsertLead(context.Context, store.Lead) (store.Lead, error)
	UpdateLead(context.Context, store.Lead) (store.Lead, error)
	DeleteLead(context.Context, string) error
	ConvertLead(context.Context, string, store.Customer) (store.Lead, store.Customer, error)
	ListProjects(context.Context, store.ProjectFilter) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) (store.Project, error)
	UpdateProject(context.Context, store.Project) (store.Project, error)
	DeleteProject(context.Context, string) error
	ListCommunications(context.Context, string, int) ([]store.Communication, error)
	InsertCommunication(context.Context, store.Communication) (store.Communication, error)
	DeleteCommunication(context.Context, string) error
	CRMSummary(context.Context, time.Time) (store.CRMSummary, error)

	CreateConversation(context.Context, store.Conversation, store.ChatMessage) (store.Conversation, store.ChatMessage, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	ListConversations(context.Context, store.ConversationFilter) ([]store.Conversation, error)
	GetParticipant(context.Context, string, string) (store.Participant, error)
	AddParticipant(context.Context, string, string, string) error
	ListMessages(context.Context, string, *time.Time, int) ([]store.ChatMessage, error)
	InsertMessage(context.Context, store.ChatMessage) (store.ChatMessage, error)
	MarkConversationRead(context.Context, string, string) error
	SetConversationStatus(context.Context, string, string) error
	ChatStats(context.Context, time.Time) (store.ChatStats, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) (int, error)
	PublicURL(key string) string
	ObjectKey(publicURL string) (string, bool)
}

type imageSyncer interface {
	FullSync(ctx context.Context, portfolioID string) (imagesync.Result, error)
	RemoveImage(ctx context.Context, portfolioID, key string) (imagesync.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendLeadNotification(to string, lead email.LeadData) error
	SendContactAcknowledgement(to, name string) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPortfolio(search.PortfolioRecord)
	IndexService(search.ServiceRecord)
	IndexCustomer(search.CustomerRecord)
	DeletePortfolio(id string)
	DeleteService(id string)
	DeleteCustomer(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Dependencies carries the optional collaborators. Nil fields fall back to
// Postgres sessions, a disabled mailer, Postgres-only search, and a 503 for
// storage-backed routes.
type Dependencies struct {
	Sessions  *session.RedisStore
	Mailer    *email.Service
	Search    *search.Service
	Objects   *storage.Client
	Syncer    *imagesync.Syncer
	Exporter  *export.Service
	Publisher realtime.Publisher
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	mailer    mailer
	search    searcher
	objects   objectStore
	syncer    imageSyncer
	exporter  exporter
	publisher realtime.Publisher
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		passwords: authpw.NewService(dataStore),
		mailer:    email.NewService(email.Config{}),
		search:    search.NewService(nil, search.NewPgFTS(dataStore.DB())),
		exporter:  export.NewService(dataStore, cfg.PublicSiteURL),
		publisher: deps.Publisher,
		now:       time.Now,
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if deps.Mailer != nil {
		s.mailer = deps.Mailer
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Objects != nil {
		s.objects = deps.Objects
	}
	if deps.Syncer != nil {
		s.syncer = deps.Syncer
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	return s
}

// Bootstrap makes sure the configured admin account exists.
func (s *Service) Bootstrap(ctx context.Context) error {
	adminEmail := strings.ToLower(strings.TrimSpace(s.cfg.AdminEmail))
	if adminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	hash, err := authpw.HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return err
	}
	admin, err := s.store.EnsureAdmin(ctx, store.User{
		ID:           util.NewID(),
		Email:        adminEmail,
		DisplayName:  firstNonBlank(s.cfg.AdminName, "Admin"),
		PasswordHash: hash,
		Role:         string(rbac.RoleAdmin),
	})
	if err != nil {
		return err
	}
	log.Info("admin account ready", "email", admin.Email, "id", admin.ID)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer.IsConfigured()
}

// Sessions

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewSecret()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken resolves a bearer token. The role comes from the users
// row, not from the token claims.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.Warn("revoke access token", "user", session.UserID, "err", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.Warn("revoke refresh session", "user", session.UserID, "err", err)
		}
	}
	return nil
}

// Email and password accounts

type SignUpInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"notblank,max=100"`
}

type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"notblank"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

// normalizeEmail runs before validation so padded or mixed-case addresses pass.
func normalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (map[string]any, error) {
	input.Email = normalizeEmail(input.Email)
	if err := check(input); err != nil {
		return nil, err
	}
	resp, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return nil, passwordError(err)
	}

	payload := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	if !s.mailer.IsConfigured() {
		payload["devVerificationToken"] = resp.VerificationToken
		payload["message"] = "Account created. Verify your email to continue."
		return payload, nil
	}
	if err := s.mailer.SendVerificationEmail(resp.Email, resp.DisplayName, s.siteLink("/verify-email", resp.VerificationToken)); err != nil {
		log.Warn("send verification email", "user", resp.UserID, "err", err)
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, error) {
	input.Email = normalizeEmail(input.Email)
	if err := check(input); err != nil {
		return Session{}, err
	}
	user, err := s.passwords.SignIn(ctx, input.Email, input.Password)
	if err != nil {
		return Session{}, passwordError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.passwords.VerifyEmail(ctx, token); err != nil {
		return passwordError(err)
	}
	return nil
}

func (s *Service) ResendVerification(ctx context.Context, address string) (map[string]any, error) {
	user, token, err := s.passwords.ResendVerification(ctx, address)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"message": "If the account needs verification, an email has been sent"}
	if token == "" {
		return payload, nil
	}
	if !s.mailer.IsConfigured() {
		payload["devVerificationToken"] = token
		return payload, nil
	}
	if err := s.mailer.SendVerificationEmail(user.Email, user.DisplayName, s.siteLink("/verify-email", token)); err != nil {
		log.Warn("send verification email", "user", user.ID, "err", err)
	}
	return payload, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, address string) (map[string]any, error) {
	user, token, err := s.passwords.RequestPasswordReset(ctx, address)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"message": "If an account exists, a reset email has been sent"}
	if token == "" {
		return payload, nil
	}
	if !s.mailer.IsConfigured() {
		payload["devResetToken"] = token
		return payload, nil
	}
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, s.siteLink("/reset-password", token)); err != nil {
		log.Warn("send reset email", "user", user.ID, "err", err)
	}
	return payload, nil
}

func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	if err := check(input); err != nil {
		return err
	}
	if err := s.passwords.ResetPassword(ctx, input.Token, input.NewPassword); err != nil {
		return passwordError(err)
	}
	return nil
}

func (s *Service) siteLink(path, token string) string {
	return s.cfg.PublicSiteURL + path + "?token=" + url.QueryEscape(token)
}

func passwordError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrMissingFields):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		return fieldError("password", "must be at least 8 characters")
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	case errors.Is(err, authpw.ErrAccountDisabled):
		return domainError(http.StatusForbidden, "ACCOUNT_DISABLED", "This account has been deactivated", nil)
	case errors.Is(err, authpw.ErrInvalidToken):
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil)
	default:
		return err
	}
}

// Websocket gatekeeping

func (s *Service) AuthenticateSocket(ctx context.Context, token string) (realtime.Identity, error) {
	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return realtime.Identity{}, err
	}
	if !s.Can(session.Role, rbac.ActionChat) {
		return realtime.Identity{}, auth.ErrInvalidToken
	}
	return realtime.Identity{UserID: session.UserID, Role: session.Role}, nil
}

func (s *Service) AuthorizeJoin(ctx context.Context, who realtime.Identity, conversationID string) error {
	if !util.IsUUID(conversationID) {
		return realtime.ErrJoinDenied
	}
	var err error
	if s.Can(who.Role, rbac.ActionChatModerate) {
		_, err = s.store.GetConversation(ctx, conversationID)
	} else {
		_, err = s.store.GetParticipant(ctx, conversationID, who.UserID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return realtime.ErrJoinDenied
	}
	return err
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}

func stringOrNil(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
