package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type UserFilter struct {
	Query  string
	Role   string
	Limit  int
	Offset int
}

type PortfolioItem struct {
	ID               string
	Title            string
	BriefDescription string
	Description      string
	Category         string
	BeforeImages     []string
	AfterImages      []string
	Featured         bool
	Published        bool
	SortOrder        int
	CreatedBy        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PortfolioImages is the pair of image URL arrays kept in sync with object
// storage.
type PortfolioImages struct {
	Before []string
	After  []string
}

type PortfolioFilter struct {
	Category      string
	Featured      *bool
	PublishedOnly bool
	Limit         int
	Offset        int
}

type ServiceItem struct {
	ID               string
	Slug             string
	Title            string
	BriefDescription string
	Description      string
	PriceRange       string
	Duration         string
	Published        bool
	SortOrder        int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Customer struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Address   string
	Notes     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CustomerFilter struct {
	Query  string
	Status string
	Limit  int
	Offset int
}

type Lead struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Source     string
	Message    string
	Status     string
	CustomerID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type LeadFilter struct {
	Status string
	Source string
	Limit  int
	Offset int
}

type Project struct {
	ID            string
	CustomerID    string
	CustomerName  string
	Title         string
	Description   string
	Status        string
	EstimateCents int64
	StartDate     *time.Time
	DueDate       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ProjectFilter struct {
	CustomerID string
	Status     string
	Limit      int
	Offset     int
}

type Communication struct {
	ID            string
	CustomerID    string
	Type          string
	Subject       string
	Body          string
	OccurredAt    time.Time
	CreatedBy     *string
	CreatedByName string
	CreatedAt     time.Time
}

type CRMSummary struct {
	CustomersByStatus    map[string]int
	LeadsByStatus        map[string]int
	ActiveProjects       int
	RecentCommunications int
}

type Conversation struct {
	ID            string
	Subject       string
	Status        string
	CreatedBy     string
	CreatedByName string
	LastMessageAt *time.Time
	LastMessage   string
	UnreadCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ConversationFilter struct {
	// ParticipantID restricts the listing to conversations the user is part of.
	ParticipantID string
	ViewerID      string
	Status        string
	Limit         int
	Offset        int
}

type Participant struct {
	ConversationID string
	UserID         string
	Role           string
	JoinedAt       time.Time
	LastReadAt     *time.Time
}

type ChatMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderRole     string
	Body           string
	CreatedAt      time.Time
}

type ChatStats struct {
	Total          int
	Open           int
	Closed         int
	UnreadForAdmin int
	MessagesToday  int
}
