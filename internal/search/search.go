package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPortfolio ResultType = "portfolio"
	ResultService   ResultType = "service"
	ResultCustomer  ResultType = "customer"
)

// Scope decides which indexes a query may touch and whether unpublished rows
// are visible.
type Scope string

const (
	ScopePublic  Scope = "public"
	ScopeContent Scope = "content"
	ScopeCRM     Scope = "crm"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Slug      string     `json:"slug,omitempty"`
	Category  string     `json:"category,omitempty"`
	Published bool       `json:"published"`
}

// Query describes a search request.
type Query struct {
	Text       string
	Scope      Scope
	FilterType ResultType // empty = every type the scope allows
	Limit      int
	Offset     int
}

func (q Query) allows(t ResultType) bool {
	if q.FilterType != "" && q.FilterType != t {
		return false
	}
	switch q.Scope {
	case ScopeCRM:
		return t == ResultCustomer
	case ScopeContent, ScopePublic:
		return t == ResultPortfolio || t == ResultService
	default:
		return false
	}
}

func (q Query) publishedOnly() bool {
	return q.Scope != ScopeContent && q.Scope != ScopeCRM
}

// Response is the envelope returned by the search endpoints.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PortfolioRecord is the data we index for a portfolio item.
type PortfolioRecord struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	BriefDescription string `json:"briefDescription"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	Featured         bool   `json:"featured"`
	Published        bool   `json:"published"`
}

// ServiceRecord is the data we index for a service.
type ServiceRecord struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"`
	Title            string `json:"title"`
	BriefDescription string `json:"briefDescription"`
	Description      string `json:"description"`
	Published        bool   `json:"published"`
}

// CustomerRecord is the data we index for a CRM customer.
type CustomerRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Status string `json:"status"`
	Notes  string `json:"notes"`
}
