package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxPortfolio = "colorcraft_portfolio"
	idxServices  = "colorcraft_services"
	idxCustomers = "colorcraft_customers"
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements search and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is tolerated; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn("search: meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

type indexSpec struct {
	uid        string
	rtyp       ResultType
	filterable []string
	searchable []string
}

var indexSpecs = []indexSpec{
	{
		uid:        idxPortfolio,
		rtyp:       ResultPortfolio,
		filterable: []string{"published", "featured", "category"},
		searchable: []string{"title", "briefDescription", "category", "description"},
	},
	{
		uid:        idxServices,
		rtyp:       ResultService,
		filterable: []string{"published"},
		searchable: []string{"title", "briefDescription", "description"},
	},
	{
		uid:        idxCustomers,
		rtyp:       ResultCustomer,
		filterable: []string{"status"},
		searchable: []string{"name", "email", "phone", "notes"},
	},
}

func (m *Meili) configureIndexes() {
	for _, idx := range indexSpecs {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Debug("search: create index (may already exist)", "index", idx.uid, "err", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Warn("search: update filterable attrs", "index", idx.uid, "err", err)
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Warn("search: update searchable attrs", "index", idx.uid, "err", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search across the indexes the query's scope allows.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, idx := range indexSpecs {
		if !q.allows(idx.rtyp) {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(max(q.Offset, 0)),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.publishedOnly() && idx.rtyp != ResultCustomer {
			sr.Filter = []string{"published = true"}
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	for _, idx := range indexSpecs {
		if idx.uid == uid {
			return idx.rtyp
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: decodeString(hit, "id")}
	switch rtyp {
	case ResultPortfolio:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "briefDescription"), decodeString(hit, "briefDescription"))
		r.Category = decodeString(hit, "category")
		r.Published = decodeBool(hit, "published")
	case ResultService:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "briefDescription"), decodeString(hit, "briefDescription"))
		r.Slug = decodeString(hit, "slug")
		r.Published = decodeBool(hit, "published")
	case ResultCustomer:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeString(hit, "email"), decodeString(hit, "phone"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexPortfolio(r PortfolioRecord) error {
	_, err := m.client.Index(idxPortfolio).AddDocuments([]PortfolioRecord{r}, nil)
	return err
}

func (m *Meili) IndexService(r ServiceRecord) error {
	_, err := m.client.Index(idxServices).AddDocuments([]ServiceRecord{r}, nil)
	return err
}

func (m *Meili) IndexCustomer(r CustomerRecord) error {
	_, err := m.client.Index(idxCustomers).AddDocuments([]CustomerRecord{r}, nil)
	return err
}

func (m *Meili) Delete(index, id string) error {
	_, err := m.client.Index(index).DeleteDocument(id, nil)
	return err
}

func (m *Meili) IndexPortfolioBatch(records []PortfolioRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPortfolio).AddDocuments(records, nil)
	return err
}

func (m *Meili) IndexServiceBatch(records []ServiceRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxServices).AddDocuments(records, nil)
	return err
}

func (m *Meili) IndexCustomerBatch(records []CustomerRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCustomers).AddDocuments(records, nil)
	return err
}
