package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"colorcraft/api/internal/rbac"
	"colorcraft/api/internal/search"
)

func (s *HTTPServer) crmRoutes(r chi.Router) {
	r.Use(s.allow(rbac.ActionCRMManage))

	r.Get("/dashboard", s.handleCRMDashboard)
	r.Get("/search", s.handleCRMSearch)

	r.Get("/customers", s.handleCustomerList)
	r.Post("/customers", s.handleCustomerCreate)
	r.Get("/customers/{id}", s.handleCustomerGet)
	r.Put("/customers/{id}", s.handleCustomerUpdate)
	r.Delete("/customers/{id}", s.handleCustomerDelete)
	r.Get("/customers/{id}/communications", s.handleCommunicationList)
	r.Post("/customers/{id}/communications", s.handleCommunicationCreate)
	r.Delete("/communications/{id}", s.handleCommunicationDelete)

	r.Get("/leads", s.handleLeadList)
	r.Post("/leads", s.handleLeadCreate)
	r.Get("/leads/{id}", s.handleLeadGet)
	r.Put("/leads/{id}", s.handleLeadUpdate)
	r.Delete("/leads/{id}", s.handleLeadDelete)
	r.Post("/leads/{id}/convert", s.handleLeadConvert)

	r.Get("/projects", s.handleProjectList)
	r.Post("/projects", s.handleProjectCreate)
	r.Get("/projects/{id}", s.handleProjectGet)
	r.Put("/projects/{id}", s.handleProjectUpdate)
	r.Delete("/projects/{id}", s.handleProjectDelete)
}

func crmListInput(r *http.Request) CRMListInput {
	query := r.URL.Query()
	return CRMListInput{
		Query:  query.Get("q"),
		Status: query.Get("status"),
		Source: query.Get("source"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
}

func (s *HTTPServer) handleCRMDashboard(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CRMDashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCRMSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), r.URL.Query().Get("q"), search.ScopeCRM, "", queryInt(r, "limit"), queryInt(r, "offset")))
}

// Customers

func (s *HTTPServer) handleCustomerList(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListCustomers(r.Context(), crmListInput(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCustomerGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCustomerCreate(w http.ResponseWriter, r *http.Request) {
	var body CustomerInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.CreateCustomer(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleCustomerUpdate(w http.ResponseWriter, r *http.Request) {
	var body CustomerInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.UpdateCustomer(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleCustomerDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Communications

func (s *HTTPServer) handleCommunicationList(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListCommunications(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCommunicationCreate(w http.ResponseWriter, r *http.Request) {
	var body CommunicationInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.CreateCommunication(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleCommunicationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCommunication(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Leads

func (s *HTTPServer) handleLeadList(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListLeads(r.Context(), crmListInput(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleLeadGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleLeadCreate(w http.ResponseWriter, r *http.Request) {
	var body LeadInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.CreateLead(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleLeadUpdate(w http.ResponseWriter, r *http.Request) {
	var body LeadInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.UpdateLead(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleLeadDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteLead(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleLeadConvert(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ConvertLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

// Projects

func (s *HTTPServer) handleProjectList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	items, err := s.service.ListProjects(r.Context(), query.Get("customer_id"), query.Get("status"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	var body ProjectInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.CreateProject(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleProjectUpdate(w http.ResponseWriter, r *http.Request) {
	var body ProjectInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.UpdateProject(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
