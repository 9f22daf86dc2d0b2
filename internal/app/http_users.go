package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"colorcraft/api/internal/rbac"
)

func (s *HTTPServer) userRoutes(r chi.Router) {
	r.Use(s.allow(rbac.ActionUsersManage))
	r.Get("/", s.handleUserList)
	r.Put("/{id}/role", s.handleUserRole)
	r.Put("/{id}/deactivated", s.handleUserDeactivated)
}

func (s *HTTPServer) handleUserList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	payload, err := s.service.ListUsers(r.Context(), query.Get("q"), query.Get("role"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUserRole(w http.ResponseWriter, r *http.Request) {
	var body RoleInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.ChangeUserRole(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUserDeactivated(w http.ResponseWriter, r *http.Request) {
	var body DeactivateInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.SetUserDeactivated(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
